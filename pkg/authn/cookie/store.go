package cookie

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// TicketStore keeps tickets server-side so the cookie only carries a
// session key. Implementations must be safe for concurrent use.
type TicketStore interface {
	// Store saves a new ticket and returns its session key.
	Store(ctx context.Context, ticket *authn.Ticket) (string, error)

	// Renew replaces the ticket under key.
	Renew(ctx context.Context, key string, ticket *authn.Ticket) error

	// Retrieve returns the ticket under key, or an error with
	// [sserr.CodeNotFoundSession] when there is none.
	Retrieve(ctx context.Context, key string) (*authn.Ticket, error)

	// Remove deletes the ticket under key. Removing a missing key is not
	// an error.
	Remove(ctx context.Context, key string) error
}

// memorySweepInterval is the minimum time between sweeps of expired
// sessions in a [MemoryTicketStore].
const memorySweepInterval = time.Minute

type memoryEntry struct {
	data    []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryTicketStore is an in-process [TicketStore]. Tickets are stored
// serialized so callers never share a ticket with the store. Expired
// tickets are dropped on read, and writes sweep out abandoned sessions
// at most once a minute.
type MemoryTicketStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	clock     authn.Clock
	nextSweep time.Time
}

// NewMemoryTicketStore returns an empty store. A nil clock uses
// [authn.SystemClock].
func NewMemoryTicketStore(clock authn.Clock) *MemoryTicketStore {
	if clock == nil {
		clock = authn.SystemClock{}
	}
	return &MemoryTicketStore{entries: make(map[string]memoryEntry), clock: clock}
}

// Store implements [TicketStore].
func (s *MemoryTicketStore) Store(ctx context.Context, ticket *authn.Ticket) (string, error) {
	key := uuid.NewString()
	if err := s.Renew(ctx, key, ticket); err != nil {
		return "", err
	}
	return key, nil
}

// Renew implements [TicketStore].
func (s *MemoryTicketStore) Renew(_ context.Context, key string, ticket *authn.Ticket) error {
	data, err := authn.TicketSerializer{}.Serialize(ticket)
	if err != nil {
		return err
	}
	entry := memoryEntry{data: data}
	if ticket.Properties != nil {
		entry.expires, _ = ticket.Properties.ExpiresUTC()
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(memorySweepInterval)
	}
	s.entries[key] = entry
	return nil
}

// sweep drops expired entries. The caller holds mu.
func (s *MemoryTicketStore) sweep(now time.Time) {
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

// Retrieve implements [TicketStore].
func (s *MemoryTicketStore) Retrieve(_ context.Context, key string) (*authn.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, sserr.Newf(sserr.CodeNotFoundSession, "cookie: session %q not found", key)
	}
	ticket, err := authn.TicketSerializer{}.Deserialize(entry.data)
	if err != nil {
		return nil, err
	}
	if ticket.Expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil, sserr.Newf(sserr.CodeNotFoundSession, "cookie: session %q expired", key)
	}
	return ticket, nil
}

// Remove implements [TicketStore].
func (s *MemoryTicketStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryTicketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

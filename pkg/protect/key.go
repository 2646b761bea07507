package protect

import (
	"context"
	"crypto/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// MasterKeySize is the length in bytes of a master key.
const MasterKeySize = 32

// KeyRecord is the persisted form of a master key. Repositories store
// records verbatim; Material is raw key bytes and must be kept
// confidential at rest.
type KeyRecord struct {
	ID            uuid.UUID `json:"id"`
	Created       time.Time `json:"created"`
	Activation    time.Time `json:"activation"`
	Expiration    time.Time `json:"expiration"`
	Revoked       bool      `json:"revoked,omitempty"`
	RevokedAt     time.Time `json:"revokedAt,omitzero"`
	RevokedReason string    `json:"revokedReason,omitempty"`
	Material      []byte    `json:"material"`
}

// NewKeyRecord generates fresh key material active from activation until
// activation+lifetime.
func NewKeyRecord(now, activation time.Time, lifetime time.Duration) (KeyRecord, error) {
	material := make([]byte, MasterKeySize)
	if _, err := rand.Read(material); err != nil {
		return KeyRecord{}, sserr.Wrap(err, sserr.CodeInternalCrypto, "protect: failed to generate key material")
	}
	return KeyRecord{
		ID:         uuid.New(),
		Created:    now.UTC(),
		Activation: activation.UTC(),
		Expiration: activation.Add(lifetime).UTC(),
		Material:   material,
	}, nil
}

// Key is a master key as held by a key ring.
type Key struct {
	ID         uuid.UUID
	Created    time.Time
	Activation time.Time
	Expiration time.Time
	Revoked    bool

	material []byte
}

func keyFromRecord(r KeyRecord) Key {
	return Key{
		ID:         r.ID,
		Created:    r.Created,
		Activation: r.Activation,
		Expiration: r.Expiration,
		Revoked:    r.Revoked,
		material:   slices.Clone(r.Material),
	}
}

// ActiveAt reports whether the key may protect new payloads at t.
func (k Key) ActiveAt(t time.Time) bool {
	return !k.Revoked && !t.Before(k.Activation) && t.Before(k.Expiration)
}

// KeyRepository persists key records. Implementations must be safe for
// concurrent use. StoreKey replaces an existing record with the same ID.
type KeyRepository interface {
	LoadKeys(ctx context.Context) ([]KeyRecord, error)
	StoreKey(ctx context.Context, record KeyRecord) error
}

// MemoryRepository is an in-process [KeyRepository]. Keys do not survive a
// restart, so payloads protected by one process cannot be read by the next.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []KeyRecord
}

var _ KeyRepository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// LoadKeys returns copies of every stored record in insertion order.
func (r *MemoryRepository) LoadKeys(ctx context.Context) ([]KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]KeyRecord, len(r.records))
	for i, rec := range r.records {
		rec.Material = slices.Clone(rec.Material)
		out[i] = rec
	}
	return out, nil
}

// StoreKey inserts or replaces a record.
func (r *MemoryRepository) StoreKey(ctx context.Context, record KeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record.Material = slices.Clone(record.Material)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == record.ID {
			r.records[i] = record
			return nil
		}
	}
	r.records = append(r.records, record)
	return nil
}

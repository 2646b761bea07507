package protect

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// KeyRing is an immutable snapshot of the known master keys plus the key
// selected to protect new payloads.
type KeyRing struct {
	keys       map[uuid.UUID]Key
	defaultKey Key
	hasDefault bool
	loadedAt   time.Time
}

// newKeyRing builds a ring from records. The default key is the active
// key with the most recent activation time.
func newKeyRing(records []KeyRecord, now time.Time) *KeyRing {
	ring := &KeyRing{
		keys:     make(map[uuid.UUID]Key, len(records)),
		loadedAt: now,
	}
	for _, rec := range records {
		k := keyFromRecord(rec)
		ring.keys[k.ID] = k
		if !k.ActiveAt(now) {
			continue
		}
		if !ring.hasDefault || k.Activation.After(ring.defaultKey.Activation) {
			ring.defaultKey = k
			ring.hasDefault = true
		}
	}
	return ring
}

// Key returns the key with the given id, revoked or not.
func (r *KeyRing) Key(id uuid.UUID) (Key, bool) {
	if r == nil {
		return Key{}, false
	}
	k, ok := r.keys[id]
	return k, ok
}

// DefaultKey returns the key used to protect new payloads.
func (r *KeyRing) DefaultKey() (Key, bool) {
	if r == nil || !r.hasDefault {
		return Key{}, false
	}
	return r.defaultKey, true
}

// Keys returns every key ordered by activation time.
func (r *KeyRing) Keys() []Key {
	if r == nil {
		return nil
	}
	out := make([]Key, 0, len(r.keys))
	for _, k := range r.keys {
		k.material = nil
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b Key) int {
		if c := a.Activation.Compare(b.Activation); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}

// LoadedAt is when the snapshot was built.
func (r *KeyRing) LoadedAt() time.Time {
	return r.loadedAt
}

// Len returns the number of keys.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

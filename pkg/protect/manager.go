package protect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-authn/pkg/protect"

const refreshKey = "refresh"

// KeyManagerConfig controls key lifetime and ring refresh. Load it with
// pkg/config or start from [DefaultKeyManagerConfig].
type KeyManagerConfig struct {
	// KeyLifetime is how long a generated key protects new payloads.
	// Expired keys still unprotect existing payloads until revoked.
	KeyLifetime time.Duration `json:"key_lifetime" yaml:"key_lifetime" env:"PROTECT_KEY_LIFETIME" envDefault:"2160h"`

	// RefreshInterval bounds how long a loaded ring is trusted before the
	// repository is read again.
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval" env:"PROTECT_REFRESH_INTERVAL" envDefault:"24h"`

	// NewKeyLeadTime is how far ahead of the default key's expiration its
	// successor is generated, so every instance sees the new key before
	// it becomes the default.
	NewKeyLeadTime time.Duration `json:"new_key_lead_time" yaml:"new_key_lead_time" env:"PROTECT_NEW_KEY_LEAD_TIME" envDefault:"48h"`

	// ForcedRefreshMinInterval is the minimum time between refreshes
	// forced by a payload naming a key the cached ring does not hold.
	// Misses inside the interval fail without reading the repository.
	ForcedRefreshMinInterval time.Duration `json:"forced_refresh_min_interval" yaml:"forced_refresh_min_interval" env:"PROTECT_FORCED_REFRESH_MIN_INTERVAL" envDefault:"1m"`

	// AutoGenerateKeys creates keys when the ring has no usable default.
	AutoGenerateKeys bool `json:"auto_generate_keys" yaml:"auto_generate_keys" env:"PROTECT_AUTO_GENERATE_KEYS" envDefault:"true"`

	// ApplicationName isolates applications sharing one key repository.
	// Payloads protected under one name cannot be read under another.
	ApplicationName string `json:"application_name" yaml:"application_name" env:"PROTECT_APPLICATION_NAME"`
}

// DefaultKeyManagerConfig returns the defaults: 90 day keys, a daily
// refresh, a two day lead time, at most one forced refresh a minute and
// automatic generation.
func DefaultKeyManagerConfig() KeyManagerConfig {
	return KeyManagerConfig{
		KeyLifetime:              90 * 24 * time.Hour,
		RefreshInterval:          24 * time.Hour,
		NewKeyLeadTime:           48 * time.Hour,
		ForcedRefreshMinInterval: time.Minute,
		AutoGenerateKeys:         true,
	}
}

// Validate checks the durations.
func (c *KeyManagerConfig) Validate() error {
	if c.KeyLifetime <= 0 {
		return sserr.New(sserr.CodeValidation, "protect: key lifetime must be positive")
	}
	if c.RefreshInterval <= 0 {
		return sserr.New(sserr.CodeValidation, "protect: refresh interval must be positive")
	}
	if c.ForcedRefreshMinInterval <= 0 {
		return sserr.New(sserr.CodeValidation, "protect: forced refresh minimum interval must be positive")
	}
	if c.NewKeyLeadTime < 0 || c.NewKeyLeadTime >= c.KeyLifetime {
		return sserr.New(sserr.CodeValidation, "protect: new key lead time must be non-negative and shorter than the key lifetime")
	}
	return nil
}

// KeySource supplies master keys to protectors.
type KeySource interface {
	// DefaultKey returns the key for new payloads.
	DefaultKey(ctx context.Context) (Key, error)
	// Key returns the key with the given id, including revoked keys.
	Key(ctx context.Context, id uuid.UUID) (Key, error)
}

// KeyManagerOption configures a [KeyManager].
type KeyManagerOption func(*KeyManager)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(logger *slog.Logger) KeyManagerOption {
	return func(m *KeyManager) { m.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) KeyManagerOption {
	return func(m *KeyManager) { m.now = now }
}

// KeyManager keeps a cached [KeyRing] loaded from a [KeyRepository],
// generating and rotating keys as they approach expiration. Concurrent
// refreshes collapse into a single repository read.
//
// KeyManager is safe for concurrent use.
type KeyManager struct {
	repo   KeyRepository
	cfg    KeyManagerConfig
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	mu          sync.RWMutex
	ring        *KeyRing
	nextRefresh time.Time
	lastForced  time.Time

	group singleflight.Group
}

var _ KeySource = (*KeyManager)(nil)

// NewKeyManager validates cfg and returns a manager. No repository access
// happens until the first key is requested.
func NewKeyManager(repo KeyRepository, cfg KeyManagerConfig, opts ...KeyManagerOption) (*KeyManager, error) {
	if repo == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "protect: key repository must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &KeyManager{
		repo:   repo,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager's configuration.
func (m *KeyManager) Config() KeyManagerConfig {
	return m.cfg
}

// Ring returns the cached ring, refreshing it when stale.
func (m *KeyManager) Ring(ctx context.Context) (*KeyRing, error) {
	m.mu.RLock()
	ring, next := m.ring, m.nextRefresh
	m.mu.RUnlock()
	if ring != nil && m.now().Before(next) {
		return ring, nil
	}
	return m.Refresh(ctx)
}

// Refresh reloads the ring from the repository, generating a key first if
// the ring has no usable default or the default is about to expire.
func (m *KeyManager) Refresh(ctx context.Context) (*KeyRing, error) {
	v, err, _ := m.group.Do(refreshKey, func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeyRing), nil
}

func (m *KeyManager) refresh(ctx context.Context) (_ *KeyRing, err error) {
	ctx, span := m.startSpan(ctx, "RefreshKeyRing")
	defer func() { finishSpan(span, err) }()

	records, err := m.repo.LoadKeys(ctx)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "protect: failed to load keys")
	}

	now := m.now()
	ring := newKeyRing(records, now)
	if m.cfg.AutoGenerateKeys {
		if activation, needed := m.nextActivation(ring, now); needed {
			rec, err := m.generate(ctx, now, activation)
			if err != nil {
				return nil, err
			}
			ring = newKeyRing(append(records, rec), now)
		}
	}

	next := now.Add(m.cfg.RefreshInterval)
	if def, ok := ring.DefaultKey(); ok && def.Expiration.Before(next) {
		next = def.Expiration
	}

	m.mu.Lock()
	m.ring = ring
	m.nextRefresh = next
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("protect.key_count", ring.Len()))
	m.logger.DebugContext(ctx, "protect: key ring refreshed",
		"keys", ring.Len(),
		"next_refresh", next,
	)
	return ring, nil
}

// nextActivation reports whether a key must be generated and when it
// should activate.
func (m *KeyManager) nextActivation(ring *KeyRing, now time.Time) (time.Time, bool) {
	def, ok := ring.DefaultKey()
	if !ok {
		return now, true
	}
	if def.Expiration.Sub(now) > m.cfg.NewKeyLeadTime {
		return time.Time{}, false
	}
	for _, k := range ring.Keys() {
		if !k.Revoked && k.Activation.After(def.Activation) && k.Expiration.After(def.Expiration) {
			return time.Time{}, false
		}
	}
	return def.Expiration, true
}

func (m *KeyManager) generate(ctx context.Context, now, activation time.Time) (KeyRecord, error) {
	rec, err := NewKeyRecord(now, activation, m.cfg.KeyLifetime)
	if err != nil {
		return KeyRecord{}, err
	}
	if err := m.repo.StoreKey(ctx, rec); err != nil {
		return KeyRecord{}, sserr.Wrap(err, sserr.CodeUnavailableDependency, "protect: failed to store key")
	}
	m.logger.InfoContext(ctx, "protect: key created",
		"key_id", rec.ID.String(),
		"activation", rec.Activation,
		"expiration", rec.Expiration,
	)
	return rec, nil
}

// DefaultKey implements [KeySource].
func (m *KeyManager) DefaultKey(ctx context.Context) (Key, error) {
	ring, err := m.Ring(ctx)
	if err != nil {
		return Key{}, err
	}
	k, ok := ring.DefaultKey()
	if !ok {
		return Key{}, sserr.New(sserr.CodeNotFoundKey, "protect: the key ring has no active key and automatic key generation is disabled")
	}
	return k, nil
}

// Key implements [KeySource]. An id missing from the cached ring triggers
// a forced refresh before failing, so keys created by another instance
// are picked up. Forced refreshes happen at most once per
// ForcedRefreshMinInterval.
func (m *KeyManager) Key(ctx context.Context, id uuid.UUID) (Key, error) {
	ring, err := m.Ring(ctx)
	if err != nil {
		return Key{}, err
	}
	if k, ok := ring.Key(id); ok {
		return k, nil
	}
	if !m.allowForcedRefresh() {
		return Key{}, sserr.Newf(sserr.CodeNotFoundKey, "protect: key %s was not found in the key ring", id)
	}
	ring, err = m.Refresh(ctx)
	if err != nil {
		return Key{}, err
	}
	if k, ok := ring.Key(id); ok {
		return k, nil
	}
	return Key{}, sserr.Newf(sserr.CodeNotFoundKey, "protect: key %s was not found in the key ring", id)
}

// allowForcedRefresh claims the forced refresh slot if the minimum
// interval has passed since the last one.
func (m *KeyManager) allowForcedRefresh() bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastForced.IsZero() && now.Before(m.lastForced.Add(m.cfg.ForcedRefreshMinInterval)) {
		return false
	}
	m.lastForced = now
	return true
}

// Keys returns every key in the ring, without material.
func (m *KeyManager) Keys(ctx context.Context) ([]Key, error) {
	ring, err := m.Ring(ctx)
	if err != nil {
		return nil, err
	}
	return ring.Keys(), nil
}

// CreateKey stores a new key activating at activation and refreshes the
// ring. A zero activation means now.
func (m *KeyManager) CreateKey(ctx context.Context, activation time.Time) (Key, error) {
	now := m.now()
	if activation.IsZero() {
		activation = now
	}
	rec, err := m.generate(ctx, now, activation)
	if err != nil {
		return Key{}, err
	}
	if _, err := m.Refresh(ctx); err != nil {
		return Key{}, err
	}
	k := keyFromRecord(rec)
	k.material = nil
	return k, nil
}

// RevokeKey marks a key revoked. Payloads protected with it no longer
// unprotect once the ring is refreshed, which this call does.
func (m *KeyManager) RevokeKey(ctx context.Context, id uuid.UUID, reason string) error {
	records, err := m.repo.LoadKeys(ctx)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "protect: failed to load keys")
	}
	for _, rec := range records {
		if rec.ID != id {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = m.now().UTC()
		rec.RevokedReason = reason
		if err := m.repo.StoreKey(ctx, rec); err != nil {
			return sserr.Wrap(err, sserr.CodeUnavailableDependency, "protect: failed to store key")
		}
		m.logger.WarnContext(ctx, "protect: key revoked",
			"key_id", id.String(),
			"reason", reason,
		)
		_, err := m.Refresh(ctx)
		return err
	}
	return sserr.Newf(sserr.CodeNotFoundKey, "protect: key %s was not found", id)
}

func (m *KeyManager) startSpan(ctx context.Context, operationName string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "protect."+operationName,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// finishSpan records an error on the span (if any) and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/authn/cookie"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-authn/pkg/stores/redis"

// Cmdable is the subset of go-redis the store uses. [*redis.Client]
// satisfies it; tests supply a mock.
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

var (
	_ protect.KeyRepository = (*Store)(nil)
	_ cookie.TicketStore    = (*Store)(nil)
)

// Store keeps key records in one hash and each session under its own
// key with a TTL matching the ticket's expiry. It is safe for concurrent
// use.
type Store struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	clock   authn.Clock
}

// New connects to Redis and verifies connectivity with a ping. A nil
// clock uses [authn.SystemClock].
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot connect to Redis
func New(ctx context.Context, cfg Config, clock authn.Clock) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: failed to parse connection URI")
		}
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: failed to connect to server")
	}
	return NewFromClient(rdb, &cfg, clock), nil
}

// NewFromClient wraps an existing [Cmdable]. cfg is not validated; nil
// means defaults.
func NewFromClient(cmdable Cmdable, cfg *Config, clock authn.Clock) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if clock == nil {
		clock = authn.SystemClock{}
	}
	return &Store{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		clock:   clock,
	}
}

func (s *Store) keysKey() string { return s.config.KeyPrefix + "keys" }

func (s *Store) sessionKey(key string) string { return s.config.KeyPrefix + "session:" + key }

// LoadKeys implements [protect.KeyRepository]. Records are returned
// ordered by creation time.
func (s *Store) LoadKeys(ctx context.Context) ([]protect.KeyRecord, error) {
	ctx, span := s.startSpan(ctx, "LoadKeys", "HGETALL "+s.keysKey())
	fields, err := s.cmdable.HGetAll(ctx, s.keysKey()).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: load keys failed")
	}

	records := make([]protect.KeyRecord, 0, len(fields))
	for id, raw := range fields {
		var rec protect.KeyRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalDatabase, "redis: key record %s is corrupt", id)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Created.Equal(records[j].Created) {
			return records[i].Created.Before(records[j].Created)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
	return records, nil
}

// StoreKey implements [protect.KeyRepository].
func (s *Store) StoreKey(ctx context.Context, record protect.KeyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "redis: encode key record")
	}
	ctx, span := s.startSpan(ctx, "StoreKey", "HSET "+s.keysKey()+" "+record.ID.String())
	err = s.cmdable.HSet(ctx, s.keysKey(), record.ID.String(), data).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: store key failed")
	}
	return nil
}

// Store implements [cookie.TicketStore].
func (s *Store) Store(ctx context.Context, ticket *authn.Ticket) (string, error) {
	key := uuid.NewString()
	if err := s.Renew(ctx, key, ticket); err != nil {
		return "", err
	}
	return key, nil
}

// Renew implements [cookie.TicketStore]. A ticket that has already
// expired is removed instead of stored.
func (s *Store) Renew(ctx context.Context, key string, ticket *authn.Ticket) error {
	data, err := authn.TicketSerializer{}.Serialize(ticket)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if exp, ok := ticket.Properties.ExpiresUTC(); ok {
		ttl = exp.Sub(s.clock.Now())
		if ttl <= 0 {
			return s.Remove(ctx, key)
		}
	}
	ctx, span := s.startSpan(ctx, "Renew", "SET "+s.sessionKey(key))
	err = s.cmdable.Set(ctx, s.sessionKey(key), data, ttl).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: store session failed")
	}
	return nil
}

// Retrieve implements [cookie.TicketStore].
func (s *Store) Retrieve(ctx context.Context, key string) (*authn.Ticket, error) {
	ctx, span := s.startSpan(ctx, "Retrieve", "GET "+s.sessionKey(key))
	raw, err := s.cmdable.Get(ctx, s.sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, sserr.Newf(sserr.CodeNotFoundSession, "redis: session %q not found", key)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: load session failed")
	}
	ticket, err := authn.TicketSerializer{}.Deserialize(raw)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalDatabase, "redis: session %q is corrupt", key)
	}
	return ticket, nil
}

// Remove implements [cookie.TicketStore].
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Remove", "DEL "+s.sessionKey(key))
	err := s.cmdable.Del(ctx, s.sessionKey(key)).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: remove session failed")
	}
	return nil
}

// Health pings Redis, applying [DefaultHealthTimeout] when ctx has no
// deadline.
func (s *Store) Health(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Health", "PING")
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := s.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.cmdable.Close()
}

func (s *Store) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", s.config.DB),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies deadline errors as retryable timeouts and
// everything else as internal.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}

// Package postgres stores data protection key records and server-side
// cookie sessions in PostgreSQL.
//
// A [Store] implements both [protect.KeyRepository] and
// [cookie.TicketStore], so one database can hold the key ring shared by
// every instance of an application as well as its sessions:
//
//	store, err := postgres.New(ctx, *postgres.DefaultConfig(), nil)
//	if err != nil { ... }
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil { ... }
//
// Every statement runs in an OpenTelemetry client span carrying the
// standard database attributes. For tests, [NewFromPool] accepts a
// pgxmock pool.
package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/authn/cookie"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authn/pkg/stores/postgres"

// Pool is the subset of pgx pool operations the store uses.
// [*pgxpool.Pool] satisfies it, as does a pgxmock pool.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Pool                  = (*pgxpool.Pool)(nil)
	_ protect.KeyRepository = (*Store)(nil)
	_ cookie.TicketStore    = (*Store)(nil)
)

// Store is safe for concurrent use.
type Store struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	clock        authn.Clock
	databaseName string

	keysTable     string
	sessionsTable string
}

// New validates cfg, opens a connection pool and pings the database. A
// nil clock uses [authn.SystemClock].
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeInternalConfiguration]: TLS setup failure
//   - [sserr.CodeUnavailableDependency]: cannot connect to the database
func New(ctx context.Context, cfg Config, clock authn.Clock) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "postgres: failed to parse connection string")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to connect to database")
	}
	return NewFromPool(pool, &cfg, clock), nil
}

// NewFromPool wraps an existing [Pool]. cfg is not validated; nil means
// [DefaultConfig].
func NewFromPool(pool Pool, cfg *Config, clock authn.Clock) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = DefaultTablePrefix
	}
	if clock == nil {
		clock = authn.SystemClock{}
	}
	dbName := cfg.Database
	if cfg.URI != "" {
		if u, err := url.Parse(cfg.URI); err == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}
	return &Store{
		pool:          pool,
		config:        cfg,
		tracer:        otel.Tracer(tracerName),
		clock:         clock,
		databaseName:  dbName,
		keysTable:     cfg.TablePrefix + "keys",
		sessionsTable: cfg.TablePrefix + "sessions",
	}
}

// Migrate creates the store's tables and index when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.keysTable + ` (
			id uuid PRIMARY KEY,
			created timestamptz NOT NULL,
			activation timestamptz NOT NULL,
			expiration timestamptz NOT NULL,
			revoked boolean NOT NULL DEFAULT false,
			revoked_at timestamptz,
			revoked_reason text NOT NULL DEFAULT '',
			material bytea NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.sessionsTable + ` (
			key text PRIMARY KEY,
			ticket bytea NOT NULL,
			expires_at timestamptz
		)`,
		`CREATE INDEX IF NOT EXISTS ` + s.sessionsTable + `_expires_at_idx ON ` + s.sessionsTable + ` (expires_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.exec(ctx, "Migrate", stmt); err != nil {
			return err
		}
	}
	return nil
}

// ===========================================================================
// Key repository
// ===========================================================================

// LoadKeys implements [protect.KeyRepository], ordered by creation time.
func (s *Store) LoadKeys(ctx context.Context) (_ []protect.KeyRecord, err error) {
	sql := `SELECT id, created, activation, expiration, revoked, revoked_at, revoked_reason, material FROM ` +
		s.keysTable + ` ORDER BY created, id`
	ctx, span := s.startSpan(ctx, "LoadKeys", sql)
	defer func() { finishSpan(span, err) }()

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, wrapError(err, "postgres: load keys failed")
	}
	defer rows.Close()

	var records []protect.KeyRecord
	for rows.Next() {
		var (
			id        string
			revokedAt pgtype.Timestamptz
			rec       protect.KeyRecord
		)
		if err := rows.Scan(&id, &rec.Created, &rec.Activation, &rec.Expiration,
			&rec.Revoked, &revokedAt, &rec.RevokedReason, &rec.Material); err != nil {
			return nil, wrapError(err, "postgres: scan key record failed")
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalDatabase, "postgres: key record id %q is corrupt", id)
		}
		if revokedAt.Valid {
			rec.RevokedAt = revokedAt.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "postgres: load keys failed")
	}
	return records, nil
}

// StoreKey implements [protect.KeyRepository]. Storing an existing id
// overwrites its revocation state; material and lifetime never change.
func (s *Store) StoreKey(ctx context.Context, rec protect.KeyRecord) error {
	sql := `INSERT INTO ` + s.keysTable + ` (id, created, activation, expiration, revoked, revoked_at, revoked_reason, material)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET revoked = EXCLUDED.revoked, revoked_at = EXCLUDED.revoked_at, revoked_reason = EXCLUDED.revoked_reason`
	revokedAt := pgtype.Timestamptz{Time: rec.RevokedAt, Valid: !rec.RevokedAt.IsZero()}
	_, err := s.exec(ctx, "StoreKey", sql, rec.ID.String(), rec.Created, rec.Activation, rec.Expiration,
		rec.Revoked, revokedAt, rec.RevokedReason, rec.Material)
	return err
}

// ===========================================================================
// Ticket store
// ===========================================================================

// Store implements [cookie.TicketStore].
func (s *Store) Store(ctx context.Context, ticket *authn.Ticket) (string, error) {
	key := uuid.NewString()
	if err := s.Renew(ctx, key, ticket); err != nil {
		return "", err
	}
	return key, nil
}

// Renew implements [cookie.TicketStore].
func (s *Store) Renew(ctx context.Context, key string, ticket *authn.Ticket) error {
	data, err := authn.TicketSerializer{}.Serialize(ticket)
	if err != nil {
		return err
	}
	var expiresAt pgtype.Timestamptz
	if exp, ok := ticket.Properties.ExpiresUTC(); ok {
		expiresAt = pgtype.Timestamptz{Time: exp, Valid: true}
	}
	sql := `INSERT INTO ` + s.sessionsTable + ` (key, ticket, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET ticket = EXCLUDED.ticket, expires_at = EXCLUDED.expires_at`
	_, err = s.exec(ctx, "Renew", sql, key, data, expiresAt)
	return err
}

// Retrieve implements [cookie.TicketStore]. Rows past their expiry are
// reported as missing even before [Store.PurgeExpired] deletes them.
func (s *Store) Retrieve(ctx context.Context, key string) (_ *authn.Ticket, err error) {
	sql := `SELECT ticket, expires_at FROM ` + s.sessionsTable + ` WHERE key = $1`
	ctx, span := s.startSpan(ctx, "Retrieve", sql)
	defer func() {
		if sserr.HasCode(err, sserr.CodeNotFoundSession) {
			finishSpan(span, nil)
			return
		}
		finishSpan(span, err)
	}()

	var (
		data      []byte
		expiresAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, sql, key).Scan(&data, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sserr.Newf(sserr.CodeNotFoundSession, "postgres: session %q not found", key)
	}
	if err != nil {
		return nil, wrapError(err, "postgres: load session failed")
	}
	if expiresAt.Valid && !expiresAt.Time.After(s.clock.Now()) {
		return nil, sserr.Newf(sserr.CodeNotFoundSession, "postgres: session %q has expired", key)
	}

	ticket, err := authn.TicketSerializer{}.Deserialize(data)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalDatabase, "postgres: session %q is corrupt", key)
	}
	return ticket, nil
}

// Remove implements [cookie.TicketStore].
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.exec(ctx, "Remove", `DELETE FROM `+s.sessionsTable+` WHERE key = $1`, key)
	return err
}

// PurgeExpired deletes sessions whose expiry has passed and returns how
// many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.exec(ctx, "PurgeExpired",
		`DELETE FROM `+s.sessionsTable+` WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ===========================================================================
// Lifecycle
// ===========================================================================

// Health pings the database, applying [DefaultHealthTimeout] when ctx
// has no deadline.
func (s *Store) Health(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Health", "SELECT 1")
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := s.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) exec(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := s.startSpan(ctx, op, sql)
	tag, err := s.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: "+strings.ToLower(op)+" failed")
	}
	return tag, nil
}

func (s *Store) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", s.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
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

// wrapError classifies deadline and cancellation errors as retryable
// timeouts and everything else as internal.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}

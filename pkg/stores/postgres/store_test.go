package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authn/internal/testutil"
	"github.com/StricklySoft/stricklysoft-authn/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

var keyColumns = []string{"id", "created", "activation", "expiration", "revoked", "revoked_at", "revoked_reason", "material"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFromPool(mock, nil, authn.NewManualClock(fixtures.Epoch)), mock
}

func serialize(t *testing.T, ticket *authn.Ticket) []byte {
	t.Helper()
	data, err := authn.TicketSerializer{}.Serialize(ticket)
	require.NoError(t, err)
	return data
}

func TestNewFromPool_Defaults(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewFromPool(mock, &Config{URI: "postgres://u:p@db:5432/sessions"}, nil)
	assert.Equal(t, "sessions", s.databaseName)
	assert.Equal(t, "authn_keys", s.keysTable)
	assert.Equal(t, "authn_sessions", s.sessionsTable)
	assert.IsType(t, authn.SystemClock{}, s.clock)
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authn_keys").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authn_sessions").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS authn_sessions_expires_at_idx").WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_StopsOnError(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authn_keys").WillReturnError(errors.New("permission denied"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ===========================================================================
// Key repository
// ===========================================================================

func TestLoadKeys(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	first, second := uuid.New(), uuid.New()
	revokedAt := fixtures.Epoch.Add(-time.Hour)
	rows := pgxmock.NewRows(keyColumns).
		AddRow(first.String(), fixtures.Epoch.Add(-48*time.Hour), fixtures.Epoch.Add(-48*time.Hour), fixtures.Epoch.Add(48*time.Hour),
			true, pgtype.Timestamptz{Time: revokedAt, Valid: true}, "compromised", []byte("k1")).
		AddRow(second.String(), fixtures.Epoch, fixtures.Epoch, fixtures.Epoch.Add(90*24*time.Hour),
			false, pgtype.Timestamptz{}, "", []byte("k2"))
	mock.ExpectQuery("SELECT id, created, activation, expiration").WillReturnRows(rows)

	records, err := s.LoadKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, first, records[0].ID)
	assert.True(t, records[0].Revoked)
	assert.Equal(t, revokedAt, records[0].RevokedAt)
	assert.Equal(t, "compromised", records[0].RevokedReason)

	assert.Equal(t, second, records[1].ID)
	assert.False(t, records[1].Revoked)
	assert.True(t, records[1].RevokedAt.IsZero())
	assert.Equal(t, []byte("k2"), records[1].Material)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadKeys_Errors(t *testing.T) {
	t.Parallel()

	t.Run("corrupt id", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		rows := pgxmock.NewRows(keyColumns).
			AddRow("not-a-uuid", fixtures.Epoch, fixtures.Epoch, fixtures.Epoch, false, pgtype.Timestamptz{}, "", []byte("k"))
		mock.ExpectQuery("SELECT id").WillReturnRows(rows)

		_, err := s.LoadKeys(context.Background())
		require.Error(t, err)
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT id").WillReturnError(context.DeadlineExceeded)

		_, err := s.LoadKeys(context.Background())
		require.Error(t, err)
		assert.True(t, sserr.IsTimeout(err))
		assert.True(t, sserr.IsRetryable(err))
	})
}

func TestStoreKey(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	rec, err := protect.NewKeyRecord(fixtures.Epoch, fixtures.Epoch, 90*24*time.Hour)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO authn_keys").
		WithArgs(rec.ID.String(), rec.Created, rec.Activation, rec.Expiration,
			false, pgxmock.AnyArg(), "", rec.Material).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StoreKey(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ===========================================================================
// Ticket store
// ===========================================================================

func TestRenew(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO authn_sessions").
		WithArgs("k1", pgxmock.AnyArg(), pgtype.Timestamptz{Time: fixtures.Epoch.Add(time.Hour), Valid: true}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Renew(context.Background(), "k1", fixtures.Ticket(fixtures.Epoch.Add(time.Hour))))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GeneratesKey(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO authn_sessions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	key, err := s.Store(context.Background(), fixtures.Ticket(fixtures.Epoch.Add(time.Hour)))
	require.NoError(t, err)
	_, err = uuid.Parse(key)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieve(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	data := serialize(t, fixtures.Ticket(fixtures.Epoch.Add(time.Hour)))
	mock.ExpectQuery("SELECT ticket, expires_at FROM authn_sessions").
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows([]string{"ticket", "expires_at"}).
			AddRow(data, pgtype.Timestamptz{Time: fixtures.Epoch.Add(time.Hour), Valid: true}))

	ticket, err := s.Retrieve(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, ticket.Principal.Subject())
	assert.Equal(t, "Cookies", ticket.Scheme)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieve_NotFound(t *testing.T) {
	t.Parallel()

	t.Run("missing row", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT ticket").WithArgs("gone").WillReturnError(pgx.ErrNoRows)

		_, err := s.Retrieve(context.Background(), "gone")
		testutil.AssertErrorCode(t, err, sserr.CodeNotFoundSession)
	})

	t.Run("expired row", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		data := serialize(t, fixtures.Ticket(fixtures.Epoch.Add(-time.Minute)))
		mock.ExpectQuery("SELECT ticket").WithArgs("old").
			WillReturnRows(pgxmock.NewRows([]string{"ticket", "expires_at"}).
				AddRow(data, pgtype.Timestamptz{Time: fixtures.Epoch.Add(-time.Minute), Valid: true}))

		_, err := s.Retrieve(context.Background(), "old")
		testutil.AssertErrorCode(t, err, sserr.CodeNotFoundSession)
	})
}

func TestRetrieve_Corrupt(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT ticket").WithArgs("bad").
		WillReturnRows(pgxmock.NewRows([]string{"ticket", "expires_at"}).
			AddRow([]byte("garbage"), pgtype.Timestamptz{}))

	_, err := s.Retrieve(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM authn_sessions WHERE key").WithArgs("k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.NoError(t, s.Remove(context.Background(), "k1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM authn_sessions WHERE expires_at IS NOT NULL").WithArgs(fixtures.Epoch).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTablePrefix(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewFromPool(mock, &Config{TablePrefix: "tenant_a_"}, nil)

	mock.ExpectExec("DELETE FROM tenant_a_sessions").WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.Remove(context.Background(), "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ===========================================================================
// Health
// ===========================================================================

func TestHealth(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, s.Health(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	s, mock = newMockStore(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err := s.Health(context.Background())
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableDependency))
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{TablePrefix: "drop table;"}, nil)
	require.Error(t, err)
	assert.True(t, sserr.IsValidation(err))
}

package cookie

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

func TestMemoryTicketStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := authn.NewManualClock(epoch)
	store := NewMemoryTicketStore(clock)

	props := authn.NewProperties()
	props.SetExpiresUTC(epoch.Add(time.Hour))
	ticket := authn.NewTicket(principal("alice"), props, DefaultScheme)

	key, err := store.Store(ctx, ticket)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	got, err := store.Retrieve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Principal.Subject())
	assert.NotSame(t, ticket, got)

	require.NoError(t, store.Renew(ctx, key, authn.NewTicket(principal("bob"), props, DefaultScheme)))
	got, err = store.Retrieve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Principal.Subject())

	_, err = store.Retrieve(ctx, "missing")
	assert.True(t, sserr.HasCode(err, sserr.CodeNotFoundSession))

	clock.Advance(time.Hour)
	_, err = store.Retrieve(ctx, key)
	assert.True(t, sserr.HasCode(err, sserr.CodeNotFoundSession))
	assert.Equal(t, 0, store.Len(), "expired session dropped on read")

	require.NoError(t, store.Remove(ctx, "missing"))
}

func TestMemoryTicketStore_SweepsAbandonedSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := authn.NewManualClock(epoch)
	store := NewMemoryTicketStore(clock)

	shortLived := authn.NewProperties()
	shortLived.SetExpiresUTC(epoch.Add(time.Hour))
	_, err := store.Store(ctx, authn.NewTicket(principal("alice"), shortLived, DefaultScheme))
	require.NoError(t, err)
	_, err = store.Store(ctx, authn.NewTicket(principal("bob"), authn.NewProperties(), DefaultScheme))
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Hour)
	_, err = store.Store(ctx, authn.NewTicket(principal("carol"), authn.NewProperties(), DefaultScheme))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len(), "the unread expired session is swept on write")
}

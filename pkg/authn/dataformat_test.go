package authn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
)

func TestTicketDataFormat_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	format := NewTicketDataFormat(testProtector(t))

	id := claims.NewIdentity("Cookies",
		claims.New(claims.TypeSubject, "42"),
		claims.NewIssued("groups", "admins", "", "https://idp.example.com"),
	)
	id.RoleClaimType = "groups"
	id.Label = "primary"
	extra := claims.NewIdentity("Extra", claims.New(claims.TypeEmail, "a@example.com"))
	props := NewProperties()
	props.SetExpiresUTC(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	props.SetParameter("transient", true)

	text, err := format.Protect(ctx, NewTicket(claims.NewPrincipal(id, extra), props, "Cookies"), "")
	require.NoError(t, err)

	got, ok := format.Unprotect(ctx, text, "")
	require.True(t, ok)
	assert.Equal(t, "Cookies", got.Scheme)
	require.Len(t, got.Principal.Identities(), 2)
	assert.True(t, got.Principal.IsInRole("admins"))
	assert.Equal(t, "primary", got.Principal.Identity().Label)
	assert.Equal(t, "https://idp.example.com", got.Principal.FindAll("groups")[0].Issuer)
	exp, ok := got.Properties.ExpiresUTC()
	require.True(t, ok)
	assert.Equal(t, 2026, exp.Year())
	_, ok = got.Properties.Parameter("transient")
	assert.False(t, ok, "parameters are not serialized")
}

func TestSecureDataFormat_PurposeBinding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	format := NewPropertiesDataFormat(testProtector(t))
	props := NewPropertiesFromItems(map[string]string{"k": "v"})

	withPurpose, err := format.Protect(ctx, props, "purpose1")
	require.NoError(t, err)

	got, ok := format.Unprotect(ctx, withPurpose, "purpose1")
	require.True(t, ok)
	assert.Equal(t, "v", got.Items["k"])

	got, ok = format.Unprotect(ctx, withPurpose, "")
	assert.False(t, ok)
	assert.Nil(t, got)
	_, ok = format.Unprotect(ctx, withPurpose, "purpose2")
	assert.False(t, ok)

	withoutPurpose, err := format.Protect(ctx, props, "")
	require.NoError(t, err)
	_, ok = format.Unprotect(ctx, withoutPurpose, "")
	assert.True(t, ok)
	_, ok = format.Unprotect(ctx, withoutPurpose, "purpose1")
	assert.False(t, ok)
}

func TestSecureDataFormat_RejectsGarbage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	format := NewTicketDataFormat(testProtector(t))

	for _, text := range []string{"", "!!!", "abc", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		got, ok := format.Unprotect(ctx, text, "")
		assert.False(t, ok, text)
		assert.Nil(t, got, text)
	}
}

func TestSecureDataFormat_RejectsOtherFormatsPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := testProtector(t)

	text, err := NewPropertiesDataFormat(p).Protect(ctx, NewProperties(), "")
	require.NoError(t, err)

	_, ok := NewTicketDataFormat(p).Unprotect(ctx, text, "")
	assert.False(t, ok, "a properties envelope is not a ticket")
}

func TestTicketSerializer_RejectsMissingPrincipal(t *testing.T) {
	t.Parallel()
	_, err := TicketSerializer{}.Serialize(&Ticket{})
	assert.Error(t, err)
	_, err = TicketSerializer{}.Serialize(&Ticket{Principal: claims.NewPrincipal()})
	assert.Error(t, err)
	_, err = TicketSerializer{}.Deserialize([]byte(`{"ver":2}`))
	assert.Error(t, err)
}

package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIssued_Defaults(t *testing.T) {
	t.Parallel()

	c := NewIssued(TypeEmail, "a@example.com", "", "")
	assert.Equal(t, ValueTypeString, c.ValueType)
	assert.Equal(t, DefaultIssuer, c.Issuer)
	assert.Equal(t, DefaultIssuer, c.OriginalIssuer)
	assert.Equal(t, "email: a@example.com", c.String())
}

func TestIdentity_IsAuthenticated(t *testing.T) {
	t.Parallel()

	assert.True(t, NewIdentity("Cookies").IsAuthenticated())
	assert.False(t, NewIdentity("").IsAuthenticated())

	var nilID *Identity
	assert.False(t, nilID.IsAuthenticated())
	assert.Zero(t, nilID.Len())
}

func TestIdentity_NameAndRoleClaimTypes(t *testing.T) {
	t.Parallel()

	id := NewIdentity("Bearer",
		New("upn", "ada@example.com"),
		New(TypeName, "Ada"),
		New("groups", "admins"),
	)
	assert.Equal(t, "Ada", id.Name())
	assert.False(t, id.HasRole("admins"))

	id.NameClaimType = "upn"
	id.RoleClaimType = "groups"
	assert.Equal(t, "ada@example.com", id.Name())
	assert.True(t, id.HasRole("admins"))
}

func TestIdentity_FindIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	id := NewIdentity("test", New("Email", "a@example.com"), New("email", "b@example.com"))

	first, ok := id.FindFirst("EMAIL")
	require.True(t, ok)
	assert.Equal(t, "a@example.com", first.Value)
	assert.Len(t, id.FindAll("email"), 2)

	assert.True(t, id.HasClaim("email", "b@example.com"))
	assert.False(t, id.HasClaim("email", "B@example.com"))
}

func TestIdentity_RemoveClaims(t *testing.T) {
	t.Parallel()

	id := NewIdentity("test", New(TypeRole, "a"), New(TypeName, "n"), New("ROLE", "b"))
	assert.Equal(t, 2, id.RemoveClaims(TypeRole))
	assert.Equal(t, 1, id.Len())
	assert.Equal(t, 0, id.RemoveClaims(TypeRole))
}

func TestIdentity_ClaimsAreCopies(t *testing.T) {
	t.Parallel()

	c := New(TypeSubject, "123")
	c.Properties = map[string]string{"k": "v"}
	id := NewIdentity("test", c)

	c.Properties["k"] = "changed"
	listed := id.Claims()
	assert.Equal(t, "v", listed[0].Properties["k"])

	listed[0].Value = "mutated"
	listed[0].Properties["k"] = "mutated"
	got, _ := id.FindFirst(TypeSubject)
	assert.Equal(t, "123", got.Value)
	assert.Equal(t, "v", got.Properties["k"])
}

func TestIdentity_Clone(t *testing.T) {
	t.Parallel()

	id := NewIdentity("test", New(TypeRole, "a"))
	id.Label = "primary"
	cp := id.Clone()
	cp.AddClaim(New(TypeRole, "b"))

	assert.Equal(t, 1, id.Len())
	assert.Equal(t, 2, cp.Len())
	assert.Equal(t, "primary", cp.Label)
}

func TestPrincipal_PrimaryIdentity(t *testing.T) {
	t.Parallel()

	anon := NewIdentity("", New(TypeName, "anonymous"))
	authed := NewIdentity("Cookies", New(TypeName, "Ada"), New(TypeSubject, "42"))
	p := NewPrincipal(anon, nil, authed)

	assert.Len(t, p.Identities(), 2)
	assert.Same(t, authed, p.Identity())
	assert.True(t, p.IsAuthenticated())
	assert.Equal(t, "Ada", p.Name())
	assert.Equal(t, "42", p.Subject())

	onlyAnon := NewPrincipal(anon)
	assert.Same(t, anon, onlyAnon.Identity())
	assert.False(t, onlyAnon.IsAuthenticated())

	var empty *Principal
	assert.Nil(t, empty.Identity())
	assert.False(t, empty.IsAuthenticated())
	assert.Equal(t, "", empty.Name())
}

func TestPrincipal_SearchesAllIdentities(t *testing.T) {
	t.Parallel()

	p := NewPrincipal(
		NewIdentity("Cookies", New(TypeRole, "viewer")),
		NewIdentity("Extra", New(TypeRole, "operator"), New(TypeEmail, "a@example.com")),
	)

	assert.Len(t, p.FindAll(TypeRole), 2)
	assert.True(t, p.IsInRole("operator"))
	assert.True(t, p.HasClaim(TypeEmail, "a@example.com"))
	_, ok := p.FindFirst("missing")
	assert.False(t, ok)
}

func TestPrincipal_Clone(t *testing.T) {
	t.Parallel()

	p := NewPrincipal(NewIdentity("Cookies", New(TypeRole, "viewer")))
	cp := p.Clone()
	cp.Identity().AddClaim(New(TypeRole, "admin"))

	assert.False(t, p.IsInRole("admin"))
	assert.True(t, cp.IsInRole("admin"))
}

package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_Accessors(t *testing.T) {
	t.Parallel()
	p := NewProperties()

	_, ok := p.ExpiresUTC()
	assert.False(t, ok)

	exp := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	p.SetExpiresUTC(exp)
	got, ok := p.ExpiresUTC()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))
	assert.Equal(t, "2026-03-01T11:30:00Z", p.Items[ItemExpires])

	p.SetExpiresUTC(time.Time{})
	_, ok = p.ExpiresUTC()
	assert.False(t, ok)

	p.SetIssuedUTC(exp)
	issued, ok := p.IssuedUTC()
	require.True(t, ok)
	assert.True(t, exp.Equal(issued))

	assert.False(t, p.IsPersistent())
	p.SetPersistent(true)
	assert.True(t, p.IsPersistent())
	p.SetPersistent(false)
	assert.False(t, p.IsPersistent())

	p.SetRedirectURI("/home")
	assert.Equal(t, "/home", p.RedirectURI())

	_, set := p.AllowRefresh()
	assert.False(t, set)
	p.SetAllowRefresh(false)
	allow, set := p.AllowRefresh()
	assert.True(t, set)
	assert.False(t, allow)
	p.ClearAllowRefresh()
	_, set = p.AllowRefresh()
	assert.False(t, set)
}

func TestProperties_MalformedTimeIsUnset(t *testing.T) {
	t.Parallel()
	p := NewPropertiesFromItems(map[string]string{ItemExpires: "tomorrow"})
	_, ok := p.ExpiresUTC()
	assert.False(t, ok)
}

func TestProperties_Clone(t *testing.T) {
	t.Parallel()
	p := NewProperties()
	p.SetItem("k", "v")
	p.SetParameter("scope", []string{"openid"})

	cp := p.Clone()
	cp.SetItem("k", "changed")
	cp.SetParameter("scope", nil)

	v, _ := p.Item("k")
	assert.Equal(t, "v", v)
	_, ok := p.Parameter("scope")
	assert.True(t, ok)

	var nilProps *Properties
	assert.NotNil(t, nilProps.Clone())
	_, ok = nilProps.Item("k")
	assert.False(t, ok)
}

func TestTicket_Expired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ticket := NewTicket(testPrincipal("1"), nil, "Test")
	assert.False(t, ticket.Expired(now), "no expiry never expires")

	ticket.Properties.SetExpiresUTC(now)
	assert.True(t, ticket.Expired(now), "expiry is exclusive")
	assert.False(t, ticket.Expired(now.Add(-time.Second)))

	var nilTicket *Ticket
	assert.True(t, nilTicket.Expired(now))
}

func TestManualClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, time.UTC, SystemClock{}.Now().Location())
}

package authn

import (
	"maps"
	"strconv"
	"time"
)

// Well-known property item keys.
const (
	ItemExpires      = ".expires"
	ItemIssued       = ".issued"
	ItemPersistent   = ".persistent"
	ItemRedirectURI  = ".redirect"
	ItemAllowRefresh = ".refresh"
	ItemAuthScheme   = ".AuthScheme"
)

const propertiesTimeFormat = time.RFC3339

// Properties is the string-keyed state that accompanies a ticket: issue and
// expiry times, persistence, the post-sign-in redirect and any
// handler-specific items. Items are serialized with the ticket.
// Parameters carry per-call values to a handler and are never
// serialized.
type Properties struct {
	Items      map[string]string
	Parameters map[string]any
}

// NewProperties returns empty properties.
func NewProperties() *Properties {
	return &Properties{Items: map[string]string{}, Parameters: map[string]any{}}
}

// NewPropertiesFromItems returns properties holding a copy of items.
func NewPropertiesFromItems(items map[string]string) *Properties {
	p := NewProperties()
	maps.Copy(p.Items, items)
	return p
}

// Clone returns a copy. Parameter values are shared.
func (p *Properties) Clone() *Properties {
	if p == nil {
		return NewProperties()
	}
	cp := NewPropertiesFromItems(p.Items)
	maps.Copy(cp.Parameters, p.Parameters)
	return cp
}

// Item returns an item value.
func (p *Properties) Item(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.Items[key]
	return v, ok
}

// SetItem sets an item. An empty value removes it.
func (p *Properties) SetItem(key, value string) {
	if p.Items == nil {
		p.Items = map[string]string{}
	}
	if value == "" {
		delete(p.Items, key)
		return
	}
	p.Items[key] = value
}

// Parameter returns a parameter value.
func (p *Properties) Parameter(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.Parameters[key]
	return v, ok
}

// SetParameter sets a parameter. A nil value removes it.
func (p *Properties) SetParameter(key string, value any) {
	if p.Parameters == nil {
		p.Parameters = map[string]any{}
	}
	if value == nil {
		delete(p.Parameters, key)
		return
	}
	p.Parameters[key] = value
}

// ExpiresUTC returns the ticket expiry, if set.
func (p *Properties) ExpiresUTC() (time.Time, bool) {
	return p.timeItem(ItemExpires)
}

// SetExpiresUTC sets the ticket expiry. A zero time clears it.
func (p *Properties) SetExpiresUTC(t time.Time) {
	p.setTimeItem(ItemExpires, t)
}

// IssuedUTC returns the issue time, if set.
func (p *Properties) IssuedUTC() (time.Time, bool) {
	return p.timeItem(ItemIssued)
}

// SetIssuedUTC sets the issue time. A zero time clears it.
func (p *Properties) SetIssuedUTC(t time.Time) {
	p.setTimeItem(ItemIssued, t)
}

// IsPersistent reports whether the session should survive the client
// closing.
func (p *Properties) IsPersistent() bool {
	_, ok := p.Item(ItemPersistent)
	return ok
}

// SetPersistent sets or clears persistence.
func (p *Properties) SetPersistent(persistent bool) {
	if persistent {
		p.SetItem(ItemPersistent, "true")
		return
	}
	p.SetItem(ItemPersistent, "")
}

// RedirectURI returns where to send the client after the operation.
func (p *Properties) RedirectURI() string {
	v, _ := p.Item(ItemRedirectURI)
	return v
}

// SetRedirectURI sets the post-operation redirect.
func (p *Properties) SetRedirectURI(uri string) {
	p.SetItem(ItemRedirectURI, uri)
}

// AllowRefresh returns the refresh setting and whether one is set.
func (p *Properties) AllowRefresh() (allow, ok bool) {
	v, ok := p.Item(ItemAllowRefresh)
	if !ok {
		return false, false
	}
	allow, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return allow, true
}

// SetAllowRefresh sets whether sliding expiration may renew the ticket.
func (p *Properties) SetAllowRefresh(allow bool) {
	p.SetItem(ItemAllowRefresh, strconv.FormatBool(allow))
}

// ClearAllowRefresh removes the refresh setting.
func (p *Properties) ClearAllowRefresh() {
	p.SetItem(ItemAllowRefresh, "")
}

func (p *Properties) timeItem(key string) (time.Time, bool) {
	v, ok := p.Item(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(propertiesTimeFormat, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (p *Properties) setTimeItem(key string, t time.Time) {
	if t.IsZero() {
		p.SetItem(key, "")
		return
	}
	p.SetItem(key, t.UTC().Format(propertiesTimeFormat))
}

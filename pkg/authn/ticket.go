package authn

import (
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
)

// Ticket is an authenticated principal together with its properties and
// the scheme that issued it.
type Ticket struct {
	Principal  *claims.Principal
	Properties *Properties
	Scheme     string
}

// NewTicket returns a ticket. Nil properties become empty properties.
func NewTicket(principal *claims.Principal, props *Properties, scheme string) *Ticket {
	if props == nil {
		props = NewProperties()
	}
	return &Ticket{Principal: principal, Properties: props, Scheme: scheme}
}

// Clone deep-copies the principal and properties.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	return &Ticket{
		Principal:  t.Principal.Clone(),
		Properties: t.Properties.Clone(),
		Scheme:     t.Scheme,
	}
}

// Expired reports whether the ticket has an expiry at or before now.
func (t *Ticket) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	exp, ok := t.Properties.ExpiresUTC()
	return ok && !now.Before(exp)
}

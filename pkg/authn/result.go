package authn

import (
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Result is the outcome of an authenticate call: a ticket, no result
// (the scheme found nothing to inspect), or a failure (it found
// credentials and rejected them). The zero Result is NoResult.
type Result struct {
	ticket  *Ticket
	failure error
}

// Success returns a successful result.
func Success(ticket *Ticket) Result {
	if ticket == nil {
		return Fail(sserr.TicketInvalid("auth: success requires a ticket"))
	}
	return Result{ticket: ticket}
}

// NoResult returns a result for a request carrying no credentials for the
// scheme.
func NoResult() Result {
	return Result{}
}

// Fail returns a failed result.
func Fail(err error) Result {
	if err == nil {
		err = sserr.New(sserr.CodeAuthentication, "auth: authentication failed")
	}
	return Result{failure: err}
}

// Succeeded reports whether a ticket was produced.
func (r Result) Succeeded() bool { return r.ticket != nil }

// None reports whether the scheme had nothing to authenticate.
func (r Result) None() bool { return r.ticket == nil && r.failure == nil }

// Failure returns the failure, or nil.
func (r Result) Failure() error { return r.failure }

// Ticket returns the ticket of a successful result.
func (r Result) Ticket() *Ticket { return r.ticket }

// Principal returns the authenticated principal, or nil.
func (r Result) Principal() *claims.Principal {
	if r.ticket == nil {
		return nil
	}
	return r.ticket.Principal
}

// Properties returns the ticket properties, or nil.
func (r Result) Properties() *Properties {
	if r.ticket == nil {
		return nil
	}
	return r.ticket.Properties
}

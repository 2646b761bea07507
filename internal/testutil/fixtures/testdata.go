// Package fixtures provides shared identities and tickets for tests
// outside the authn package itself.
package fixtures

import (
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
)

// Standard identity values.
const (
	Subject     = "alice"
	DisplayName = "Alice Example"
	Email       = "alice@example.test"
	Role        = "admin"
	AuthType    = "password"
	Scheme      = "Cookies"
)

// Epoch is the fixed instant tests pin their clocks to.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Principal returns an authenticated principal for [Subject] carrying
// its name, email, and the given roles.
func Principal(roles ...string) *claims.Principal {
	cs := []claims.Claim{
		claims.New(claims.TypeSubject, Subject),
		claims.New(claims.TypeName, DisplayName),
		claims.New(claims.TypeEmail, Email),
	}
	for _, r := range roles {
		cs = append(cs, claims.New(claims.TypeRole, r))
	}
	return claims.NewPrincipal(claims.NewIdentity(AuthType, cs...))
}

// Ticket returns a [Scheme] ticket for [Principal] with role [Role]
// that expires at exp.
func Ticket(exp time.Time) *authn.Ticket {
	props := authn.NewProperties()
	props.SetExpiresUTC(exp)
	return authn.NewTicket(Principal(Role), props, Scheme)
}

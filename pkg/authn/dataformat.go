package authn

import (
	"context"
	"encoding/json"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// Serializer converts values to and from bytes.
type Serializer[T any] interface {
	Serialize(v T) ([]byte, error)
	Deserialize(data []byte) (T, error)
}

// SecureDataFormat turns values into URL-safe protected strings and back.
// A non-empty purpose extends the base protector's chain for that call,
// so text protected for one purpose never unprotects under another or
// under no purpose.
type SecureDataFormat[T any] struct {
	serializer Serializer[T]
	protector  *protect.Protector
}

// NewSecureDataFormat returns a format using s and p.
func NewSecureDataFormat[T any](s Serializer[T], p *protect.Protector) *SecureDataFormat[T] {
	return &SecureDataFormat[T]{serializer: s, protector: p}
}

// Protect serializes, protects and base64url-encodes v.
func (f *SecureDataFormat[T]) Protect(ctx context.Context, v T, purpose string) (string, error) {
	data, err := f.serializer.Serialize(v)
	if err != nil {
		return "", err
	}
	payload, err := f.protectorFor(purpose).Protect(ctx, data)
	if err != nil {
		return "", err
	}
	return protect.Base64URLEncode(payload), nil
}

// Unprotect reverses Protect. It reports false for malformed text, a
// tampered or foreign payload, an unknown or revoked key, a different
// purpose, or undecodable content.
func (f *SecureDataFormat[T]) Unprotect(ctx context.Context, text, purpose string) (T, bool) {
	var zero T
	if text == "" {
		return zero, false
	}
	payload, err := protect.Base64URLDecode(text)
	if err != nil {
		return zero, false
	}
	data, err := f.protectorFor(purpose).Unprotect(ctx, payload)
	if err != nil {
		return zero, false
	}
	v, err := f.serializer.Deserialize(data)
	if err != nil {
		return zero, false
	}
	return v, true
}

func (f *SecureDataFormat[T]) protectorFor(purpose string) *protect.Protector {
	if purpose == "" {
		return f.protector
	}
	return f.protector.CreateProtector(purpose)
}

// NewTicketDataFormat returns a ticket format over p.
func NewTicketDataFormat(p *protect.Protector) *SecureDataFormat[*Ticket] {
	return NewSecureDataFormat[*Ticket](TicketSerializer{}, p)
}

// NewPropertiesDataFormat returns a properties format over p.
func NewPropertiesDataFormat(p *protect.Protector) *SecureDataFormat[*Properties] {
	return NewSecureDataFormat[*Properties](PropertiesSerializer{}, p)
}

// ---------------------------------------------------------------------------
// Serializers
// ---------------------------------------------------------------------------

const formatVersion = 1

type identityEnvelope struct {
	AuthenticationType string         `json:"at,omitempty"`
	NameClaimType      string         `json:"nt,omitempty"`
	RoleClaimType      string         `json:"rt,omitempty"`
	Label              string         `json:"l,omitempty"`
	Claims             []claims.Claim `json:"c"`
}

type ticketEnvelope struct {
	Version    int                `json:"ver"`
	Scheme     string             `json:"s"`
	Identities []identityEnvelope `json:"id"`
	Items      map[string]string  `json:"p,omitempty"`
}

type propertiesEnvelope struct {
	Version int               `json:"ver"`
	Items   map[string]string `json:"p,omitempty"`
}

// TicketSerializer encodes tickets as versioned JSON. Property
// parameters are not serialized.
type TicketSerializer struct{}

// Serialize implements [Serializer].
func (TicketSerializer) Serialize(t *Ticket) ([]byte, error) {
	if t == nil || len(t.Principal.Identities()) == 0 {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: cannot serialize a ticket without an identity")
	}
	env := ticketEnvelope{Version: formatVersion, Scheme: t.Scheme}
	for _, id := range t.Principal.Identities() {
		env.Identities = append(env.Identities, identityEnvelope{
			AuthenticationType: id.AuthenticationType,
			NameClaimType:      id.NameClaimType,
			RoleClaimType:      id.RoleClaimType,
			Label:              id.Label,
			Claims:             id.Claims(),
		})
	}
	if t.Properties != nil {
		env.Items = t.Properties.Items
	}
	return json.Marshal(env)
}

// Deserialize implements [Serializer].
func (TicketSerializer) Deserialize(data []byte) (*Ticket, error) {
	var env ticketEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "auth: malformed ticket")
	}
	if env.Version != formatVersion {
		return nil, sserr.Newf(sserr.CodeValidationFormat, "auth: unsupported ticket version %d", env.Version)
	}
	if len(env.Identities) == 0 {
		return nil, sserr.New(sserr.CodeValidationFormat, "auth: ticket has no identities")
	}
	principal := claims.NewPrincipal()
	for _, ie := range env.Identities {
		id := claims.NewIdentity(ie.AuthenticationType, ie.Claims...)
		if ie.NameClaimType != "" {
			id.NameClaimType = ie.NameClaimType
		}
		if ie.RoleClaimType != "" {
			id.RoleClaimType = ie.RoleClaimType
		}
		id.Label = ie.Label
		principal.AddIdentity(id)
	}
	return NewTicket(principal, NewPropertiesFromItems(env.Items), env.Scheme), nil
}

// PropertiesSerializer encodes property items as versioned JSON.
type PropertiesSerializer struct{}

// Serialize implements [Serializer].
func (PropertiesSerializer) Serialize(p *Properties) ([]byte, error) {
	env := propertiesEnvelope{Version: formatVersion}
	if p != nil {
		env.Items = p.Items
	}
	return json.Marshal(env)
}

// Deserialize implements [Serializer].
func (PropertiesSerializer) Deserialize(data []byte) (*Properties, error) {
	var env propertiesEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "auth: malformed properties")
	}
	if env.Version != formatVersion {
		return nil, sserr.Newf(sserr.CodeValidationFormat, "auth: unsupported properties version %d", env.Version)
	}
	return NewPropertiesFromItems(env.Items), nil
}

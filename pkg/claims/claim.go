// Package claims models authenticated identities as ordered collections of
// claims and maps identity-provider documents (user-info responses, decoded
// token payloads) into those collections.
//
// A [Principal] holds one or more [Identity] values; each Identity holds an
// ordered list of [Claim] records. Mapping is driven by an [Actions]
// collection: every [Action] inspects the source document and returns the
// claims to append, and the collection appends them in registration order.
// Mapping is best-effort. Absent keys, nulls, and shape mismatches yield no
// claims rather than errors.
package claims

// Well-known claim types.
const (
	TypeSubject       = "sub"
	TypeName          = "name"
	TypeEmail         = "email"
	TypeRole          = "role"
	TypePermission    = "permission"
	TypeAuthMethod    = "amr"
	TypeSessionID     = "sid"
	TypeAuthScheme    = "auth_scheme"
	TypeGivenName     = "given_name"
	TypeFamilyName    = "family_name"
	TypePreferredName = "preferred_username"
)

// Claim value type tags. They follow the XML Schema names used by most
// identity providers so values survive a trip through other stacks.
const (
	ValueTypeString  = "http://www.w3.org/2001/XMLSchema#string"
	ValueTypeInteger = "http://www.w3.org/2001/XMLSchema#integer"
	ValueTypeBoolean = "http://www.w3.org/2001/XMLSchema#boolean"
	ValueTypeDouble  = "http://www.w3.org/2001/XMLSchema#double"
	ValueTypeJSON    = "JSON"
)

// DefaultIssuer is recorded on claims created without an explicit issuer.
const DefaultIssuer = "LOCAL AUTHORITY"

// Claim is one statement about an identity.
type Claim struct {
	Type           string            `json:"t"`
	Value          string            `json:"v"`
	ValueType      string            `json:"vt,omitempty"`
	Issuer         string            `json:"i,omitempty"`
	OriginalIssuer string            `json:"oi,omitempty"`
	Properties     map[string]string `json:"p,omitempty"`
}

// New returns a string-valued claim issued by [DefaultIssuer].
func New(claimType, value string) Claim {
	return NewIssued(claimType, value, ValueTypeString, "")
}

// NewIssued returns a claim with an explicit value type and issuer. Empty
// valueType and issuer fall back to [ValueTypeString] and
// [DefaultIssuer]; OriginalIssuer is set to the issuer.
func NewIssued(claimType, value, valueType, issuer string) Claim {
	if valueType == "" {
		valueType = ValueTypeString
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return Claim{
		Type:           claimType,
		Value:          value,
		ValueType:      valueType,
		Issuer:         issuer,
		OriginalIssuer: issuer,
	}
}

// String returns "type: value".
func (c Claim) String() string {
	return c.Type + ": " + c.Value
}

func (c Claim) clone() Claim {
	if c.Properties != nil {
		props := make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			props[k] = v
		}
		c.Properties = props
	}
	return c
}

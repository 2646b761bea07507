package claims

import "strings"

// Identity is one authenticated (or anonymous) identity: an ordered claim
// list plus the authentication type that produced it. An Identity belongs
// to a single request or ticket and is not safe for concurrent mutation.
type Identity struct {
	// AuthenticationType names the mechanism that authenticated the
	// identity (usually the scheme name). Empty means anonymous.
	AuthenticationType string

	// NameClaimType is the claim type read by [Identity.Name].
	// Defaults to [TypeName].
	NameClaimType string

	// RoleClaimType is the claim type read by role checks.
	// Defaults to [TypeRole].
	RoleClaimType string

	// Label is an optional display label.
	Label string

	claims []Claim
}

// NewIdentity returns an identity with the default name and role claim
// types.
func NewIdentity(authenticationType string, claims ...Claim) *Identity {
	id := &Identity{
		AuthenticationType: authenticationType,
		NameClaimType:      TypeName,
		RoleClaimType:      TypeRole,
	}
	id.AddClaims(claims...)
	return id
}

// IsAuthenticated reports whether the identity has an authentication type.
func (i *Identity) IsAuthenticated() bool {
	return i != nil && i.AuthenticationType != ""
}

// Name returns the value of the first name claim, or "".
func (i *Identity) Name() string {
	if c, ok := i.FindFirst(i.nameType()); ok {
		return c.Value
	}
	return ""
}

// Claims returns a copy of the claim list.
func (i *Identity) Claims() []Claim {
	if i == nil {
		return nil
	}
	out := make([]Claim, len(i.claims))
	for n, c := range i.claims {
		out[n] = c.clone()
	}
	return out
}

// Len returns the number of claims.
func (i *Identity) Len() int {
	if i == nil {
		return 0
	}
	return len(i.claims)
}

// AddClaim appends a claim.
func (i *Identity) AddClaim(c Claim) {
	i.claims = append(i.claims, c.clone())
}

// AddClaims appends claims in order.
func (i *Identity) AddClaims(cs ...Claim) {
	for _, c := range cs {
		i.AddClaim(c)
	}
}

// RemoveClaims removes every claim of the given type (case-insensitive)
// and returns how many were removed.
func (i *Identity) RemoveClaims(claimType string) int {
	kept := i.claims[:0]
	removed := 0
	for _, c := range i.claims {
		if strings.EqualFold(c.Type, claimType) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	i.claims = kept
	return removed
}

// FindFirst returns the first claim of the given type (case-insensitive).
func (i *Identity) FindFirst(claimType string) (Claim, bool) {
	if i == nil {
		return Claim{}, false
	}
	for _, c := range i.claims {
		if strings.EqualFold(c.Type, claimType) {
			return c.clone(), true
		}
	}
	return Claim{}, false
}

// FindAll returns every claim of the given type (case-insensitive).
func (i *Identity) FindAll(claimType string) []Claim {
	if i == nil {
		return nil
	}
	var out []Claim
	for _, c := range i.claims {
		if strings.EqualFold(c.Type, claimType) {
			out = append(out, c.clone())
		}
	}
	return out
}

// HasClaim reports whether the identity holds a claim with this type
// (case-insensitive) and exactly this value.
func (i *Identity) HasClaim(claimType, value string) bool {
	if i == nil {
		return false
	}
	for _, c := range i.claims {
		if c.Value == value && strings.EqualFold(c.Type, claimType) {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity holds the role.
func (i *Identity) HasRole(role string) bool {
	return i.HasClaim(i.roleType(), role)
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.claims = i.Claims()
	return &cp
}

func (i *Identity) nameType() string {
	if i == nil || i.NameClaimType == "" {
		return TypeName
	}
	return i.NameClaimType
}

func (i *Identity) roleType() string {
	if i == nil || i.RoleClaimType == "" {
		return TypeRole
	}
	return i.RoleClaimType
}

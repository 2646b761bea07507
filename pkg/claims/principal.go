package claims

// Principal is the subject of a request: one or more identities, for
// example a cookie identity plus an identity added by a claims
// transformation.
type Principal struct {
	identities []*Identity
}

// NewPrincipal returns a principal holding the given identities. Nil
// identities are dropped.
func NewPrincipal(identities ...*Identity) *Principal {
	p := &Principal{}
	for _, id := range identities {
		p.AddIdentity(id)
	}
	return p
}

// AddIdentity appends an identity.
func (p *Principal) AddIdentity(id *Identity) {
	if id != nil {
		p.identities = append(p.identities, id)
	}
}

// Identities returns the identities in order. The slice is a copy; the
// identities are shared.
func (p *Principal) Identities() []*Identity {
	if p == nil {
		return nil
	}
	return append([]*Identity(nil), p.identities...)
}

// Identity returns the primary identity: the first authenticated one, or
// the first one if none is authenticated, or nil.
func (p *Principal) Identity() *Identity {
	if p == nil || len(p.identities) == 0 {
		return nil
	}
	for _, id := range p.identities {
		if id.IsAuthenticated() {
			return id
		}
	}
	return p.identities[0]
}

// IsAuthenticated reports whether any identity is authenticated.
func (p *Principal) IsAuthenticated() bool {
	return p.Identity().IsAuthenticated()
}

// Name returns the primary identity's name.
func (p *Principal) Name() string {
	if id := p.Identity(); id != nil {
		return id.Name()
	}
	return ""
}

// Subject returns the first "sub" claim across identities, or "".
func (p *Principal) Subject() string {
	if c, ok := p.FindFirst(TypeSubject); ok {
		return c.Value
	}
	return ""
}

// FindFirst searches identities in order.
func (p *Principal) FindFirst(claimType string) (Claim, bool) {
	if p == nil {
		return Claim{}, false
	}
	for _, id := range p.identities {
		if c, ok := id.FindFirst(claimType); ok {
			return c, true
		}
	}
	return Claim{}, false
}

// FindAll collects matching claims from every identity.
func (p *Principal) FindAll(claimType string) []Claim {
	if p == nil {
		return nil
	}
	var out []Claim
	for _, id := range p.identities {
		out = append(out, id.FindAll(claimType)...)
	}
	return out
}

// HasClaim reports whether any identity holds the exact claim.
func (p *Principal) HasClaim(claimType, value string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.identities {
		if id.HasClaim(claimType, value) {
			return true
		}
	}
	return false
}

// IsInRole reports whether any identity holds the role.
func (p *Principal) IsInRole(role string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.identities {
		if id.HasRole(role) {
			return true
		}
	}
	return false
}

// Clone deep-copies the principal and its identities.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := &Principal{identities: make([]*Identity, len(p.identities))}
	for i, id := range p.identities {
		cp.identities[i] = id.Clone()
	}
	return cp
}

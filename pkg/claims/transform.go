package claims

import (
	"context"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Transformer rewrites a successfully authenticated principal before it
// reaches application code, for example to add permissions derived from
// roles. Transform must not mutate p; it returns the principal to use.
// It may run more than once for a request (a forwarding scheme
// authenticates twice), so it must be idempotent. Implementations must be
// safe for concurrent use.
type Transformer interface {
	Transform(ctx context.Context, p *Principal) (*Principal, error)
}

// TransformerFunc adapts a function to [Transformer].
type TransformerFunc func(ctx context.Context, p *Principal) (*Principal, error)

// Transform implements [Transformer].
func (f TransformerFunc) Transform(ctx context.Context, p *Principal) (*Principal, error) {
	return f(ctx, p)
}

// Chain runs transformers in order, feeding each the previous result.
func Chain(transformers ...Transformer) Transformer {
	return TransformerFunc(func(ctx context.Context, p *Principal) (*Principal, error) {
		var err error
		for _, t := range transformers {
			if p, err = t.Transform(ctx, p); err != nil {
				return nil, err
			}
		}
		return p, nil
	})
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

// Permission is a resource/action pair. Either part may be "*".
type Permission struct {
	Resource string
	Action   string
}

// ParsePermission parses "resource:action".
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok {
		return Permission{}, sserr.Newf(sserr.CodeValidationFormat,
			"claims: invalid permission %q: missing colon separator", s)
	}
	if resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, sserr.Newf(sserr.CodeValidationFormat,
			"claims: invalid permission %q: want resource:action", s)
	}
	return Permission{Resource: resource, Action: action}, nil
}

// String returns "resource:action".
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Match reports whether p grants action on resource.
func (p Permission) Match(resource, action string) bool {
	return (p.Resource == "*" || p.Resource == resource) &&
		(p.Action == "*" || p.Action == action)
}

// RolePermissionMap maps role names to granted permissions.
type RolePermissionMap map[string][]Permission

// DefaultRolePermissions returns the standard role mapping for the
// authentication administration surface:
//
//   - admin: everything
//   - operator: manage keys and sessions, read everything else
//   - viewer: read-only
func DefaultRolePermissions() RolePermissionMap {
	return RolePermissionMap{
		"admin": {{Resource: "*", Action: "*"}},
		"operator": {
			{Resource: "keys", Action: "*"},
			{Resource: "sessions", Action: "*"},
			{Resource: "*", Action: "read"},
		},
		"viewer": {{Resource: "*", Action: "read"}},
	}
}

// RolePermissionTransformer adds a [TypePermission] claim for every
// permission granted by the principal's roles and by space-separated
// "resource:action" tokens in its scope claim. Existing permission claims
// are not duplicated. The additions go to a clone of the primary identity.
type RolePermissionTransformer struct {
	// Roles maps role names to permissions. Nil uses
	// [DefaultRolePermissions].
	Roles RolePermissionMap

	// ScopeClaimType names the OAuth2 scope claim. Empty disables scope
	// parsing.
	ScopeClaimType string

	// Issuer is recorded on added claims.
	Issuer string
}

// Transform implements [Transformer].
func (t RolePermissionTransformer) Transform(_ context.Context, p *Principal) (*Principal, error) {
	if p == nil || p.Identity() == nil {
		return p, nil
	}
	roles := t.Roles
	if roles == nil {
		roles = DefaultRolePermissions()
	}

	out := p.Clone()
	primary := out.Identity()

	var granted []Permission
	for _, id := range out.Identities() {
		for _, role := range id.FindAll(id.roleType()) {
			granted = append(granted, roles[role.Value]...)
		}
	}
	if t.ScopeClaimType != "" {
		for _, scope := range out.FindAll(t.ScopeClaimType) {
			for _, token := range strings.Fields(scope.Value) {
				if perm, err := ParsePermission(token); err == nil {
					granted = append(granted, perm)
				}
			}
		}
	}

	for _, perm := range granted {
		value := perm.String()
		if out.HasClaim(TypePermission, value) {
			continue
		}
		primary.AddClaim(NewIssued(TypePermission, value, ValueTypeString, t.Issuer))
	}
	return out, nil
}

// Permissions parses every permission claim on the principal. Malformed
// values are skipped.
func (p *Principal) Permissions() []Permission {
	var out []Permission
	for _, c := range p.FindAll(TypePermission) {
		if perm, err := ParsePermission(c.Value); err == nil {
			out = append(out, perm)
		}
	}
	return out
}

// HasPermission reports whether any permission claim grants action on
// resource.
func (p *Principal) HasPermission(resource, action string) bool {
	for _, perm := range p.Permissions() {
		if perm.Match(resource, action) {
			return true
		}
	}
	return false
}

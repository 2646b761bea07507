package authn

import (
	"context"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// PolicyOptions selects the scheme each operation is forwarded to. The
// operation-specific target wins, then ForwardDefaultSelector, then
// ForwardDefault.
type PolicyOptions struct {
	DisplayName         string
	ForwardDefault      string
	ForwardAuthenticate string
	ForwardChallenge    string
	ForwardForbid       string
	ForwardSignIn       string
	ForwardSignOut      string

	// ForwardDefaultSelector picks a target per request. Returning ""
	// falls through to ForwardDefault.
	ForwardDefaultSelector func(ex *Exchange) string
}

// AddPolicyScheme registers a scheme that only forwards to other schemes,
// for example to pick bearer or cookie authentication by request shape.
func AddPolicyScheme(name string, opts PolicyOptions) func(*Builder) *Builder {
	return func(b *Builder) *Builder {
		return b.AddScheme(name, func(sb *SchemeBuilder) {
			sb.DisplayName = opts.DisplayName
			sb.Factory = func() Handler { return &PolicyHandler{opts: opts} }
		})
	}
}

// PolicyHandler forwards every operation to the scheme its options
// select. It implements every capability; the target decides whether the
// operation is actually supported.
type PolicyHandler struct {
	HandlerBase
	opts PolicyOptions
}

var (
	_ SignInHandler = (*PolicyHandler)(nil)
	_ Challenger    = (*PolicyHandler)(nil)
	_ Forbidder     = (*PolicyHandler)(nil)
)

// Authenticate implements [Handler].
func (h *PolicyHandler) Authenticate(ctx context.Context) (Result, error) {
	target, err := h.target(h.opts.ForwardAuthenticate)
	if err != nil {
		return Result{}, err
	}
	return h.Service().Authenticate(ctx, h.Exchange(), target)
}

// Challenge implements [Challenger].
func (h *PolicyHandler) Challenge(ctx context.Context, props *Properties) error {
	target, err := h.target(h.opts.ForwardChallenge)
	if err != nil {
		return err
	}
	return h.Service().Challenge(ctx, h.Exchange(), target, props)
}

// Forbid implements [Forbidder].
func (h *PolicyHandler) Forbid(ctx context.Context, props *Properties) error {
	target, err := h.target(h.opts.ForwardForbid)
	if err != nil {
		return err
	}
	return h.Service().Forbid(ctx, h.Exchange(), target, props)
}

// SignIn implements [SignInHandler].
func (h *PolicyHandler) SignIn(ctx context.Context, principal *claims.Principal, props *Properties) error {
	target, err := h.target(h.opts.ForwardSignIn)
	if err != nil {
		return err
	}
	return h.Service().SignIn(ctx, h.Exchange(), target, principal, props)
}

// SignOut implements [SignOutHandler].
func (h *PolicyHandler) SignOut(ctx context.Context, props *Properties) error {
	target, err := h.target(h.opts.ForwardSignOut)
	if err != nil {
		return err
	}
	return h.Service().SignOut(ctx, h.Exchange(), target, props)
}

func (h *PolicyHandler) target(specific string) (string, error) {
	target := specific
	if target == "" && h.opts.ForwardDefaultSelector != nil {
		target = h.opts.ForwardDefaultSelector(h.Exchange())
	}
	if target == "" {
		target = h.opts.ForwardDefault
	}
	if target == "" {
		return "", sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: policy scheme %q has no forward target for this operation", h.SchemeName())
	}
	if target == h.SchemeName() {
		return "", sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: policy scheme %q cannot forward to itself", h.SchemeName()).
			WithDetail("scheme", target)
	}
	return target, nil
}

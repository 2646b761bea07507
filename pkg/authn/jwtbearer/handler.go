package jwtbearer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// ItemAccessToken holds the raw token when [Options.SaveToken] is set.
const ItemAccessToken = ".Token.access_token"

// AddScheme registers a JWT bearer scheme. One validator, and so one set
// of key and token caches, is shared by every request of the scheme. It
// reads time from the builder's clock, so call [authn.Builder.WithClock]
// before applying this.
func AddScheme(name string, opts Options) func(*authn.Builder) *authn.Builder {
	return func(b *authn.Builder) *authn.Builder {
		if opts.TokenExtractor == nil {
			opts.TokenExtractor = authorizationHeader
		}
		if opts.ClaimActions == nil {
			opts.ClaimActions = DefaultClaimActions()
		}
		validator, err := NewValidator(opts, b.Clock().Now)
		if err != nil {
			return b.AddError(sserr.Wrapf(err, sserr.CodeInternalConfiguration, "jwtbearer: scheme %q", name))
		}
		resolved := validator.opts
		return b.AddScheme(name, func(sb *authn.SchemeBuilder) {
			sb.Factory = func() authn.Handler {
				return &Handler{opts: resolved, validator: validator}
			}
		})
	}
}

func authorizationHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Handler is the per-request JWT bearer handler. It authenticates and
// challenges but never signs in.
type Handler struct {
	authn.HandlerBase
	opts      Options
	validator *Validator

	result *authn.Result
}

var (
	_ authn.Challenger = (*Handler)(nil)
	_ authn.Forbidder  = (*Handler)(nil)
)

// Authenticate implements [authn.Handler].
func (h *Handler) Authenticate(ctx context.Context) (authn.Result, error) {
	if h.result != nil {
		return *h.result, nil
	}
	res := h.authenticate(ctx)
	h.result = &res
	return res, nil
}

func (h *Handler) authenticate(ctx context.Context) authn.Result {
	token := h.opts.TokenExtractor(h.Request())
	if token == "" {
		return authn.NoResult()
	}
	doc, err := h.validator.Validate(ctx, token)
	if err != nil {
		h.Logger().DebugContext(ctx, "jwtbearer: token rejected",
			"scheme", h.SchemeName(),
			"error", err,
		)
		return authn.Fail(err)
	}

	issuer := h.opts.Issuer
	if issuer == "" {
		issuer = h.SchemeName()
	}
	identity := claims.NewIdentity(h.SchemeName())
	h.opts.ClaimActions.Run(doc, identity, issuer)

	props := authn.NewProperties()
	mc := jwt.MapClaims(doc)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		props.SetExpiresUTC(exp.UTC())
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		props.SetIssuedUTC(iat.UTC())
	}
	if h.opts.SaveToken {
		props.SetItem(ItemAccessToken, token)
	}
	return authn.Success(authn.NewTicket(claims.NewPrincipal(identity), props, h.SchemeName()))
}

// Challenge implements [authn.Challenger]. When authentication failed
// the header carries an RFC 6750 error description.
func (h *Handler) Challenge(ctx context.Context, _ *authn.Properties) error {
	res, _ := h.Authenticate(ctx)
	value := "Bearer"
	if err := res.Failure(); err != nil {
		desc := "The token is invalid"
		if sserr.HasCode(err, sserr.CodeAuthenticationExpired) {
			desc = "The token expired"
		}
		value = fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, desc)
	}
	h.Response().Header().Set("WWW-Authenticate", value)
	h.Response().WriteHeader(http.StatusUnauthorized)
	return nil
}

// Forbid implements [authn.Forbidder].
func (h *Handler) Forbid(context.Context, *authn.Properties) error {
	h.Response().WriteHeader(http.StatusForbidden)
	return nil
}

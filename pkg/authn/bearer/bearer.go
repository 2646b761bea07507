// Package bearer issues opaque, protected bearer tokens: an access token
// carrying the whole ticket and a longer-lived refresh token, both
// produced by the service's data protection provider.
package bearer

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// DefaultScheme is the conventional scheme name.
const DefaultScheme = "BearerToken"

// Token purposes, appended to the scheme's protector chain.
const (
	PurposeAccessToken  = "BearerToken"
	PurposeRefreshToken = "RefreshToken"
)

// Options configures a bearer token scheme.
type Options struct {
	// Expiration is the access token lifetime when sign-in properties do
	// not set an expiry. Zero means one hour; negative values are kept.
	Expiration time.Duration

	// RefreshExpiration is the refresh token lifetime. Zero means 14
	// days.
	RefreshExpiration time.Duration

	// DataProtection protects tokens. Defaults to the builder's provider.
	DataProtection *protect.Provider

	// TokenFormat overrides the base format; token purposes are still
	// applied per call.
	TokenFormat *authn.SecureDataFormat[*authn.Ticket]

	// TokenExtractor reads the raw token from a request. The default
	// reads "Authorization: Bearer <token>".
	TokenExtractor func(r *http.Request) string
}

// DefaultOptions returns one hour access tokens and 14 day refresh tokens.
func DefaultOptions() Options {
	return Options{
		Expiration:        time.Hour,
		RefreshExpiration: 14 * 24 * time.Hour,
	}
}

// AccessTokenResponse is the JSON body written by sign-in and refresh.
type AccessTokenResponse struct {
	TokenType    string `json:"tokenType"`
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

// AddScheme registers a bearer token scheme.
func AddScheme(name string, opts Options) func(*authn.Builder) *authn.Builder {
	return func(b *authn.Builder) *authn.Builder {
		resolved, err := opts.resolve(name, b.DataProtection())
		if err != nil {
			return b.AddError(err)
		}
		return b.AddScheme(name, func(sb *authn.SchemeBuilder) {
			sb.Factory = func() authn.Handler { return &Handler{opts: resolved} }
		})
	}
}

func (o Options) resolve(scheme string, dp *protect.Provider) (Options, error) {
	defaults := DefaultOptions()
	if o.Expiration == 0 {
		o.Expiration = defaults.Expiration
	}
	if o.RefreshExpiration == 0 {
		o.RefreshExpiration = defaults.RefreshExpiration
	}
	if o.TokenExtractor == nil {
		o.TokenExtractor = AuthorizationHeader
	}
	if o.TokenFormat == nil {
		if o.DataProtection == nil {
			o.DataProtection = dp
		}
		if o.DataProtection == nil {
			return o, sserr.Newf(sserr.CodeInternalConfiguration,
				"bearer: scheme %q has no data protection provider", scheme)
		}
		o.TokenFormat = authn.NewTicketDataFormat(o.DataProtection.CreateProtector("authn.bearer", scheme))
	}
	return o, nil
}

// AuthorizationHeader extracts the token from "Authorization: Bearer".
func AuthorizationHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Handler is the per-request bearer token handler.
type Handler struct {
	authn.HandlerBase
	opts Options
}

var (
	_ authn.SignInHandler = (*Handler)(nil)
	_ authn.Challenger    = (*Handler)(nil)
	_ authn.Forbidder     = (*Handler)(nil)
)

// Lookup returns the bearer handler for scheme on ex.
func Lookup(ctx context.Context, svc *authn.Service, ex *authn.Exchange, scheme string) (*Handler, error) {
	h, err := svc.Handler(ctx, ex, scheme)
	if err != nil {
		return nil, err
	}
	bh, ok := h.(*Handler)
	if !ok {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "bearer: scheme %q is not a bearer token scheme", scheme)
	}
	return bh, nil
}

// Authenticate implements [authn.Handler].
func (h *Handler) Authenticate(ctx context.Context) (authn.Result, error) {
	token := h.opts.TokenExtractor(h.Request())
	if token == "" {
		return authn.NoResult(), nil
	}
	ticket, err := h.unprotect(ctx, token, PurposeAccessToken)
	if err != nil {
		return authn.Fail(err), nil
	}
	return authn.Success(ticket), nil
}

// SignIn implements [authn.SignInHandler] by writing an
// [AccessTokenResponse] as the response body.
func (h *Handler) SignIn(ctx context.Context, principal *claims.Principal, props *authn.Properties) error {
	resp, err := h.IssueTokens(ctx, principal, props)
	if err != nil {
		return err
	}
	h.Logger().InfoContext(ctx, "bearer: tokens issued",
		"subject", principal.Subject(),
		"expires_in", resp.ExpiresIn,
	)
	return writeJSON(h.Response(), http.StatusOK, resp)
}

// SignOut implements [authn.SignOutHandler]. Bearer tokens live with the
// client, so there is nothing to clear.
func (h *Handler) SignOut(context.Context, *authn.Properties) error {
	return nil
}

// IssueTokens protects an access token and a refresh token for principal.
// The access token expires at props' ExpiresUTC when set, else at now
// plus Expiration.
func (h *Handler) IssueTokens(ctx context.Context, principal *claims.Principal, props *authn.Properties) (AccessTokenResponse, error) {
	now := h.Clock().Now()
	props = props.Clone()
	props.SetIssuedUTC(now)
	expires, ok := props.ExpiresUTC()
	if !ok {
		expires = now.Add(h.opts.Expiration)
		props.SetExpiresUTC(expires)
	}
	access, err := h.opts.TokenFormat.Protect(ctx, authn.NewTicket(principal, props, h.SchemeName()), PurposeAccessToken)
	if err != nil {
		return AccessTokenResponse{}, err
	}

	refreshProps := authn.NewProperties()
	refreshProps.SetIssuedUTC(now)
	refreshProps.SetExpiresUTC(now.Add(h.opts.RefreshExpiration))
	refresh, err := h.opts.TokenFormat.Protect(ctx, authn.NewTicket(principal, refreshProps, h.SchemeName()), PurposeRefreshToken)
	if err != nil {
		return AccessTokenResponse{}, err
	}

	return AccessTokenResponse{
		TokenType:    "Bearer",
		AccessToken:  access,
		ExpiresIn:    int64(expires.Sub(now).Seconds()),
		RefreshToken: refresh,
	}, nil
}

// Refresh validates a refresh token and issues a new token pair for the
// same principal.
func (h *Handler) Refresh(ctx context.Context, refreshToken string) (AccessTokenResponse, error) {
	ticket, err := h.unprotect(ctx, refreshToken, PurposeRefreshToken)
	if err != nil {
		return AccessTokenResponse{}, err
	}
	return h.IssueTokens(ctx, ticket.Principal, nil)
}

func (h *Handler) unprotect(ctx context.Context, token, purpose string) (*authn.Ticket, error) {
	ticket, ok := h.opts.TokenFormat.Unprotect(ctx, token, purpose)
	if !ok {
		return nil, sserr.TicketInvalid("bearer: unprotect token failed")
	}
	if ticket.Expired(h.Clock().Now()) {
		return nil, sserr.TicketExpired("bearer: token expired")
	}
	ticket.Scheme = h.SchemeName()
	return ticket, nil
}

// Challenge implements [authn.Challenger].
func (h *Handler) Challenge(context.Context, *authn.Properties) error {
	h.Response().Header().Set("WWW-Authenticate", "Bearer")
	h.Response().WriteHeader(http.StatusUnauthorized)
	return nil
}

// Forbid implements [authn.Forbidder].
func (h *Handler) Forbid(context.Context, *authn.Properties) error {
	h.Response().WriteHeader(http.StatusForbidden)
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshEndpoint serves POST {"refreshToken": "..."} with a new
// [AccessTokenResponse], or 401 when the refresh token is invalid or
// expired.
func RefreshEndpoint(svc *authn.Service, scheme string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			http.Error(w, "refreshToken is required", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		h, err := Lookup(ctx, svc, authn.NewExchange(w, r), scheme)
		if err != nil {
			svc.Logger().ErrorContext(ctx, "bearer: refresh endpoint misconfigured",
				"scheme", scheme,
				"error", err,
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		resp, err := h.Refresh(ctx, req.RefreshToken)
		if err != nil {
			if sserr.IsAuthentication(err) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			h.Logger().ErrorContext(ctx, "bearer: refresh failed",
				"error", err,
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		_ = writeJSON(w, http.StatusOK, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

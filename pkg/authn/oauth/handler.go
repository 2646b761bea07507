package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/authn/remote"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Items carried in the protected state across the round-trip.
const (
	itemCodeVerifier = "code_verifier"
	itemNonce        = "nonce"
)

// Token items stored in the ticket when Remote.SaveTokens is set.
const (
	ItemAccessToken  = ".Token.access_token"
	ItemRefreshToken = ".Token.refresh_token"
	ItemTokenType    = ".Token.token_type"
	ItemExpiresAt    = ".Token.expires_at"
	ItemIDToken      = ".Token.id_token"
)

// maxUserInfoSize bounds the user-info response.
const maxUserInfoSize = 1 << 20

// Handler is the per-request OAuth handler.
type Handler struct {
	remote.Base
	opts Options
}

var _ remote.Flow = (*Handler)(nil)

// Initialize implements [authn.Handler].
func (h *Handler) Initialize(ctx context.Context, hc authn.HandlerContext) error {
	return h.InitializeRemote(ctx, hc, &h.opts.Remote, h)
}

func (h *Handler) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.opts.ClientID,
		ClientSecret: h.opts.ClientSecret.Value(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   h.opts.AuthorizationEndpoint,
			TokenURL:  h.opts.TokenEndpoint,
			AuthStyle: h.opts.AuthStyle,
		},
		RedirectURL: h.BuildRedirectURI(h.opts.Remote.CallbackPath),
		Scopes:      h.opts.Scopes,
	}
}

// BuildChallengeURL implements [remote.Flow].
func (h *Handler) BuildChallengeURL(ctx context.Context, props *authn.Properties) (string, error) {
	var params []oauth2.AuthCodeOption
	if h.opts.UsePKCE {
		verifier := oauth2.GenerateVerifier()
		props.SetItem(itemCodeVerifier, verifier)
		params = append(params, oauth2.S256ChallengeOption(verifier))
	}
	if h.opts.Verifier != nil {
		nonce := uuid.NewString()
		props.SetItem(itemNonce, nonce)
		params = append(params, oauth2.SetAuthURLParam("nonce", nonce))
	}
	if hook := h.opts.Events.RedirectToProvider; hook != nil {
		params = append(params, hook(ctx, props)...)
	}
	state, err := h.ProtectState(ctx, props)
	if err != nil {
		return "", err
	}
	return h.config().AuthCodeURL(state, params...), nil
}

// HandleRemoteAuthenticate implements [remote.Flow].
func (h *Handler) HandleRemoteAuthenticate(ctx context.Context) (remote.Outcome, error) {
	q := h.Request().URL.Query()
	props, err := h.RecoverState(ctx, q.Get("state"))
	if err != nil {
		return remote.Failed(err, props), nil
	}

	if e := q.Get("error"); e != "" {
		if e == "access_denied" {
			return remote.Denied(props), nil
		}
		return remote.Failed(sserr.RemoteFailure(fmt.Sprintf("oauth: provider returned %q: %s", e, q.Get("error_description"))), props), nil
	}
	code := q.Get("code")
	if code == "" {
		return remote.Failed(sserr.RemoteFailure("oauth: code was not found"), props), nil
	}

	verifier, _ := props.Item(itemCodeVerifier)
	nonce, _ := props.Item(itemNonce)
	props.SetItem(itemCodeVerifier, "")
	props.SetItem(itemNonce, "")

	ctx = clientContext(ctx, h.opts.HTTPClient)
	cfg := h.config()
	var exchangeOpts []oauth2.AuthCodeOption
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}
	token, err := cfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		h.Logger().WarnContext(ctx, "oauth: code exchange failed",
			"scheme", h.SchemeName(),
			"provider_error", providerError(err),
		)
		return remote.Failed(sserr.Wrap(err, sserr.CodeAuthenticationRemote, "oauth: code exchange failed"), props), nil
	}

	user := make(map[string]any)
	if h.opts.Verifier != nil {
		idClaims, err := h.verifyIDToken(ctx, token, nonce)
		if err != nil {
			return remote.Failed(err, props), nil
		}
		for k, v := range idClaims {
			user[k] = v
		}
	}
	if h.opts.UserInfoEndpoint != "" {
		info, err := h.userInfo(ctx, cfg, token)
		if err != nil {
			return remote.Failed(err, props), nil
		}
		if h.opts.Verifier != nil && !sameSubject(user, info) {
			return remote.Failed(sserr.TicketInvalid("oauth: user-info sub does not match id_token sub"), props), nil
		}
		for k, v := range info {
			user[k] = v
		}
	}

	identity := claims.NewIdentity(h.SchemeName())
	h.opts.ClaimActions.Run(user, identity, h.opts.Remote.ClaimsIssuer)

	if h.opts.Remote.SaveTokens {
		saveTokens(props, token)
	}
	if hook := h.opts.Events.CreatingTicket; hook != nil {
		err := hook(ctx, &CreatingTicketContext{
			Exchange:   h.Exchange(),
			Identity:   identity,
			Properties: props,
			Token:      token,
			User:       user,
		})
		if err != nil {
			return remote.Failed(err, props), nil
		}
	}
	if identity.Len() == 0 {
		return remote.Failed(sserr.RemoteFailure("oauth: the provider returned no claims"), props), nil
	}
	return remote.Succeeded(authn.NewTicket(claims.NewPrincipal(identity), props, h.SchemeName())), nil
}

func (h *Handler) verifyIDToken(ctx context.Context, token *oauth2.Token, nonce string) (map[string]any, error) {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return nil, sserr.RemoteFailure("oauth: the token response has no id_token")
	}
	idToken, err := h.opts.Verifier.Verify(ctx, raw)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "oauth: id_token verification failed")
	}
	if nonce == "" || idToken.Nonce != nonce {
		return nil, sserr.TicketInvalid("oauth: id_token nonce mismatch")
	}
	var doc map[string]any
	if err := idToken.Claims(&doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "oauth: decode id_token claims")
	}
	return doc, nil
}

func (h *Handler) userInfo(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.opts.UserInfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationRemote, "oauth: user-info request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, sserr.RemoteFailure(fmt.Sprintf("oauth: user-info returned status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoSize))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationRemote, "oauth: read user-info")
	}
	doc, err := claims.ParseDocument(body)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationRemote, "oauth: decode user-info")
	}
	return doc, nil
}

func saveTokens(props *authn.Properties, token *oauth2.Token) {
	props.SetItem(ItemAccessToken, token.AccessToken)
	props.SetItem(ItemRefreshToken, token.RefreshToken)
	props.SetItem(ItemTokenType, token.TokenType)
	if !token.Expiry.IsZero() {
		props.SetItem(ItemExpiresAt, token.Expiry.UTC().Format(time.RFC3339))
	}
	if raw, ok := token.Extra("id_token").(string); ok {
		props.SetItem(ItemIDToken, raw)
	}
}

// sameSubject reports whether the user-info document names the subject
// of the verified id_token.
func sameSubject(idClaims, info map[string]any) bool {
	want, _ := idClaims["sub"].(string)
	got, _ := info["sub"].(string)
	return want != "" && got == want
}

// providerError returns the OAuth error code of a failed token request.
func providerError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}

// Package oauth implements the OAuth 2.0 authorization code flow as a
// remote scheme, with optional OpenID Connect ID token validation. The
// provider's tokens are turned into claims by [claims.Actions] and the
// resulting ticket is handed to the sign-in scheme.
package oauth

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/authn/remote"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	"github.com/StricklySoft/stricklysoft-authn/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// DefaultScheme is the conventional name for an OpenID Connect scheme.
const DefaultScheme = "OpenIdConnect"

// CreatingTicketContext is passed to [Events.CreatingTicket] after the
// provider's claims have been mapped.
type CreatingTicketContext struct {
	Exchange   *authn.Exchange
	Identity   *claims.Identity
	Properties *authn.Properties
	Token      *oauth2.Token

	// User is the merged ID token and user-info document.
	User map[string]any
}

// Events are optional hooks into the flow.
type Events struct {
	// CreatingTicket may add claims or properties. An error fails the
	// callback.
	CreatingTicket func(ctx context.Context, c *CreatingTicketContext) error

	// RedirectToProvider may add parameters to the authorization request.
	RedirectToProvider func(ctx context.Context, props *authn.Properties) []oauth2.AuthCodeOption
}

// Options configures an OAuth scheme.
type Options struct {
	Remote remote.Options

	ClientID     string
	ClientSecret config.Secret

	AuthorizationEndpoint string
	TokenEndpoint         string

	// UserInfoEndpoint, when set, is called with the access token and its
	// document is mapped after the ID token.
	UserInfoEndpoint string

	Scopes []string

	// UsePKCE sends an S256 code challenge. On by default.
	UsePKCE bool

	// AuthStyle selects how client credentials reach the token endpoint.
	// The zero value auto-detects.
	AuthStyle oauth2.AuthStyle

	// ClaimActions maps the provider documents. Defaults to
	// [DefaultClaimActions].
	ClaimActions *claims.Actions

	// HTTPClient is used for token, user-info and key requests.
	HTTPClient *http.Client

	// Provider enables OpenID Connect: ID tokens are required, verified
	// and checked against the nonce. Set by [DiscoverOIDC].
	Provider *oidc.Provider

	// Verifier overrides the verifier built from Provider.
	Verifier *oidc.IDTokenVerifier

	Events Events
}

// DefaultOptions returns the remote defaults with PKCE enabled.
func DefaultOptions() Options {
	return Options{
		Remote:  remote.DefaultOptions(),
		UsePKCE: true,
	}
}

// Settings is the configuration-loadable part of an OpenID Connect
// scheme.
type Settings struct {
	Issuer           string        `json:"issuer" yaml:"issuer" env:"OIDC_ISSUER"`
	ClientID         string        `json:"client_id" yaml:"client_id" env:"OIDC_CLIENT_ID"`
	ClientSecret     config.Secret `json:"client_secret" yaml:"client_secret" env:"OIDC_CLIENT_SECRET"`
	CallbackPath     string        `json:"callback_path" yaml:"callback_path" env:"OIDC_CALLBACK_PATH" envDefault:"/signin-oidc"`
	AccessDeniedPath string        `json:"access_denied_path" yaml:"access_denied_path" env:"OIDC_ACCESS_DENIED_PATH"`
	Scopes           []string      `json:"scopes" yaml:"scopes" env:"OIDC_SCOPES" envSeparator:","`
	SaveTokens       bool          `json:"save_tokens" yaml:"save_tokens" env:"OIDC_SAVE_TOKENS"`
	RemoteTimeout    time.Duration `json:"remote_timeout" yaml:"remote_timeout" env:"OIDC_REMOTE_TIMEOUT" envDefault:"15m"`
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.Issuer == "" {
		return sserr.New(sserr.CodeValidationRequired, "oauth: issuer is required")
	}
	if s.ClientID == "" {
		return sserr.New(sserr.CodeValidationRequired, "oauth: client_id is required")
	}
	if s.CallbackPath == "" || s.CallbackPath[0] != '/' {
		return sserr.New(sserr.CodeValidationFormat, "oauth: callback_path must start with '/'")
	}
	if s.RemoteTimeout < 0 {
		return sserr.New(sserr.CodeValidation, "oauth: remote_timeout must be non-negative")
	}
	return nil
}

// Options returns scheme options built from the settings. Endpoints are
// filled in by [DiscoverOIDC].
func (s Settings) Options() Options {
	opts := DefaultOptions()
	opts.ClientID = s.ClientID
	opts.ClientSecret = s.ClientSecret
	opts.Scopes = append([]string(nil), s.Scopes...)
	opts.Remote.CallbackPath = s.CallbackPath
	opts.Remote.AccessDeniedPath = s.AccessDeniedPath
	opts.Remote.SaveTokens = s.SaveTokens
	if s.RemoteTimeout > 0 {
		opts.Remote.RemoteTimeout = s.RemoteTimeout
	}
	return opts
}

// DefaultClaimActions maps every provider claim except protocol claims
// and fans a "roles" array out into role claims.
func DefaultClaimActions() *claims.Actions {
	var a claims.Actions
	a.MapAll()
	a.MapJSONKey(claims.TypeRole, "roles")
	for _, t := range []string{"nonce", "aud", "azp", "exp", "iat", "nbf", "iss", "at_hash", "c_hash", "auth_time", "roles"} {
		a.DeleteClaim(t)
	}
	return &a
}

// DiscoverOIDC reads issuer's OpenID configuration and returns opts with
// the endpoints, the provider and the "openid" scope filled in. The
// provider keeps a detached copy of ctx for later key fetches.
func DiscoverOIDC(ctx context.Context, issuer string, opts Options) (Options, error) {
	ctx = clientContext(context.WithoutCancel(ctx), opts.HTTPClient)
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return opts, sserr.Wrapf(err, sserr.CodeUnavailableDependency, "oauth: discovery for %s failed", issuer)
	}
	endpoint := p.Endpoint()
	opts.AuthorizationEndpoint = endpoint.AuthURL
	opts.TokenEndpoint = endpoint.TokenURL
	opts.UserInfoEndpoint = p.UserInfoEndpoint()
	opts.Provider = p
	if !slices.Contains(opts.Scopes, oidc.ScopeOpenID) {
		opts.Scopes = append([]string{oidc.ScopeOpenID}, opts.Scopes...)
	}
	return opts, nil
}

// AddScheme registers an OAuth scheme. The ID token verifier reads time
// from the builder's clock, so call [authn.Builder.WithClock] before
// applying this.
func AddScheme(name string, opts Options) func(*authn.Builder) *authn.Builder {
	return func(b *authn.Builder) *authn.Builder {
		if opts.ClientID == "" {
			return b.AddError(sserr.Newf(sserr.CodeInternalConfiguration, "oauth: scheme %q needs a ClientID", name))
		}
		if opts.AuthorizationEndpoint == "" || opts.TokenEndpoint == "" {
			return b.AddError(sserr.Newf(sserr.CodeInternalConfiguration,
				"oauth: scheme %q needs authorization and token endpoints", name))
		}
		if opts.ClaimActions == nil {
			opts.ClaimActions = DefaultClaimActions()
		}
		if opts.Verifier == nil && opts.Provider != nil {
			opts.Verifier = opts.Provider.Verifier(&oidc.Config{
				ClientID: opts.ClientID,
				Now:      b.Clock().Now,
			})
		}
		resolved := opts
		return b.Apply(remote.AddScheme(name, opts.Remote, func(ro remote.Options) authn.Handler {
			o := resolved
			o.Remote = ro
			return &Handler{opts: o}
		}))
	}
}

func clientContext(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

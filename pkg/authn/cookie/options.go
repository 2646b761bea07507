// Package cookie implements cookie authentication: a protected ticket in a
// client cookie, optionally reduced to a session key with the ticket held
// server-side in a [TicketStore].
package cookie

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// DefaultScheme is the conventional scheme name.
const DefaultScheme = "Cookies"

// SecurePolicy decides the cookie Secure attribute.
type SecurePolicy int

const (
	// SecureSameAsRequest marks the cookie Secure on HTTPS requests.
	SecureSameAsRequest SecurePolicy = iota
	// SecureAlways always marks the cookie Secure.
	SecureAlways
	// SecureNone never marks the cookie Secure.
	SecureNone
)

// SameSiteMode is an [http.SameSite] that loads from configuration text
// ("lax", "strict", "none", "default").
type SameSiteMode http.SameSite

// UnmarshalText implements [encoding.TextUnmarshaler].
func (m *SameSiteMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "lax":
		*m = SameSiteMode(http.SameSiteLaxMode)
	case "strict":
		*m = SameSiteMode(http.SameSiteStrictMode)
	case "none":
		*m = SameSiteMode(http.SameSiteNoneMode)
	case "default":
		*m = SameSiteMode(http.SameSiteDefaultMode)
	default:
		return sserr.Newf(sserr.CodeValidationFormat, "cookie: unknown SameSite mode %q", text)
	}
	return nil
}

// Settings is the configuration-loadable part of [Options].
type Settings struct {
	CookieName         string        `json:"cookie_name" yaml:"cookie_name" env:"COOKIE_NAME"`
	CookieDomain       string        `json:"cookie_domain" yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	CookiePath         string        `json:"cookie_path" yaml:"cookie_path" env:"COOKIE_PATH" envDefault:"/"`
	SameSite           SameSiteMode  `json:"same_site" yaml:"same_site" env:"COOKIE_SAME_SITE" envDefault:"lax"`
	AlwaysSecure       bool          `json:"always_secure" yaml:"always_secure" env:"COOKIE_ALWAYS_SECURE"`
	ExpireTimeSpan     time.Duration `json:"expire_time_span" yaml:"expire_time_span" env:"COOKIE_EXPIRE_TIME_SPAN" envDefault:"336h"`
	SlidingExpiration  bool          `json:"sliding_expiration" yaml:"sliding_expiration" env:"COOKIE_SLIDING_EXPIRATION" envDefault:"true"`
	LoginPath          string        `json:"login_path" yaml:"login_path" env:"COOKIE_LOGIN_PATH" envDefault:"/account/login"`
	LogoutPath         string        `json:"logout_path" yaml:"logout_path" env:"COOKIE_LOGOUT_PATH" envDefault:"/account/logout"`
	AccessDeniedPath   string        `json:"access_denied_path" yaml:"access_denied_path" env:"COOKIE_ACCESS_DENIED_PATH" envDefault:"/account/access-denied"`
	ReturnURLParameter string        `json:"return_url_parameter" yaml:"return_url_parameter" env:"COOKIE_RETURN_URL_PARAMETER" envDefault:"ReturnUrl"`
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.ExpireTimeSpan <= 0 {
		return sserr.New(sserr.CodeValidation, "cookie: expire_time_span must be positive")
	}
	for name, path := range map[string]string{
		"login_path":         s.LoginPath,
		"logout_path":        s.LogoutPath,
		"access_denied_path": s.AccessDeniedPath,
	} {
		if path != "" && !strings.HasPrefix(path, "/") {
			return sserr.Newf(sserr.CodeValidation, "cookie: %s must start with '/'", name)
		}
	}
	return nil
}

// Options returns handler options built from the settings.
func (s Settings) Options() Options {
	opts := DefaultOptions()
	opts.CookieName = s.CookieName
	opts.CookieDomain = s.CookieDomain
	if s.CookiePath != "" {
		opts.CookiePath = s.CookiePath
	}
	opts.SameSite = http.SameSite(s.SameSite)
	if s.AlwaysSecure {
		opts.SecurePolicy = SecureAlways
	}
	if s.ExpireTimeSpan > 0 {
		opts.ExpireTimeSpan = s.ExpireTimeSpan
	}
	opts.SlidingExpiration = s.SlidingExpiration
	opts.LoginPath = s.LoginPath
	opts.LogoutPath = s.LogoutPath
	opts.AccessDeniedPath = s.AccessDeniedPath
	if s.ReturnURLParameter != "" {
		opts.ReturnURLParameter = s.ReturnURLParameter
	}
	return opts
}

// ValidatePrincipalContext is passed to [Events.ValidatePrincipal].
type ValidatePrincipalContext struct {
	Exchange   *authn.Exchange
	Principal  *claims.Principal
	Properties *authn.Properties

	// ShouldRenew re-issues the cookie at the end of validation.
	ShouldRenew bool

	rejected bool
}

// RejectPrincipal fails authentication and deletes the cookie.
func (c *ValidatePrincipalContext) RejectPrincipal() {
	c.rejected = true
}

// ReplacePrincipal swaps the authenticated principal.
func (c *ValidatePrincipalContext) ReplacePrincipal(p *claims.Principal) {
	c.Principal = p
}

// Events lets applications hook the cookie lifecycle. Nil hooks are
// skipped.
type Events struct {
	// ValidatePrincipal runs after the cookie decrypts and has not
	// expired, for example to check a security stamp.
	ValidatePrincipal func(ctx context.Context, vc *ValidatePrincipalContext) error

	// SigningIn runs before the cookie is written and may adjust the
	// properties.
	SigningIn func(ctx context.Context, principal *claims.Principal, props *authn.Properties) error

	// SigningOut runs before the cookie is deleted.
	SigningOut func(ctx context.Context, props *authn.Properties) error
}

// Options configures a cookie scheme.
type Options struct {
	// CookieName defaults to ".authn." + scheme.
	CookieName   string
	CookieDomain string
	CookiePath   string
	SameSite     http.SameSite
	SecurePolicy SecurePolicy

	// ExpireTimeSpan is the ticket lifetime when sign-in properties do
	// not set one.
	ExpireTimeSpan time.Duration

	// SlidingExpiration re-issues the cookie once more than half its
	// lifetime has elapsed.
	SlidingExpiration bool

	LoginPath          string
	LogoutPath         string
	AccessDeniedPath   string
	ReturnURLParameter string

	// ClaimsIssuer is recorded on the ticket; defaults to the scheme.
	ClaimsIssuer string

	// DataProtection protects the cookie. Defaults to the builder's
	// provider.
	DataProtection *protect.Provider

	// TicketFormat overrides the protection format entirely.
	TicketFormat *authn.SecureDataFormat[*authn.Ticket]

	// SessionStore keeps tickets server-side; the cookie then holds
	// only a session key.
	SessionStore TicketStore

	Events Events
}

// DefaultOptions returns 14 day sliding cookies with the conventional
// account paths.
func DefaultOptions() Options {
	return Options{
		CookiePath:         "/",
		SameSite:           http.SameSiteLaxMode,
		ExpireTimeSpan:     14 * 24 * time.Hour,
		SlidingExpiration:  true,
		LoginPath:          "/account/login",
		LogoutPath:         "/account/logout",
		AccessDeniedPath:   "/account/access-denied",
		ReturnURLParameter: "ReturnUrl",
	}
}

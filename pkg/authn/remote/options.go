// Package remote is the shared machinery of redirect-based sign-in
// schemes (OAuth 2.0, OpenID Connect): the challenge redirect with
// protected state, the correlation cookie, the callback endpoint, and the
// hand-off of the remote identity to a local sign-in scheme.
//
// A remote scheme never signs in by itself. The ticket it receives is
// signed in through the effective sign-in scheme, which is
// Options.SignInScheme when set and otherwise the service's default
// sign-in scheme. That name is resolved on every challenge and callback,
// and an effective sign-in scheme equal to the remote scheme is a
// configuration error.
package remote

import (
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// Options configures the remote part of a scheme.
type Options struct {
	// CallbackPath is the local path the provider redirects back to.
	// Required.
	CallbackPath string

	// SignInScheme receives the remote identity. Empty uses the default
	// sign-in scheme.
	SignInScheme string

	// AccessDeniedPath is where a user who declined consent is sent.
	// Empty turns access_denied into a remote failure.
	AccessDeniedPath   string
	ReturnURLParameter string

	// RemoteTimeout bounds the round-trip from challenge to callback.
	RemoteTimeout time.Duration

	// CorrelationCookiePrefix names correlation cookies.
	CorrelationCookiePrefix string

	// SaveTokens keeps provider tokens in the sign-in properties.
	SaveTokens bool

	// ClaimsIssuer is recorded on mapped claims; defaults to the scheme.
	ClaimsIssuer string

	// DataProtection protects the state parameter. Defaults to the
	// builder's provider.
	DataProtection *protect.Provider

	// StateFormat overrides state protection entirely.
	StateFormat *authn.SecureDataFormat[*authn.Properties]
}

// DefaultOptions returns a 15 minute remote timeout.
func DefaultOptions() Options {
	return Options{
		ReturnURLParameter:      "ReturnUrl",
		RemoteTimeout:           15 * time.Minute,
		CorrelationCookiePrefix: ".authn.correlation.",
	}
}

// Resolve fills defaults for scheme and builds the state format.
func (o Options) Resolve(scheme string, dp *protect.Provider) (Options, error) {
	defaults := DefaultOptions()
	if o.CallbackPath == "" || o.CallbackPath[0] != '/' {
		return o, sserr.Newf(sserr.CodeInternalConfiguration,
			"remote: scheme %q needs a CallbackPath starting with '/'", scheme)
	}
	if o.ReturnURLParameter == "" {
		o.ReturnURLParameter = defaults.ReturnURLParameter
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = defaults.RemoteTimeout
	}
	if o.CorrelationCookiePrefix == "" {
		o.CorrelationCookiePrefix = defaults.CorrelationCookiePrefix
	}
	if o.ClaimsIssuer == "" {
		o.ClaimsIssuer = scheme
	}
	if o.StateFormat == nil {
		if o.DataProtection == nil {
			o.DataProtection = dp
		}
		if o.DataProtection == nil {
			return o, sserr.Newf(sserr.CodeInternalConfiguration,
				"remote: scheme %q has no data protection provider", scheme)
		}
		o.StateFormat = authn.NewPropertiesDataFormat(o.DataProtection.CreateProtector("authn.remote", scheme, "state"))
	}
	return o, nil
}

// AddScheme registers a remote scheme. newHandler receives the resolved
// options and returns a handler embedding [Base].
func AddScheme(name string, opts Options, newHandler func(Options) authn.Handler) func(*authn.Builder) *authn.Builder {
	return func(b *authn.Builder) *authn.Builder {
		resolved, err := opts.Resolve(name, b.DataProtection())
		if err != nil {
			return b.AddError(err)
		}
		return b.AddScheme(name, func(sb *authn.SchemeBuilder) {
			sb.Factory = func() authn.Handler { return newHandler(resolved) }
		})
	}
}

// Package jwtbearer authenticates requests carrying a JWT bearer token
// issued by an external authority. Tokens are verified with a shared HMAC
// key or with public keys from a JWKS document, located directly or by
// OpenID Connect discovery, and their claims become the identity.
package jwtbearer

import (
	"net/http"
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	"github.com/StricklySoft/stricklysoft-authn/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// DefaultScheme is the conventional scheme name.
const DefaultScheme = "Bearer"

// HTTPClient fetches discovery and JWKS documents. [http.Client]
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Settings is the configuration-loadable part of [Options].
type Settings struct {
	// Authority is the issuer URL used for OpenID Connect discovery.
	Authority string `json:"authority" yaml:"authority" env:"JWT_AUTHORITY"`

	// JWKSURL skips discovery and reads keys from this URL.
	JWKSURL string `json:"jwks_url" yaml:"jwks_url" env:"JWT_JWKS_URL"`

	// SigningKey verifies HS256 tokens. At least 32 bytes.
	SigningKey config.Secret `json:"signing_key" yaml:"signing_key" env:"JWT_SIGNING_KEY"`

	// Issuer is the required "iss"; defaults to Authority.
	Issuer string `json:"issuer" yaml:"issuer" env:"JWT_ISSUER"`

	// Audience is the required "aud"; empty skips the check.
	Audience string `json:"audience" yaml:"audience" env:"JWT_AUDIENCE"`

	ClockSkew         time.Duration `json:"clock_skew" yaml:"clock_skew" env:"JWT_CLOCK_SKEW" envDefault:"30s"`
	JWKSCacheTTL      time.Duration `json:"jwks_cache_ttl" yaml:"jwks_cache_ttl" env:"JWT_JWKS_CACHE_TTL" envDefault:"1h"`
	TokenCacheTTL     time.Duration `json:"token_cache_ttl" yaml:"token_cache_ttl" env:"JWT_TOKEN_CACHE_TTL" envDefault:"5m"`
	TokenCacheMaxSize int           `json:"token_cache_max_size" yaml:"token_cache_max_size" env:"JWT_TOKEN_CACHE_MAX_SIZE" envDefault:"10000"`
	SaveToken         bool          `json:"save_token" yaml:"save_token" env:"JWT_SAVE_TOKEN"`
}

// Validate checks that exactly one key source is configured and that the
// durations are sane.
func (s *Settings) Validate() error {
	sources := 0
	for _, set := range []bool{s.Authority != "", s.JWKSURL != "", s.SigningKey.IsSet()} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return sserr.New(sserr.CodeValidation, "jwtbearer: configure exactly one of authority, jwks_url or signing_key")
	}
	if s.SigningKey.IsSet() && len(s.SigningKey.Value()) < 32 {
		return sserr.New(sserr.CodeValidation, "jwtbearer: signing key must be at least 32 bytes")
	}
	if s.ClockSkew < 0 || s.JWKSCacheTTL < 0 || s.TokenCacheTTL < 0 {
		return sserr.New(sserr.CodeValidation, "jwtbearer: durations must be non-negative")
	}
	if s.TokenCacheMaxSize < 0 {
		return sserr.New(sserr.CodeValidation, "jwtbearer: token cache max size must be non-negative")
	}
	return nil
}

// Options returns handler options built from the settings.
func (s Settings) Options() Options {
	opts := DefaultOptions()
	opts.Authority = s.Authority
	opts.JWKSURL = s.JWKSURL
	opts.SigningKey = s.SigningKey
	opts.Issuer = s.Issuer
	opts.Audience = s.Audience
	opts.ClockSkew = s.ClockSkew
	if s.JWKSCacheTTL > 0 {
		opts.JWKSCacheTTL = s.JWKSCacheTTL
	}
	opts.TokenCacheTTL = s.TokenCacheTTL
	if s.TokenCacheMaxSize > 0 {
		opts.TokenCacheMaxSize = s.TokenCacheMaxSize
	}
	opts.SaveToken = s.SaveToken
	return opts
}

// Options configures a JWT bearer scheme.
type Options struct {
	Authority  string
	JWKSURL    string
	SigningKey config.Secret
	Issuer     string
	Audience   string

	// ValidMethods restricts signing algorithms. Defaults to HS256 for a
	// signing key and RS256/ES256 otherwise.
	ValidMethods []string

	ClockSkew     time.Duration
	JWKSCacheTTL  time.Duration
	TokenCacheTTL time.Duration

	// TokenCacheMaxSize bounds the validated-token cache.
	TokenCacheMaxSize int

	// SaveToken keeps the raw token in the ticket properties.
	SaveToken bool

	// ClaimActions maps token claims into the identity. Defaults to
	// [DefaultClaimActions].
	ClaimActions *claims.Actions

	HTTPClient HTTPClient

	// TokenExtractor reads the raw token. Defaults to the Authorization
	// header.
	TokenExtractor func(r *http.Request) string
}

// DefaultOptions returns the defaults shared with [Settings].
func DefaultOptions() Options {
	return Options{
		ClockSkew:         30 * time.Second,
		JWKSCacheTTL:      time.Hour,
		TokenCacheTTL:     5 * time.Minute,
		TokenCacheMaxSize: 10000,
	}
}

// DefaultClaimActions maps every token claim except the registered
// timing and audience claims, and fans a "roles" array out into role
// claims.
func DefaultClaimActions() *claims.Actions {
	var a claims.Actions
	a.MapAll()
	a.MapJSONKey(claims.TypeRole, "roles")
	for _, t := range []string{"exp", "iat", "nbf", "aud", "iss", "jti", "roles"} {
		a.DeleteClaim(t)
	}
	return &a
}

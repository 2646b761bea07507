package jwtbearer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-authn/pkg/authn/jwtbearer"

// maxTokenSize rejects oversized tokens before parsing.
const maxTokenSize = 8192

// Validator verifies JWTs against one key source. It is safe for
// concurrent use and is shared by every request of a scheme.
type Validator struct {
	opts   Options
	tracer trace.Tracer
	now    func() time.Time
	jwks   *jwksCache
	tokens *tokenCache

	jwksMu  sync.Mutex
	jwksURL string
}

// NewValidator returns a validator for opts. A nil now uses the wall
// clock.
func NewValidator(opts Options, now func() time.Time) (*Validator, error) {
	if now == nil {
		now = time.Now
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	switch {
	case opts.SigningKey.IsSet():
		if len(opts.SigningKey.Value()) < 32 {
			return nil, sserr.New(sserr.CodeInternalConfiguration, "jwtbearer: signing key must be at least 32 bytes")
		}
		if len(opts.ValidMethods) == 0 {
			opts.ValidMethods = []string{"HS256"}
		}
	case opts.JWKSURL != "" || opts.Authority != "":
		if len(opts.ValidMethods) == 0 {
			opts.ValidMethods = []string{"RS256", "ES256"}
		}
	default:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "jwtbearer: no signing key, JWKS URL or authority configured")
	}
	if opts.Issuer == "" {
		opts.Issuer = opts.Authority
	}
	if opts.JWKSCacheTTL <= 0 {
		opts.JWKSCacheTTL = DefaultOptions().JWKSCacheTTL
	}
	v := &Validator{
		opts:    opts,
		tracer:  otel.Tracer(tracerName),
		now:     now,
		jwks:    newJWKSCache(opts.JWKSCacheTTL, opts.HTTPClient, now),
		jwksURL: opts.JWKSURL,
	}
	if opts.TokenCacheTTL > 0 && opts.TokenCacheMaxSize > 0 {
		v.tokens = newTokenCache(opts.TokenCacheTTL, opts.TokenCacheMaxSize, now)
	}
	return v, nil
}

// Validate verifies token and returns its claims. Failures carry
// [sserr.CodeAuthenticationExpired] for expired tokens and
// [sserr.CodeAuthenticationInvalid] otherwise.
func (v *Validator) Validate(ctx context.Context, token string) (_ map[string]any, err error) {
	ctx, span := v.tracer.Start(ctx, "jwtbearer.Validate")
	defer func() { finishSpan(span, err) }()

	if token == "" {
		return nil, sserr.TicketInvalid("jwtbearer: token must not be empty")
	}
	if len(token) > maxTokenSize {
		return nil, sserr.TicketInvalid("jwtbearer: token exceeds maximum size")
	}

	hash := tokenHash(token)
	if v.tokens != nil {
		if doc, ok := v.tokens.get(hash); ok {
			span.SetAttributes(attribute.Bool("jwtbearer.cache_hit", true))
			return doc, nil
		}
	}
	span.SetAttributes(attribute.Bool("jwtbearer.cache_hit", false))

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.opts.ValidMethods),
		jwt.WithLeeway(v.opts.ClockSkew),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
	}
	if v.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.Issuer))
	}
	if v.opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.opts.Audience))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.key(ctx, t)
	}, parserOpts...)
	if err != nil {
		return nil, classifyError(err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, sserr.TicketInvalid("jwtbearer: invalid token claims")
	}

	doc := make(map[string]any, len(mc))
	for k, val := range mc {
		doc[k] = val
	}
	if v.tokens != nil {
		if exp, expErr := mc.GetExpirationTime(); expErr == nil && exp != nil {
			v.tokens.put(hash, doc, exp.Time)
		}
	}
	return doc, nil
}

func (v *Validator) key(ctx context.Context, t *jwt.Token) (any, error) {
	if v.opts.SigningKey.IsSet() {
		return []byte(v.opts.SigningKey.Value()), nil
	}
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, sserr.TicketInvalid("jwtbearer: token header missing kid")
	}
	jwksURL, err := v.resolveJWKSURL(ctx)
	if err != nil {
		return nil, err
	}
	return v.jwks.getKey(ctx, jwksURL, kid)
}

// resolveJWKSURL returns the configured JWKS URL or discovers it once.
// Discovery failures are not cached.
func (v *Validator) resolveJWKSURL(ctx context.Context) (string, error) {
	v.jwksMu.Lock()
	defer v.jwksMu.Unlock()
	if v.jwksURL != "" {
		return v.jwksURL, nil
	}
	doc, err := discover(ctx, v.opts.HTTPClient, v.opts.Authority)
	if err != nil {
		return "", fmt.Errorf("jwtbearer: discovery failed: %w", err)
	}
	v.jwksURL = doc.JWKSURI
	return v.jwksURL, nil
}

// ---------------------------------------------------------------------------
// tokenCache
// ---------------------------------------------------------------------------

type tokenCacheEntry struct {
	doc       map[string]any
	expiresAt time.Time
}

// tokenCache holds validated claims keyed by the SHA-256 of the token so
// raw tokens are never kept in memory.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]*tokenCacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func newTokenCache(ttl time.Duration, maxSize int, now func() time.Time) *tokenCache {
	return &tokenCache{
		entries: make(map[string]*tokenCacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     now,
	}
}

func (c *tokenCache) get(hash string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[hash]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.doc, true
}

// put caches doc for min(ttl, time until tokenExp).
func (c *tokenCache) put(hash string, doc map[string]any, tokenExp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ttl := c.ttl
	if remaining := tokenExp.Sub(now); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	if len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.expiresAt.Before(oldest) {
				oldestKey, oldest = k, e.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[hash] = &tokenCacheEntry{doc: doc, expiresAt: now.Add(ttl)}
}

func (c *tokenCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func tokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// classifyError maps jwt library errors to authentication codes. An
// *sserr.Error is returned as is.
func classifyError(err error) *sserr.Error {
	var ssErr *sserr.Error
	if errors.As(err, &ssErr) && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return ssErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "jwtbearer: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token is malformed")
	case errors.Is(err, jwt.ErrSignatureInvalid), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token is unverifiable")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token is missing a required claim")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "jwtbearer: token validation failed")
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

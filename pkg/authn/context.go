package authn

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	principalKey contextKey = iota
	resultKey
	exchangeKey
)

// ContextWithPrincipal returns a context carrying principal.
func ContextWithPrincipal(ctx context.Context, principal *claims.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext returns the principal stored by [Middleware] or an
// interceptor. It never returns a nil principal with true.
//
// Example:
//
//	p, ok := authn.PrincipalFromContext(r.Context())
//	if !ok || !p.IsAuthenticated() {
//	    // anonymous
//	}
func PrincipalFromContext(ctx context.Context) (*claims.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*claims.Principal)
	return p, ok && p != nil
}

// MustPrincipalFromContext is PrincipalFromContext that panics when no
// principal is present. Use it only behind [RequireAuthenticated].
func MustPrincipalFromContext(ctx context.Context) *claims.Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure authentication middleware is configured")
	}
	return p
}

// ContextWithResult returns a context carrying the default scheme's
// authenticate result.
func ContextWithResult(ctx context.Context, res Result) context.Context {
	return context.WithValue(ctx, resultKey, res)
}

// ResultFromContext returns the result stored by [Middleware].
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey).(Result)
	return res, ok
}

// ContextWithExchange returns a context carrying ex.
func ContextWithExchange(ctx context.Context, ex *Exchange) context.Context {
	return context.WithValue(ctx, exchangeKey, ex)
}

// ExchangeFromContext returns the exchange stored by [Middleware], so
// application handlers can sign in or out on the same handler instances.
func ExchangeFromContext(ctx context.Context) (*Exchange, bool) {
	ex, ok := ctx.Value(exchangeKey).(*Exchange)
	return ex, ok && ex != nil
}

// TraceIDFromContext returns the active OpenTelemetry trace ID as hex.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

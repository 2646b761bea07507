package authn

import (
	"log/slog"
	"net/http"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Middleware returns HTTP middleware that:
//  1. Lets every request-handling scheme (remote sign-in callbacks) claim
//     the request; a claimed request goes no further
//  2. Authenticates with the default authenticate scheme, if one is
//     configured, and stores the principal and result in the context
//  3. Stores the [Exchange] in the context for later sign-in or sign-out
//
// Anonymous requests are passed through. Pair with [RequireAuthenticated]
// on routes that need a principal.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(authn.Middleware(svc))
//	r.With(authn.RequireAuthenticated(svc)).Get("/account", account)
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ex := NewExchange(w, r)
			ex.WithContext(ContextWithExchange(r.Context(), ex))
			ctx := ex.Context()

			for _, scheme := range svc.SchemeProvider().RequestHandlerSchemes() {
				h, err := svc.Handler(ctx, ex, scheme.Name)
				if err != nil {
					writeError(w, r, svc.Logger(), err)
					return
				}
				handled, err := h.(RequestHandler).HandleRequest(ctx)
				if err != nil {
					writeError(w, r, svc.Logger(), err)
					return
				}
				if handled {
					return
				}
			}

			if _, err := svc.SchemeProvider().DefaultScheme(OpAuthenticate); err == nil {
				res, err := svc.Authenticate(ctx, ex, "")
				if err != nil {
					writeError(w, r, svc.Logger(), err)
					return
				}
				ctx = ContextWithResult(ctx, res)
				if res.Succeeded() {
					ctx = ContextWithPrincipal(ctx, res.Principal())
				}
				ex.WithContext(ctx)
			}

			next.ServeHTTP(w, ex.Request)
		})
	}
}

// RequireAuthenticated returns middleware that challenges requests
// without an authenticated principal. With no schemes it relies on the
// principal stored by [Middleware] and challenges the default challenge
// scheme. With schemes it authenticates each, merges their identities,
// and challenges each scheme on failure.
func RequireAuthenticated(svc *Service, schemes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ex, ok := ExchangeFromContext(r.Context())
			if !ok {
				ex = NewExchange(w, r)
				ex.WithContext(ContextWithExchange(r.Context(), ex))
			}
			ex.Writer = w
			ctx := ex.Context()

			principal, _ := PrincipalFromContext(ctx)
			if len(schemes) > 0 {
				merged := claims.NewPrincipal()
				for _, scheme := range schemes {
					res, err := svc.Authenticate(ctx, ex, scheme)
					if err != nil {
						writeError(w, r, svc.Logger(), err)
						return
					}
					if res.Succeeded() {
						for _, id := range res.Principal().Identities() {
							merged.AddIdentity(id)
						}
					}
				}
				principal = merged
			}

			if principal != nil && principal.IsAuthenticated() {
				ex.WithContext(ContextWithPrincipal(ctx, principal))
				next.ServeHTTP(w, ex.Request)
				return
			}

			targets := schemes
			if len(targets) == 0 {
				targets = []string{""}
			}
			for _, scheme := range targets {
				if err := svc.Challenge(ctx, ex, scheme, nil); err != nil {
					writeError(w, r, svc.Logger(), err)
					return
				}
			}
		})
	}
}

// writeError logs err and answers with its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	if e, ok := sserr.AsError(err); ok {
		status = e.HTTPStatus()
	}
	attrs := []any{"error", err, "path", r.URL.Path}
	if traceID, ok := TraceIDFromContext(r.Context()); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	logger.ErrorContext(r.Context(), "auth: request failed", attrs...)
	http.Error(w, http.StatusText(status), status)
}

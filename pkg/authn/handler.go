package authn

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
)

// Handler authenticates requests for one scheme. A handler instance serves
// a single request: the [Service] builds it, calls Initialize once, and
// caches it on the [Exchange].
//
// Further operations are optional capabilities, detected by interface
// assertion when an operation is invoked: [SignInHandler],
// [SignOutHandler], [Challenger], [Forbidder] and [RequestHandler].
type Handler interface {
	Initialize(ctx context.Context, hc HandlerContext) error
	Authenticate(ctx context.Context) (Result, error)
}

// SignOutHandler clears the scheme's credentials from the client.
type SignOutHandler interface {
	Handler
	SignOut(ctx context.Context, props *Properties) error
}

// SignInHandler persists a principal as the scheme's credential.
type SignInHandler interface {
	SignOutHandler
	SignIn(ctx context.Context, principal *claims.Principal, props *Properties) error
}

// Challenger responds to a request that needs authentication, for example
// with a 401 or a redirect to a login page.
type Challenger interface {
	Handler
	Challenge(ctx context.Context, props *Properties) error
}

// Forbidder responds to an authenticated request that lacks access.
type Forbidder interface {
	Handler
	Forbid(ctx context.Context, props *Properties) error
}

// RequestHandler may take over a request before the application sees it,
// for example a remote sign-in callback. It reports whether it handled the
// request.
type RequestHandler interface {
	Handler
	HandleRequest(ctx context.Context) (bool, error)
}

// HandlerContext is what a handler receives on Initialize.
type HandlerContext struct {
	Scheme   *Scheme
	Exchange *Exchange
	Service  *Service
	Logger   *slog.Logger
	Clock    Clock
}

// HandlerBase holds the per-request state common to all handlers. Embed
// it and call its Initialize from the handler's own.
type HandlerBase struct {
	scheme   *Scheme
	exchange *Exchange
	service  *Service
	logger   *slog.Logger
	clock    Clock
}

// Initialize stores hc.
func (b *HandlerBase) Initialize(_ context.Context, hc HandlerContext) error {
	b.scheme = hc.Scheme
	b.exchange = hc.Exchange
	b.service = hc.Service
	b.logger = hc.Logger
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.clock = hc.Clock
	if b.clock == nil {
		b.clock = SystemClock{}
	}
	return nil
}

// Scheme returns the scheme being handled.
func (b *HandlerBase) Scheme() *Scheme { return b.scheme }

// SchemeName returns the scheme name.
func (b *HandlerBase) SchemeName() string {
	if b.scheme == nil {
		return ""
	}
	return b.scheme.Name
}

// Exchange returns the current request exchange.
func (b *HandlerBase) Exchange() *Exchange { return b.exchange }

// Request returns the current request.
func (b *HandlerBase) Request() *http.Request { return b.exchange.Request }

// Response returns the response writer.
func (b *HandlerBase) Response() http.ResponseWriter { return b.exchange.Writer }

// Service returns the dispatching service.
func (b *HandlerBase) Service() *Service { return b.service }

// Logger returns the scheme logger.
func (b *HandlerBase) Logger() *slog.Logger { return b.logger }

// Clock returns the time source.
func (b *HandlerBase) Clock() Clock { return b.clock }

// Options returns the service's default scheme options.
func (b *HandlerBase) Options() Options {
	if b.service == nil {
		return Options{}
	}
	return b.service.Options()
}

// Redirect sends a 302 to location.
func (b *HandlerBase) Redirect(location string) {
	http.Redirect(b.exchange.Writer, b.exchange.Request, location, http.StatusFound)
}

// IsAjaxRequest reports whether the request came from script, in which
// case handlers answer with a status code instead of a redirect.
func (b *HandlerBase) IsAjaxRequest() bool {
	r := b.exchange.Request
	return strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") ||
		strings.EqualFold(r.URL.Query().Get("X-Requested-With"), "XMLHttpRequest")
}

// BuildRedirectURI returns an absolute URI on the current host for path.
func (b *HandlerBase) BuildRedirectURI(path string) string {
	r := b.exchange.Request
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

// CurrentURI returns the request path and query.
func (b *HandlerBase) CurrentURI() string {
	return b.exchange.Request.URL.RequestURI()
}

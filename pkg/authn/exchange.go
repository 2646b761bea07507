package authn

import (
	"context"
	"net/http"
)

// Exchange is one request/response pair plus the handlers built for it.
// Handlers are cached per scheme so every operation within a request sees
// the same handler instance. An Exchange is not safe for concurrent use.
type Exchange struct {
	Writer  http.ResponseWriter
	Request *http.Request

	handlers map[string]Handler
	items    map[string]any
}

// NewExchange wraps w and r. A literal Exchange with only Writer and
// Request set is equally valid.
func NewExchange(w http.ResponseWriter, r *http.Request) *Exchange {
	return &Exchange{Writer: w, Request: r}
}

// Context returns the request context.
func (e *Exchange) Context() context.Context {
	if e.Request == nil {
		return context.Background()
	}
	return e.Request.Context()
}

// WithContext replaces the request with a shallow copy carrying ctx.
func (e *Exchange) WithContext(ctx context.Context) {
	e.Request = e.Request.WithContext(ctx)
}

// Item returns a per-request value.
func (e *Exchange) Item(key string) (any, bool) {
	v, ok := e.items[key]
	return v, ok
}

// SetItem stores a per-request value.
func (e *Exchange) SetItem(key string, v any) {
	if e.items == nil {
		e.items = make(map[string]any)
	}
	e.items[key] = v
}

func (e *Exchange) cachedHandler(scheme string) (Handler, bool) {
	h, ok := e.handlers[scheme]
	return h, ok
}

func (e *Exchange) cacheHandler(scheme string, h Handler) {
	if e.handlers == nil {
		e.handlers = make(map[string]Handler)
	}
	e.handlers[scheme] = h
}

package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

func TestMiddleware_StoresPrincipal(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{DefaultScheme: "Test"}).Apply(headerScheme("Test")).Build()
	require.NoError(t, err)

	var captured context.Context
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Test alice")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	p, ok := PrincipalFromContext(captured)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Subject())
	res, ok := ResultFromContext(captured)
	require.True(t, ok)
	assert.True(t, res.Succeeded())
	_, ok = ExchangeFromContext(captured)
	assert.True(t, ok)
}

func TestMiddleware_AnonymousPassesThrough(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{DefaultScheme: "Test"}).Apply(headerScheme("Test")).Build()
	require.NoError(t, err)

	called := false
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := PrincipalFromContext(r.Context())
		assert.False(t, ok)
		res, ok := ResultFromContext(r.Context())
		assert.True(t, ok)
		assert.True(t, sserr.HasCode(res.Failure(), sserr.CodeAuthenticationInvalid))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Test bad")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestMiddleware_NoDefaultSchemeSkipsAuthentication(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{}).Apply(headerScheme("Test")).Build()
	require.NoError(t, err)

	called := false
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := ResultFromContext(r.Context())
		assert.False(t, ok)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestMiddleware_RequestHandlerClaimsCallback(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{}).
		AddScheme("Remote", func(sb *SchemeBuilder) { sb.Factory = func() Handler { return &callbackHandler{} } }).
		Build()
	require.NoError(t, err)

	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("application handler must not run for a claimed callback")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/signin-test", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestMiddleware_ConfigurationErrorIs500(t *testing.T) {
	t.Parallel()
	svc, err := NewBuilder(Options{DefaultScheme: "Loop"}).
		Apply(AddPolicyScheme("Loop", PolicyOptions{ForwardDefault: "Loop"})).
		Build()
	require.NoError(t, err)

	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("application handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRequireAuthenticated(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc, err := NewBuilder(Options{DefaultScheme: "Test", DefaultChallengeScheme: "Challenge"}).
		Apply(headerScheme("Test")).
		Apply(recordingScheme("Challenge", rec)).
		Build()
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := Middleware(svc)(RequireAuthenticated(svc)(ok))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Test alice")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, []string{"challenge:Challenge"}, rec.calls)
}

func TestRequireAuthenticated_NamedSchemes(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc, err := NewBuilder(Options{}).
		AddScheme("Test", func(sb *SchemeBuilder) { sb.Factory = func() Handler { return &challengingHeaderHandler{} } }).
		Apply(recordingScheme("Other", rec)).
		Build()
	require.NoError(t, err)

	var subject string
	handler := RequireAuthenticated(svc, "Other", "Test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = MustPrincipalFromContext(r.Context()).Subject()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Test bob")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "bob", subject)

	rec.calls = nil
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, []string{"authenticate:Other", "challenge:Other"}, rec.calls)
}

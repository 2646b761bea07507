package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// headerHandler authenticates "Authorization: Test <subject>" and supports
// only Authenticate.
type headerHandler struct {
	HandlerBase
}

func (h *headerHandler) Authenticate(context.Context) (Result, error) {
	v := h.Request().Header.Get("Authorization")
	subject, ok := strings.CutPrefix(v, "Test ")
	if !ok {
		return NoResult(), nil
	}
	if subject == "bad" {
		return Fail(sserr.TicketInvalid("test: bad credentials")), nil
	}
	if subject == "old" {
		return Fail(sserr.TicketExpired("test: expired credentials")), nil
	}
	id := claims.NewIdentity(h.SchemeName(), claims.New(claims.TypeSubject, subject), claims.New(claims.TypeRole, "viewer"))
	return Success(NewTicket(claims.NewPrincipal(id), nil, h.SchemeName())), nil
}

// recordingHandler implements every capability and records calls.
type recordingHandler struct {
	HandlerBase
	rec *recorder
}

type recorder struct {
	built   atomic.Int32
	calls   []string
	signins []*claims.Principal
}

func (h *recordingHandler) Authenticate(context.Context) (Result, error) {
	h.rec.calls = append(h.rec.calls, "authenticate:"+h.SchemeName())
	return NoResult(), nil
}

func (h *recordingHandler) Challenge(_ context.Context, _ *Properties) error {
	h.rec.calls = append(h.rec.calls, "challenge:"+h.SchemeName())
	h.Response().WriteHeader(http.StatusUnauthorized)
	return nil
}

func (h *recordingHandler) Forbid(_ context.Context, _ *Properties) error {
	h.rec.calls = append(h.rec.calls, "forbid:"+h.SchemeName())
	h.Response().WriteHeader(http.StatusForbidden)
	return nil
}

func (h *recordingHandler) SignIn(_ context.Context, p *claims.Principal, _ *Properties) error {
	h.rec.calls = append(h.rec.calls, "signin:"+h.SchemeName())
	h.rec.signins = append(h.rec.signins, p)
	return nil
}

func (h *recordingHandler) SignOut(_ context.Context, _ *Properties) error {
	h.rec.calls = append(h.rec.calls, "signout:"+h.SchemeName())
	return nil
}

// callbackHandler claims requests to /signin-test.
type callbackHandler struct {
	HandlerBase
}

func (h *callbackHandler) Authenticate(context.Context) (Result, error) { return NoResult(), nil }

func (h *callbackHandler) HandleRequest(context.Context) (bool, error) {
	if h.Request().URL.Path != "/signin-test" {
		return false, nil
	}
	h.Response().WriteHeader(http.StatusNoContent)
	return true, nil
}

func headerScheme(name string) func(*Builder) *Builder {
	return func(b *Builder) *Builder {
		return b.AddScheme(name, func(sb *SchemeBuilder) {
			sb.Factory = func() Handler { return &headerHandler{} }
		})
	}
}

func recordingScheme(name string, rec *recorder) func(*Builder) *Builder {
	return func(b *Builder) *Builder {
		return b.AddScheme(name, func(sb *SchemeBuilder) {
			sb.Factory = func() Handler {
				rec.built.Add(1)
				return &recordingHandler{rec: rec}
			}
		})
	}
}

func newExchange(target string) (*Exchange, *httptest.ResponseRecorder) {
	rr := httptest.NewRecorder()
	return NewExchange(rr, httptest.NewRequest(http.MethodGet, target, nil)), rr
}

func testPrincipal(subject string) *claims.Principal {
	return claims.NewPrincipal(claims.NewIdentity("test", claims.New(claims.TypeSubject, subject)))
}

func testProtector(t *testing.T) *protect.Protector {
	t.Helper()
	m, err := protect.NewKeyManager(protect.NewMemoryRepository(), protect.DefaultKeyManagerConfig())
	require.NoError(t, err)
	return protect.NewProviderFromManager(m).CreateProtector("authn-test")
}

// challengingHeaderHandler is a headerHandler that can also challenge.
type challengingHeaderHandler struct {
	headerHandler
}

func (h *challengingHeaderHandler) Challenge(context.Context, *Properties) error {
	h.Response().Header().Set("WWW-Authenticate", "Test")
	h.Response().WriteHeader(http.StatusUnauthorized)
	return nil
}

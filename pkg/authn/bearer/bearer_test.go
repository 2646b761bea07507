package bearer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, opts Options) (*authn.Service, *authn.ManualClock) {
	t.Helper()
	m, err := protect.NewKeyManager(protect.NewMemoryRepository(), protect.DefaultKeyManagerConfig())
	require.NoError(t, err)
	clock := authn.NewManualClock(epoch)
	svc, err := authn.NewBuilder(authn.Options{DefaultScheme: DefaultScheme}).
		WithClock(clock).
		WithDataProtection(protect.NewProviderFromManager(m)).
		Apply(AddScheme(DefaultScheme, opts)).
		Build()
	require.NoError(t, err)
	return svc, clock
}

func principal(subject string) *claims.Principal {
	return claims.NewPrincipal(claims.NewIdentity("password", claims.New(claims.TypeSubject, subject)))
}

func signIn(t *testing.T, svc *authn.Service, props *authn.Properties) AccessTokenResponse {
	t.Helper()
	rr := httptest.NewRecorder()
	ex := authn.NewExchange(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, svc.SignIn(context.Background(), ex, "", principal("alice"), props))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp AccessTokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func authenticate(t *testing.T, svc *authn.Service, token string) authn.Result {
	t.Helper()
	ex := authn.NewExchange(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if token != "" {
		ex.Request.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := svc.Authenticate(context.Background(), ex, "")
	require.NoError(t, err)
	return res
}

func TestSignIn_WritesTokenResponse(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, DefaultOptions())

	resp := signIn(t, svc, nil)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotContains(t, resp.AccessToken, "=")
	assert.NotContains(t, resp.AccessToken, "+")
	assert.NotContains(t, resp.AccessToken, "/")

	res := authenticate(t, svc, resp.AccessToken)
	require.True(t, res.Succeeded())
	assert.Equal(t, "alice", res.Principal().Subject())
	assert.Equal(t, DefaultScheme, res.Ticket().Scheme)
}

func TestSignIn_ExplicitExpiryOverridesDefault(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.Expiration = -24 * time.Hour
	svc, clock := newService(t, opts)

	props := authn.NewProperties()
	props.SetExpiresUTC(epoch.Add(8 * time.Hour))
	resp := signIn(t, svc, props)
	assert.Equal(t, int64(8*3600), resp.ExpiresIn)

	res := authenticate(t, svc, resp.AccessToken)
	require.True(t, res.Succeeded())
	expires, ok := res.Properties().ExpiresUTC()
	require.True(t, ok)
	assert.True(t, expires.Equal(epoch.Add(8*time.Hour)))

	clock.Set(epoch.Add(8*time.Hour - time.Minute))
	assert.True(t, authenticate(t, svc, resp.AccessToken).Succeeded())
	clock.Set(epoch.Add(8 * time.Hour))
	assert.True(t, sserr.HasCode(authenticate(t, svc, resp.AccessToken).Failure(), sserr.CodeAuthenticationExpired))

	clock.Set(epoch)
	resp = signIn(t, svc, nil)
	assert.True(t, sserr.HasCode(authenticate(t, svc, resp.AccessToken).Failure(), sserr.CodeAuthenticationExpired),
		"negative default without explicit expiry is already expired")
}

func TestAuthenticate_Outcomes(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, DefaultOptions())
	resp := signIn(t, svc, nil)

	assert.True(t, authenticate(t, svc, "").None())

	res := authenticate(t, svc, "garbage")
	assert.True(t, sserr.HasCode(res.Failure(), sserr.CodeAuthenticationInvalid))

	res = authenticate(t, svc, resp.RefreshToken)
	assert.True(t, sserr.HasCode(res.Failure(), sserr.CodeAuthenticationInvalid), "refresh token is not an access token")

	other, _ := newService(t, DefaultOptions())
	res = authenticate(t, other, resp.AccessToken)
	assert.True(t, sserr.HasCode(res.Failure(), sserr.CodeAuthenticationInvalid), "token from another key ring")
}

func TestAuthorizationHeader(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", header)
		assert.Equal(t, want, AuthorizationHeader(r), header)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	svc, clock := newService(t, DefaultOptions())
	resp := signIn(t, svc, nil)
	ctx := context.Background()

	clock.Set(epoch.Add(2 * time.Hour))
	assert.True(t, sserr.HasCode(authenticate(t, svc, resp.AccessToken).Failure(), sserr.CodeAuthenticationExpired))

	ex := authn.NewExchange(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/refresh", nil))
	h, err := Lookup(ctx, svc, ex, DefaultScheme)
	require.NoError(t, err)
	refreshed, err := h.Refresh(ctx, resp.RefreshToken)
	require.NoError(t, err)
	res := authenticate(t, svc, refreshed.AccessToken)
	require.True(t, res.Succeeded())
	assert.Equal(t, "alice", res.Principal().Subject())

	_, err = h.Refresh(ctx, resp.AccessToken)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationInvalid), "access token is not a refresh token")

	clock.Set(epoch.Add(14 * 24 * time.Hour))
	_, err = h.Refresh(ctx, resp.RefreshToken)
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationExpired))
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, DefaultOptions())
	resp := signIn(t, svc, nil)
	endpoint := RefreshEndpoint(svc, DefaultScheme)

	rr := httptest.NewRecorder()
	endpoint.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh",
		strings.NewReader(`{"refreshToken":"`+resp.RefreshToken+`"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	var refreshed AccessTokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &refreshed))
	assert.True(t, authenticate(t, svc, refreshed.AccessToken).Succeeded())

	rr = httptest.NewRecorder()
	endpoint.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader(`{"refreshToken":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))

	rr = httptest.NewRecorder()
	endpoint.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	RefreshEndpoint(svc, "Missing").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh",
		strings.NewReader(`{"refreshToken":"x"}`)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestChallengeAndForbid(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, DefaultOptions())
	ctx := context.Background()

	rr := httptest.NewRecorder()
	ex := authn.NewExchange(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, svc.Challenge(ctx, ex, "", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))

	rr = httptest.NewRecorder()
	ex = authn.NewExchange(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, svc.Forbid(ctx, ex, "", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	ex = authn.NewExchange(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, svc.SignOut(ctx, ex, "", nil))
}

func TestAddScheme_RequiresDataProtection(t *testing.T) {
	t.Parallel()
	_, err := authn.NewBuilder(authn.Options{}).Apply(AddScheme(DefaultScheme, DefaultOptions())).Build()
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
}

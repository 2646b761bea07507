// Package idp runs an in-process OpenID Connect provider for tests. It
// serves discovery, JWKS, token and userinfo endpoints over httptest and
// signs ID tokens with a generated RSA key. The authorize step is driven
// directly by the test through [Provider.Authorize].
package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Endpoint paths served by the provider.
const (
	PathDiscovery = "/.well-known/openid-configuration"
	PathAuthorize = "/authorize"
	PathToken     = "/token"
	PathUserInfo  = "/userinfo"
	PathJWKS      = "/jwks"
)

type grant struct {
	clientID      string
	subject       string
	redirectURI   string
	challenge     string
	challengeMeth string
	nonce         string
	scope         string
}

// Provider is a fake OpenID Connect provider. Create one with [New].
type Provider struct {
	Server       *httptest.Server
	ClientID     string
	ClientSecret string

	// Now stamps issued tokens. Defaults to time.Now.
	Now func() time.Time

	// TokenLifetime is the access and ID token lifetime. Defaults to one
	// hour.
	TokenLifetime time.Duration

	mu       sync.Mutex
	keys     map[string]*rsa.PrivateKey
	kid      string
	codes    map[string]*grant
	access   map[string]string
	refresh  map[string]string
	userInfo map[string]map[string]any
	lastForm url.Values

	jwksRequests  atomic.Int64
	tokenRequests atomic.Int64
}

// New starts a provider registered with one confidential client. The
// server is closed when t finishes.
func New(t testing.TB, clientID, clientSecret string) *Provider {
	t.Helper()
	p := &Provider{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Now:           time.Now,
		TokenLifetime: time.Hour,
		keys:          make(map[string]*rsa.PrivateKey),
		codes:         make(map[string]*grant),
		access:        make(map[string]string),
		refresh:       make(map[string]string),
		userInfo:      make(map[string]map[string]any),
	}
	p.RotateKey(t)

	mux := http.NewServeMux()
	mux.HandleFunc(PathDiscovery, p.serveDiscovery)
	mux.HandleFunc(PathJWKS, p.serveJWKS)
	mux.HandleFunc(PathToken, p.serveToken)
	mux.HandleFunc(PathUserInfo, p.serveUserInfo)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// Issuer returns the provider's issuer URL.
func (p *Provider) Issuer() string { return p.Server.URL }

// URL returns the absolute URL of path on the provider.
func (p *Provider) URL(path string) string { return p.Server.URL + path }

// KeyID returns the id of the current signing key.
func (p *Provider) KeyID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kid
}

// RotateKey generates a new signing key. Previously published keys stay
// in the JWKS document.
func (p *Provider) RotateKey(t testing.TB) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kid = uuid.NewString()
	p.keys[p.kid] = key
}

// JWKSRequests reports how many times the JWKS document was fetched.
func (p *Provider) JWKSRequests() int { return int(p.jwksRequests.Load()) }

// TokenRequests reports how many token endpoint calls were made.
func (p *Provider) TokenRequests() int { return int(p.tokenRequests.Load()) }

// LastTokenForm returns the form of the most recent token request.
func (p *Provider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

// SetUserInfo sets the userinfo document returned for subject. "sub" is
// added automatically.
func (p *Provider) SetUserInfo(subject string, info map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc := make(map[string]any, len(info)+1)
	for k, v := range info {
		doc[k] = v
	}
	doc["sub"] = subject
	p.userInfo[subject] = doc
}

// SignToken signs claims with the current key and sets the kid header.
func (p *Provider) SignToken(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	p.mu.Lock()
	kid, key := p.kid, p.keys[p.kid]
	p.mu.Unlock()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// Authorize plays the user approving the request at authorizeURL as
// subject and returns the query the provider would send to the
// redirect_uri.
func (p *Provider) Authorize(t testing.TB, authorizeURL, subject string) url.Values {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, p.URL(PathAuthorize), u.Scheme+"://"+u.Host+u.Path, "authorize endpoint")
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, p.ClientID, q.Get("client_id"))
	require.NotEmpty(t, q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("state"))

	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = &grant{
		clientID:      q.Get("client_id"),
		subject:       subject,
		redirectURI:   q.Get("redirect_uri"),
		challenge:     q.Get("code_challenge"),
		challengeMeth: q.Get("code_challenge_method"),
		nonce:         q.Get("nonce"),
		scope:         q.Get("scope"),
	}
	p.mu.Unlock()
	return url.Values{"code": {code}, "state": {q.Get("state")}}
}

// Deny plays the user refusing the request at authorizeURL.
func (p *Provider) Deny(t testing.TB, authorizeURL string) url.Values {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	return url.Values{
		"error":             {"access_denied"},
		"error_description": {"The user denied the request"},
		"state":             {u.Query().Get("state")},
	}
}

func (p *Provider) serveDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.URL(PathAuthorize),
		"token_endpoint":                        p.URL(PathToken),
		"userinfo_endpoint":                     p.URL(PathUserInfo),
		"jwks_uri":                              p.URL(PathJWKS),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (p *Provider) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	p.jwksRequests.Add(1)
	p.mu.Lock()
	keys := make([]map[string]string, 0, len(p.keys))
	for kid, key := range p.keys {
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (p *Provider) serveToken(w http.ResponseWriter, r *http.Request) {
	p.tokenRequests.Add(1)
	if r.Method != http.MethodPost {
		oauthError(w, http.StatusMethodNotAllowed, "invalid_request", "POST required")
		return
	}
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.mu.Lock()
	p.lastForm = r.PostForm
	p.mu.Unlock()

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	} else {
		clientID, _ = url.QueryUnescape(clientID)
		clientSecret, _ = url.QueryUnescape(clientSecret)
	}
	if clientID != p.ClientID || clientSecret != p.ClientSecret {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCode(w, r.PostForm)
	case "refresh_token":
		p.mu.Lock()
		subject, found := p.refresh[r.PostForm.Get("refresh_token")]
		delete(p.refresh, r.PostForm.Get("refresh_token"))
		p.mu.Unlock()
		if !found {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
		p.issue(w, &grant{clientID: clientID, subject: subject})
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")
	p.mu.Lock()
	g, found := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()
	if !found {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "unknown or used code")
		return
	}
	if form.Get("redirect_uri") != g.redirectURI {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if g.challenge != "" {
		if g.challengeMeth != "S256" {
			oauthError(w, http.StatusBadRequest, "invalid_request", "unsupported code_challenge_method")
			return
		}
		sum := sha256.Sum256([]byte(form.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
			return
		}
	}
	p.issue(w, g)
}

func (p *Provider) issue(w http.ResponseWriter, g *grant) {
	now := p.Now()
	accessToken := uuid.NewString()
	refreshToken := uuid.NewString()

	p.mu.Lock()
	p.access[accessToken] = g.subject
	p.refresh[refreshToken] = g.subject
	kid, key := p.kid, p.keys[p.kid]
	p.mu.Unlock()

	idClaims := jwt.MapClaims{
		"iss": p.Issuer(),
		"sub": g.subject,
		"aud": p.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(p.TokenLifetime).Unix(),
	}
	if g.nonce != "" {
		idClaims["nonce"] = g.nonce
	}
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, idClaims)
	idToken.Header["kid"] = kid
	signed, err := idToken.SignedString(key)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int64(p.TokenLifetime.Seconds()),
		"refresh_token": refreshToken,
		"id_token":      signed,
		"scope":         g.scope,
	})
}

func (p *Provider) serveUserInfo(w http.ResponseWriter, r *http.Request) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.mu.Lock()
	subject, ok := p.access[auth[len(prefix):]]
	doc := p.userInfo[subject]
	p.mu.Unlock()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if doc == nil {
		doc = map[string]any{"sub": subject}
	}
	writeJSON(w, http.StatusOK, doc)
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("idp: encode response: %v", err))
	}
}

package cookie

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// sessionKeyClaim carries the session key in store-backed cookies.
const sessionKeyClaim = "authn.cookie.session"

// AddScheme registers a cookie scheme. Data protection comes from opts or,
// when unset, from the builder, so call [authn.Builder.WithDataProtection]
// before applying this.
func AddScheme(name string, opts Options) func(*authn.Builder) *authn.Builder {
	return func(b *authn.Builder) *authn.Builder {
		resolved, err := opts.resolve(name, b.DataProtection())
		if err != nil {
			return b.AddError(err)
		}
		return b.AddScheme(name, func(sb *authn.SchemeBuilder) {
			sb.Factory = func() authn.Handler { return &Handler{opts: resolved} }
		})
	}
}

func (o Options) resolve(scheme string, dp *protect.Provider) (Options, error) {
	defaults := DefaultOptions()
	if o.CookieName == "" {
		o.CookieName = ".authn." + scheme
	}
	if o.CookiePath == "" {
		o.CookiePath = defaults.CookiePath
	}
	if o.ExpireTimeSpan <= 0 {
		o.ExpireTimeSpan = defaults.ExpireTimeSpan
	}
	if o.ReturnURLParameter == "" {
		o.ReturnURLParameter = defaults.ReturnURLParameter
	}
	if o.ClaimsIssuer == "" {
		o.ClaimsIssuer = scheme
	}
	if o.TicketFormat == nil {
		if o.DataProtection == nil {
			o.DataProtection = dp
		}
		if o.DataProtection == nil {
			return o, sserr.Newf(sserr.CodeInternalConfiguration,
				"cookie: scheme %q has no data protection provider", scheme)
		}
		o.TicketFormat = authn.NewTicketDataFormat(o.DataProtection.CreateProtector("authn.cookie", scheme, "v1"))
	}
	return o, nil
}

// Handler is the per-request cookie handler.
type Handler struct {
	authn.HandlerBase
	opts Options

	result     *authn.Result
	sessionKey string
}

var (
	_ authn.SignInHandler = (*Handler)(nil)
	_ authn.Challenger    = (*Handler)(nil)
	_ authn.Forbidder     = (*Handler)(nil)
)

// Authenticate implements [authn.Handler]. The result is computed once
// per request.
func (h *Handler) Authenticate(ctx context.Context) (authn.Result, error) {
	if h.result != nil {
		return *h.result, nil
	}
	res, err := h.authenticate(ctx)
	if err != nil {
		return authn.Result{}, err
	}
	h.result = &res
	return res, nil
}

func (h *Handler) authenticate(ctx context.Context) (authn.Result, error) {
	ticket, ok := h.readCookie(ctx)
	if ticket == nil {
		if !ok {
			return authn.Fail(sserr.TicketInvalid("cookie: unprotect ticket failed")), nil
		}
		return authn.NoResult(), nil
	}

	if h.opts.SessionStore != nil {
		key, found := ticket.Principal.FindFirst(sessionKeyClaim)
		if !found {
			return authn.Fail(sserr.TicketInvalid("cookie: session key missing")), nil
		}
		h.sessionKey = key.Value
		stored, err := h.opts.SessionStore.Retrieve(ctx, h.sessionKey)
		if err != nil {
			if sserr.IsNotFound(err) {
				return authn.Fail(sserr.TicketInvalid("cookie: session missing from store")), nil
			}
			return authn.Result{}, err
		}
		ticket = stored
	}

	now := h.Clock().Now()
	if ticket.Expired(now) {
		h.removeSession(ctx)
		return authn.Fail(sserr.TicketExpired("cookie: ticket expired")), nil
	}

	renew := h.shouldRefresh(ticket.Properties, now)
	if hook := h.opts.Events.ValidatePrincipal; hook != nil {
		vc := &ValidatePrincipalContext{
			Exchange:   h.Exchange(),
			Principal:  ticket.Principal,
			Properties: ticket.Properties,
		}
		if err := hook(ctx, vc); err != nil {
			return authn.Result{}, err
		}
		if vc.rejected || vc.Principal == nil {
			h.removeSession(ctx)
			h.deleteCookie()
			return authn.Fail(sserr.TicketInvalid("cookie: principal rejected")), nil
		}
		ticket = authn.NewTicket(vc.Principal, vc.Properties, h.SchemeName())
		renew = renew || vc.ShouldRenew
	}
	ticket.Scheme = h.SchemeName()

	if renew {
		if err := h.renew(ctx, ticket, now); err != nil {
			return authn.Result{}, err
		}
	}
	return authn.Success(ticket), nil
}

// readCookie returns the cookie ticket. A nil ticket with ok=true means
// there is no cookie; ok=false means the cookie did not unprotect.
func (h *Handler) readCookie(ctx context.Context) (*authn.Ticket, bool) {
	c, err := h.Request().Cookie(h.opts.CookieName)
	if err != nil || c.Value == "" {
		return nil, true
	}
	ticket, ok := h.opts.TicketFormat.Unprotect(ctx, c.Value, "")
	if !ok {
		return nil, false
	}
	return ticket, true
}

// shouldRefresh reports whether a sliding cookie is past the half of its
// lifetime.
func (h *Handler) shouldRefresh(props *authn.Properties, now time.Time) bool {
	if !h.opts.SlidingExpiration {
		return false
	}
	if allow, set := props.AllowRefresh(); set && !allow {
		return false
	}
	issued, okIssued := props.IssuedUTC()
	expires, okExpires := props.ExpiresUTC()
	if !okIssued || !okExpires {
		return false
	}
	return expires.Sub(now) < now.Sub(issued)
}

func (h *Handler) renew(ctx context.Context, ticket *authn.Ticket, now time.Time) error {
	props := ticket.Properties
	issued, okIssued := props.IssuedUTC()
	expires, okExpires := props.ExpiresUTC()
	lifetime := h.opts.ExpireTimeSpan
	if okIssued && okExpires {
		lifetime = expires.Sub(issued)
	}
	props.SetIssuedUTC(now)
	props.SetExpiresUTC(now.Add(lifetime))
	if err := h.writeTicket(ctx, ticket, false); err != nil {
		return err
	}
	h.Logger().DebugContext(ctx, "cookie: ticket renewed",
		"expires", now.Add(lifetime),
	)
	return nil
}

// SignIn implements [authn.SignInHandler].
func (h *Handler) SignIn(ctx context.Context, principal *claims.Principal, props *authn.Properties) error {
	props = props.Clone()
	now := h.Clock().Now()
	props.SetIssuedUTC(now)
	if _, ok := props.ExpiresUTC(); !ok {
		props.SetExpiresUTC(now.Add(h.opts.ExpireTimeSpan))
	}
	if hook := h.opts.Events.SigningIn; hook != nil {
		if err := hook(ctx, principal, props); err != nil {
			return err
		}
	}

	if h.opts.SessionStore != nil {
		h.sessionKey = h.currentSessionKey(ctx)
		h.removeSession(ctx)
	}
	ticket := authn.NewTicket(principal, props, h.SchemeName())
	if err := h.writeTicket(ctx, ticket, true); err != nil {
		return err
	}
	h.result = nil

	h.Logger().InfoContext(ctx, "cookie: signed in",
		"subject", principal.Subject(),
		"persistent", props.IsPersistent(),
	)

	if h.onPath(h.opts.LoginPath) {
		if target := h.returnURL(props); target != "" {
			h.Redirect(target)
		}
	}
	return nil
}

// SignOut implements [authn.SignOutHandler].
func (h *Handler) SignOut(ctx context.Context, props *authn.Properties) error {
	props = props.Clone()
	if hook := h.opts.Events.SigningOut; hook != nil {
		if err := hook(ctx, props); err != nil {
			return err
		}
	}
	if h.opts.SessionStore != nil {
		if h.sessionKey == "" {
			h.sessionKey = h.currentSessionKey(ctx)
		}
		h.removeSession(ctx)
	}
	h.deleteCookie()
	h.result = nil

	if h.onPath(h.opts.LogoutPath) {
		if target := h.returnURL(props); target != "" {
			h.Redirect(target)
		}
	}
	return nil
}

// Challenge implements [authn.Challenger]: a redirect to the login path,
// or a bare 401 when there is none.
func (h *Handler) Challenge(_ context.Context, props *authn.Properties) error {
	h.redirectOrStatus(h.opts.LoginPath, props, http.StatusUnauthorized)
	return nil
}

// Forbid implements [authn.Forbidder]: a redirect to the access-denied
// path, or a bare 403 when there is none.
func (h *Handler) Forbid(_ context.Context, props *authn.Properties) error {
	h.redirectOrStatus(h.opts.AccessDeniedPath, props, http.StatusForbidden)
	return nil
}

func (h *Handler) redirectOrStatus(path string, props *authn.Properties, status int) {
	if path == "" {
		h.Response().WriteHeader(status)
		return
	}
	returnTo := props.RedirectURI()
	if returnTo == "" {
		returnTo = h.CurrentURI()
	}
	location := path + "?" + url.Values{h.opts.ReturnURLParameter: {returnTo}}.Encode()
	if h.IsAjaxRequest() {
		h.Response().Header().Set("Location", location)
		h.Response().WriteHeader(status)
		return
	}
	h.Redirect(location)
}

// writeTicket issues the cookie for ticket. With a session store the
// ticket goes to the store and the cookie holds only the key; newSession
// forces a fresh key.
func (h *Handler) writeTicket(ctx context.Context, ticket *authn.Ticket, newSession bool) error {
	cookieTicket := ticket
	if store := h.opts.SessionStore; store != nil {
		if newSession || h.sessionKey == "" {
			key, err := store.Store(ctx, ticket)
			if err != nil {
				return err
			}
			h.sessionKey = key
		} else if err := store.Renew(ctx, h.sessionKey, ticket); err != nil {
			return err
		}
		id := claims.NewIdentity(h.SchemeName(),
			claims.NewIssued(sessionKeyClaim, h.sessionKey, "", h.opts.ClaimsIssuer))
		cookieTicket = authn.NewTicket(claims.NewPrincipal(id), ticket.Properties, h.SchemeName())
	}
	value, err := h.opts.TicketFormat.Protect(ctx, cookieTicket, "")
	if err != nil {
		return err
	}
	c := h.newCookie(value)
	if ticket.Properties.IsPersistent() {
		if exp, ok := ticket.Properties.ExpiresUTC(); ok {
			c.Expires = exp
		}
	}
	http.SetCookie(h.Response(), c)
	return nil
}

func (h *Handler) deleteCookie() {
	c := h.newCookie("")
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(h.Response(), c)
}

func (h *Handler) newCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    value,
		Path:     h.opts.CookiePath,
		Domain:   h.opts.CookieDomain,
		HttpOnly: true,
		Secure:   h.secure(),
		SameSite: h.opts.SameSite,
	}
}

func (h *Handler) secure() bool {
	switch h.opts.SecurePolicy {
	case SecureAlways:
		return true
	case SecureNone:
		return false
	default:
		r := h.Request()
		return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	}
}

func (h *Handler) currentSessionKey(ctx context.Context) string {
	ticket, _ := h.readCookie(ctx)
	if ticket == nil {
		return ""
	}
	key, ok := ticket.Principal.FindFirst(sessionKeyClaim)
	if !ok {
		return ""
	}
	return key.Value
}

func (h *Handler) removeSession(ctx context.Context) {
	if h.opts.SessionStore == nil || h.sessionKey == "" {
		return
	}
	if err := h.opts.SessionStore.Remove(ctx, h.sessionKey); err != nil {
		h.Logger().WarnContext(ctx, "cookie: session remove failed",
			"error", err,
		)
	}
	h.sessionKey = ""
}

func (h *Handler) onPath(path string) bool {
	return path != "" && h.Request().URL.Path == path
}

// returnURL picks the post sign-in/out target: the properties' redirect
// URI, else the return-URL query parameter. Only local URLs qualify.
func (h *Handler) returnURL(props *authn.Properties) string {
	target := props.RedirectURI()
	if target == "" {
		target = h.Request().URL.Query().Get(h.opts.ReturnURLParameter)
	}
	if !IsLocalURL(target) {
		return ""
	}
	return target
}

// IsLocalURL reports whether u is a path on the current host, which
// rules out "//host" and "/\host" forms browsers treat as absolute.
func IsLocalURL(u string) bool {
	if !strings.HasPrefix(u, "/") {
		return false
	}
	if len(u) == 1 {
		return true
	}
	return u[1] != '/' && u[1] != '\\'
}

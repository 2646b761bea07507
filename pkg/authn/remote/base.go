package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/StricklySoft/stricklysoft-authn/pkg/authn"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Property items owned by the remote flow.
const (
	itemCorrelation = ".xsrf"
	itemDeadline    = ".remote.deadline"
	correlationMark = "N"
)

// Flow is the protocol half of a remote scheme.
type Flow interface {
	// BuildChallengeURL returns the provider URL for a challenge. It may
	// add items to props and must carry the result of
	// [Base.ProtectState] back to the callback.
	BuildChallengeURL(ctx context.Context, props *authn.Properties) (string, error)

	// HandleRemoteAuthenticate processes a request on the callback path.
	// The error return is for infrastructure failures; protocol failures
	// go in the outcome.
	HandleRemoteAuthenticate(ctx context.Context) (Outcome, error)
}

// Outcome is the result of a callback.
type Outcome struct {
	Ticket       *authn.Ticket
	Failure      error
	Properties   *authn.Properties
	AccessDenied bool
}

// Succeeded returns a successful outcome.
func Succeeded(ticket *authn.Ticket) Outcome {
	return Outcome{Ticket: ticket, Properties: ticket.Properties}
}

// Failed returns a failed outcome. props may be nil when the state did
// not survive.
func Failed(err error, props *authn.Properties) Outcome {
	return Outcome{Failure: err, Properties: props}
}

// Denied returns the outcome of a user declining at the provider.
func Denied(props *authn.Properties) Outcome {
	return Outcome{AccessDenied: true, Properties: props}
}

// Base implements the capabilities shared by remote schemes. Concrete
// handlers embed it and call [Base.InitializeRemote] from Initialize.
type Base struct {
	authn.HandlerBase
	opts *Options
	flow Flow
}

var (
	_ authn.RequestHandler = (*Base)(nil)
	_ authn.Challenger     = (*Base)(nil)
	_ authn.Forbidder      = (*Base)(nil)
)

// InitializeRemote initializes the handler base and binds the flow.
func (b *Base) InitializeRemote(ctx context.Context, hc authn.HandlerContext, opts *Options, flow Flow) error {
	if err := b.HandlerBase.Initialize(ctx, hc); err != nil {
		return err
	}
	b.opts = opts
	b.flow = flow
	return nil
}

// RemoteOptions returns the resolved remote options.
func (b *Base) RemoteOptions() *Options { return b.opts }

// SignInScheme returns the effective sign-in scheme, failing when it is
// this scheme.
func (b *Base) SignInScheme() (string, error) {
	name := b.opts.SignInScheme
	if name == "" {
		s, err := b.Service().SchemeProvider().DefaultScheme(authn.OpSignIn)
		if err != nil {
			return "", err
		}
		name = s.Name
	}
	if name == b.SchemeName() {
		return "", sserr.SignInSchemeSelfReference(name)
	}
	return name, nil
}

// Authenticate implements [authn.Handler] by authenticating the sign-in
// scheme and accepting only tickets this scheme produced.
func (b *Base) Authenticate(ctx context.Context) (authn.Result, error) {
	signIn, err := b.SignInScheme()
	if err != nil {
		return authn.Result{}, err
	}
	res, err := b.Service().Authenticate(ctx, b.Exchange(), signIn)
	if err != nil || !res.Succeeded() {
		return res, err
	}
	if origin, _ := res.Properties().Item(authn.ItemAuthScheme); origin != b.SchemeName() {
		return authn.NoResult(), nil
	}
	t := res.Ticket().Clone()
	t.Scheme = b.SchemeName()
	return authn.Success(t), nil
}

// Challenge implements [authn.Challenger]: it redirects to the provider
// with protected state and sets the correlation cookie.
func (b *Base) Challenge(ctx context.Context, props *authn.Properties) error {
	if _, err := b.SignInScheme(); err != nil {
		return err
	}
	props = props.Clone()
	if props.RedirectURI() == "" {
		props.SetRedirectURI(b.CurrentURI())
	}
	b.generateCorrelation(props)
	target, err := b.flow.BuildChallengeURL(ctx, props)
	if err != nil {
		return err
	}
	b.Logger().DebugContext(ctx, "remote: redirecting to provider")
	b.Redirect(target)
	return nil
}

// Forbid implements [authn.Forbidder] by forwarding to the sign-in scheme.
func (b *Base) Forbid(ctx context.Context, props *authn.Properties) error {
	signIn, err := b.SignInScheme()
	if err != nil {
		return err
	}
	return b.Service().Forbid(ctx, b.Exchange(), signIn, props)
}

// HandleRequest implements [authn.RequestHandler] for the callback path.
func (b *Base) HandleRequest(ctx context.Context) (bool, error) {
	if b.Request().URL.Path != b.opts.CallbackPath {
		return false, nil
	}
	signIn, err := b.SignInScheme()
	if err != nil {
		return true, err
	}

	out, err := b.flow.HandleRemoteAuthenticate(ctx)
	if err != nil {
		return true, err
	}
	switch {
	case out.AccessDenied:
		return true, b.accessDenied(ctx, out.Properties)
	case out.Failure != nil:
		b.Logger().WarnContext(ctx, "remote: authentication failed",
			"error", out.Failure,
		)
		if sserr.IsAuthentication(out.Failure) {
			return true, out.Failure
		}
		return true, sserr.Wrap(out.Failure, sserr.CodeAuthenticationRemote, "remote: authentication failed")
	case out.Ticket == nil:
		return true, sserr.RemoteFailure("remote: callback produced no ticket")
	}

	props := out.Ticket.Properties.Clone()
	props.SetItem(authn.ItemAuthScheme, b.SchemeName())
	returnTo := props.RedirectURI()
	props.SetRedirectURI("")
	if err := b.Service().SignIn(ctx, b.Exchange(), signIn, out.Ticket.Principal, props); err != nil {
		return true, err
	}
	if returnTo == "" {
		returnTo = "/"
	}
	b.Logger().InfoContext(ctx, "remote: signed in",
		"sign_in_scheme", signIn,
		"subject", out.Ticket.Principal.Subject(),
	)
	b.Redirect(returnTo)
	return true, nil
}

// ProtectState protects props for the provider round-trip.
func (b *Base) ProtectState(ctx context.Context, props *authn.Properties) (string, error) {
	return b.opts.StateFormat.Protect(ctx, props, "")
}

// RecoverState unprotects the state from a callback and checks the
// correlation cookie and the remote timeout. The returned properties no
// longer carry the flow's own items.
func (b *Base) RecoverState(ctx context.Context, state string) (*authn.Properties, error) {
	props, ok := b.opts.StateFormat.Unprotect(ctx, state, "")
	if !ok {
		return nil, sserr.RemoteFailure("remote: the state was missing or invalid")
	}
	if !b.validateCorrelation(props) {
		return props, sserr.RemoteFailure("remote: correlation failed")
	}
	deadline, err := time.Parse(time.RFC3339, itemValue(props, itemDeadline))
	if err != nil || !b.Clock().Now().Before(deadline) {
		return props, sserr.RemoteFailure("remote: the sign-in round-trip timed out")
	}
	props.SetItem(itemDeadline, "")
	return props, nil
}

func (b *Base) generateCorrelation(props *authn.Properties) {
	nonce := uuid.NewString()
	deadline := b.Clock().Now().Add(b.opts.RemoteTimeout)
	props.SetItem(itemCorrelation, nonce)
	props.SetItem(itemDeadline, deadline.UTC().Format(time.RFC3339))
	http.SetCookie(b.Response(), &http.Cookie{
		Name:     b.opts.CorrelationCookiePrefix + nonce,
		Value:    correlationMark,
		Path:     b.opts.CallbackPath,
		Expires:  deadline,
		HttpOnly: true,
		Secure:   b.secure(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *Base) validateCorrelation(props *authn.Properties) bool {
	nonce := itemValue(props, itemCorrelation)
	if nonce == "" {
		return false
	}
	props.SetItem(itemCorrelation, "")
	name := b.opts.CorrelationCookiePrefix + nonce
	c, err := b.Request().Cookie(name)
	if err != nil || c.Value != correlationMark {
		return false
	}
	http.SetCookie(b.Response(), &http.Cookie{
		Name:     name,
		Path:     b.opts.CallbackPath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.secure(),
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func (b *Base) accessDenied(ctx context.Context, props *authn.Properties) error {
	if b.opts.AccessDeniedPath == "" {
		return sserr.RemoteFailure("remote: access was denied by the resource owner or by the remote server")
	}
	location := b.opts.AccessDeniedPath
	if returnTo := props.RedirectURI(); returnTo != "" {
		location += "?" + url.Values{b.opts.ReturnURLParameter: {returnTo}}.Encode()
	}
	b.Logger().InfoContext(ctx, "remote: access denied by provider")
	b.Redirect(location)
	return nil
}

func (b *Base) secure() bool {
	r := b.Request()
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func itemValue(props *authn.Properties, key string) string {
	v, _ := props.Item(key)
	return v
}

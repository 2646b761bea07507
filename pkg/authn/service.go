// Package authn dispatches authentication operations to pluggable scheme
// handlers.
//
// Schemes are registered on a [Builder] under a name together with a
// factory for their [Handler]. The resulting [Service] resolves the scheme
// for each operation (falling back to the defaults in [Options]), builds
// and initializes the handler once per request, and invokes the capability
// the operation needs:
//
//	Authenticate  Handler
//	Challenge     Challenger
//	Forbid        Forbidder
//	SignIn        SignInHandler
//	SignOut       SignOutHandler
//
// A handler lacking the capability yields an error naming the schemes
// that do support it. Handler implementations for cookies, bearer tokens,
// JWTs and OAuth live in subpackages.
//
// Usage:
//
//	svc, err := authn.NewBuilder(authn.Options{DefaultScheme: cookie.DefaultScheme}).
//	    WithDataProtection(provider).
//	    Apply(cookie.AddScheme(cookie.DefaultScheme, cookie.DefaultOptions())).
//	    Build()
//	mux.Handle("/", authn.Middleware(svc)(app))
package authn

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-authn/pkg/claims"
	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-authn/pkg/authn"

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// Builder assembles a [Service]. Registration errors are collected and
// reported by [Builder.Build].
type Builder struct {
	provider       *SchemeProvider
	transformers   []claims.Transformer
	logger         *slog.Logger
	clock          Clock
	dataProtection *protect.Provider
	errs           []error
}

// NewBuilder returns a builder resolving defaults from opts.
func NewBuilder(opts Options) *Builder {
	return &Builder{
		provider: NewSchemeProvider(opts),
		logger:   slog.Default(),
		clock:    SystemClock{},
	}
}

// WithLogger sets the service logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithClock sets the time source handed to handlers.
func (b *Builder) WithClock(clock Clock) *Builder {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// WithDataProtection sets the provider handlers use to protect tickets
// unless their options name another. Set it before adding schemes that
// need it.
func (b *Builder) WithDataProtection(p *protect.Provider) *Builder {
	b.dataProtection = p
	return b
}

// AddTransformer appends a claims transformer run on every successful
// authenticate.
func (b *Builder) AddTransformer(t claims.Transformer) *Builder {
	b.transformers = append(b.transformers, t)
	return b
}

// AddScheme registers a scheme.
func (b *Builder) AddScheme(name string, configure func(*SchemeBuilder)) *Builder {
	return b.AddError(b.provider.AddScheme(name, configure))
}

// AddError records a registration error. A nil error is ignored.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Apply runs a registration function, typically a handler package's
// AddScheme.
func (b *Builder) Apply(register func(*Builder) *Builder) *Builder {
	return register(b)
}

// Logger returns the service logger.
func (b *Builder) Logger() *slog.Logger { return b.logger }

// Clock returns the configured clock.
func (b *Builder) Clock() Clock { return b.clock }

// DataProtection returns the configured provider, or nil.
func (b *Builder) DataProtection() *protect.Provider { return b.dataProtection }

// SchemeProvider returns the registry being built.
func (b *Builder) SchemeProvider() *SchemeProvider { return b.provider }

// Build freezes the registry and returns the service. A single
// registration error is returned unchanged; several are joined.
func (b *Builder) Build() (*Service, error) {
	switch len(b.errs) {
	case 0:
	case 1:
		return nil, b.errs[0]
	default:
		return nil, errors.Join(b.errs...)
	}
	b.provider.Freeze()

	var transformer claims.Transformer
	switch len(b.transformers) {
	case 0:
	case 1:
		transformer = b.transformers[0]
	default:
		transformer = claims.Chain(b.transformers...)
	}

	return &Service{
		provider:       b.provider,
		transformer:    transformer,
		logger:         b.logger,
		clock:          b.clock,
		dataProtection: b.dataProtection,
		tracer:         otel.Tracer(tracerName),
	}, nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service dispatches authentication operations. It is immutable and safe
// for concurrent use; per-request state lives on the [Exchange].
type Service struct {
	provider       *SchemeProvider
	transformer    claims.Transformer
	logger         *slog.Logger
	clock          Clock
	dataProtection *protect.Provider
	tracer         trace.Tracer
}

// SchemeProvider returns the scheme registry.
func (s *Service) SchemeProvider() *SchemeProvider { return s.provider }

// Options returns the scheme defaults.
func (s *Service) Options() Options { return s.provider.Options() }

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Clock returns the time source.
func (s *Service) Clock() Clock { return s.clock }

// DataProtection returns the default data protection provider, or nil.
func (s *Service) DataProtection() *protect.Provider { return s.dataProtection }

// Handler returns the handler for scheme on ex, building and
// initializing it on first use within the request.
func (s *Service) Handler(ctx context.Context, ex *Exchange, scheme string) (Handler, error) {
	if h, ok := ex.cachedHandler(scheme); ok {
		return h, nil
	}
	sch, ok := s.provider.Scheme(scheme)
	if !ok {
		return nil, sserr.SchemeNotRegistered(scheme, s.provider.Names())
	}
	h := sch.newHandler()
	err := h.Initialize(ctx, HandlerContext{
		Scheme:   sch,
		Exchange: ex,
		Service:  s,
		Logger:   s.logger.With("scheme", scheme),
		Clock:    s.clock,
	})
	if err != nil {
		return nil, err
	}
	ex.cacheHandler(scheme, h)
	return h, nil
}

// Authenticate runs the scheme's handler. A successful result has been
// through the claims transformers. The error return is reserved for
// configuration and infrastructure errors; rejected credentials are a
// failed Result.
func (s *Service) Authenticate(ctx context.Context, ex *Exchange, scheme string) (_ Result, err error) {
	ctx, span := s.startSpan(ctx, "Authenticate", scheme)
	defer func() { finishSpan(span, err) }()

	h, name, err := s.resolve(ctx, ex, scheme, OpAuthenticate)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("authn.scheme", name))

	res, err := h.Authenticate(ctx)
	if err != nil {
		return Result{}, err
	}

	switch {
	case res.Succeeded():
		principal, err := s.transform(ctx, res.Principal())
		if err != nil {
			return Result{}, err
		}
		t := res.Ticket()
		res = Success(&Ticket{Principal: principal, Properties: t.Properties, Scheme: t.Scheme})
		span.SetAttributes(attribute.String("authn.outcome", "success"))
		s.logger.DebugContext(ctx, "auth: authenticated",
			"scheme", name,
			"subject", principal.Subject(),
		)
	case res.Failure() != nil:
		span.SetAttributes(attribute.String("authn.outcome", "failure"))
		s.logger.InfoContext(ctx, "auth: not authenticated",
			"scheme", name,
			"error", res.Failure(),
		)
	default:
		span.SetAttributes(attribute.String("authn.outcome", "none"))
		s.logger.DebugContext(ctx, "auth: no credentials",
			"scheme", name,
		)
	}
	return res, nil
}

// Challenge asks the client to authenticate with the scheme.
func (s *Service) Challenge(ctx context.Context, ex *Exchange, scheme string, props *Properties) (err error) {
	ctx, span := s.startSpan(ctx, "Challenge", scheme)
	defer func() { finishSpan(span, err) }()

	h, name, err := s.resolve(ctx, ex, scheme, OpChallenge)
	if err != nil {
		return err
	}
	c, ok := h.(Challenger)
	if !ok {
		return s.unsupported("challenge", name, (*Challenger)(nil))
	}
	if err := c.Challenge(ctx, orNew(props)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "auth: challenged", "scheme", name)
	return nil
}

// Forbid tells the client it lacks access under the scheme.
func (s *Service) Forbid(ctx context.Context, ex *Exchange, scheme string, props *Properties) (err error) {
	ctx, span := s.startSpan(ctx, "Forbid", scheme)
	defer func() { finishSpan(span, err) }()

	h, name, err := s.resolve(ctx, ex, scheme, OpForbid)
	if err != nil {
		return err
	}
	f, ok := h.(Forbidder)
	if !ok {
		return s.unsupported("forbid", name, (*Forbidder)(nil))
	}
	if err := f.Forbid(ctx, orNew(props)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "auth: forbidden", "scheme", name)
	return nil
}

// SignIn persists principal through the scheme.
func (s *Service) SignIn(ctx context.Context, ex *Exchange, scheme string, principal *claims.Principal, props *Properties) (err error) {
	ctx, span := s.startSpan(ctx, "SignIn", scheme)
	defer func() { finishSpan(span, err) }()

	if principal == nil {
		return sserr.New(sserr.CodeValidationRequired, "auth: sign-in requires a principal")
	}
	if s.Options().RequireAuthenticatedSignIn && !principal.IsAuthenticated() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"auth: signing in a principal whose identity is not authenticated is not allowed when Options.RequireAuthenticatedSignIn is true")
	}

	h, name, err := s.resolve(ctx, ex, scheme, OpSignIn)
	if err != nil {
		return err
	}
	si, ok := h.(SignInHandler)
	if !ok {
		return s.unsupported("sign-in", name, (*SignInHandler)(nil))
	}
	if err := si.SignIn(ctx, principal, orNew(props)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "auth: signed in",
		"scheme", name,
		"subject", principal.Subject(),
	)
	return nil
}

// SignOut removes the scheme's credentials.
func (s *Service) SignOut(ctx context.Context, ex *Exchange, scheme string, props *Properties) (err error) {
	ctx, span := s.startSpan(ctx, "SignOut", scheme)
	defer func() { finishSpan(span, err) }()

	h, name, err := s.resolve(ctx, ex, scheme, OpSignOut)
	if err != nil {
		return err
	}
	so, ok := h.(SignOutHandler)
	if !ok {
		return s.unsupported("sign-out", name, (*SignOutHandler)(nil))
	}
	if err := so.SignOut(ctx, orNew(props)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "auth: signed out", "scheme", name)
	return nil
}

func (s *Service) resolve(ctx context.Context, ex *Exchange, scheme string, op Operation) (Handler, string, error) {
	if scheme == "" {
		def, err := s.provider.DefaultScheme(op)
		if err != nil {
			return nil, "", err
		}
		scheme = def.Name
	}
	h, err := s.Handler(ctx, ex, scheme)
	if err != nil {
		return nil, "", err
	}
	return h, scheme, nil
}

func (s *Service) unsupported(capability, scheme string, iface any) error {
	return sserr.CapabilityUnsupported(capability, scheme, schemeNames(s.provider.supporting(iface)))
}

func (s *Service) transform(ctx context.Context, p *claims.Principal) (*claims.Principal, error) {
	if s.transformer == nil {
		return p, nil
	}
	out, err := s.transformer.Transform(ctx, p)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return p, nil
	}
	return out, nil
}

func orNew(props *Properties) *Properties {
	if props == nil {
		return NewProperties()
	}
	return props
}

func (s *Service) startSpan(ctx context.Context, operationName, scheme string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "authn."+operationName,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	if scheme != "" {
		span.SetAttributes(attribute.String("authn.scheme", scheme))
	}
	return ctx, span
}

// finishSpan records an error on the span (if any) and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

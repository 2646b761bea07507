package authn

import (
	"reflect"
	"slices"
	"sync"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// HandlerFactory builds a fresh handler for one request.
type HandlerFactory func() Handler

// Scheme is a registered authentication scheme. It is immutable once
// registered.
type Scheme struct {
	Name        string
	DisplayName string
	HandlerType reflect.Type

	factory HandlerFactory
}

// newHandler builds a handler for the scheme.
func (s *Scheme) newHandler() Handler {
	return s.factory()
}

// Implements reports whether the scheme's handler type implements the
// capability interface iface, given as a nil pointer such as
// (*SignInHandler)(nil).
func (s *Scheme) Implements(iface any) bool {
	t := reflect.TypeOf(iface).Elem()
	return s.HandlerType.Implements(t)
}

// SchemeBuilder collects a scheme's settings during registration.
type SchemeBuilder struct {
	Name        string
	DisplayName string
	Factory     HandlerFactory
}

func (b *SchemeBuilder) build() (*Scheme, error) {
	if b.Factory == nil {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "auth: scheme %q has no handler factory", b.Name)
	}
	prototype := b.Factory()
	if prototype == nil {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "auth: handler factory for scheme %q returned nil", b.Name)
	}
	return &Scheme{
		Name:        b.Name,
		DisplayName: b.DisplayName,
		HandlerType: reflect.TypeOf(prototype),
		factory:     b.Factory,
	}, nil
}

// SchemeProvider is the scheme registry. Reads are safe for concurrent
// use; registration is rejected once the provider is frozen.
type SchemeProvider struct {
	options Options

	mu      sync.RWMutex
	schemes map[string]*Scheme
	order   []string
	frozen  bool
}

// NewSchemeProvider returns an empty registry resolving defaults from
// opts.
func NewSchemeProvider(opts Options) *SchemeProvider {
	return &SchemeProvider{options: opts, schemes: map[string]*Scheme{}}
}

// Options returns the defaults the provider resolves against.
func (p *SchemeProvider) Options() Options {
	return p.options
}

// AddScheme registers a scheme. Registering a name again with the same
// handler type is a no-op; a different handler type is a conflict.
func (p *SchemeProvider) AddScheme(name string, configure func(*SchemeBuilder)) error {
	if name == "" {
		return sserr.New(sserr.CodeInternalConfiguration, "auth: scheme name must not be empty")
	}
	b := &SchemeBuilder{Name: name}
	if configure != nil {
		configure(b)
	}
	b.Name = name
	scheme, err := b.build()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return sserr.Newf(sserr.CodeInternalConfiguration, "auth: cannot register scheme %q after the service is built", name)
	}
	if existing, ok := p.schemes[name]; ok {
		if existing.HandlerType == scheme.HandlerType {
			return nil
		}
		return sserr.Newf(sserr.CodeConflictAlreadyExists,
			"auth: scheme %q is already registered with handler type %s", name, existing.HandlerType).
			WithDetail("scheme", name)
	}
	p.schemes[name] = scheme
	p.order = append(p.order, name)
	return nil
}

// RemoveScheme unregisters a scheme. Removing an unknown scheme is a
// no-op.
func (p *SchemeProvider) RemoveScheme(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return sserr.Newf(sserr.CodeInternalConfiguration, "auth: cannot remove scheme %q after the service is built", name)
	}
	if _, ok := p.schemes[name]; !ok {
		return nil
	}
	delete(p.schemes, name)
	p.order = slices.DeleteFunc(p.order, func(n string) bool { return n == name })
	return nil
}

// Freeze rejects further registration.
func (p *SchemeProvider) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Scheme returns a scheme by name.
func (p *SchemeProvider) Scheme(name string) (*Scheme, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.schemes[name]
	return s, ok
}

// Schemes returns every scheme in registration order.
func (p *SchemeProvider) Schemes() []*Scheme {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Scheme, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.schemes[name])
	}
	return out
}

// Names returns every scheme name in registration order.
func (p *SchemeProvider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.order)
}

// RequestHandlerSchemes returns the schemes whose handlers may handle a
// request outright, such as a remote sign-in callback.
func (p *SchemeProvider) RequestHandlerSchemes() []*Scheme {
	return p.supporting((*RequestHandler)(nil))
}

// DefaultScheme resolves the scheme used for op when none is named:
//
//   - authenticate: DefaultAuthenticateScheme, else DefaultScheme
//   - challenge: DefaultChallengeScheme, else DefaultScheme
//   - forbid: DefaultForbidScheme, else the challenge resolution
//   - sign-in: DefaultSignInScheme, else DefaultScheme
//   - sign-out: DefaultSignOutScheme, else the sign-in resolution
func (p *SchemeProvider) DefaultScheme(op Operation) (*Scheme, error) {
	name := p.options.defaultName(op)
	if name == "" {
		return nil, sserr.DefaultSchemeUnresolved(op.String())
	}
	s, ok := p.Scheme(name)
	if !ok {
		return nil, sserr.SchemeNotRegistered(name, p.Names())
	}
	return s, nil
}

// supporting returns the schemes implementing iface, a nil interface
// pointer.
func (p *SchemeProvider) supporting(iface any) []*Scheme {
	var out []*Scheme
	for _, s := range p.Schemes() {
		if s.Implements(iface) {
			out = append(out, s)
		}
	}
	return out
}

func schemeNames(schemes []*Scheme) []string {
	names := make([]string, len(schemes))
	for i, s := range schemes {
		names[i] = s.Name
	}
	return names
}

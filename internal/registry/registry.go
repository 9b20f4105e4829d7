// Package registry is a small dependency container. Services are registered
// by name with the names they depend on and a factory; they are built lazily,
// once, in dependency order, and closed in reverse order.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("registry: duplicate service")
	// ErrUnknown is returned for a service or dependency that was never registered.
	ErrUnknown = errors.New("registry: unknown service")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry: closed")
)

// CycleError reports a dependency cycle. Path starts and ends with the same name.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "registry: dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Deps gives a factory access to the services it declared.
type Deps struct {
	owner    string
	services map[string]any
}

// Get returns the dependency name. Names not declared at registration are
// rejected so the dependency graph stays truthful.
func (d Deps) Get(name string) (any, error) {
	svc, ok := d.services[name]
	if !ok {
		return nil, fmt.Errorf("registry: %s did not declare a dependency on %s", d.owner, name)
	}
	return svc, nil
}

// Dep returns the dependency name as T.
func Dep[T any](d Deps, name string) (T, error) {
	var zero T
	svc, err := d.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("registry: %s is %T, not %T", name, svc, zero)
	}
	return typed, nil
}

// Factory builds a service from its dependencies.
type Factory func(ctx context.Context, deps Deps) (any, error)

type registration struct {
	name    string
	deps    []string
	factory Factory
}

// Registry holds registrations and built singletons.
type Registry struct {
	mutex     *sync.Mutex
	regs      map[string]*registration
	order     []string
	instances map[string]any
	built     []string
	closed    bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		mutex:     &sync.Mutex{},
		regs:      make(map[string]*registration),
		instances: make(map[string]any),
	}
}

// Register adds a service. Dependencies may be registered later.
func (r *Registry) Register(name string, deps []string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("registry: service name is required")
	}
	if factory == nil {
		return fmt.Errorf("registry: %s has no factory", name)
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, exists := r.regs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.regs[name] = &registration{name: name, deps: append([]string(nil), deps...), factory: factory}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register that panics, for wiring done at startup.
func (r *Registry) MustRegister(name string, deps []string, factory Factory) {
	if err := r.Register(name, deps, factory); err != nil {
		panic(err)
	}
}

// Value registers an already built service.
func (r *Registry) Value(name string, svc any) error {
	return r.Register(name, nil, func(context.Context, Deps) (any, error) { return svc, nil })
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.order...)
}

// Order returns every service in an order where dependencies come first.
// Ties keep registration order.
func (r *Registry) Order() ([]string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []string
	done := make(map[string]bool, len(r.regs))
	for _, name := range r.order {
		if err := r.visit(name, nil, done, func(n string) { out = append(out, n) }); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// visit walks name's dependencies depth first. stack is the current path.
func (r *Registry) visit(name string, stack []string, done map[string]bool, emit func(string)) error {
	if done[name] {
		return nil
	}
	for i, n := range stack {
		if n == name {
			path := append(append([]string(nil), stack[i:]...), name)
			return &CycleError{Path: path}
		}
	}
	reg, ok := r.regs[name]
	if !ok {
		if len(stack) > 0 {
			return fmt.Errorf("%w: %s (required by %s)", ErrUnknown, name, stack[len(stack)-1])
		}
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	stack = append(stack, name)
	for _, dep := range reg.deps {
		if err := r.visit(dep, stack, done, emit); err != nil {
			return err
		}
	}
	done[name] = true
	emit(name)
	return nil
}

// Resolve returns the singleton for name, building it and its dependencies
// on first use.
func (r *Registry) Resolve(ctx context.Context, name string) (any, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if svc, ok := r.instances[name]; ok {
		return svc, nil
	}
	var plan []string
	if err := r.visit(name, nil, make(map[string]bool), func(n string) { plan = append(plan, n) }); err != nil {
		return nil, err
	}
	for _, n := range plan {
		if err := r.build(ctx, n); err != nil {
			return nil, err
		}
	}
	return r.instances[name], nil
}

func (r *Registry) build(ctx context.Context, name string) error {
	if _, ok := r.instances[name]; ok {
		return nil
	}
	reg := r.regs[name]
	deps := Deps{owner: name, services: make(map[string]any, len(reg.deps))}
	for _, dep := range reg.deps {
		deps.services[dep] = r.instances[dep]
	}
	svc, err := reg.factory(ctx, deps)
	if err != nil {
		return fmt.Errorf("registry: build %s: %w", name, err)
	}
	r.instances[name] = svc
	r.built = append(r.built, name)
	log.Debugf("registry: built %s", name)
	return nil
}

// Get resolves name as T.
func Get[T any](ctx context.Context, r *Registry, name string) (T, error) {
	var zero T
	svc, err := r.Resolve(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("registry: %s is %T, not %T", name, svc, zero)
	}
	return typed, nil
}

// InitAll builds every registered service.
func (r *Registry) InitAll(ctx context.Context) error {
	order, err := r.Order()
	if err != nil {
		return err
	}
	for _, name := range order {
		if _, err = r.Resolve(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Built returns the names of the services built so far, in build order.
func (r *Registry) Built() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.built...)
}

// Close closes built services implementing io.Closer in reverse build order
// and returns every close error joined.
func (r *Registry) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for i := len(r.built) - 1; i >= 0; i-- {
		name := r.built[i]
		closer, ok := r.instances[name].(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			log.Warnf("registry: close %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Describe returns one line per service with its dependencies, sorted by name.
func (r *Registry) Describe() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]string, 0, len(r.regs))
	for name, reg := range r.regs {
		line := name
		if len(reg.deps) > 0 {
			line += " <- " + strings.Join(reg.deps, ", ")
		}
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

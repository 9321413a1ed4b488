package saga

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"
)

// validatable is the interface for context validation.
// Compatible with github.com/go-ozzo/ozzo-validation/v4.
type validatable interface {
	Validate() error
}

// Registry collects handlers at startup. New takes a snapshot of it, so
// registering after the router was built has no effect on that router.
//
// Registration mistakes are programming errors: an empty name, a nil
// handler, a duplicate name or a second raw or request handler panic.
type Registry struct {
	handlers  map[string]Handler
	providers map[string]Provider
	raw       RawHandler
	request   RequestHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]Handler),
		providers: make(map[string]Provider),
	}
}

// Handle registers the handler for a saga name.
//
// Example:
//
//	reg.Handle("checkout", &CheckoutHandler{db: db})
func (g *Registry) Handle(saga string, h Handler) {
	if saga == "" || h == nil {
		panic("saga: Handle requires a saga name and a handler")
	}
	if _, dup := g.handlers[saga]; dup {
		panic(fmt.Sprintf("saga: handler for %q already registered", saga))
	}
	g.handlers[saga] = h
}

// HandleFunc registers a handler function for a saga name.
func (g *Registry) HandleFunc(saga string, fn func(ctx context.Context, p *Payload, processed bool) (*Result, error)) {
	g.Handle(saga, HandlerFunc(fn))
}

// Provide registers the provider answering the named request.
func (g *Registry) Provide(name string, p Provider) {
	if name == "" || p == nil {
		panic("saga: Provide requires a request name and a provider")
	}
	if _, dup := g.providers[name]; dup {
		panic(fmt.Sprintf("saga: provider for %q already registered", name))
	}
	g.providers[name] = p
}

// ProvideFunc registers a provider function for the named request.
func (g *Registry) ProvideFunc(name string, fn func(ctx context.Context, p *Payload) (any, error)) {
	g.Provide(name, ProviderFunc(fn))
}

// HandleRaw registers the single handler for non-saga bodies.
func (g *Registry) HandleRaw(h RawHandler) {
	if h == nil {
		panic("saga: HandleRaw requires a handler")
	}
	if g.raw != nil {
		panic("saga: raw handler already registered")
	}
	g.raw = h
}

// HandleRequest registers the single handler for direct request/response
// invocations.
func (g *Registry) HandleRequest(h RequestHandler) {
	if h == nil {
		panic("saga: HandleRequest requires a handler")
	}
	if g.request != nil {
		panic("saga: request handler already registered")
	}
	g.request = h
}

// HandleTyped registers a handler that receives the saga context decoded
// into T. Struct contexts are checked against their validate tags, and if T
// implements Validate() error that runs too.
//
// This is a package-level function (not a method) due to Go generics limitations:
// methods cannot have type parameters independent of the receiver.
//
// Example:
//
//	saga.HandleTyped(reg, "checkout", func(ctx context.Context, p *saga.Payload, c Order, processed bool) (*saga.Result, error) {
//	    return &saga.Result{Type: "checkout.reserved", Payload: c.ID}, nil
//	})
func HandleTyped[T any](g *Registry, saga string, fn func(ctx context.Context, p *Payload, c T, processed bool) (*Result, error)) {
	g.Handle(saga, HandlerFunc(func(ctx context.Context, p *Payload, processed bool) (*Result, error) {
		c, err := decodeContext[T](p)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p, c, processed)
	}))
}

// ProvideTyped registers a provider that receives the saga context decoded
// into T.
func ProvideTyped[T any](g *Registry, name string, fn func(ctx context.Context, p *Payload, c T) (any, error)) {
	g.Provide(name, ProviderFunc(func(ctx context.Context, p *Payload) (any, error) {
		c, err := decodeContext[T](p)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p, c)
	}))
}

func decodeContext[T any](p *Payload) (T, error) {
	var c T
	if err := p.UnmarshalContext(&c); err != nil {
		return c, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := validateTags(c); err != nil {
		return c, fmt.Errorf("validate context: %w", err)
	}

	if v, ok := any(c).(validatable); ok {
		if err := v.Validate(); err != nil {
			return c, fmt.Errorf("validate context: %w", err)
		}
	} else if v, ok := any(&c).(validatable); ok {
		if err := v.Validate(); err != nil {
			return c, fmt.Errorf("validate context: %w", err)
		}
	}
	return c, nil
}

// validateTags runs validate tags on struct values and ignores the rest.
func validateTags(v any) error {
	err := validate.Struct(v)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}

// table is the frozen view of a Registry the router dispatches from.
type table struct {
	handlers  map[string]Handler
	providers map[string]Provider
	raw       RawHandler
	request   RequestHandler
}

func (g *Registry) snapshot() table {
	if g == nil {
		return table{handlers: map[string]Handler{}, providers: map[string]Provider{}}
	}
	return table{
		handlers:  maps.Clone(g.handlers),
		providers: maps.Clone(g.providers),
		raw:       g.raw,
		request:   g.request,
	}
}

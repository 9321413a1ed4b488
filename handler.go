package saga

import (
	"context"
)

// Handler processes a saga event addressed to this service.
//
// processed reports whether this service already decorated the payload in a
// previous delivery. Delivery is at-least-once, so handlers with side effects
// should use it to avoid repeating them.
//
// Return a Result to append a decoration and republish the payload, or nil
// to consume the event without republishing. An error fails the record so
// the delivery service retries it.
//
// Example:
//
//	type ChargeHandler struct {
//	    billing Billing
//	}
//
//	func (h *ChargeHandler) Handle(ctx context.Context, p *saga.Payload, processed bool) (*saga.Result, error) {
//	    if processed {
//	        return nil, nil
//	    }
//	    receipt, err := h.billing.Charge(ctx, p.CorrelationID())
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &saga.Result{Type: "billing.charged", Payload: receipt}, nil
//	}
type Handler interface {
	Handle(ctx context.Context, p *Payload, processed bool) (*Result, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, p *Payload, processed bool) (*Result, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, p *Payload, processed bool) (*Result, error) {
	return f(ctx, p, processed)
}

// Provider answers one named request a saga has issued. A non-nil answer is
// appended as a decoration named after the request and the payload is
// republished; a nil answer consumes the event.
type Provider interface {
	Provide(ctx context.Context, p *Payload) (any, error)
}

// ProviderFunc is a function adapter for Provider.
type ProviderFunc func(ctx context.Context, p *Payload) (any, error)

// Provide implements the Provider interface.
func (f ProviderFunc) Provide(ctx context.Context, p *Payload) (any, error) {
	return f(ctx, p)
}

// RawHandler receives bodies that are not saga payloads.
type RawHandler interface {
	HandleRaw(ctx context.Context, body string) error
}

// RawHandlerFunc is a function adapter for RawHandler.
type RawHandlerFunc func(ctx context.Context, body string) error

// HandleRaw implements the RawHandler interface.
func (f RawHandlerFunc) HandleRaw(ctx context.Context, body string) error {
	return f(ctx, body)
}

// RequestHandler serves direct request/response invocations.
type RequestHandler interface {
	ServeRequest(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// RequestHandlerFunc is a function adapter for RequestHandler.
type RequestHandlerFunc func(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)

// ServeRequest implements the RequestHandler interface.
func (f RequestHandlerFunc) ServeRequest(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return f(ctx, req)
}

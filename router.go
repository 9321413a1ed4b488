package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Router classifies ingested records and dispatches each one to the saga
// handler, provider, raw handler or redriver it belongs to.
//
// Usage:
//  1. Build a Registry with the service's handlers
//  2. Create a router with New
//  3. Hand invocations to Invoke (or Process / Serve directly)
//
// Router is safe for concurrent use. Its handler table is a snapshot of the
// registry taken by New.
type Router struct {
	service     string
	table       table
	publisher   *Publisher
	redriver    *Redriver
	inspector   Inspector
	concurrency int
	hooks       hooks
}

// Option configures a Router.
type Option func(*Router)

// WithPublisher sets the publisher used to republish decorated payloads.
// Handlers reach it through PublisherFromContext.
func WithPublisher(p *Publisher) Option {
	return func(r *Router) {
		r.publisher = p
	}
}

// WithRedriver sets the redriver used for failed-batch notifications.
func WithRedriver(d *Redriver) Option {
	return func(r *Router) {
		r.redriver = d
	}
}

// WithInspector overrides the inspector used to sniff record bodies.
func WithInspector(i Inspector) Option {
	return func(r *Router) {
		r.inspector = i
	}
}

// WithConcurrency bounds how many records of one batch are dispatched at
// once. Zero or less means no bound.
func WithConcurrency(n int) Option {
	return func(r *Router) {
		r.concurrency = n
	}
}

// New creates a Router dispatching on behalf of the named service.
//
// Example:
//
//	reg := saga.NewRegistry()
//	reg.Handle("checkout", &CheckoutHandler{})
//	reg.ProvideFunc("auth.email", lookupEmail)
//
//	r := saga.New("billing", reg,
//	    saga.WithPublisher(pub),
//	    saga.WithRedriver(redriver),
//	)
func New(service string, reg *Registry, opts ...Option) *Router {
	r := &Router{
		service:   service,
		table:     reg.snapshot(),
		inspector: JSONInspector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Service returns the name decorations are stamped with.
func (r *Router) Service() string { return r.service }

// BatchItemFailure identifies one record the delivery service should retry.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResponse is the partial-failure result of a batch.
type BatchResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// Failed returns the ids of the failed records.
func (b BatchResponse) Failed() []string {
	ids := make([]string, 0, len(b.BatchItemFailures))
	for _, f := range b.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}

// InvokeResult is what an invocation returns: a batch response for record
// batches or an HTTP response for direct calls.
type InvokeResult struct {
	Batch *BatchResponse
	HTTP  *HTTPResponse
}

// MarshalJSON encodes whichever response is set.
func (res InvokeResult) MarshalJSON() ([]byte, error) {
	if res.HTTP != nil {
		return json.Marshal(res.HTTP)
	}
	if res.Batch != nil {
		return json.Marshal(res.Batch)
	}
	return []byte("null"), nil
}

// Invoke handles one invocation of unknown shape. Record batches go through
// Process; anything without a record list is served as a direct request.
func (r *Router) Invoke(ctx context.Context, raw []byte) (InvokeResult, error) {
	if !gjson.ValidBytes(raw) {
		return InvokeResult{}, fmt.Errorf("%w: %w", ErrInvalidEvent, ErrInvalidJSON)
	}
	if gjson.GetBytes(raw, "Records").Exists() {
		resp, err := r.Process(ctx, raw)
		if err != nil {
			return InvokeResult{}, err
		}
		return InvokeResult{Batch: &resp}, nil
	}

	req, err := ParseHTTPRequest(raw)
	if err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{HTTP: r.Serve(ctx, req)}, nil
}

// Process extracts the records of a batch and dispatches them. A malformed
// batch is returned as an error; record failures are reported in the
// response.
func (r *Router) Process(ctx context.Context, raw []byte) (BatchResponse, error) {
	envs, err := Extract(raw)
	if err != nil {
		return BatchResponse{}, err
	}
	return r.ProcessEnvelopes(ctx, envs), nil
}

// ProcessEnvelopes dispatches all envelopes concurrently and waits for all
// of them. One record's failure never affects another; the response lists
// exactly the failed message ids, in input order.
func (r *Router) ProcessEnvelopes(ctx context.Context, envs []RawEnvelope) BatchResponse {
	errs := make([]error, len(envs))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, env := range envs {
		g.Go(func() error {
			errs[i] = r.Dispatch(ctx, env)
			return nil
		})
	}
	_ = g.Wait()

	resp := BatchResponse{BatchItemFailures: []BatchItemFailure{}}
	for i, err := range errs {
		if err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, BatchItemFailure{ItemIdentifier: envs[i].MessageID})
		}
	}
	return resp
}

// Serve routes a direct invocation to the request handler. A missing
// handler, a handler error or a panic all yield the same 500 response.
func (r *Router) Serve(ctx context.Context, req *HTTPRequest) *HTTPResponse {
	key := req.Method + " " + req.Path
	ctx = r.hooks.classify(ctx, "", KindRequest, key)

	h := r.table.request
	if h == nil {
		r.hooks.skip(ctx, KindRequest, key)
		return internalError()
	}

	var resp *HTTPResponse
	err := r.run(ctx, KindRequest, key, func(ctx context.Context) error {
		var err error
		resp, err = h.ServeRequest(ctx, req)
		return err
	})
	if err != nil {
		return internalError()
	}
	if resp == nil {
		return &HTTPResponse{StatusCode: http.StatusNoContent}
	}
	return resp
}

// Dispatch handles one record: redrive notification first, then saga
// payload, then raw body. A failure is returned as a *DispatchError; a
// record nothing is registered for is consumed and returns nil.
func (r *Router) Dispatch(ctx context.Context, env RawEnvelope) error {
	ctx = withPublisher(ctx, r.publisher)
	body := []byte(env.Body)

	view, err := r.inspector.Inspect(body)
	if err != nil {
		return r.dispatchRaw(ctx, env)
	}
	if RedriveNotification.Match(view) {
		return r.dispatchRedrive(ctx, env)
	}
	if IsSagaPayload.Match(view) {
		if p, ok := Parse(body); ok {
			return r.dispatchSaga(ctx, env, p)
		}
	}
	return r.dispatchRaw(ctx, env)
}

func (r *Router) dispatchSaga(ctx context.Context, env RawEnvelope, p *Payload) error {
	processed := p.ProcessedByService(r.service)
	p.bind(r.service)

	if h, ok := r.table.handlers[p.Saga()]; ok {
		ctx = r.hooks.classify(ctx, env.MessageID, KindSaga, p.Saga())
		return r.wrap(env, KindSaga, p.Saga(), r.run(ctx, KindSaga, p.Saga(), func(ctx context.Context) error {
			res, err := h.Handle(ctx, p, processed)
			if err != nil {
				return err
			}
			if res == nil {
				return nil
			}
			if res.Type == "" {
				return ErrInvalidResult
			}
			if err := p.Decorate(res.Type, res.Payload); err != nil {
				return err
			}
			return r.republish(ctx, p)
		}))
	}

	next, ok := p.Next()
	if !ok {
		ctx = r.hooks.classify(ctx, env.MessageID, KindSaga, p.Saga())
		r.hooks.skip(ctx, KindSaga, p.Saga())
		return nil
	}

	ctx = r.hooks.classify(ctx, env.MessageID, KindProvider, next)
	provider, ok := r.table.providers[next]
	if !ok {
		r.hooks.skip(ctx, KindProvider, next)
		return nil
	}
	return r.wrap(env, KindProvider, next, r.run(ctx, KindProvider, next, func(ctx context.Context) error {
		answer, err := provider.Provide(ctx, p)
		if err != nil {
			return err
		}
		if isEmpty(answer) {
			return nil
		}
		if err := p.Decorate(next, answer); err != nil {
			return err
		}
		return r.republish(ctx, p)
	}))
}

func (r *Router) dispatchRaw(ctx context.Context, env RawEnvelope) error {
	ctx = r.hooks.classify(ctx, env.MessageID, KindRaw, "")
	h := r.table.raw
	if h == nil {
		r.hooks.skip(ctx, KindRaw, "")
		return nil
	}
	return r.wrap(env, KindRaw, "", r.run(ctx, KindRaw, "", func(ctx context.Context) error {
		return h.HandleRaw(ctx, env.Body)
	}))
}

func (r *Router) dispatchRedrive(ctx context.Context, env RawEnvelope) error {
	fb, err := ParseFailedBatch([]byte(env.Body))
	ctx = r.hooks.classify(ctx, env.MessageID, KindRedrive, fb.ShardID)
	if err != nil {
		r.hooks.failure(ctx, KindRedrive, "", err, 0)
		return r.wrap(env, KindRedrive, "", err)
	}

	return r.wrap(env, KindRedrive, fb.ShardID, r.run(ctx, KindRedrive, fb.ShardID, func(ctx context.Context) error {
		staged, err := r.redriver.Redrive(ctx, fb)
		r.hooks.redrive(ctx, fb, staged, err)
		return err
	}))
}

func (r *Router) republish(ctx context.Context, p *Payload) error {
	var err error
	if r.publisher == nil {
		err = ErrStreamNotConfigured
	} else {
		err = r.publisher.Publish(ctx, p)
	}
	r.hooks.republish(ctx, p, err)
	if err != nil {
		return fmt.Errorf("republish: %w", err)
	}
	return nil
}

// run executes fn between the dispatch and outcome hooks, turning a panic
// into a *PanicError.
func (r *Router) run(ctx context.Context, kind Kind, key string, fn func(context.Context) error) (err error) {
	r.hooks.dispatch(ctx, kind, key)

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
		d := time.Since(start)
		if err != nil {
			r.hooks.failure(ctx, kind, key, err, d)
		} else {
			r.hooks.success(ctx, kind, key, d)
		}
	}()

	return fn(ctx)
}

func (r *Router) wrap(env RawEnvelope, kind Kind, key string, err error) error {
	if err == nil {
		return nil
	}
	return &DispatchError{MessageID: env.MessageID, Kind: kind, Key: key, Err: err}
}

// isEmpty reports whether a provider answer carries nothing to decorate:
// nil of any kind, an empty string or byte slice, or the JSON literal null.
func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case json.RawMessage:
		return isNullJSON(v)
	case []byte:
		return len(v) == 0
	case string:
		return v == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

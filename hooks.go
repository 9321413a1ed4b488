package saga

import (
	"context"
	"time"
)

// Kind is what a record was classified as.
type Kind string

const (
	// KindSaga is a payload handled by the handler registered for its saga.
	KindSaga Kind = "saga"
	// KindProvider is a payload answered by the provider for its next request.
	KindProvider Kind = "provider"
	// KindRaw is a body that is not a saga payload.
	KindRaw Kind = "raw"
	// KindRedrive is a retries-exhausted notification for a shard range.
	KindRedrive Kind = "redrive"
	// KindRequest is a direct request/response invocation.
	KindRequest Kind = "request"
)

// OnClassifyFunc is called once a record has been classified and its target
// chosen. Use this to enrich the context with logging fields or trace spans.
// The returned context is used for the rest of the record.
type OnClassifyFunc func(ctx context.Context, messageID string, kind Kind, key string) context.Context

// OnDispatchFunc is called just before the handler executes.
type OnDispatchFunc func(ctx context.Context, kind Kind, key string)

// OnSuccessFunc is called after the handler completes successfully.
type OnSuccessFunc func(ctx context.Context, kind Kind, key string, duration time.Duration)

// OnFailureFunc is called after the handler fails. The record is reported
// back to the delivery service as failed.
type OnFailureFunc func(ctx context.Context, kind Kind, key string, err error, duration time.Duration)

// OnSkipFunc is called when nothing is registered for a record. The record
// counts as consumed.
type OnSkipFunc func(ctx context.Context, kind Kind, key string)

// OnRepublishFunc is called after a decorated payload was written back to
// the stream, with the write error if any.
type OnRepublishFunc func(ctx context.Context, p *Payload, err error)

// OnRedriveFunc is called after a failed batch was moved to the queue.
type OnRedriveFunc func(ctx context.Context, fb FailedBatch, staged int, err error)

// hooks holds all configured hook functions.
type hooks struct {
	onClassify  []OnClassifyFunc
	onDispatch  []OnDispatchFunc
	onSuccess   []OnSuccessFunc
	onFailure   []OnFailureFunc
	onSkip      []OnSkipFunc
	onRepublish []OnRepublishFunc
	onRedrive   []OnRedriveFunc
}

// WithOnClassify adds a hook called after a record is classified.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	saga.WithOnClassify(func(ctx context.Context, id string, kind saga.Kind, key string) context.Context {
//	    return logger.With().Str("message_id", id).Logger().WithContext(ctx)
//	})
func WithOnClassify(fn OnClassifyFunc) Option {
	return func(r *Router) {
		r.hooks.onClassify = append(r.hooks.onClassify, fn)
	}
}

// WithOnDispatch adds a hook called just before the handler executes.
// Multiple hooks are called in order.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(r *Router) {
		r.hooks.onDispatch = append(r.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after the handler completes successfully.
// Multiple hooks are called in order.
//
// Example:
//
//	saga.WithOnSuccess(func(ctx context.Context, kind saga.Kind, key string, d time.Duration) {
//	    metrics.Timing("saga.success", d, "kind:"+string(kind))
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(r *Router) {
		r.hooks.onSuccess = append(r.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after the handler fails.
// Multiple hooks are called in order.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(r *Router) {
		r.hooks.onFailure = append(r.hooks.onFailure, fn)
	}
}

// WithOnSkip adds a hook called when a record has no registered target.
// Multiple hooks are called in order.
func WithOnSkip(fn OnSkipFunc) Option {
	return func(r *Router) {
		r.hooks.onSkip = append(r.hooks.onSkip, fn)
	}
}

// WithOnRepublish adds a hook called after each republish attempt.
func WithOnRepublish(fn OnRepublishFunc) Option {
	return func(r *Router) {
		r.hooks.onRepublish = append(r.hooks.onRepublish, fn)
	}
}

// WithOnRedrive adds a hook called after each redrive attempt.
func WithOnRedrive(fn OnRedriveFunc) Option {
	return func(r *Router) {
		r.hooks.onRedrive = append(r.hooks.onRedrive, fn)
	}
}

func (h *hooks) classify(ctx context.Context, messageID string, kind Kind, key string) context.Context {
	for _, fn := range h.onClassify {
		ctx = fn(ctx, messageID, kind, key)
	}
	return ctx
}

func (h *hooks) dispatch(ctx context.Context, kind Kind, key string) {
	for _, fn := range h.onDispatch {
		fn(ctx, kind, key)
	}
}

func (h *hooks) success(ctx context.Context, kind Kind, key string, d time.Duration) {
	for _, fn := range h.onSuccess {
		fn(ctx, kind, key, d)
	}
}

func (h *hooks) failure(ctx context.Context, kind Kind, key string, err error, d time.Duration) {
	for _, fn := range h.onFailure {
		fn(ctx, kind, key, err, d)
	}
}

func (h *hooks) skip(ctx context.Context, kind Kind, key string) {
	for _, fn := range h.onSkip {
		fn(ctx, kind, key)
	}
}

func (h *hooks) republish(ctx context.Context, p *Payload, err error) {
	for _, fn := range h.onRepublish {
		fn(ctx, p, err)
	}
}

func (h *hooks) redrive(ctx context.Context, fb FailedBatch, staged int, err error) {
	for _, fn := range h.onRedrive {
		fn(ctx, fb, staged, err)
	}
}

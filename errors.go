package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned when an invocation is neither a record batch
	// nor a request the router can serve.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrServiceNotBound is returned when a payload is decorated outside a
	// dispatch, before a service name was bound to it.
	ErrServiceNotBound = errors.New("service name not bound")

	// ErrInvalidResult is returned when a handler result has no type.
	ErrInvalidResult = errors.New("invalid result")

	// ErrStreamNotConfigured is returned when a payload must be published but
	// no stream writer was configured.
	ErrStreamNotConfigured = errors.New("stream not configured")

	// ErrQueueNotConfigured is returned when entries must be enqueued but no
	// queue url was configured.
	ErrQueueNotConfigured = errors.New("queue not configured")

	// ErrPartialSend is returned when the queue rejected some entries of a batch.
	ErrPartialSend = errors.New("queue rejected entries")

	// ErrInvalidBatch is returned for a failed-batch notification that lacks
	// the shard or sequence range.
	ErrInvalidBatch = errors.New("invalid failed batch")

	// ErrRedriveIncomplete is returned when the end of a failed range was not
	// reached within the page budget.
	ErrRedriveIncomplete = errors.New("redrive incomplete")
)

// DispatchError describes why one record failed.
type DispatchError struct {
	MessageID string
	Kind      Kind
	Key       string
	Err       error
}

func (e *DispatchError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.MessageID, e.Err)
	}
	return fmt.Sprintf("%s %q (%s): %v", e.Kind, e.Key, e.MessageID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

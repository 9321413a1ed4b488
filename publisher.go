package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	// DefaultStreamName is the stream payloads are published to when no
	// other name is configured.
	DefaultStreamName = "message-bus"

	// DefaultQueueBatchSize is how many entries go into one queue send.
	DefaultQueueBatchSize = 5

	// MaxQueueBatchSize is the queue backend's batch ceiling.
	MaxQueueBatchSize = 10
)

// Publisher writes payloads to the stream and forwards raw bodies to the
// secondary queue.
type Publisher struct {
	stream     StreamWriter
	streamName string
	queue      QueueWriter
	queueURL   string
	batchSize  int
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithStream sets the stream payloads are published to. An empty name
// keeps DefaultStreamName.
func WithStream(w StreamWriter, name string) PublisherOption {
	return func(p *Publisher) {
		p.stream = w
		if name != "" {
			p.streamName = name
		}
	}
}

// WithQueue sets the queue Enqueue forwards to.
func WithQueue(q QueueWriter, queueURL string) PublisherOption {
	return func(p *Publisher) {
		p.queue = q
		p.queueURL = queueURL
	}
}

// WithQueueBatchSize sets how many entries go into one queue send.
func WithQueueBatchSize(n int) PublisherOption {
	return func(p *Publisher) {
		p.batchSize = clampBatchSize(n)
	}
}

// NewPublisher creates a Publisher.
//
// Example:
//
//	pub := saga.NewPublisher(
//	    saga.WithStream(stream, "message-bus"),
//	    saga.WithQueue(queue, os.Getenv("SQS_QUEUE_URL")),
//	)
func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		streamName: DefaultStreamName,
		batchSize:  DefaultQueueBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes the payload to the stream, keyed by its saga name so every
// message of one saga lands on the same shard.
func (p *Publisher) Publish(ctx context.Context, pl *Payload) error {
	data, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.put(ctx, pl.Saga(), data)
}

// PublishRaw writes any JSON value to the stream under the given partition key.
func (p *Publisher) PublishRaw(ctx context.Context, partitionKey string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return p.put(ctx, partitionKey, data)
}

// Enqueue forwards bodies to the secondary queue in bounded batches.
func (p *Publisher) Enqueue(ctx context.Context, bodies ...string) error {
	if p.queue == nil || p.queueURL == "" {
		return ErrQueueNotConfigured
	}
	entries := make([]QueueEntry, 0, len(bodies))
	for _, b := range bodies {
		entries = append(entries, QueueEntry{ID: uuid.NewString(), Body: b})
	}
	return sendBatches(ctx, p.queue, p.queueURL, entries, p.batchSize)
}

func (p *Publisher) put(ctx context.Context, partitionKey string, data []byte) error {
	if p == nil || p.stream == nil {
		return ErrStreamNotConfigured
	}
	err := p.stream.PutRecord(ctx, OutboundRecord{
		Stream:       p.streamName,
		PartitionKey: partitionKey,
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("put record to %s: %w", p.streamName, err)
	}
	return nil
}

// sendBatches sends every chunk even after a failure and reports all
// failures together.
func sendBatches(ctx context.Context, q QueueWriter, queueURL string, entries []QueueEntry, size int) error {
	var errs error
	for chunk := range slices.Chunk(entries, clampBatchSize(size)) {
		failed, err := q.SendBatch(ctx, queueURL, chunk)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send batch: %w", err))
			continue
		}
		if len(failed) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrPartialSend, strings.Join(failed, ", ")))
		}
	}
	return errs
}

func clampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultQueueBatchSize
	case n > MaxQueueBatchSize:
		return MaxQueueBatchSize
	default:
		return n
	}
}

type publisherKey struct{}

// PublisherFromContext returns the publisher of the router dispatching the
// current record.
func PublisherFromContext(ctx context.Context) (*Publisher, bool) {
	p, ok := ctx.Value(publisherKey{}).(*Publisher)
	return p, ok && p != nil
}

func withPublisher(ctx context.Context, p *Publisher) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, publisherKey{}, p)
}

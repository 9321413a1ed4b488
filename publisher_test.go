package saga_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/saga"
	"github.com/bjaus/saga/sagatest"
)

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("keys records by saga", func(t *testing.T) {
		stream := sagatest.NewStream()
		pub := saga.NewPublisher(saga.WithStream(stream, "orders-bus"))

		p, err := saga.NewPayload("checkout", map[string]string{"id": "o-1"})
		require.NoError(t, err)
		require.NoError(t, pub.Publish(ctx, p))

		written := stream.Written()
		require.Len(t, written, 1)
		assert.Equal(t, "orders-bus", written[0].Stream)
		assert.Equal(t, "checkout", written[0].PartitionKey)

		back := stream.Payloads()
		require.Len(t, back, 1)
		assert.Equal(t, p.CorrelationID(), back[0].CorrelationID())
	})

	t.Run("default stream name", func(t *testing.T) {
		stream := sagatest.NewStream()
		pub := saga.NewPublisher(saga.WithStream(stream, ""))

		require.NoError(t, pub.PublishRaw(ctx, "key", map[string]int{"n": 1}))

		written := stream.Written()
		require.Len(t, written, 1)
		assert.Equal(t, saga.DefaultStreamName, written[0].Stream)
		assert.Equal(t, "key", written[0].PartitionKey)
		assert.JSONEq(t, `{"n":1}`, string(written[0].Data))
	})

	t.Run("no stream", func(t *testing.T) {
		p, err := saga.NewPayload("checkout", nil)
		require.NoError(t, err)

		assert.ErrorIs(t, saga.NewPublisher().Publish(ctx, p), saga.ErrStreamNotConfigured)
		assert.ErrorIs(t, saga.NewPublisher().PublishRaw(ctx, "k", 1), saga.ErrStreamNotConfigured)
	})

	t.Run("unencodable value", func(t *testing.T) {
		pub := saga.NewPublisher(saga.WithStream(sagatest.NewStream(), ""))
		assert.Error(t, pub.PublishRaw(ctx, "k", func() {}))
	})
}

func TestPublisher_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("sends bounded batches with unique ids", func(t *testing.T) {
		queue := sagatest.NewQueue()
		pub := saga.NewPublisher(saga.WithQueue(queue, queueURL), saga.WithQueueBatchSize(3))

		require.NoError(t, pub.Enqueue(ctx, "a", "b", "c", "d"))

		batches := queue.Batches()
		require.Len(t, batches, 2)
		assert.Len(t, batches[0], 3)
		assert.Len(t, batches[1], 1)

		seen := map[string]bool{}
		for _, e := range queue.Entries() {
			_, err := uuid.Parse(e.ID)
			assert.NoError(t, err)
			assert.False(t, seen[e.ID])
			seen[e.ID] = true
		}
		assert.Equal(t, "d", batches[1][0].Body)
	})

	t.Run("nothing to send", func(t *testing.T) {
		queue := sagatest.NewQueue()
		pub := saga.NewPublisher(saga.WithQueue(queue, queueURL))

		require.NoError(t, pub.Enqueue(ctx))
		assert.Empty(t, queue.Batches())
	})

	t.Run("no queue", func(t *testing.T) {
		assert.ErrorIs(t, saga.NewPublisher().Enqueue(ctx, "a"), saga.ErrQueueNotConfigured)
		assert.ErrorIs(t,
			saga.NewPublisher(saga.WithQueue(sagatest.NewQueue(), "")).Enqueue(ctx, "a"),
			saga.ErrQueueNotConfigured,
		)
	})
}

func TestPublisherFromContext(t *testing.T) {
	_, ok := saga.PublisherFromContext(context.Background())
	assert.False(t, ok)
}

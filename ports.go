package saga

import (
	"context"
)

// OutboundRecord is one record written to the stream.
type OutboundRecord struct {
	Stream       string
	PartitionKey string
	Data         []byte
}

// StreamWriter appends records to the stream.
type StreamWriter interface {
	PutRecord(ctx context.Context, rec OutboundRecord) error
}

// StreamRecord is one record read back from a shard.
type StreamRecord struct {
	SequenceNumber string
	PartitionKey   string
	Data           []byte
}

// StreamPage is the result of one read from a shard cursor.
type StreamPage struct {
	Records []StreamRecord

	// NextIterator continues the read. Empty when the shard is closed.
	NextIterator string

	// MillisBehindLatest is how far the page is from the tip of the shard.
	MillisBehindLatest int64
}

// StreamReader reads a shard from an exact position.
type StreamReader interface {
	// ShardIterator returns a cursor positioned at the record with the given
	// sequence number, not after it.
	ShardIterator(ctx context.Context, streamARN, shardID, sequenceNumber string) (string, error)

	// Records reads the next page from a cursor.
	Records(ctx context.Context, iterator string) (StreamPage, error)
}

// QueueEntry is one message of a batched queue send.
type QueueEntry struct {
	ID   string
	Body string
}

// QueueWriter sends entries to a queue in one batch. It returns the ids of
// the entries the queue rejected.
type QueueWriter interface {
	SendBatch(ctx context.Context, queueURL string, entries []QueueEntry) ([]string, error)
}

// Package sagatest provides in-memory stream and queue fakes and builders
// for the record shapes the saga extractor understands.
package sagatest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bjaus/saga"
)

// Stream is an in-memory stream. Written records are kept for inspection
// and shards can be seeded for positional reads.
type Stream struct {
	mu       sync.Mutex
	written  []saga.OutboundRecord
	shards   map[string][]saga.StreamRecord
	PutErr   error
	ReadErr  error
	PageSize int
}

var (
	_ saga.StreamWriter = (*Stream)(nil)
	_ saga.StreamReader = (*Stream)(nil)
)

// NewStream returns an empty Stream.
func NewStream() *Stream {
	return &Stream{shards: make(map[string][]saga.StreamRecord)}
}

// PutRecord records rec, or fails with PutErr.
func (s *Stream) PutRecord(_ context.Context, rec saga.OutboundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.written = append(s.written, rec)
	return nil
}

// Written returns every record put so far.
func (s *Stream) Written() []saga.OutboundRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.written)
}

// Payloads parses every written record as a saga payload.
func (s *Stream) Payloads() []*saga.Payload {
	var out []*saga.Payload
	for _, rec := range s.Written() {
		if p, ok := saga.Parse(rec.Data); ok {
			out = append(out, p)
		}
	}
	return out
}

// Seed appends records to a shard.
func (s *Stream) Seed(shardID string, recs ...saga.StreamRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[shardID] = append(s.shards[shardID], recs...)
}

// ShardIterator positions a cursor at the record with the given sequence
// number.
func (s *Stream) ShardIterator(_ context.Context, _, shardID, sequenceNumber string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.shards[shardID]
	if !ok {
		return "", fmt.Errorf("shard %s not found", shardID)
	}
	i := slices.IndexFunc(recs, func(r saga.StreamRecord) bool { return r.SequenceNumber == sequenceNumber })
	if i < 0 {
		return "", fmt.Errorf("sequence %s not in shard %s", sequenceNumber, shardID)
	}
	return iterator(shardID, i), nil
}

// Records reads up to PageSize records (all when zero) from the cursor.
func (s *Stream) Records(_ context.Context, it string) (saga.StreamPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return saga.StreamPage{}, s.ReadErr
	}
	shardID, pos, err := parseIterator(it)
	if err != nil {
		return saga.StreamPage{}, err
	}
	recs := s.shards[shardID]
	end := len(recs)
	if s.PageSize > 0 {
		end = min(pos+s.PageSize, len(recs))
	}
	page := saga.StreamPage{
		Records:            slices.Clone(recs[pos:end]),
		NextIterator:       iterator(shardID, end),
		MillisBehindLatest: int64(len(recs) - end),
	}
	return page, nil
}

func iterator(shardID string, pos int) string {
	return shardID + "/" + strconv.Itoa(pos)
}

func parseIterator(it string) (string, int, error) {
	i := strings.LastIndex(it, "/")
	if i < 0 {
		return "", 0, fmt.Errorf("bad iterator %q", it)
	}
	pos, err := strconv.Atoi(it[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("bad iterator %q: %w", it, err)
	}
	return it[:i], pos, nil
}

// Queue is an in-memory queue that records every batch it receives.
type Queue struct {
	mu      sync.Mutex
	batches [][]saga.QueueEntry

	// Reject lists entry ids the queue reports as failed.
	Reject map[string]bool
	// Err fails every send.
	Err error
}

var _ saga.QueueWriter = (*Queue)(nil)

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{Reject: make(map[string]bool)}
}

// SendBatch records entries and reports the rejected ones.
func (q *Queue) SendBatch(_ context.Context, _ string, entries []saga.QueueEntry) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.batches = append(q.batches, slices.Clone(entries))
	var failed []string
	for _, e := range entries {
		if q.Reject[e.ID] {
			failed = append(failed, e.ID)
		}
	}
	return failed, nil
}

// Batches returns every batch sent so far.
func (q *Queue) Batches() [][]saga.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.batches)
}

// Entries returns every entry sent so far, flattened in send order.
func (q *Queue) Entries() []saga.QueueEntry {
	var out []saga.QueueEntry
	for _, b := range q.Batches() {
		out = append(out, b...)
	}
	return out
}

// StreamRecord builds a stream delivery record carrying data.
func StreamRecord(sequenceNumber string, data []byte) map[string]any {
	return map[string]any{
		"eventSource": "aws:kinesis",
		"kinesis": map[string]any{
			"sequenceNumber": sequenceNumber,
			"partitionKey":   "test",
			"data":           base64.StdEncoding.EncodeToString(data),
		},
	}
}

// QueueMessage builds a queue delivery record with the given body.
func QueueMessage(messageID, body string) map[string]any {
	return map[string]any{
		"eventSource": "aws:sqs",
		"messageId":   messageID,
		"body":        body,
	}
}

// NotificationRecord builds a fan-out delivery record wrapping message.
func NotificationRecord(messageID, message string) map[string]any {
	return map[string]any{
		"EventSource": "aws:sns",
		"Sns":         Notification(messageID, message),
	}
}

// Notification builds a bare notification.
func Notification(messageID, message string) map[string]any {
	return map[string]any{
		"Type":      "Notification",
		"MessageId": messageID,
		"Message":   message,
	}
}

// Batch wraps records in the Records list every delivery service uses.
func Batch(records ...map[string]any) []byte {
	b, err := json.Marshal(map[string]any{"Records": records})
	if err != nil {
		panic(err)
	}
	return b
}

// JSON encodes v, panicking on error.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// FailedBatchNotification builds the body of a retries-exhausted
// notification for the inclusive range [start, end] of a shard.
func FailedBatchNotification(shardID, start, end string, size int) string {
	return JSON(map[string]any{
		"requestContext": map[string]any{
			"requestId":              "bbb29733-7a04-4371-88d8-4d3dc3b9e58c",
			"condition":              "RetryAttemptsExhausted",
			"approximateInvokeCount": 2,
		},
		"responseContext": map[string]any{"statusCode": 200, "executedVersion": "$LATEST"},
		"version":         "1.0",
		"KinesisBatchInfo": map[string]any{
			"shardId":             shardID,
			"startSequenceNumber": start,
			"endSequenceNumber":   end,
			"batchSize":           size,
			"streamArn":           "arn:aws:kinesis:eu-central-1:000000000000:stream/message-bus",
		},
	})
}

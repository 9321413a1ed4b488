package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// defaultMaxPages bounds how many reads one redrive may issue.
const defaultMaxPages = 1000

var validate = validator.New(validator.WithRequiredStructEnabled())

// FailedBatch describes a shard range whose delivery exhausted its retries.
type FailedBatch struct {
	ShardID                         string `json:"shardId" validate:"required"`
	StartSequenceNumber             string `json:"startSequenceNumber" validate:"required"`
	EndSequenceNumber               string `json:"endSequenceNumber" validate:"required"`
	ApproximateArrivalOfFirstRecord string `json:"approximateArrivalOfFirstRecord"`
	ApproximateArrivalOfLastRecord  string `json:"approximateArrivalOfLastRecord"`
	BatchSize                       int    `json:"batchSize" validate:"gte=0"`
	StreamARN                       string `json:"streamArn" validate:"required"`

	// Condition and InvokeCount come from the notification's request
	// context, e.g. "RetryAttemptsExhausted" after 3 invocations.
	Condition   string `json:"-"`
	InvokeCount int    `json:"-"`
}

// ParseFailedBatch decodes a redrive notification.
func ParseFailedBatch(raw []byte) (FailedBatch, error) {
	if !gjson.ValidBytes(raw) {
		return FailedBatch{}, fmt.Errorf("%w: %w", ErrInvalidBatch, ErrInvalidJSON)
	}
	info := gjson.GetBytes(raw, "KinesisBatchInfo")
	if !info.IsObject() {
		return FailedBatch{}, fmt.Errorf("%w: missing KinesisBatchInfo", ErrInvalidBatch)
	}

	var fb FailedBatch
	if err := json.Unmarshal([]byte(info.Raw), &fb); err != nil {
		return FailedBatch{}, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	if err := validate.Struct(fb); err != nil {
		return FailedBatch{}, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	fb.Condition = gjson.GetBytes(raw, "requestContext.condition").String()
	fb.InvokeCount = int(gjson.GetBytes(raw, "requestContext.approximateInvokeCount").Int())
	return fb, nil
}

// Redriver moves a failed shard range from the stream to the secondary
// queue, where it gets its own retries and dead-letter handling.
type Redriver struct {
	reader    StreamReader
	queue     QueueWriter
	queueURL  string
	batchSize int
	maxPages  int
}

// RedriveOption configures a Redriver.
type RedriveOption func(*Redriver)

// WithRedriveBatchSize sets how many records go into one queue send.
func WithRedriveBatchSize(n int) RedriveOption {
	return func(d *Redriver) {
		d.batchSize = clampBatchSize(n)
	}
}

// WithMaxPages bounds the number of shard reads per redrive.
func WithMaxPages(n int) RedriveOption {
	return func(d *Redriver) {
		if n > 0 {
			d.maxPages = n
		}
	}
}

// NewRedriver creates a Redriver reading from reader and sending to queueURL.
func NewRedriver(reader StreamReader, queue QueueWriter, queueURL string, opts ...RedriveOption) *Redriver {
	d := &Redriver{
		reader:    reader,
		queue:     queue,
		queueURL:  queueURL,
		batchSize: DefaultQueueBatchSize,
		maxPages:  defaultMaxPages,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Redrive re-reads the range [StartSequenceNumber, EndSequenceNumber] from
// the shard and enqueues every non-empty record, using its sequence number
// as the entry id. Reading stops at the end record, or before the first
// record past it when the end record is gone. It returns the number of
// staged records. Any failed send fails the whole redrive; the notification
// is expected to be redelivered.
func (d *Redriver) Redrive(ctx context.Context, fb FailedBatch) (int, error) {
	if d == nil || d.queue == nil || d.queueURL == "" {
		return 0, ErrQueueNotConfigured
	}

	entries, err := d.stage(ctx, fb)
	if err != nil {
		return len(entries), err
	}
	if err := sendBatches(ctx, d.queue, d.queueURL, entries, d.batchSize); err != nil {
		return len(entries), fmt.Errorf("redrive %s: %w", fb.ShardID, err)
	}
	return len(entries), nil
}

func (d *Redriver) stage(ctx context.Context, fb FailedBatch) ([]QueueEntry, error) {
	iterator, err := d.reader.ShardIterator(ctx, fb.StreamARN, fb.ShardID, fb.StartSequenceNumber)
	if err != nil {
		return nil, fmt.Errorf("shard iterator %s@%s: %w", fb.ShardID, fb.StartSequenceNumber, err)
	}

	pastEnd := afterSequence(fb.EndSequenceNumber)
	entries := make([]QueueEntry, 0, max(fb.BatchSize, 1))
	for pages := 0; iterator != ""; pages++ {
		if pages >= d.maxPages {
			return entries, fmt.Errorf("%w: %s after %d reads", ErrRedriveIncomplete, fb.ShardID, pages)
		}
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		page, err := d.reader.Records(ctx, iterator)
		if err != nil {
			return entries, fmt.Errorf("read %s: %w", fb.ShardID, err)
		}
		for _, rec := range page.Records {
			if pastEnd(rec.SequenceNumber) {
				return entries, nil
			}
			if len(rec.Data) > 0 {
				entries = append(entries, QueueEntry{ID: rec.SequenceNumber, Body: string(rec.Data)})
			}
			if rec.SequenceNumber == fb.EndSequenceNumber {
				return entries, nil
			}
		}
		// Caught up with the tip without seeing the end: the rest of the
		// range is gone from the stream.
		if len(page.Records) == 0 && page.MillisBehindLatest == 0 {
			break
		}
		iterator = page.NextIterator
	}
	return entries, nil
}

// afterSequence returns a predicate reporting whether a sequence number
// comes after end. Sequence numbers are decimal strings too long for int64;
// when either side does not parse, nothing counts as after end.
func afterSequence(end string) func(seq string) bool {
	e, ok := new(big.Int).SetString(end, 10)
	if !ok {
		return func(string) bool { return false }
	}
	return func(seq string) bool {
		n, ok := new(big.Int).SetString(seq, 10)
		return ok && n.Cmp(e) > 0
	}
}

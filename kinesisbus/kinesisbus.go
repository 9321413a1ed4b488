// Package kinesisbus implements the saga stream ports on Amazon Kinesis.
package kinesisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/bjaus/saga"
)

// API is the subset of the Kinesis client the stream uses.
type API interface {
	PutRecord(ctx context.Context, in *kinesis.PutRecordInput, opts ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
	GetShardIterator(ctx context.Context, in *kinesis.GetShardIteratorInput, opts ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *kinesis.GetRecordsInput, opts ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

var (
	_ saga.StreamWriter = (*Stream)(nil)
	_ saga.StreamReader = (*Stream)(nil)
)

var errNoIterator = errors.New("no shard iterator returned")

// Stream writes and reads saga records on Kinesis.
type Stream struct {
	api   API
	limit int32
}

// Option configures a Stream.
type Option func(*Stream)

// WithReadLimit caps how many records one read returns.
func WithReadLimit(n int32) Option {
	return func(s *Stream) {
		s.limit = n
	}
}

// New creates a Stream over a Kinesis client.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	stream := kinesisbus.New(kinesis.NewFromConfig(cfg))
func New(api API, opts ...Option) *Stream {
	s := &Stream{api: api}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutRecord writes one record. The stream may be given by name or by ARN.
func (s *Stream) PutRecord(ctx context.Context, rec saga.OutboundRecord) error {
	in := &kinesis.PutRecordInput{
		PartitionKey: aws.String(rec.PartitionKey),
		Data:         rec.Data,
	}
	if isARN(rec.Stream) {
		in.StreamARN = aws.String(rec.Stream)
	} else {
		in.StreamName = aws.String(rec.Stream)
	}

	if _, err := s.api.PutRecord(ctx, in); err != nil {
		return fmt.Errorf("kinesis put record: %w", err)
	}
	return nil
}

// ShardIterator opens a cursor at the given sequence number, inclusive.
func (s *Stream) ShardIterator(ctx context.Context, streamARN, shardID, sequenceNumber string) (string, error) {
	in := &kinesis.GetShardIteratorInput{
		ShardId:                aws.String(shardID),
		ShardIteratorType:      types.ShardIteratorTypeAtSequenceNumber,
		StartingSequenceNumber: aws.String(sequenceNumber),
	}
	if isARN(streamARN) {
		in.StreamARN = aws.String(streamARN)
	} else {
		in.StreamName = aws.String(streamARN)
	}

	out, err := s.api.GetShardIterator(ctx, in)
	if err != nil {
		return "", fmt.Errorf("kinesis shard iterator: %w", err)
	}
	if out.ShardIterator == nil {
		return "", errNoIterator
	}
	return *out.ShardIterator, nil
}

// Records reads the next page from a cursor.
func (s *Stream) Records(ctx context.Context, iterator string) (saga.StreamPage, error) {
	in := &kinesis.GetRecordsInput{ShardIterator: aws.String(iterator)}
	if s.limit > 0 {
		in.Limit = aws.Int32(s.limit)
	}

	out, err := s.api.GetRecords(ctx, in)
	if err != nil {
		return saga.StreamPage{}, fmt.Errorf("kinesis get records: %w", err)
	}

	page := saga.StreamPage{
		Records:            make([]saga.StreamRecord, 0, len(out.Records)),
		NextIterator:       aws.ToString(out.NextShardIterator),
		MillisBehindLatest: aws.ToInt64(out.MillisBehindLatest),
	}
	for _, r := range out.Records {
		page.Records = append(page.Records, saga.StreamRecord{
			SequenceNumber: aws.ToString(r.SequenceNumber),
			PartitionKey:   aws.ToString(r.PartitionKey),
			Data:           r.Data,
		})
	}
	return page, nil
}

func isARN(s string) bool {
	return strings.HasPrefix(s, "arn:")
}

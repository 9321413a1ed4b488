// Package sqsqueue implements the saga queue port on Amazon SQS and drains
// queues into a router within a caller-supplied time budget.
package sqsqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/bjaus/saga"
)

// maxWaitSeconds is the longest long-poll SQS allows.
const maxWaitSeconds = 20

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

var _ saga.QueueWriter = (*Queue)(nil)

// Queue sends to and drains SQS queues.
type Queue struct {
	api API
}

// New creates a Queue over an SQS client.
func New(api API) *Queue {
	return &Queue{api: api}
}

// SendBatch sends entries in one call and returns the ids SQS rejected.
func (q *Queue) SendBatch(ctx context.Context, queueURL string, entries []saga.QueueEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	in := &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  make([]types.SendMessageBatchRequestEntry, 0, len(entries)),
	}
	for _, e := range entries {
		in.Entries = append(in.Entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(e.ID),
			MessageBody: aws.String(e.Body),
		})
	}

	out, err := q.api.SendMessageBatch(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sqs send batch: %w", err)
	}
	failed := make([]string, 0, len(out.Failed))
	for _, f := range out.Failed {
		failed = append(failed, aws.ToString(f.Id))
	}
	return failed, nil
}

// BatchFunc processes one received batch and reports the failed ids.
// Router.ProcessEnvelopes satisfies it.
type BatchFunc func(ctx context.Context, envs []saga.RawEnvelope) saga.BatchResponse

// Drain receives from queueURL until the queue is empty or budget is spent,
// passing each batch to fn and deleting the messages fn did not report as
// failed. It returns how many messages were processed successfully.
//
// Example:
//
//	n, err := q.Drain(ctx, queueURL, 30*time.Second, router.ProcessEnvelopes)
func (q *Queue) Drain(ctx context.Context, queueURL string, budget time.Duration, fn BatchFunc) (int, error) {
	deadline := time.Now().Add(budget)
	done := 0

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return done, nil
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}

		out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: saga.MaxQueueBatchSize,
			WaitTimeSeconds:     waitSeconds(remaining),
		})
		if err != nil {
			return done, fmt.Errorf("sqs receive: %w", err)
		}
		if len(out.Messages) == 0 {
			return done, nil
		}

		envs := make([]saga.RawEnvelope, 0, len(out.Messages))
		handles := make(map[string]string, len(out.Messages))
		for _, m := range out.Messages {
			id := aws.ToString(m.MessageId)
			envs = append(envs, saga.RawEnvelope{MessageID: id, Body: saga.Unwrap(aws.ToString(m.Body))})
			handles[id] = aws.ToString(m.ReceiptHandle)
		}

		resp := fn(ctx, envs)
		for _, id := range resp.Failed() {
			delete(handles, id)
		}
		if err := q.delete(ctx, queueURL, handles); err != nil {
			return done, err
		}
		done += len(handles)
	}
}

func (q *Queue) delete(ctx context.Context, queueURL string, handles map[string]string) error {
	if len(handles) == 0 {
		return nil
	}
	in := &sqs.DeleteMessageBatchInput{QueueUrl: aws.String(queueURL)}
	for id, handle := range handles {
		in.Entries = append(in.Entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(id),
			ReceiptHandle: aws.String(handle),
		})
	}
	out, err := q.api.DeleteMessageBatch(ctx, in)
	if err != nil {
		return fmt.Errorf("sqs delete batch: %w", err)
	}
	if len(out.Failed) > 0 {
		return fmt.Errorf("sqs delete batch: %d entries failed", len(out.Failed))
	}
	return nil
}

func waitSeconds(remaining time.Duration) int32 {
	s := int32(remaining / time.Second)
	return min(max(s, 0), maxWaitSeconds)
}

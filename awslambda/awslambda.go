// Package awslambda runs a saga router as an AWS Lambda function.
//
// The generic entry point accepts any invocation the router understands:
//
//	func main() {
//	    reg := saga.NewRegistry()
//	    reg.HandleFunc("checkout", checkout)
//
//	    r, err := awslambda.FromEnv(context.Background(), reg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    awslambda.Start(r)
//	}
//
// The typed methods on Handler suit functions bound to a single event
// source.
package awslambda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/bjaus/saga"
	"github.com/bjaus/saga/config"
	"github.com/bjaus/saga/kinesisbus"
	"github.com/bjaus/saga/sagalog"
	"github.com/bjaus/saga/sqsqueue"
)

// Handler adapts a router to the Lambda event types.
type Handler struct {
	router *saga.Router
}

// New wraps r.
func New(r *saga.Router) *Handler {
	return &Handler{router: r}
}

// Start runs r with the generic entry point. It does not return.
func Start(r *saga.Router) {
	lambda.Start(New(r).Invoke)
}

// Invoke handles an invocation of any supported shape.
func (h *Handler) Invoke(ctx context.Context, raw json.RawMessage) (saga.InvokeResult, error) {
	return h.router.Invoke(ctx, raw)
}

// Kinesis handles a stream batch and reports failed sequence numbers.
func (h *Handler) Kinesis(ctx context.Context, ev events.KinesisEvent) (events.KinesisEventResponse, error) {
	resp, err := h.process(ctx, ev)
	if err != nil {
		return events.KinesisEventResponse{}, err
	}
	out := events.KinesisEventResponse{BatchItemFailures: make([]events.KinesisBatchItemFailure, 0, len(resp.BatchItemFailures))}
	for _, id := range resp.Failed() {
		out.BatchItemFailures = append(out.BatchItemFailures, events.KinesisBatchItemFailure{ItemIdentifier: id})
	}
	return out, nil
}

// SQS handles a queue batch and reports failed message ids.
func (h *Handler) SQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	resp, err := h.process(ctx, ev)
	if err != nil {
		return events.SQSEventResponse{}, err
	}
	out := events.SQSEventResponse{BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(resp.BatchItemFailures))}
	for _, id := range resp.Failed() {
		out.BatchItemFailures = append(out.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return out, nil
}

// SNS handles a notification batch. Notifications have no partial failure
// reporting, so any failed record fails the invocation.
func (h *Handler) SNS(ctx context.Context, ev events.SNSEvent) error {
	resp, err := h.process(ctx, ev)
	if err != nil {
		return err
	}
	if failed := resp.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d notifications failed: %v", len(failed), len(ev.Records), failed)
	}
	return nil
}

// HTTP serves an HTTP API (payload v2) request.
func (h *Handler) HTTP(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	path := ev.RawPath
	if path == "" {
		path = ev.RequestContext.HTTP.Path
	}
	resp := h.router.Serve(ctx, &saga.HTTPRequest{
		Method:          ev.RequestContext.HTTP.Method,
		Path:            path,
		RawQuery:        ev.RawQueryString,
		Headers:         ev.Headers,
		Query:           ev.QueryStringParameters,
		Body:            ev.Body,
		IsBase64Encoded: ev.IsBase64Encoded,
		Raw:             raw,
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode:      resp.StatusCode,
		Headers:         resp.Headers,
		Body:            resp.Body,
		IsBase64Encoded: resp.IsBase64Encoded,
	}, nil
}

func (h *Handler) process(ctx context.Context, ev any) (saga.BatchResponse, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return saga.BatchResponse{}, fmt.Errorf("marshal event: %w", err)
	}
	return h.router.Process(ctx, raw)
}

// FromEnv loads the configuration and the default AWS credentials and
// builds a fully wired router.
func FromEnv(ctx context.Context, reg *saga.Registry, opts ...saga.Option) (*saga.Router, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return NewRouter(cfg, kinesis.NewFromConfig(awsCfg), sqs.NewFromConfig(awsCfg), reg, opts...), nil
}

// NewRouter wires a router from cfg over the given stream and queue
// clients. Logging hooks come first so caller hooks see the enriched
// context.
func NewRouter(cfg *config.Config, streamAPI kinesisbus.API, queueAPI sqsqueue.API, reg *saga.Registry, opts ...saga.Option) *saga.Router {
	logger := sagalog.New(sagalog.Options{
		ServiceName: cfg.ServiceName,
		Level:       sagalog.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	stream := kinesisbus.New(streamAPI)
	queue := sqsqueue.New(queueAPI)

	pubOpts := []saga.PublisherOption{saga.WithStream(stream, cfg.StreamName)}
	if cfg.RedriveEnabled() {
		pubOpts = append(pubOpts,
			saga.WithQueue(queue, cfg.QueueURL),
			saga.WithQueueBatchSize(cfg.RedriveBatchSize),
		)
	}

	all := []saga.Option{
		saga.WithPublisher(saga.NewPublisher(pubOpts...)),
		saga.WithConcurrency(cfg.Concurrency),
	}
	if cfg.RedriveEnabled() {
		all = append(all, saga.WithRedriver(saga.NewRedriver(stream, queue, cfg.QueueURL,
			saga.WithRedriveBatchSize(cfg.RedriveBatchSize),
		)))
	}
	all = append(all, sagalog.Hooks(logger)...)
	all = append(all, opts...)

	return saga.New(cfg.ServiceName, reg, all...)
}

// Package saga coordinates long-running business processes over a
// partitioned event stream.
//
// Services share one stream. Each message on it is a saga payload addressed
// to a saga name; a service that handles that saga appends a decoration with
// its result and republishes the payload. Sagas can also issue requests that
// another service answers asynchronously, the way a remote call would.
//
// # Quick Start
//
// Register handlers, build a router and hand it invocations:
//
//	reg := saga.NewRegistry()
//
//	reg.HandleFunc("stripe.customer", func(ctx context.Context, p *saga.Payload, processed bool) (*saga.Result, error) {
//	    if processed {
//	        return nil, nil
//	    }
//	    email, err := lookupEmail(ctx, p)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &saga.Result{Type: "auth.email", Payload: email}, nil
//	})
//
//	reg.ProvideFunc("auth.email", func(ctx context.Context, p *saga.Payload) (any, error) {
//	    return users.PrimaryEmail(ctx, p)
//	})
//
//	r := saga.New("auth", reg, saga.WithPublisher(pub), saga.WithRedriver(redriver))
//
//	// In a function invoked with stream, queue or notification batches
//	res, err := r.Invoke(ctx, rawEvent)
//
// # Envelopes
//
// Records arrive from a stream, a queue or a notification fan-out, and a
// body may be wrapped several times (a queue message whose body is a stream
// record, for example). Extract peels every known wrapper off each record
// and keeps the outermost message id, which is the one the delivery
// service's retry machinery understands:
//
//	envs, err := saga.Extract(rawEvent)
//	for _, env := range envs {
//	    fmt.Println(env.MessageID, env.Body)
//	}
//
// The known wrappers are tried in a fixed order, each recognized by a cheap
// Discriminator over a gjson View:
//
//   - queue message: messageId + body
//   - stream record: kinesis (data is base64; valid UTF-8 is decoded)
//   - notification record: Sns
//   - notification: Message + MessageId
//
// # Payloads
//
// A Payload carries a version tag, a correlation id, the saga name, an
// immutable context, the requests the saga still wants answered and the
// decoration trail. Parse reports false for anything that is not a payload
// of the current Version; such bodies fall through to the raw handler.
//
//	p, err := saga.NewPayload("checkout", Order{ID: "o-1"})
//	p.AddRequest("auth.email")
//	err = pub.Publish(ctx, p)
//
// # Dispatch
//
// Each record of a batch is dispatched concurrently:
//
//  1. A failed-batch notification is handed to the Redriver
//  2. A saga payload goes to the handler registered for its saga name; if
//     there is none, to the provider of its next unanswered request
//  3. Anything else goes to the raw handler, or is dropped if none is set
//
// Errors and panics fail only their own record. The BatchResponse lists
// exactly the failed message ids so the delivery service retries only those.
//
// # Idempotency
//
// Delivery is at-least-once. Handlers receive a processed flag telling them
// this service already decorated the payload in an earlier delivery; the
// flag is advisory and the router does not suppress the call.
//
// # Redrive
//
// When a stream consumer exhausts its retries, the on-failure destination
// receives a notification naming the shard and sequence range. The Redriver
// re-reads that exact range and moves it to a queue with its own retries:
//
//	redriver := saga.NewRedriver(stream, queue, queueURL)
//
// # Hooks
//
// Hooks provide observability without coupling to specific logging or
// metrics systems:
//
//	r := saga.New("auth", reg,
//	    saga.WithOnFailure(func(ctx context.Context, kind saga.Kind, key string, err error, d time.Duration) {
//	        metrics.Incr("saga.failure", "kind:"+string(kind))
//	    }),
//	)
//
// The sagalog and sagametrics packages provide ready-made hook sets.
//
// # Thread Safety
//
// Router is safe for concurrent use. A Payload belongs to the single
// dispatch that parsed it and must not be shared between goroutines.
package saga

package saga_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/bjaus/saga"
	"github.com/bjaus/saga/sagatest"
)

type contextKey string

// recorder collects hook calls in the order they happen.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) options() []saga.Option {
	return []saga.Option{
		saga.WithOnClassify(func(ctx context.Context, id string, kind saga.Kind, key string) context.Context {
			r.add("classify:" + string(kind) + ":" + key + ":" + id)
			return ctx
		}),
		saga.WithOnDispatch(func(_ context.Context, kind saga.Kind, key string) {
			r.add("dispatch:" + string(kind) + ":" + key)
		}),
		saga.WithOnSuccess(func(_ context.Context, kind saga.Kind, key string, _ time.Duration) {
			r.add("success:" + string(kind) + ":" + key)
		}),
		saga.WithOnFailure(func(_ context.Context, kind saga.Kind, key string, _ error, _ time.Duration) {
			r.add("failure:" + string(kind) + ":" + key)
		}),
		saga.WithOnSkip(func(_ context.Context, kind saga.Kind, key string) {
			r.add("skip:" + string(kind) + ":" + key)
		}),
		saga.WithOnRepublish(func(_ context.Context, p *saga.Payload, err error) {
			if err != nil {
				r.add("republish-error:" + p.Saga())
				return
			}
			r.add("republish:" + p.Saga())
		}),
		saga.WithOnRedrive(func(_ context.Context, fb saga.FailedBatch, _ int, _ error) {
			r.add("redrive:" + fb.ShardID)
		}),
	}
}

type HooksSuite struct {
	suite.Suite
	ctx    context.Context
	stream *sagatest.Stream
	reg    *saga.Registry
	rec    *recorder
}

func TestHooksSuite(t *testing.T) {
	suite.Run(t, new(HooksSuite))
}

func (s *HooksSuite) SetupTest() {
	s.ctx = context.Background()
	s.stream = sagatest.NewStream()
	s.reg = saga.NewRegistry()
	s.rec = &recorder{}
}

func (s *HooksSuite) router(opts ...saga.Option) *saga.Router {
	all := append([]saga.Option{
		saga.WithPublisher(saga.NewPublisher(saga.WithStream(s.stream, "bus"))),
	}, s.rec.options()...)
	return saga.New("billing", s.reg, append(all, opts...)...)
}

func (s *HooksSuite) dispatch(r *saga.Router, id string, body []byte) error {
	return r.Dispatch(s.ctx, saga.RawEnvelope{MessageID: id, Body: string(body)})
}

func (s *HooksSuite) TestSagaHandlerLifecycle() {
	s.reg.HandleFunc("checkout", func(context.Context, *saga.Payload, bool) (*saga.Result, error) {
		return &saga.Result{Type: "done"}, nil
	})

	err := s.dispatch(s.router(), "m-1", payloadJSON(s.T(), "checkout", nil))

	s.Require().NoError(err)
	s.Assert().Equal([]string{
		"classify:saga:checkout:m-1",
		"dispatch:saga:checkout",
		"republish:checkout",
		"success:saga:checkout",
	}, s.rec.all())
}

func (s *HooksSuite) TestProviderFailure() {
	s.reg.ProvideFunc("auth.email", func(context.Context, *saga.Payload) (any, error) {
		return nil, errors.New("boom")
	})

	err := s.dispatch(s.router(), "m-1", payloadJSON(s.T(), "signup", nil, "auth.email"))

	s.Require().Error(err)
	s.Assert().Equal([]string{
		"classify:provider:auth.email:m-1",
		"dispatch:provider:auth.email",
		"failure:provider:auth.email",
	}, s.rec.all())
}

func (s *HooksSuite) TestRepublishFailureIsReported() {
	s.stream.PutErr = errors.New("throttled")
	s.reg.HandleFunc("checkout", func(context.Context, *saga.Payload, bool) (*saga.Result, error) {
		return &saga.Result{Type: "done"}, nil
	})

	err := s.dispatch(s.router(), "m-1", payloadJSON(s.T(), "checkout", nil))

	s.Require().Error(err)
	s.Assert().Equal([]string{
		"classify:saga:checkout:m-1",
		"dispatch:saga:checkout",
		"republish-error:checkout",
		"failure:saga:checkout",
	}, s.rec.all())
}

func (s *HooksSuite) TestSkips() {
	tests := map[string]struct {
		body []byte
		want []string
	}{
		"saga without handler": {
			body: payloadJSON(s.T(), "checkout", nil),
			want: []string{"classify:saga:checkout:m", "skip:saga:checkout"},
		},
		"request without provider": {
			body: payloadJSON(s.T(), "checkout", nil, "auth.email"),
			want: []string{"classify:provider:auth.email:m", "skip:provider:auth.email"},
		},
		"raw body without raw handler": {
			body: []byte("plain"),
			want: []string{"classify:raw::m", "skip:raw:"},
		},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			s.rec = &recorder{}
			err := s.dispatch(s.router(), "m", tt.body)

			s.Require().NoError(err)
			s.Assert().Equal(tt.want, s.rec.all())
		})
	}
}

func (s *HooksSuite) TestRedriveHook() {
	stream := sagatest.NewStream()
	stream.Seed("shard-1", saga.StreamRecord{SequenceNumber: "1", Data: []byte("x")})
	queue := sagatest.NewQueue()
	r := s.router(saga.WithRedriver(saga.NewRedriver(stream, queue, queueURL)))

	err := s.dispatch(r, "n-1", []byte(sagatest.FailedBatchNotification("shard-1", "1", "1", 1)))

	s.Require().NoError(err)
	s.Assert().Equal([]string{
		"classify:redrive:shard-1:n-1",
		"dispatch:redrive:shard-1",
		"redrive:shard-1",
		"success:redrive:shard-1",
	}, s.rec.all())
}

func (s *HooksSuite) TestClassifyContextReachesHandler() {
	var got any
	s.reg.HandleFunc("checkout", func(ctx context.Context, _ *saga.Payload, _ bool) (*saga.Result, error) {
		got = ctx.Value(contextKey("trace"))
		return nil, nil
	})
	r := s.router(saga.WithOnClassify(func(ctx context.Context, id string, _ saga.Kind, _ string) context.Context {
		return context.WithValue(ctx, contextKey("trace"), "trace-"+id)
	}))

	s.Require().NoError(s.dispatch(r, "m-7", payloadJSON(s.T(), "checkout", nil)))

	s.Assert().Equal("trace-m-7", got)
}

func (s *HooksSuite) TestClassifyHooksChainInOrder() {
	var seen []string
	r := saga.New("billing", s.reg,
		saga.WithOnClassify(func(ctx context.Context, _ string, _ saga.Kind, _ string) context.Context {
			seen = append(seen, "first")
			return context.WithValue(ctx, contextKey("first"), true)
		}),
		saga.WithOnClassify(func(ctx context.Context, _ string, _ saga.Kind, _ string) context.Context {
			if ctx.Value(contextKey("first")) == true {
				seen = append(seen, "second saw first")
			}
			return ctx
		}),
	)

	s.Require().NoError(s.dispatch(r, "m", []byte("plain")))

	s.Assert().Equal([]string{"first", "second saw first"}, seen)
}

func (s *HooksSuite) TestFailureHookReceivesError() {
	want := errors.New("card declined")
	var got error
	var took time.Duration
	s.reg.HandleFunc("checkout", func(context.Context, *saga.Payload, bool) (*saga.Result, error) {
		time.Sleep(time.Millisecond)
		return nil, want
	})
	r := saga.New("billing", s.reg, saga.WithOnFailure(func(_ context.Context, _ saga.Kind, _ string, err error, d time.Duration) {
		got = err
		took = d
	}))

	err := s.dispatch(r, "m", payloadJSON(s.T(), "checkout", nil))

	s.Assert().ErrorIs(err, want)
	s.Assert().ErrorIs(got, want)
	s.Assert().Positive(took)
}

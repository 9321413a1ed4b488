// Package sagametrics records router activity as Prometheus metrics.
package sagametrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bjaus/saga"
)

const namespace = "saga"

// Metrics holds the router collectors.
type Metrics struct {
	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	skipped    *prometheus.CounterVec
	republish  *prometheus.CounterVec
	redriven   prometheus.Counter
	redriveErr prometheus.Counter
}

// New registers the router metrics on reg. A nil registerer yields a
// Metrics whose hooks do nothing.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Records dispatched, by kind, target and result.",
		}, []string{"kind", "key", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of record dispatch in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Records consumed without a registered target.",
		}, []string{"kind"}),
		republish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "republish_total",
			Help:      "Payload republish attempts, by result.",
		}, []string{"result"}),
		redriven: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redrive_records_total",
			Help:      "Stream records moved to the redrive queue.",
		}),
		redriveErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redrive_failures_total",
			Help:      "Failed batch redrives.",
		}),
	}
	reg.MustRegister(m.dispatched, m.duration, m.skipped, m.republish, m.redriven, m.redriveErr)
	return m
}

// Options returns the router hooks that feed m.
//
// Example:
//
//	m := sagametrics.New(prometheus.DefaultRegisterer)
//	r := saga.New("billing", reg, m.Options()...)
func (m *Metrics) Options() []saga.Option {
	return []saga.Option{
		saga.WithOnSuccess(func(_ context.Context, kind saga.Kind, key string, d time.Duration) {
			m.observe(kind, key, "success", d)
		}),
		saga.WithOnFailure(func(_ context.Context, kind saga.Kind, key string, _ error, d time.Duration) {
			m.observe(kind, key, "failure", d)
		}),
		saga.WithOnSkip(func(_ context.Context, kind saga.Kind, _ string) {
			if m == nil || m.skipped == nil {
				return
			}
			m.skipped.WithLabelValues(string(kind)).Inc()
		}),
		saga.WithOnRepublish(func(_ context.Context, _ *saga.Payload, err error) {
			if m == nil || m.republish == nil {
				return
			}
			m.republish.WithLabelValues(result(err)).Inc()
		}),
		saga.WithOnRedrive(func(_ context.Context, _ saga.FailedBatch, staged int, err error) {
			if m == nil || m.redriven == nil {
				return
			}
			if err != nil {
				m.redriveErr.Inc()
				return
			}
			m.redriven.Add(float64(staged))
		}),
	}
}

func (m *Metrics) observe(kind saga.Kind, key, res string, d time.Duration) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(string(kind), normalizeLabel(key), res).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func normalizeLabel(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

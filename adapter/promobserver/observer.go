// Package promobserver exports xdispatch lifecycle events as Prometheus metrics.
package promobserver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xdispatch"
)

const namespace = "xdispatch"

// Observer implements xdispatch.Observer by updating Prometheus collectors.
type Observer struct {
	published   *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	dispatched  *prometheus.CounterVec
	committed   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	publishDur  *prometheus.HistogramVec
	dispatchDur *prometheus.HistogramVec
}

var _ xdispatch.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg. Registering two
// observers on one registry fails with prometheus.AlreadyRegisteredError.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "published_total",
				Help:      "Number of sends by topic and result.",
			},
			[]string{"topic", "result"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_skipped_total",
				Help:      "Number of sends suppressed as duplicates.",
			},
			[]string{"topic"},
		),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatched_total",
				Help:      "Number of dispatched records by topic and result.",
			},
			[]string{"topic", "result"},
		),
		committed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "committed_total",
				Help:      "Number of committed records by topic.",
			},
			[]string{"topic"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumer_errors_total",
				Help:      "Number of poll and commit failures.",
			},
			[]string{"topic"},
		),
		publishDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Time taken by the broker to acknowledge a send.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		dispatchDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time taken to decode and handle a record.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
	}

	for _, c := range o.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		o.published, o.duplicates, o.dispatched, o.committed,
		o.failures, o.publishDur, o.dispatchDur,
	}
}

// OnEvent maps lifecycle events to collector updates.
func (o *Observer) OnEvent(e xdispatch.Event) {
	switch e.Type {
	case xdispatch.PublishDone:
		o.published.WithLabelValues(e.Topic, result(e.Err)).Inc()
		o.publishDur.WithLabelValues(e.Topic).Observe(e.Duration.Seconds())
	case xdispatch.DuplicateSkipped:
		o.duplicates.WithLabelValues(e.Topic).Inc()
	case xdispatch.DispatchDone:
		o.dispatched.WithLabelValues(e.Topic, result(e.Err)).Inc()
		o.dispatchDur.WithLabelValues(e.Topic).Observe(e.Duration.Seconds())
	case xdispatch.Commit:
		o.committed.WithLabelValues(e.Topic).Inc()
	case xdispatch.Error:
		o.failures.WithLabelValues(e.Topic).Inc()
	}
}

// result labels an outcome by error kind so dashboards can split routing
// problems from handler failures.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		noHandler *xdispatch.NoHandlerError
		mismatch  *xdispatch.TypeMismatchError
		dispatch  *xdispatch.DispatchError
		handling  *xdispatch.HandlingError
		publish   *xdispatch.PublishError
	)
	switch {
	case errors.As(err, &noHandler):
		return "no_handler"
	case errors.As(err, &mismatch):
		return "type_mismatch"
	case errors.As(err, &dispatch):
		return "conversion_error"
	case errors.As(err, &handling):
		return "handler_error"
	case errors.As(err, &publish):
		return "publish_error"
	default:
		return "error"
	}
}

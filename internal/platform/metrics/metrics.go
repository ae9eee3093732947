// Package metrics holds the Prometheus collectors for request outcomes.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "jsonrequest"

// Registry owns a private Prometheus registry and the jsonrequest collectors.
type Registry struct {
	reg *prometheus.Registry

	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// Option configures a Registry.
type Option func(*Registry)

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(r *Registry) {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// New creates a Registry with the outcome collectors registered.
func New(opts ...Option) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal request outcomes by method and result.",
		}, []string{"method", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time from dispatch to delivered outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Requests dispatched and awaiting an outcome.",
		}),
	}

	r.reg.MustRegister(r.outcomes, r.duration, r.inFlight)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RecordOutcome counts one terminal outcome. result is one of success,
// cache_hit or a failure category label.
func (r *Registry) RecordOutcome(method, result string, elapsed time.Duration) {
	r.outcomes.WithLabelValues(method, result).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Track marks a request in flight and returns the func that ends it.
func (r *Registry) Track() func() {
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// Outcomes exposes the outcome counter, mainly for tests.
func (r *Registry) Outcomes() *prometheus.CounterVec {
	return r.outcomes
}

// Gatherer returns the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// WriteText writes every gathered family in the text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}

	return nil
}

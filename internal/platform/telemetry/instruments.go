package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName scopes the tracer and meter used for outbound requests.
const InstrumentationName = "github.com/jsamuelsen/jsonrequest"

// ClientInstruments holds the otel instruments recorded per outbound dispatch.
type ClientInstruments struct {
	Tracer trace.Tracer

	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	inFlight        metric.Int64UpDownCounter
	cacheLookups    metric.Int64Counter
}

// NewClientInstruments creates instruments from the global providers, so it
// must run after New.
func NewClientInstruments() (*ClientInstruments, error) {
	meter := otel.Meter(InstrumentationName)

	requestDuration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"http.client.request.total",
		metric.WithDescription("Total number of HTTP client requests"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of HTTP client requests in flight"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"http.client.cache.lookups",
		metric.WithDescription("Response cache lookups by result"),
	)
	if err != nil {
		return nil, err
	}

	return &ClientInstruments{
		Tracer:          otel.Tracer(InstrumentationName),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		inFlight:        inFlight,
		cacheLookups:    cacheLookups,
	}, nil
}

// Begin marks a request in flight and returns the func that ends it.
func (i *ClientInstruments) Begin(ctx context.Context, attrs ...attribute.KeyValue) func() {
	i.inFlight.Add(ctx, 1, metric.WithAttributes(attrs...))

	return func() {
		i.inFlight.Add(ctx, -1, metric.WithAttributes(attrs...))
	}
}

// RecordRequest records one completed HTTP attempt.
func (i *ClientInstruments) RecordRequest(ctx context.Context, seconds float64, attrs ...attribute.KeyValue) {
	i.requestDuration.Record(ctx, seconds, metric.WithAttributes(attrs...))
	i.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheLookup counts a cache lookup; result is hit, stale, or miss.
func (i *ClientInstruments) RecordCacheLookup(ctx context.Context, result string) {
	i.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.result", result)))
}

// TraceID returns the trace ID of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}

	return sc.TraceID().String()
}

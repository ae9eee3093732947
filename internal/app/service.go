// Package app contains the application service that sends JSON requests.
// It sits between the CLI and the transport: it builds requests against the
// configured service, dispatches them one at a time or concurrently, and
// records an outcome metric for every terminal result.
//
// What does NOT belong here:
//   - HTTP specifics such as retries, caching or the circuit breaker (that's adapters)
//   - Parsing and error translation (that's jsonrequest)
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jsamuelsen/jsonrequest/internal/adapters/clients/jsonrequest"
	"github.com/jsamuelsen/jsonrequest/internal/domain"
	"github.com/jsamuelsen/jsonrequest/internal/platform/logging"
	"github.com/jsamuelsen/jsonrequest/internal/platform/metrics"
	"github.com/jsamuelsen/jsonrequest/internal/platform/reqctx"
	"github.com/jsamuelsen/jsonrequest/internal/ports"
)

// DefaultMaxConcurrency bounds SendAll when ServiceConfig leaves it unset.
const DefaultMaxConcurrency = 8

// RequestService dispatches JSONRequests through a Transport.
// It depends on the port interface, not the concrete HTTP client.
//
// Example usage:
//
//	transport, _ := clients.New(&clients.Config{ServiceName: "users"})
//	svc := app.NewRequestService(transport, &app.ServiceConfig{BaseURL: "https://api.example.com"})
//
//	req, _ := svc.Build(app.Target{Method: "GET", URL: "/users/1"})
//	outcome := svc.Send(ctx, req)
type RequestService struct {
	transport      ports.Transport
	metrics        *metrics.Registry
	baseURL        string
	maxConcurrency int
	logger         *slog.Logger
}

// ServiceConfig holds optional configuration for the service.
type ServiceConfig struct {
	Logger         *slog.Logger
	Metrics        *metrics.Registry
	BaseURL        string
	MaxConcurrency int
}

// NewRequestService creates a service dispatching through transport.
func NewRequestService(transport ports.Transport, cfg *ServiceConfig) *RequestService {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Metrics
	if registry == nil {
		registry = metrics.New()
	}

	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}

	return &RequestService{
		transport:      transport,
		metrics:        registry,
		baseURL:        cfg.BaseURL,
		maxConcurrency: limit,
		logger:         logger,
	}
}

// Metrics returns the registry outcomes are recorded in.
func (s *RequestService) Metrics() *metrics.Registry {
	return s.metrics
}

// Send dispatches req and returns its Outcome. The context gains a request
// ID when it has none. Send never returns nil: a request that cannot be
// dispatched (nil, or already sent) yields a failed Outcome.
func (s *RequestService) Send(ctx context.Context, req *jsonrequest.JSONRequest) *jsonrequest.Outcome {
	ctx = logging.WithContext(ctx, logging.FromContextOr(ctx, s.logger))
	ctx, _ = reqctx.EnsureRequestID(ctx)

	if req == nil {
		return s.rejected("", "", fmt.Errorf("%w: nil request", domain.ErrInvalidRequest))
	}

	logger := logging.FromContext(ctx).With(
		slog.String("component", "app.RequestService"),
		slog.String("request", req.String()),
	)

	done := s.metrics.Track()
	start := time.Now()

	outcome, err := req.Do(ctx, s.transport)

	done()

	if err != nil {
		logger.WarnContext(ctx, "request not dispatched", slog.String("error", err.Error()))
		return s.rejected(req.Method(), req.URL(), err)
	}

	s.metrics.RecordOutcome(string(outcome.Method), outcome.Result(), time.Since(start))

	if outcome.Succeeded() {
		logger.InfoContext(ctx, "request succeeded",
			slog.Bool("from_cache", outcome.Response.FromCache),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		logger.WarnContext(ctx, "request failed",
			slog.String("result", outcome.Result()),
			slog.Int("status", outcome.Err.StatusCode()),
			slog.String("error", outcome.Err.Message()),
		)
	}

	return outcome
}

// SendAll dispatches reqs concurrently, at most MaxConcurrency at a time, and
// returns one Outcome per request in input order.
func (s *RequestService) SendAll(ctx context.Context, reqs []*jsonrequest.JSONRequest) []*jsonrequest.Outcome {
	return mapLimit(ctx, s.maxConcurrency, reqs, s.Send)
}

// Repeat builds and sends target n times in sequence. Later sends can be
// answered from the transport's cache, so the outcomes show cache hits.
func (s *RequestService) Repeat(ctx context.Context, target Target, n int) ([]*jsonrequest.Outcome, error) {
	if n < 1 {
		n = 1
	}

	outcomes := make([]*jsonrequest.Outcome, 0, n)

	for range n {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		req, err := s.Build(target)
		if err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, s.Send(ctx, req))
	}

	return outcomes, nil
}

func (s *RequestService) rejected(method domain.Method, url string, err error) *jsonrequest.Outcome {
	outcome := &jsonrequest.Outcome{
		Method: method,
		URL:    url,
		Err:    jsonrequest.NewErrorTranslator().Translate(err),
	}

	s.metrics.RecordOutcome(string(method), outcome.Result(), 0)

	return outcome
}

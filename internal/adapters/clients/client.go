package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
	"github.com/jsamuelsen/jsonrequest/internal/platform/config"
	"github.com/jsamuelsen/jsonrequest/internal/platform/logging"
	"github.com/jsamuelsen/jsonrequest/internal/platform/reqctx"
	"github.com/jsamuelsen/jsonrequest/internal/platform/telemetry"
	"github.com/jsamuelsen/jsonrequest/internal/ports"
)

const (
	// httpStatusCategoryDivisor divides status code to get category (2xx, 4xx, 5xx).
	httpStatusCategoryDivisor = 100

	defaultTimeout = 30 * time.Second

	// jitterRangeMultiplier converts rand [0,1) to [-1,1) for symmetric jitter.
	jitterRangeMultiplier = 2

	headerContentType     = "Content-Type"
	headerUserAgent       = "User-Agent"
	headerIfNoneMatch     = "If-None-Match"
	headerIfModifiedSince = "If-Modified-Since"
)

// Cache lookup results, as recorded on the cache lookup counter.
const (
	cacheHit        = "hit"
	cacheStale      = "stale"
	cacheRevalidate = "revalidate"
	cacheMiss       = "miss"
)

var (
	_ ports.Transport     = (*Client)(nil)
	_ ports.ResponseCache = (*MemoryCache)(nil)
)

// Config configures a Client.
type Config struct {
	// ServiceName identifies the upstream in logs, spans and metrics.
	ServiceName string

	UserAgent string

	// Timeout bounds a single attempt. Retries and backoff come on top.
	Timeout time.Duration

	Retry     config.RetryConfig
	Circuit   config.CircuitBreakerConfig
	Transport config.TransportConfig

	// Cache enables response caching for requests that allow it. Nil disables it.
	Cache ports.ResponseCache

	// DefaultCacheTTL is the freshness given to cacheable responses without
	// freshness headers. Zero leaves them stale immediately.
	DefaultCacheTTL time.Duration

	// AuthFunc, when set, decorates every attempt (retries included).
	AuthFunc func(*http.Request)

	// Logger is used when the dispatch context carries none.
	Logger *slog.Logger

	// HTTPClient replaces the pooled client built from Timeout and Transport.
	HTTPClient *http.Client

	// Instruments defaults to instruments from the global otel providers.
	Instruments *telemetry.ClientInstruments
}

// Client is the HTTP Transport for JSON requests. It adds retry with
// exponential backoff, a circuit breaker, an optional response cache,
// request/correlation ID propagation, tracing and metrics.
type Client struct {
	http   *http.Client
	cfg    *Config
	logger *slog.Logger
	cb     *CircuitBreaker
	cache  ports.ResponseCache
	inst   *telemetry.ClientInstruments
	now    func() time.Time

	refreshing sync.Map
	background sync.WaitGroup
}

// New creates a Client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inst := cfg.Instruments
	if inst == nil {
		var err error
		if inst, err = telemetry.NewClientInstruments(); err != nil {
			return nil, fmt.Errorf("creating instruments: %w", err)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        cfg.Transport.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
				IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
			},
		}
	}

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:   cfg.Circuit.MaxFailures,
		Timeout:       cfg.Circuit.Timeout,
		HalfOpenLimit: cfg.Circuit.HalfOpenLimit,
	})

	cb.OnStateChange(func(from, to State) {
		logger.Warn("circuit breaker state changed",
			slog.String("downstream", cfg.ServiceName),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
		cb:     cb,
		cache:  cfg.Cache,
		inst:   inst,
		now:    time.Now,
	}, nil
}

// call is a Request resolved into wire form.
type call struct {
	method      domain.Method
	url         string
	body        []byte
	contentType string
	headers     map[string]string
	cacheable   bool
}

// reply is one HTTP exchange with its body fully read.
type reply struct {
	status int
	header http.Header
	body   []byte
}

// Dispatch performs req and returns its raw 2xx response, or a
// *domain.NetworkError. Cacheable GETs are answered from the cache while
// fresh; such responses have FromCache set.
func (c *Client) Dispatch(ctx context.Context, req ports.Request) (*domain.RawResponse, error) {
	if req == nil {
		return nil, domain.NewTransportError(errNilRequest, 0)
	}

	cl, err := c.prepare(req)
	if err != nil {
		return nil, domain.NewTransportError(err, 0)
	}

	if !cl.cacheable {
		return c.fetch(ctx, cl, nil)
	}

	cached, ok := c.cache.Get(ctx, cl.url)
	if !ok || cached.Cache == nil {
		c.inst.RecordCacheLookup(ctx, cacheMiss)
		return c.fetch(ctx, cl, nil)
	}

	now := c.now()

	switch {
	case !cached.Cache.RefreshNeeded(now):
		c.inst.RecordCacheLookup(ctx, cacheHit)
		return servedFromCache(cached), nil

	case !cached.Cache.IsExpired(now):
		c.inst.RecordCacheLookup(ctx, cacheStale)
		c.refreshInBackground(ctx, cl, cached)
		return servedFromCache(cached), nil

	case cached.Cache.CanRevalidate():
		c.inst.RecordCacheLookup(ctx, cacheRevalidate)
		return c.fetch(ctx, cl, cached)

	default:
		c.inst.RecordCacheLookup(ctx, cacheMiss)
		c.cache.Delete(ctx, cl.url)
		return c.fetch(ctx, cl, nil)
	}
}

// Close waits for background cache refreshes to finish.
func (c *Client) Close() error {
	c.background.Wait()
	return nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() State {
	return c.cb.State()
}

func (c *Client) prepare(req ports.Request) (*call, error) {
	cl := &call{
		method:      req.Method(),
		url:         req.URL(),
		contentType: req.ContentType(),
		headers:     req.Headers(),
	}

	params := req.BuildParameters()

	if cl.method.HasBody() {
		body, err := domain.EncodeBody(params, cl.contentType)
		if err != nil {
			return nil, err
		}

		cl.body = body
	} else {
		target, err := domain.AppendQuery(cl.url, params)
		if err != nil {
			return nil, err
		}

		cl.url = target
	}

	cl.cacheable = c.cache != nil && req.ShouldCache() && cl.method == domain.MethodGet

	return cl, nil
}

// fetch goes to the network. When cached is set the request is conditional
// and a 304 refreshes the cached entry.
func (c *Client) fetch(ctx context.Context, cl *call, cached *domain.RawResponse) (*domain.RawResponse, error) {
	logger := c.requestLogger(ctx, cl)

	if !c.cb.Allow() {
		logger.Warn("request blocked by circuit breaker")
		c.inst.RecordRequest(ctx, 0, c.metricAttrs(cl, 0, "circuit_open")...)
		return nil, domain.NewTransportError(ErrCircuitOpen, 0)
	}

	ctx, span := c.inst.Tracer.Start(ctx, fmt.Sprintf("HTTP %s %s", cl.method, c.cfg.ServiceName),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", string(cl.method)),
			attribute.String("http.url", cl.url),
			attribute.String("peer.service", c.cfg.ServiceName),
			attribute.Bool("http.conditional", cached != nil),
		),
	)
	defer span.End()

	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}

	start := time.Now()
	r, err := c.roundTrip(ctx, cl, cached, logger)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			c.cb.RecordNeutral()
		} else {
			c.cb.RecordFailure()
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("request failed", slog.Duration("duration", elapsed), slog.Any("error", err))

		return nil, domain.NewTransportError(err, elapsed)
	}

	span.SetAttributes(attribute.Int("http.status_code", r.status))

	switch {
	case r.status == http.StatusNotModified && cached != nil:
		c.cb.RecordSuccess()
		logger.Debug("cached response revalidated", slog.Duration("duration", elapsed))

		return c.revalidated(ctx, cl, cached, r, elapsed), nil

	case r.status >= http.StatusOK && r.status < http.StatusMultipleChoices:
		c.cb.RecordSuccess()
		logger.Debug("request completed", slog.Int("status", r.status), slog.Duration("duration", elapsed))

		raw := &domain.RawResponse{
			StatusCode:  r.status,
			Body:        r.body,
			Header:      r.header,
			NetworkTime: elapsed,
		}

		if cl.cacheable {
			raw.Cache = c.store(ctx, cl.url, raw)
		}

		return raw, nil

	default:
		netErr := domain.NewStatusError(r.status, r.body, r.header, elapsed)

		switch {
		case r.status >= http.StatusInternalServerError:
			c.cb.RecordFailure()
		case netErr.Category == domain.CategoryAuth:
			c.cb.RecordNeutral()
		default:
			c.cb.RecordSuccess()
		}

		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", r.status))
		logger.Debug("upstream returned error status",
			slog.Int("status", r.status),
			slog.String("category", netErr.Category.String()),
			slog.Duration("duration", elapsed),
		)

		return nil, netErr
	}
}

// roundTrip runs the attempts. The last 5xx reply is returned as a reply so
// its body reaches the caller.
func (c *Client) roundTrip(ctx context.Context, cl *call, cached *domain.RawResponse, logger *slog.Logger) (*reply, error) {
	maxAttempts := c.cfg.Retry.MaxAttempts

	var lastErr error

	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := c.waitForRetry(ctx, attempt, logger); err != nil {
				return nil, err
			}
		}

		r, err := c.attempt(ctx, cl, cached)

		switch {
		case err != nil:
			if !isRetryableError(ctx, err) {
				return nil, err
			}

			lastErr = err
			logger.Debug("attempt failed with retryable error",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)

		case r.status >= http.StatusInternalServerError && attempt+1 < maxAttempts:
			logger.Debug("attempt failed with server error",
				slog.Int("attempt", attempt+1),
				slog.Int("status", r.status),
			)

		default:
			return r, nil
		}
	}

	if maxAttempts > 1 {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
	}

	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, cl *call, cached *domain.RawResponse) (*reply, error) {
	req, err := c.newHTTPRequest(ctx, cl, cached)
	if err != nil {
		return nil, err
	}

	end := c.inst.Begin(ctx, attribute.String("http.method", string(cl.method)))
	defer end()

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.inst.RecordRequest(ctx, time.Since(start).Seconds(), c.metricAttrs(cl, 0, "error")...)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.inst.RecordRequest(ctx, time.Since(start).Seconds(), c.metricAttrs(cl, resp.StatusCode, "error")...)
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	category := fmt.Sprintf("%dxx", resp.StatusCode/httpStatusCategoryDivisor)
	c.inst.RecordRequest(ctx, time.Since(start).Seconds(), c.metricAttrs(cl, resp.StatusCode, category)...)

	return &reply{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, cl *call, cached *domain.RawResponse) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}

	req, err := http.NewRequestWithContext(ctx, string(cl.method), cl.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, v := range cl.headers {
		req.Header.Set(k, v)
	}

	if cl.body != nil {
		req.Header.Set(headerContentType, cl.contentType)
	}

	if c.cfg.UserAgent != "" {
		req.Header.Set(headerUserAgent, c.cfg.UserAgent)
	}

	if requestID := reqctx.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(reqctx.HeaderRequestID, requestID)
	}

	if correlationID := reqctx.CorrelationIDFromContext(ctx); correlationID != "" {
		req.Header.Set(reqctx.HeaderCorrelationID, correlationID)
	}

	if cached != nil {
		if cached.Cache.ETag != "" {
			req.Header.Set(headerIfNoneMatch, cached.Cache.ETag)
		}

		if cached.Cache.LastModified != "" {
			req.Header.Set(headerIfModifiedSince, cached.Cache.LastModified)
		}
	}

	if c.cfg.AuthFunc != nil {
		c.cfg.AuthFunc(req)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// waitForRetry waits for the backoff duration before retrying.
func (c *Client) waitForRetry(ctx context.Context, attempt int, logger *slog.Logger) error {
	backoff := c.calculateBackoff(attempt)
	logger.Debug("retrying request",
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", backoff),
	)

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateBackoff returns initial * multiplier^attempt, capped at the max
// interval, with symmetric jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	retry := c.cfg.Retry

	backoff := float64(retry.InitialInterval) * math.Pow(retry.Multiplier, float64(attempt-1))
	if backoff > float64(retry.MaxInterval) {
		backoff = float64(retry.MaxInterval)
	}

	jitter := rand.Float64()*jitterRangeMultiplier - 1 //nolint:gosec // No need for crypto-grade randomness
	backoff += backoff * retry.JitterFactor * jitter

	return time.Duration(backoff)
}

// store caches a 2xx response and returns its cache metadata.
func (c *Client) store(ctx context.Context, key string, raw *domain.RawResponse) *domain.CacheEntry {
	now := c.now()

	entry, uncached := parseCacheHeaders(raw.Header, now)
	entry = withDefaultTTL(entry, now, c.cfg.DefaultCacheTTL)
	if entry == nil {
		c.cache.Delete(ctx, key)
		return nil
	}

	if entry.IsExpired(now) && !entry.CanRevalidate() {
		return entry
	}

	// Entries with a validator outlive their TTL so they can be revalidated.
	var ttl time.Duration
	if !entry.CanRevalidate() {
		ttl = entry.TTL.Sub(now)
	}

	stored := *raw
	stored.Cache = entry
	stored.NetworkTime = 0

	if len(uncached) > 0 {
		stored.Header = raw.Header.Clone()
		for _, name := range uncached {
			stored.Header.Del(name)
		}
	}
	c.cache.Set(ctx, key, &stored, ttl)

	return entry
}

// revalidated refreshes a cached entry from a 304 and returns the cached body.
func (c *Client) revalidated(ctx context.Context, cl *call, cached *domain.RawResponse, r *reply, elapsed time.Duration) *domain.RawResponse {
	header := cached.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	for k, v := range r.header {
		header[k] = v
	}

	raw := &domain.RawResponse{
		StatusCode:  cached.StatusCode,
		Body:        cached.Body,
		Header:      header,
		NetworkTime: elapsed,
	}

	raw.Cache = c.store(ctx, cl.url, raw)

	return raw
}

// refreshInBackground revalidates a soft-expired entry after it has been
// served. At most one refresh per key runs at a time.
func (c *Client) refreshInBackground(ctx context.Context, cl *call, cached *domain.RawResponse) {
	if _, busy := c.refreshing.LoadOrStore(cl.url, struct{}{}); busy {
		return
	}

	var conditional *domain.RawResponse
	if cached.Cache.CanRevalidate() {
		conditional = cached
	}

	c.background.Add(1)

	go func() {
		defer c.background.Done()
		defer c.refreshing.Delete(cl.url)

		if _, err := c.fetch(context.WithoutCancel(ctx), cl, conditional); err != nil {
			c.requestLogger(ctx, cl).Debug("background refresh failed", slog.Any("error", err))
		}
	}()
}

func (c *Client) requestLogger(ctx context.Context, cl *call) *slog.Logger {
	return logging.FromContextOr(ctx, c.logger).With(
		slog.String("component", "clients.Client"),
		slog.String("downstream", c.cfg.ServiceName),
		slog.String("method", string(cl.method)),
		slog.String("url", cl.url),
	)
}

func (c *Client) metricAttrs(cl *call, status int, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", string(cl.method)),
		attribute.String("peer.service", c.cfg.ServiceName),
		attribute.String("result", result),
	}

	if status > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}

	return attrs
}

// servedFromCache copies a cached response and flags it as a cache hit.
func servedFromCache(cached *domain.RawResponse) *domain.RawResponse {
	served := *cached
	served.Body = bytes.Clone(cached.Body)
	served.Header = cached.Header.Clone()
	served.FromCache = true
	served.NetworkTime = 0

	return &served
}

// isRetryableError reports whether a failed attempt may be retried. Nothing is
// retried once the caller's context is done.
func isRetryableError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}

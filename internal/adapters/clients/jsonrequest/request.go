package jsonrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync/atomic"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
	"github.com/jsamuelsen/jsonrequest/internal/platform/logging"
)

// CacheHitMarker is the key added, with value true, to a JSON object delivered
// from the transport's local cache instead of the network. The leading "@#"
// keeps it clear of server-defined field names. A network response never
// carries it: a marker sent by the server is removed.
const CacheHitMarker = "@#fromcache"

// Translator turns a failed dispatch into a StructuredError.
type Translator interface {
	Translate(err error) *StructuredError
}

// JSONRequest is a JSON-over-HTTP request description plus its response parsing.
// Configure it with options at construction; it is read-only afterwards.
type JSONRequest struct {
	method      domain.Method
	url         string
	params      map[string]string
	headers     map[string]string
	contentType string
	shouldCache bool
	translator  Translator
	logger      *slog.Logger

	state atomic.Int32
}

// Option configures a JSONRequest.
type Option func(*JSONRequest)

// WithParameters merges params into the request parameters.
func WithParameters(params map[string]string) Option {
	return func(r *JSONRequest) {
		maps.Copy(r.params, params)
	}
}

// WithParameter sets a single request parameter.
func WithParameter(key, value string) Option {
	return func(r *JSONRequest) {
		r.params[key] = value
	}
}

// WithHeader adds a request header. Accept cannot be overridden.
func WithHeader(key, value string) Option {
	return func(r *JSONRequest) {
		r.headers[http.CanonicalHeaderKey(key)] = value
	}
}

// WithContentType overrides the body content type.
func WithContentType(contentType string) Option {
	return func(r *JSONRequest) {
		r.contentType = contentType
	}
}

// WithCaching opts a GET request in or out of the transport cache.
// Non-GET requests are never cached regardless of this option.
func WithCaching(enabled bool) Option {
	return func(r *JSONRequest) {
		r.shouldCache = enabled
	}
}

// WithTranslator replaces the default ErrorTranslator.
func WithTranslator(t Translator) Option {
	return func(r *JSONRequest) {
		r.translator = t
	}
}

// WithLogger sets the logger for diagnostic output. Defaults to the context logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *JSONRequest) {
		r.logger = logger
	}
}

// New creates a request. rawURL must be an absolute http(s) URL.
func New(method domain.Method, rawURL string, opts ...Option) (*JSONRequest, error) {
	m, err := domain.ParseMethod(string(method))
	if err != nil {
		return nil, err
	}

	if err := domain.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	r := &JSONRequest{
		method:      m,
		url:         rawURL,
		params:      make(map[string]string),
		headers:     make(map[string]string),
		shouldCache: true,
		translator:  NewErrorTranslator(),
	}

	for _, opt := range opts {
		opt(r)
	}

	// Cache entries for mutating requests are never valid.
	if r.method != domain.MethodGet {
		r.shouldCache = false
	}

	if r.translator == nil {
		r.translator = NewErrorTranslator()
	}

	return r, nil
}

// Method implements ports.Request.
func (r *JSONRequest) Method() domain.Method {
	return r.method
}

// URL implements ports.Request.
func (r *JSONRequest) URL() string {
	return r.url
}

// BuildParameters returns a copy of the configured parameters, possibly empty.
func (r *JSONRequest) BuildParameters() map[string]string {
	return maps.Clone(r.params)
}

// Headers returns the request headers, always including Accept: application/json.
func (r *JSONRequest) Headers() map[string]string {
	headers := maps.Clone(r.headers)
	headers[domain.HeaderAccept] = domain.AcceptJSON

	return headers
}

// ContentType returns the configured content type, or the transport default.
func (r *JSONRequest) ContentType() string {
	if r.contentType != "" {
		return r.contentType
	}

	return domain.DefaultContentType
}

// ShouldCache implements ports.Request.
func (r *JSONRequest) ShouldCache() bool {
	return r.shouldCache
}

// State returns the current lifecycle state.
func (r *JSONRequest) State() State {
	return State(r.state.Load())
}

// OnSuccess parses a successful raw response. Bodies that are not UTF-8 JSON
// produce a *StructuredError wrapping a parse failure. Cached object payloads
// are annotated with CacheHitMarker; network ones have it stripped.
func (r *JSONRequest) OnSuccess(ctx context.Context, raw *domain.RawResponse) (*domain.ParsedResponse, error) {
	logger := r.log(ctx)
	logger.DebugContext(ctx, "response received",
		slog.String("url", r.url),
		slog.Int("status", raw.StatusCode),
		slog.Bool("from_cache", raw.FromCache),
		slog.Any("headers", raw.Header),
		slog.String("body", string(raw.Body)),
	)

	value, err := domain.DecodeJSON(raw.Body)
	if err != nil {
		logger.ErrorContext(ctx, "json parse error",
			slog.String("url", r.url),
			slog.Any("error", err),
		)

		return nil, &StructuredError{
			Underlying:  domain.NewParseError(err, raw),
			NetworkTime: raw.NetworkTime,
		}
	}

	if obj, ok := value.(map[string]any); ok {
		if raw.FromCache {
			obj[CacheHitMarker] = true
		} else {
			delete(obj, CacheHitMarker)
		}
	}

	return &domain.ParsedResponse{
		Value:     value,
		Cache:     raw.Cache,
		FromCache: raw.FromCache,
	}, nil
}

// OnFailure translates a failed dispatch into a StructuredError.
func (r *JSONRequest) OnFailure(ctx context.Context, err error) *StructuredError {
	attrs := []any{
		slog.String("url", r.url),
		slog.String("category", domain.CategoryOf(err).String()),
		slog.Any("error", err),
	}

	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		attrs = append(attrs,
			slog.Int("status", netErr.StatusCode),
			slog.String("body", string(netErr.Body)),
		)
	}

	r.log(ctx).DebugContext(ctx, "network error", attrs...)

	return r.translator.Translate(err)
}

// String returns "METHOD url".
func (r *JSONRequest) String() string {
	return fmt.Sprintf("%s %s", r.method, r.url)
}

func (r *JSONRequest) log(ctx context.Context) *slog.Logger {
	logger := r.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}

	return logger.With(slog.String("component", "jsonrequest"))
}

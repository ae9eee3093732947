// Package reqctx carries request and correlation IDs through context.Context
// so the transport can propagate them to the upstream service.
package reqctx

import (
	"context"

	"github.com/google/uuid"

	"github.com/jsamuelsen/jsonrequest/internal/platform/logging"
)

const (
	// HeaderRequestID is the header name for request ID.
	HeaderRequestID = "X-Request-ID"

	// HeaderCorrelationID is the header name for correlation ID.
	// Unlike request ID (per-request), correlation ID tracks an entire
	// business transaction across multiple services.
	HeaderCorrelationID = "X-Correlation-ID"
)

type contextKey string

const (
	ctxKeyRequestID     contextKey = "request_id"
	ctxKeyCorrelationID contextKey = "correlation_id"
)

// RequestIDFromContext extracts the request ID from ctx.
// Returns empty string if not set or if ctx is nil.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxKeyRequestID)
}

// CorrelationIDFromContext extracts the correlation ID from ctx.
// Returns empty string if not set or if ctx is nil.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxKeyCorrelationID)
}

// WithRequestID stores a request ID in ctx and on the context logger.
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRequestID, id)
	return logging.WithRequestID(ctx, id)
}

// WithCorrelationID stores a correlation ID in ctx and on the context logger.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyCorrelationID, id)
	return logging.WithCorrelationID(ctx, id)
}

// EnsureRequestID returns ctx unchanged if it already carries a request ID,
// otherwise a context with a new UUID v4 request ID.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}

	id := uuid.New().String()

	return WithRequestID(ctx, id), id
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}

	if id, ok := ctx.Value(key).(string); ok {
		return id
	}

	return ""
}

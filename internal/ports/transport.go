// Package ports defines interfaces for external dependencies.
// Ports are contracts that adapters implement, allowing the JSON request core
// to depend on abstractions rather than a concrete HTTP client.
//
// Port Design Principles:
//   - Context as first parameter (always) for cancellation and deadlines
//   - Return domain types, never *http.Response or other infrastructure types
//   - Failures are *domain.NetworkError values classified by category
//   - Keep interfaces small and focused
package ports

import (
	"context"
	"time"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
)

// Request is the view of a request a Transport needs to perform the call.
// Implementations must not change any of these values once dispatched.
type Request interface {
	Method() domain.Method
	URL() string

	// BuildParameters returns the string-keyed parameters the transport encodes
	// into the query string or body. Never nil.
	BuildParameters() map[string]string

	// Headers returns the headers to send. Always includes Accept.
	Headers() map[string]string

	// ContentType returns the body content type.
	ContentType() string

	// ShouldCache reports whether the transport may serve or store this request
	// in its response cache.
	ShouldCache() bool
}

// Transport performs network calls.
//
// Dispatch returns exactly one of:
//   - a *domain.RawResponse for a 2xx outcome, with FromCache set before return
//     iff the body came from the transport's local cache
//   - a *domain.NetworkError describing the failure category, status, body and
//     elapsed network time
//
// Retry, caching, pooling and timeouts are the transport's concern.
type Transport interface {
	Dispatch(ctx context.Context, req Request) (*domain.RawResponse, error)
}

// ResponseCache stores raw responses keyed by request URL.
// Implementations may be in-memory or shared.
type ResponseCache interface {
	// Get returns the cached response for key, if present.
	Get(ctx context.Context, key string) (*domain.RawResponse, bool)

	// Set stores a response. A zero ttl means the implementation default.
	Set(ctx context.Context, key string, resp *domain.RawResponse, ttl time.Duration)

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string)
}

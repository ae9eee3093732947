// Package clients provides the HTTP Transport that JSON requests dispatch through.
package clients

import "errors"

// Transport-level causes. They reach callers wrapped in a
// *domain.NetworkError with CategoryTransport.
var (
	// ErrCircuitOpen is the cause when the circuit breaker rejected the request
	// without contacting the upstream.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrMaxRetriesExceeded wraps the last network error once every attempt failed.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	errNilRequest = errors.New("request is required")
)

// Package domain contains the request/response types shared by the JSON request
// core, the transport and the application layer.
// Errors here describe how a dispatched request failed, independent of any
// particular HTTP client implementation.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrTransportFailure indicates the request never produced an HTTP response
	// (timeout, connection refused, circuit open).
	ErrTransportFailure = errors.New("transport failure")

	// ErrServerFailure indicates the server answered with an error status.
	ErrServerFailure = errors.New("server failure")

	// ErrAuthFailure indicates the server rejected the request's credentials (401/403).
	ErrAuthFailure = errors.New("auth failure")

	// ErrParseFailure indicates a response body was present but was not valid JSON.
	ErrParseFailure = errors.New("parse failure")

	// ErrInvalidRequest indicates a request could not be built.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyDispatched is returned when a request is dispatched a second time.
	ErrAlreadyDispatched = errors.New("request already dispatched")
)

// Category classifies a failed dispatch.
type Category int

const (
	// CategoryTransport is a network-level failure with no response body.
	CategoryTransport Category = iota

	// CategoryServer is an HTTP error status; a body may be present.
	CategoryServer

	// CategoryAuth is an HTTP 401/403; a body may be present.
	CategoryAuth

	// CategoryParse is a response whose body is not valid JSON.
	CategoryParse
)

// String returns the metric/log label for the category.
func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport_failure"
	case CategoryServer:
		return "server_failure"
	case CategoryAuth:
		return "auth_failure"
	case CategoryParse:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error matching the category.
func (c Category) Sentinel() error {
	switch c {
	case CategoryServer:
		return ErrServerFailure
	case CategoryAuth:
		return ErrAuthFailure
	case CategoryParse:
		return ErrParseFailure
	default:
		return ErrTransportFailure
	}
}

// CarriesBody reports whether failures of this category may carry a structured body.
func (c Category) CarriesBody() bool {
	return c == CategoryServer || c == CategoryAuth
}

// NetworkError is the raw failure a Transport reports for a dispatched request.
type NetworkError struct {
	Category    Category
	StatusCode  int
	Body        []byte
	Header      http.Header
	NetworkTime time.Duration

	// Err is the cause, if any (e.g. a *net.OpError or a json syntax error).
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("%s: HTTP %d: %v", e.Category.Sentinel(), e.StatusCode, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: HTTP %d", e.Category.Sentinel(), e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Category.Sentinel(), e.Err)
	default:
		return e.Category.Sentinel().Error()
	}
}

// Unwrap exposes both the category sentinel and the cause.
func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Category.Sentinel()}
	}

	return []error{e.Category.Sentinel(), e.Err}
}

// NewTransportError creates a transport-level failure.
func NewTransportError(cause error, networkTime time.Duration) *NetworkError {
	return &NetworkError{Category: CategoryTransport, Err: cause, NetworkTime: networkTime}
}

// NewStatusError creates a failure for an HTTP error status, classifying
// 401/403 as auth failures and everything else as server failures.
func NewStatusError(status int, body []byte, header http.Header, networkTime time.Duration) *NetworkError {
	category := CategoryServer
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		category = CategoryAuth
	}

	return &NetworkError{
		Category:    category,
		StatusCode:  status,
		Body:        body,
		Header:      header,
		NetworkTime: networkTime,
	}
}

// NewParseError creates a failure for a success response whose body could not be parsed.
func NewParseError(cause error, resp *RawResponse) *NetworkError {
	e := &NetworkError{Category: CategoryParse, Err: cause}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Body = resp.Body
		e.Header = resp.Header
		e.NetworkTime = resp.NetworkTime
	}

	return e
}

// CategoryOf returns the failure category of err, defaulting to CategoryTransport
// for errors that are not a *NetworkError.
func CategoryOf(err error) Category {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Category
	}

	return CategoryTransport
}

// IsTransportFailure checks if an error is a transport failure.
func IsTransportFailure(err error) bool {
	return errors.Is(err, ErrTransportFailure)
}

// IsServerFailure checks if an error is a server failure.
func IsServerFailure(err error) bool {
	return errors.Is(err, ErrServerFailure)
}

// IsAuthFailure checks if an error is an auth failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailure)
}

// IsParseFailure checks if an error is a parse failure.
func IsParseFailure(err error) bool {
	return errors.Is(err, ErrParseFailure)
}

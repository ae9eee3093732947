package jsonrequest

import (
	"errors"
	"net/http"
	"time"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
)

// exceptionField is the error body field servers use to name the failure.
const exceptionField = "exception"

// StructuredError is a transport failure plus the JSON body the server sent
// with it, when that body could be parsed.
type StructuredError struct {
	// Underlying is the original transport error, never replaced.
	Underlying error

	// Body is the parsed failure body. Only meaningful when HasBody is true.
	Body any

	// HasBody is true iff the whole failure body parsed as JSON.
	HasBody bool

	// NetworkTime is copied verbatim from the underlying failure.
	NetworkTime time.Duration
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.HasBody {
		return "error response: " + domain.CompactJSON(e.Body)
	}

	return e.underlyingMessage()
}

// Unwrap returns the underlying transport error.
func (e *StructuredError) Unwrap() error {
	return e.Underlying
}

// Message returns the compact JSON body when present, else the underlying message.
func (e *StructuredError) Message() string {
	if e.HasBody {
		return domain.CompactJSON(e.Body)
	}

	return e.underlyingMessage()
}

// Exception returns the "exception" string field of an object body.
func (e *StructuredError) Exception() (string, bool) {
	if !e.HasBody {
		return "", false
	}

	obj, ok := e.Body.(map[string]any)
	if !ok {
		return "", false
	}

	s, ok := obj[exceptionField].(string)

	return s, ok
}

// Category returns the failure category of the underlying error.
func (e *StructuredError) Category() domain.Category {
	return domain.CategoryOf(e.Underlying)
}

// StatusCode returns the HTTP status of the failure, or 0 when no response was received.
func (e *StructuredError) StatusCode() int {
	var netErr *domain.NetworkError
	if errors.As(e.Underlying, &netErr) {
		return netErr.StatusCode
	}

	return 0
}

// Header returns the failure response headers, if any.
func (e *StructuredError) Header() http.Header {
	var netErr *domain.NetworkError
	if errors.As(e.Underlying, &netErr) {
		return netErr.Header
	}

	return nil
}

func (e *StructuredError) underlyingMessage() string {
	if e.Underlying == nil {
		return domain.ErrTransportFailure.Error()
	}

	return e.Underlying.Error()
}

// ErrorTranslator builds StructuredErrors from transport failures. It is
// stateless and safe for concurrent use.
type ErrorTranslator struct{}

// NewErrorTranslator creates an ErrorTranslator.
func NewErrorTranslator() *ErrorTranslator {
	return &ErrorTranslator{}
}

// Translate never fails: a body that cannot be decoded leaves the result with
// HasBody false and the original error untouched. Server and auth failures
// share one path.
func (t *ErrorTranslator) Translate(err error) *StructuredError {
	var existing *StructuredError
	if errors.As(err, &existing) {
		clone := *existing
		return &clone
	}

	if err == nil {
		err = domain.NewTransportError(nil, 0)
	}

	out := &StructuredError{Underlying: err}

	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) {
		return out
	}

	out.NetworkTime = netErr.NetworkTime

	if !netErr.Category.CarriesBody() || len(netErr.Body) == 0 {
		return out
	}

	body, parseErr := domain.DecodeJSON(netErr.Body)
	if parseErr != nil {
		return out
	}

	out.Body = body
	out.HasBody = true

	return out
}

package jsonrequest

import (
	"context"
	"errors"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
	"github.com/jsamuelsen/jsonrequest/internal/ports"
)

// State is the lifecycle state of a JSONRequest.
type State int32

const (
	// StateCreated is a configured request that has not been dispatched.
	StateCreated State = iota

	// StateDispatched is a request handed to the transport, awaiting its outcome.
	StateDispatched

	// StateSucceeded is terminal: the success value was delivered.
	StateSucceeded

	// StateFailed is terminal: a StructuredError was delivered.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler is the response handler a JSONRequest delivers to.
type Handler = ports.ResponseHandler[*StructuredError]

// HandlerFuncs adapts a pair of functions to a Handler.
type HandlerFuncs = ports.HandlerFuncs[*StructuredError]

var (
	errNilTransport = errors.New("transport is required")
	errNilHandler   = errors.New("handler is required")
)

// Outcome is the terminal result of one request: exactly one of Response and Err is set.
type Outcome struct {
	Method   domain.Method
	URL      string
	Response *domain.ParsedResponse
	Err      *StructuredError
}

// Succeeded reports whether the outcome carries a parsed response.
func (o *Outcome) Succeeded() bool {
	return o.Err == nil
}

// Result returns the category label used for metrics and logs: "success",
// "cache_hit", or the failure category.
func (o *Outcome) Result() string {
	switch {
	case o.Err != nil:
		return o.Err.Category().String()
	case o.Response.FromCache:
		return "cache_hit"
	default:
		return "success"
	}
}

// Execute dispatches the request through transport and delivers the outcome to
// handler: OnResult with the parsed value, or OnError with a StructuredError.
// Exactly one callback fires. Dispatching a request twice returns
// domain.ErrAlreadyDispatched and invokes nothing.
func (r *JSONRequest) Execute(ctx context.Context, transport ports.Transport, handler Handler) error {
	if handler == nil {
		return errNilHandler
	}

	parsed, failure, err := r.run(ctx, transport)
	if err != nil {
		return err
	}

	if failure != nil {
		handler.OnError(failure)
		return nil
	}

	handler.OnResult(parsed.Value)

	return nil
}

// Do dispatches the request and returns its Outcome.
func (r *JSONRequest) Do(ctx context.Context, transport ports.Transport) (*Outcome, error) {
	parsed, failure, err := r.run(ctx, transport)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Method:   r.method,
		URL:      r.url,
		Response: parsed,
		Err:      failure,
	}, nil
}

// run performs Created -> Dispatched -> {Succeeded, Failed}.
func (r *JSONRequest) run(ctx context.Context, transport ports.Transport) (*domain.ParsedResponse, *StructuredError, error) {
	if transport == nil {
		return nil, nil, errNilTransport
	}

	if !r.state.CompareAndSwap(int32(StateCreated), int32(StateDispatched)) {
		return nil, nil, domain.ErrAlreadyDispatched
	}

	raw, err := transport.Dispatch(ctx, r)
	if err == nil && raw == nil {
		err = domain.NewTransportError(errors.New("no response"), 0)
	}

	if err != nil {
		r.state.Store(int32(StateFailed))
		return nil, r.OnFailure(ctx, err), nil
	}

	parsed, err := r.OnSuccess(ctx, raw)
	if err != nil {
		r.state.Store(int32(StateFailed))

		var structured *StructuredError
		if !errors.As(err, &structured) {
			structured = r.translator.Translate(err)
		}

		return nil, structured, nil
	}

	r.state.Store(int32(StateSucceeded))

	return parsed, nil, nil
}

package ports

// ResponseHandler receives the terminal outcome of one request.
// Exactly one of the two methods is invoked, exactly once.
type ResponseHandler[E error] interface {
	OnResult(value any)
	OnError(err E)
}

// HandlerFuncs adapts a pair of functions to a ResponseHandler.
// A nil function is skipped.
type HandlerFuncs[E error] struct {
	Result func(value any)
	Error  func(err E)
}

// OnResult implements ResponseHandler.
func (h HandlerFuncs[E]) OnResult(value any) {
	if h.Result != nil {
		h.Result(value)
	}
}

// OnError implements ResponseHandler.
func (h HandlerFuncs[E]) OnError(err E) {
	if h.Error != nil {
		h.Error(err)
	}
}

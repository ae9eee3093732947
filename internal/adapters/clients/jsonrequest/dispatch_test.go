package jsonrequest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
	"github.com/jsamuelsen/jsonrequest/internal/ports"
)

// stubTransport returns a canned outcome and records what it was asked to send.
type stubTransport struct {
	resp  *domain.RawResponse
	err   error
	calls atomic.Int32

	lastParams      map[string]string
	lastShouldCache bool
}

func (s *stubTransport) Dispatch(_ context.Context, req ports.Request) (*domain.RawResponse, error) {
	s.calls.Add(1)
	s.lastParams = req.BuildParameters()
	s.lastShouldCache = req.ShouldCache()

	return s.resp, s.err
}

// recordingHandler counts deliveries.
type recordingHandler struct {
	mu      sync.Mutex
	results []any
	errs    []*StructuredError
}

func (h *recordingHandler) OnResult(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, v)
}

func (h *recordingHandler) OnError(e *StructuredError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, e)
}

func TestExecute_Success(t *testing.T) {
	transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`{"id":1}`)}}
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	require.NoError(t, req.Execute(context.Background(), transport, handler))

	require.Len(t, handler.results, 1)
	assert.Empty(t, handler.errs)
	assert.Equal(t, map[string]any{"id": float64(1)}, handler.results[0])
	assert.Equal(t, StateSucceeded, req.State())
}

// The cached example: GET answered from cache with {"id":1}.
func TestExecute_CachedSuccessCarriesMarker(t *testing.T) {
	transport := &stubTransport{resp: &domain.RawResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"id":1}`),
		FromCache:  true,
	}}
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	require.NoError(t, req.Execute(context.Background(), transport, handler))

	require.Len(t, handler.results, 1)
	assert.Equal(t, map[string]any{"id": float64(1), "@#fromcache": true}, handler.results[0])
	assert.True(t, transport.lastShouldCache)
}

func TestExecute_Failure(t *testing.T) {
	transport := &stubTransport{err: domain.NewTransportError(errors.New("refused"), 0)}
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	require.NoError(t, req.Execute(context.Background(), transport, handler))

	assert.Empty(t, handler.results)
	require.Len(t, handler.errs, 1)
	require.ErrorIs(t, handler.errs[0], domain.ErrTransportFailure)
	assert.Equal(t, StateFailed, req.State())
}

func TestExecute_ParseFailureIsDeliveredAsError(t *testing.T) {
	transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte("not json")}}
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	require.NoError(t, req.Execute(context.Background(), transport, handler))

	assert.Empty(t, handler.results)
	require.Len(t, handler.errs, 1)
	require.ErrorIs(t, handler.errs[0], domain.ErrParseFailure)
	assert.Equal(t, StateFailed, req.State())
}

func TestExecute_NilResponseIsTransportFailure(t *testing.T) {
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	require.NoError(t, req.Execute(context.Background(), &stubTransport{}, handler))

	require.Len(t, handler.errs, 1)
	require.ErrorIs(t, handler.errs[0], domain.ErrTransportFailure)
}

func TestExecute_OnlyOnce(t *testing.T) {
	transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}}
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	require.NoError(t, req.Execute(context.Background(), transport, handler))
	err := req.Execute(context.Background(), transport, handler)

	require.ErrorIs(t, err, domain.ErrAlreadyDispatched)
	assert.Len(t, handler.results, 1)
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestExecute_ConcurrentDispatchDeliversOnce(t *testing.T) {
	transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}}
	req := newTestRequest(t, domain.MethodGet)
	handler := &recordingHandler{}

	var wg sync.WaitGroup
	var rejected atomic.Int32

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := req.Execute(context.Background(), transport, handler); errors.Is(err, domain.ErrAlreadyDispatched) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(9), rejected.Load())
	assert.Len(t, handler.results, 1)
	assert.Empty(t, handler.errs)
}

func TestExecute_RequiresCollaborators(t *testing.T) {
	req := newTestRequest(t, domain.MethodGet)

	require.Error(t, req.Execute(context.Background(), nil, &recordingHandler{}))
	require.Error(t, req.Execute(context.Background(), &stubTransport{}, nil))
	assert.Equal(t, StateCreated, req.State())
}

func TestHandlerFuncs_NilFunctionsAreSkipped(t *testing.T) {
	transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}}
	req := newTestRequest(t, domain.MethodGet)

	assert.NotPanics(t, func() {
		require.NoError(t, req.Execute(context.Background(), transport, HandlerFuncs{}))
	})
}

func TestDo_Outcome(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`[1]`)}}
		req := newTestRequest(t, domain.MethodGet)

		outcome, err := req.Do(context.Background(), transport)
		require.NoError(t, err)

		assert.True(t, outcome.Succeeded())
		assert.Nil(t, outcome.Err)
		assert.Equal(t, "success", outcome.Result())
		assert.Equal(t, domain.MethodGet, outcome.Method)
		assert.Equal(t, "https://api.example.com/resource", outcome.URL)
	})

	t.Run("cache hit", func(t *testing.T) {
		transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`{}`), FromCache: true}}
		req := newTestRequest(t, domain.MethodGet)

		outcome, err := req.Do(context.Background(), transport)
		require.NoError(t, err)
		assert.Equal(t, "cache_hit", outcome.Result())
	})

	t.Run("failure", func(t *testing.T) {
		transport := &stubTransport{err: domain.NewStatusError(http.StatusForbidden, nil, nil, 0)}
		req := newTestRequest(t, domain.MethodDelete)

		outcome, err := req.Do(context.Background(), transport)
		require.NoError(t, err)

		assert.False(t, outcome.Succeeded())
		assert.Nil(t, outcome.Response)
		assert.Equal(t, "auth_failure", outcome.Result())
	})

	t.Run("second dispatch", func(t *testing.T) {
		transport := &stubTransport{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}}
		req := newTestRequest(t, domain.MethodGet)

		_, err := req.Do(context.Background(), transport)
		require.NoError(t, err)

		_, err = req.Do(context.Background(), transport)
		require.ErrorIs(t, err, domain.ErrAlreadyDispatched)
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "dispatched", StateDispatched.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

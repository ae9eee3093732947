package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/jsonrequest/internal/adapters/clients/jsonrequest"
	"github.com/jsamuelsen/jsonrequest/internal/domain"
	"github.com/jsamuelsen/jsonrequest/internal/platform/config"
	"github.com/jsamuelsen/jsonrequest/internal/platform/reqctx"
)

// testRequest is a minimal ports.Request.
type testRequest struct {
	method      domain.Method
	url         string
	params      map[string]string
	headers     map[string]string
	contentType string
	cache       bool
}

func (r testRequest) Method() domain.Method { return r.method }
func (r testRequest) URL() string           { return r.url }
func (r testRequest) ShouldCache() bool     { return r.cache }

func (r testRequest) BuildParameters() map[string]string {
	out := map[string]string{}
	for k, v := range r.params {
		out[k] = v
	}

	return out
}

func (r testRequest) Headers() map[string]string {
	out := map[string]string{domain.HeaderAccept: domain.AcceptJSON}
	for k, v := range r.headers {
		out[k] = v
	}

	return out
}

func (r testRequest) ContentType() string {
	if r.contentType == "" {
		return domain.DefaultContentType
	}

	return r.contentType
}

func defaultConfig() *Config {
	return &Config{
		ServiceName: "test-upstream",
		UserAgent:   "jsonreq-test",
		Timeout:     5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
		},
		Circuit: config.CircuitBreakerConfig{
			MaxFailures:   5,
			Timeout:       time.Minute,
			HalfOpenLimit: 1,
		},
		Transport: config.TransportConfig{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     time.Minute,
		},
	}
}

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()

	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// countingServer counts hits and delegates to handler.
func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "config is required")

	cfg := defaultConfig()
	cfg.ServiceName = ""
	_, err = New(cfg)
	require.ErrorContains(t, err, "service name is required")

	cfg = defaultConfig()
	cfg.Timeout = 0
	cfg.Retry.MaxAttempts = 0
	client, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, client.cfg.Timeout)
	assert.Equal(t, 1, client.cfg.Retry.MaxAttempts)
	assert.Equal(t, StateClosed, client.CircuitState())
}

func TestDispatch_QueryStringMethods(t *testing.T) {
	var got *http.Request
	var gotBody []byte

	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	client := newTestClient(t, defaultConfig())

	for _, method := range []domain.Method{domain.MethodGet, domain.MethodDelete} {
		t.Run(string(method), func(t *testing.T) {
			raw, err := client.Dispatch(context.Background(), testRequest{
				method: method,
				url:    srv.URL + "/items?page=2",
				params: map[string]string{"q": "a b", "limit": "10"},
			})
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, raw.StatusCode)
			assert.JSONEq(t, `{"ok":true}`, string(raw.Body))
			assert.False(t, raw.FromCache)

			assert.Equal(t, string(method), got.Method)
			assert.Equal(t, "/items", got.URL.Path)
			assert.Equal(t, url.Values{"page": {"2"}, "q": {"a b"}, "limit": {"10"}}, got.URL.Query())
			assert.Equal(t, "application/json", got.Header.Get("Accept"))
			assert.Empty(t, got.Header.Get("Content-Type"))
			assert.Empty(t, gotBody)
		})
	}
}

func TestDispatch_BodyMethods(t *testing.T) {
	var gotContentType string
	var gotBody []byte

	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	})

	client := newTestClient(t, defaultConfig())

	t.Run("form encoded by default", func(t *testing.T) {
		_, err := client.Dispatch(context.Background(), testRequest{
			method: domain.MethodPost,
			url:    srv.URL + "/login",
			params: map[string]string{"user": "a", "pass": "b&c"},
		})
		require.NoError(t, err)

		assert.Equal(t, domain.DefaultContentType, gotContentType)
		assert.Equal(t, "pass=b%26c&user=a", string(gotBody))
	})

	t.Run("json object for json content type", func(t *testing.T) {
		_, err := client.Dispatch(context.Background(), testRequest{
			method:      domain.MethodPut,
			url:         srv.URL + "/items/1",
			params:      map[string]string{"name": "widget"},
			contentType: domain.JSONContentType,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.JSONContentType, gotContentType)
		assert.JSONEq(t, `{"name":"widget"}`, string(gotBody))
	})
}

func TestDispatch_HeaderPropagation(t *testing.T) {
	var got http.Header

	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	})

	cfg := defaultConfig()
	cfg.AuthFunc = func(r *http.Request) { r.Header.Set("Authorization", "Bearer t0ken") }
	client := newTestClient(t, cfg)

	ctx := reqctx.WithRequestID(context.Background(), "req-123")
	ctx = reqctx.WithCorrelationID(ctx, "corr-456")

	_, err := client.Dispatch(ctx, testRequest{
		method:  domain.MethodGet,
		url:     srv.URL,
		headers: map[string]string{"X-Api-Version": "2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-123", got.Get(reqctx.HeaderRequestID))
	assert.Equal(t, "corr-456", got.Get(reqctx.HeaderCorrelationID))
	assert.Equal(t, "Bearer t0ken", got.Get("Authorization"))
	assert.Equal(t, "jsonreq-test", got.Get("User-Agent"))
	assert.Equal(t, "2", got.Get("X-Api-Version"))
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"third":"time"}`))
	})

	client := newTestClient(t, defaultConfig())

	raw, err := client.Dispatch(context.Background(), testRequest{method: domain.MethodGet, url: srv.URL})
	require.NoError(t, err)

	assert.JSONEq(t, `{"third":"time"}`, string(raw.Body))
	assert.Equal(t, int32(3), hits.Load())
	assert.Positive(t, raw.NetworkTime)
}

func TestDispatch_FinalServerErrorKeepsBody(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"exception":"Maintenance"}`))
	})

	client := newTestClient(t, defaultConfig())

	raw, err := client.Dispatch(context.Background(), testRequest{method: domain.MethodGet, url: srv.URL})
	require.Error(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, int32(3), hits.Load())

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, domain.CategoryServer, netErr.Category)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.JSONEq(t, `{"exception":"Maintenance"}`, string(netErr.Body))
	assert.Equal(t, "application/json", netErr.Header.Get("Content-Type"))
	assert.Positive(t, netErr.NetworkTime)
}

func TestDispatch_ClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status   int
		category domain.Category
	}{
		{http.StatusBadRequest, domain.CategoryServer},
		{http.StatusNotFound, domain.CategoryServer},
		{http.StatusUnauthorized, domain.CategoryAuth},
		{http.StatusForbidden, domain.CategoryAuth},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"exception":"Nope"}`))
			})

			client := newTestClient(t, defaultConfig())

			_, err := client.Dispatch(context.Background(), testRequest{method: domain.MethodPost, url: srv.URL})
			require.ErrorIs(t, err, tt.category.Sentinel())
			assert.Equal(t, tt.category, domain.CategoryOf(err))
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestDispatch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	client := newTestClient(t, defaultConfig())

	raw, err := client.Dispatch(context.Background(), testRequest{method: domain.MethodGet, url: target})
	assert.Nil(t, raw)
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	require.ErrorIs(t, err, ErrMaxRetriesExceeded)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.Nil(t, netErr.Body)
}

func TestDispatch_CanceledContext(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cfg := defaultConfig()
	cfg.Circuit.MaxFailures = 1
	client := newTestClient(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Dispatch(ctx, testRequest{method: domain.MethodGet, url: srv.URL})
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
	assert.Equal(t, StateClosed, client.CircuitState(), "caller cancellation is not an upstream failure")
}

func TestDispatch_CircuitBreaker(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	cfg := defaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Circuit.MaxFailures = 2
	client := newTestClient(t, cfg)

	req := testRequest{method: domain.MethodGet, url: srv.URL}

	for range 2 {
		_, err := client.Dispatch(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrServerFailure)
	}

	assert.Equal(t, StateOpen, client.CircuitState())

	_, err := client.Dispatch(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDispatch_AuthFailuresDoNotTripBreaker(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	cfg := defaultConfig()
	cfg.Circuit.MaxFailures = 1
	client := newTestClient(t, cfg)

	for range 3 {
		_, err := client.Dispatch(context.Background(), testRequest{method: domain.MethodGet, url: srv.URL})
		require.ErrorIs(t, err, domain.ErrAuthFailure)
	}

	assert.Equal(t, StateClosed, client.CircuitState())
}

func cachingConfig() *Config {
	cfg := defaultConfig()
	cfg.Cache = NewMemoryCache(16, time.Hour)

	return cfg
}

func TestDispatch_FreshCacheHit(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	client := newTestClient(t, cachingConfig())
	req := testRequest{method: domain.MethodGet, url: srv.URL + "/items/1", cache: true}

	first, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.NotNil(t, first.Cache)

	second, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Zero(t, second.NetworkTime)
	assert.JSONEq(t, `{"id":1}`, string(second.Body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatch_CacheDropsNoCacheFields(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", `max-age=60, no-cache="Set-Cookie"`)
		w.Header().Set("Set-Cookie", "session=abc")
		w.Header().Set("X-Region", "eu")
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	client := newTestClient(t, cachingConfig())
	req := testRequest{method: domain.MethodGet, url: srv.URL + "/items/1", cache: true}

	first, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "session=abc", first.Header.Get("Set-Cookie"))

	second, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Empty(t, second.Header.Get("Set-Cookie"))
	assert.Equal(t, "eu", second.Header.Get("X-Region"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatch_CachePolicy(t *testing.T) {
	tests := []struct {
		name         string
		req          testRequest
		cacheControl string
		wantHits     int32
	}{
		{
			name:         "request opted out",
			req:          testRequest{method: domain.MethodGet, cache: false},
			cacheControl: "max-age=60",
			wantHits:     2,
		},
		{
			name:         "post is never cached",
			req:          testRequest{method: domain.MethodPost, cache: true},
			cacheControl: "max-age=60",
			wantHits:     2,
		},
		{
			name:         "no-store response",
			req:          testRequest{method: domain.MethodGet, cache: true},
			cacheControl: "no-store",
			wantHits:     2,
		},
		{
			name:         "no freshness and no validator",
			req:          testRequest{method: domain.MethodGet, cache: true},
			cacheControl: "",
			wantHits:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.cacheControl != "" {
					w.Header().Set("Cache-Control", tt.cacheControl)
				}
				_, _ = w.Write([]byte(`{}`))
			})

			client := newTestClient(t, cachingConfig())
			tt.req.url = srv.URL

			for range 2 {
				raw, err := client.Dispatch(context.Background(), tt.req)
				require.NoError(t, err)
				assert.False(t, raw.FromCache)
			}

			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestDispatch_DefaultTTL(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	cfg := cachingConfig()
	cfg.DefaultCacheTTL = time.Minute
	client := newTestClient(t, cfg)
	req := testRequest{method: domain.MethodGet, url: srv.URL, cache: true}

	_, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)

	raw, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, raw.FromCache)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatch_ConditionalRevalidation(t *testing.T) {
	var lastIfNoneMatch string

	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		lastIfNoneMatch = r.Header.Get("If-None-Match")
		w.Header().Set("Cache-Control", "max-age=0")
		w.Header().Set("ETag", `"v1"`)

		if lastIfNoneMatch == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		_, _ = w.Write([]byte(`{"version":1}`))
	})

	client := newTestClient(t, cachingConfig())
	req := testRequest{method: domain.MethodGet, url: srv.URL, cache: true}

	_, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, lastIfNoneMatch)

	raw, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `"v1"`, lastIfNoneMatch)
	assert.Equal(t, http.StatusOK, raw.StatusCode)
	assert.JSONEq(t, `{"version":1}`, string(raw.Body))
	assert.False(t, raw.FromCache, "a 304 is a network answer")
	assert.Equal(t, int32(2), hits.Load())
}

func TestDispatch_StaleWhileRevalidate(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=1, stale-while-revalidate=60")
		_, _ = w.Write([]byte(`{"id":7}`))
	})

	clock := newFakeClock()
	client := newTestClient(t, cachingConfig())
	client.now = clock.Now

	req := testRequest{method: domain.MethodGet, url: srv.URL, cache: true}

	_, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	stale, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, stale.FromCache)

	require.NoError(t, client.Close())
	assert.Equal(t, int32(2), hits.Load(), "stale entry refreshed in the background")

	fresh, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, fresh.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDispatch_ExpiredEntryWithoutValidatorIsRefetched(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=1")
		_, _ = w.Write([]byte(`{}`))
	})

	clock := newFakeClock()
	client := newTestClient(t, cachingConfig())
	client.now = clock.Now

	req := testRequest{method: domain.MethodGet, url: srv.URL, cache: true}

	_, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)

	raw, err := client.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, raw.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}

// A cached GET answered with {"id":1} reaches the handler with the cache-hit marker.
func TestDispatch_JSONRequestCacheMarker(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	client := newTestClient(t, cachingConfig())

	send := func() map[string]any {
		req, err := jsonrequest.New(domain.MethodGet, srv.URL+"/items/1")
		require.NoError(t, err)

		outcome, err := req.Do(context.Background(), client)
		require.NoError(t, err)
		require.True(t, outcome.Succeeded())

		obj, ok := outcome.Response.Object()
		require.True(t, ok)

		return obj
	}

	assert.Equal(t, map[string]any{"id": float64(1)}, send())
	assert.Equal(t, map[string]any{"id": float64(1), jsonrequest.CacheHitMarker: true}, send())
}

// POST /login with user=a rejected with 401 {"exception":"BadCredentials"}.
func TestDispatch_JSONRequestLoginRejected(t *testing.T) {
	var form url.Values

	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"exception": "BadCredentials"})
	})

	client := newTestClient(t, cachingConfig())

	req, err := jsonrequest.New(domain.MethodPost, srv.URL+"/login", jsonrequest.WithParameter("user", "a"))
	require.NoError(t, err)

	outcome, err := req.Do(context.Background(), client)
	require.NoError(t, err)
	require.NotNil(t, outcome.Err)

	exception, ok := outcome.Err.Exception()
	require.True(t, ok)
	assert.Equal(t, "BadCredentials", exception)
	require.ErrorIs(t, outcome.Err, domain.ErrAuthFailure)
	assert.Positive(t, outcome.Err.NetworkTime)
	assert.Equal(t, "a", form.Get("user"))
}

func TestCalculateBackoff(t *testing.T) {
	client := newTestClient(t, &Config{
		ServiceName: "backoff",
		Retry: config.RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     300 * time.Millisecond,
			Multiplier:      2,
			JitterFactor:    0.25,
		},
	})

	within := func(d, center time.Duration) {
		t.Helper()
		assert.GreaterOrEqual(t, d, time.Duration(float64(center)*0.75))
		assert.LessOrEqual(t, d, time.Duration(float64(center)*1.25))
	}

	for range 20 {
		within(client.calculateBackoff(1), 100*time.Millisecond)
		within(client.calculateBackoff(2), 200*time.Millisecond)
		within(client.calculateBackoff(3), 300*time.Millisecond)
		within(client.calculateBackoff(8), 300*time.Millisecond)
	}
}

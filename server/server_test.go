package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektr-io/twx-cli/config"
)

func newTestServer(t *testing.T, cfg config.ServerConfig, opts ...ServerOption) *Server {
	t.Helper()
	opts = append(opts, WithMetrics(NewMetrics(prometheus.NewRegistry())))
	return New(cfg, nil, opts...)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProxy_MissingHostHeader(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/proxy/digitaltwins/t1", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), hostHeader)
}

func TestProxy_ForwardsAndStripsHeaders(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotHostHeader, gotOrigin string
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotHostHeader = r.Header.Get(hostHeader)
		gotOrigin = r.Header.Get("Origin")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"$dtId":"t1"}`)
	}))
	defer upstream.Close()

	s := newTestServer(t, config.ServerConfig{}, WithHTTPClient(upstream.Client()))

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/digitaltwins/t1?api-version=2023-10-31", nil)
	req.Header.Set(hostHeader, strings.TrimPrefix(upstream.URL, "https://"))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Origin", "https://app.example.com")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"$dtId":"t1"}`, rec.Body.String())
	assert.Equal(t, "/digitaltwins/t1", gotPath)
	assert.Equal(t, "api-version=2023-10-31", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Empty(t, gotHostHeader, "host header must not be forwarded")
	assert.Empty(t, gotOrigin, "origin must not be forwarded")
	assert.Empty(t, rec.Header().Get("Content-Length"))
}

func TestProxy_UpstreamFailureIsBadGateway(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := upstream.Client()
	upstream.Close() // connection refused from here on

	s := newTestServer(t, config.ServerConfig{}, WithHTTPClient(client))

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/digitaltwins/t1", nil)
	req.Header.Set(hostHeader, strings.TrimPrefix(upstream.URL, "https://"))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxy_RelaysUpstreamStatus(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"no such twin"}}`)
	}))
	defer upstream.Close()

	s := newTestServer(t, config.ServerConfig{}, WithHTTPClient(upstream.Client()))

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/digitaltwins/ghost", nil)
	req.Header.Set(hostHeader, strings.TrimPrefix(upstream.URL, "https://"))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no such twin")
}

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = value
}

func TestProxy_CachesGETResponses(t *testing.T) {
	calls := 0
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer upstream.Close()

	s := newTestServer(t, config.ServerConfig{CacheTTL: time.Minute},
		WithHTTPClient(upstream.Client()), WithCache(&memCache{}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/proxy/models", nil)
		req.Header.Set(hostHeader, strings.TrimPrefix(upstream.URL, "https://"))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"value":[]}`, rec.Body.String())
	}

	assert.Equal(t, 1, calls, "repeated GETs should be served from cache")
}

func TestProxy_CacheSkippedForWrites(t *testing.T) {
	calls := 0
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"query":"SELECT *"}`, string(body))
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer upstream.Close()

	s := newTestServer(t, config.ServerConfig{CacheTTL: time.Minute},
		WithHTTPClient(upstream.Client()), WithCache(&memCache{}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/proxy/query",
			strings.NewReader(`{"query":"SELECT *"}`))
		req.Header.Set(hostHeader, strings.TrimPrefix(upstream.URL, "https://"))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2, calls)
}

func TestControlPlane_ForwardsAuthorization(t *testing.T) {
	var gotPath, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"resources":[]}`)
	}))
	defer upstream.Close()

	s := newTestServer(t, config.ServerConfig{ControlPlaneURL: upstream.URL},
		WithHTTPClient(upstream.Client()))

	req := httptest.NewRequest(http.MethodGet, "/api/ktrlplane/resources", nil)
	req.Header.Set("Authorization", "Bearer tok")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/resources", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestControlPlane_Unconfigured(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ktrlplane/resources", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{
		AllowedOrigins: []string{"https://app.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/proxy/query", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com",
		rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service_name":"twx-proxy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRun_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

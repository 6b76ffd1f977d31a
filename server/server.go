// Package server implements the HTTP proxy used by the browser frontend:
// it forwards twin-store requests to the host named per request, relays
// control-plane calls, and exposes health and Prometheus endpoints.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/buildinfo"
	"github.com/konnektr-io/twx-cli/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

// Server is the proxy service.
type Server struct {
	cfg     config.ServerConfig
	log     logging.Logger
	metrics *Metrics
	cache   Cache
	client  *http.Client
	handler http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCache installs a response cache for proxied GET requests.
func WithCache(cache Cache) ServerOption {
	return func(s *Server) { s.cache = cache }
}

// WithMetrics overrides the metric set, used by tests to isolate
// registries.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHTTPClient overrides the upstream client, used by tests.
func WithHTTPClient(client *http.Client) ServerOption {
	return func(s *Server) { s.client = client }
}

// New builds the proxy service and its routes.
func New(cfg config.ServerConfig, log logging.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Server{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = DefaultMetrics()
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", buildinfo.Handler("twx-proxy"))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.HandleFunc("/api/proxy/*", s.handleProxy)
	r.HandleFunc("/api/ktrlplane/*", s.handleControlPlane)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// instrument logs each request and records the route metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routeLabel(r.URL.Path)
		elapsed := time.Since(start)
		s.metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		s.metrics.RequestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
		s.log.Debug("request served",
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", ww.Status()),
			logging.F("duration", elapsed))
	})
}

// routeLabel collapses paths onto a bounded label set so metric
// cardinality stays flat.
func routeLabel(path string) string {
	switch {
	case path == "/healthz":
		return "healthz"
	case path == "/metrics":
		return "metrics"
	case len(path) >= len("/api/proxy/") && path[:len("/api/proxy/")] == "/api/proxy/":
		return "proxy"
	case len(path) >= len("/api/ktrlplane/") && path[:len("/api/ktrlplane/")] == "/api/ktrlplane/":
		return "ktrlplane"
	default:
		return "other"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("proxy listening", logging.F("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("proxy shutting down")
	return srv.Shutdown(shutdownCtx)
}

package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Server is the metrics and status HTTP server.
type Server struct {
	addr           string
	allowedOrigins []string
	registry       *prometheus.Registry
	metrics        *Metrics
	health         *HealthChecker
	api            *StatusAPI
	logger         *slog.Logger
	server         *http.Server
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:9464".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithAllowedOrigins sets the browser origins allowed to call the API.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the checker behind /healthz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.health = hc
	}
}

// WithStatusAPI mounts the /api routes.
func WithStatusAPI(api *StatusAPI) Option {
	return func(s *Server) {
		s.api = api
	}
}

// NewServer creates a server exposing metrics from registry. The registry
// also receives the Go and process collectors.
func NewServer(registry *prometheus.Registry, metrics *Metrics, opts ...Option) *Server {
	s := &Server{
		addr:     "127.0.0.1:9464",
		registry: registry,
		metrics:  metrics,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Handler builds the routed handler.
//
// Middleware order (outermost first): metrics, request ID, origin check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.health != nil {
		mux.Handle("GET /healthz", s.health.Handler())
	} else {
		mux.Handle("GET /healthz", healthHandler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	if s.api != nil {
		s.api.Register(mux)
	}

	var h http.Handler = mux
	h = DNSRebindingProtection(s.allowedOrigins)(h)
	h = RequestIDMiddleware(s.logger)(h)
	if s.metrics != nil {
		h = MetricsMiddleware(s.metrics)(h)
	}
	return h
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", "addr", ln.Addr().String())
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down status server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("status server shutdown complete")
	return nil
}

// healthHandler is the /healthz fallback when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}

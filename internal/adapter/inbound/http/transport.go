package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Server is the inbound HTTP adapter. It owns the listener, the route
// table, and the middleware chain, and delegates everything else to the
// MCP and OAuth handlers.
type Server struct {
	mcp           *MCPHandler
	oauth         *OAuthHandler
	server        *http.Server
	addr          string
	certFile      string
	keyFile       string
	registry      *prometheus.Registry
	metrics       *Metrics
	healthChecker *HealthChecker
	logger        *slog.Logger
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry sets the Prometheus registry. Callers that register their
// own collectors (the stats worker does) share one registry across the
// process this way.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// NewServer creates an HTTP server wrapping the MCP and OAuth handlers.
func NewServer(mcp *MCPHandler, oauth *OAuthHandler, opts ...Option) *Server {
	s := &Server{
		mcp:    mcp,
		oauth:  oauth,
		addr:   "127.0.0.1:8080",
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(s.registry)
	s.mcp.metrics = s.metrics
	s.oauth.metrics = s.metrics

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/mcp/{slug}", s.mcp.HandleRPC)
	mux.HandleFunc("GET /api/mcp/{slug}", s.mcp.HandleDiscovery)

	mux.HandleFunc("GET /api/oauth/{slug}", s.oauth.HandleMetadata)
	mux.HandleFunc("GET /api/oauth/{slug}/authorize", s.oauth.HandleAuthorize)
	mux.HandleFunc("POST /api/oauth/{slug}/authorize", s.oauth.HandleLogin)
	mux.HandleFunc("POST /api/oauth/{slug}/token", s.oauth.HandleToken)

	if s.healthChecker != nil {
		mux.Handle("/healthz", s.healthChecker.Handler())
	} else {
		mux.Handle("/healthz", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	// Favicon handler to prevent browser 500 errors
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - record duration and status for the full chain
	// 2. RequestIDMiddleware - request ID and enriched logger in context
	// 3. RecoverMiddleware - panic containment
	var handler http.Handler = mux
	handler = RecoverMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

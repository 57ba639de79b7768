package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/folio/service/config"
	"github.com/brojonat/folio/service/metrics"
	"github.com/brojonat/folio/service/solana"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the portfolio service.
type Server struct {
	addr      string
	cfg       *config.Config
	portfolio Portfolio
	sessions  *sessions
	submitter Submitter
	signer    solana.Signer
	events    EventSource
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The watcher is optional - if nil, balances are only read on connect and refresh.
// The submitter and signer are optional - if either is nil, transaction endpoints won't be available.
// The events source is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, p Portfolio, watcher BalanceWatcher, submitter Submitter, signer solana.Signer, events EventSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		portfolio: p,
		sessions:  newSessions(p, watcher, cfg.BalancePollInterval, logger),
		submitter: submitter,
		signer:    signer,
		events:    events,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Session and portfolio routes
	route("POST /api/v1/session", "/api/v1/session", handleConnect(s.sessions, s.portfolio, s.cfg.SolanaCluster, s.logger))
	route("DELETE /api/v1/session", "/api/v1/session", handleDisconnect(s.sessions))
	route("GET /api/v1/session", "/api/v1/session", handleGetSession(s.portfolio))
	route("GET /api/v1/portfolio", "/api/v1/portfolio", handleGetPortfolio(s.portfolio))
	route("POST /api/v1/portfolio/refresh", "/api/v1/portfolio/refresh", handleRefresh(s.portfolio, s.logger))
	route("GET /api/v1/portfolio/receive", "/api/v1/portfolio/receive", handleReceive(s.portfolio))

	// Transaction submission (if a signer is configured)
	if s.submitter != nil && s.signer != nil {
		route("POST /api/v1/transactions", "/api/v1/transactions", handleSubmitTransaction(s.submitter, s.signer, s.logger))
		s.logger.Info("transaction submission enabled", "fee_payer", s.signer.PublicKey().String())
	} else {
		s.logger.Warn("no signer configured, transaction submission disabled")
	}

	// SSE streaming endpoints (if an event source is configured)
	if s.events != nil {
		route("GET /api/v1/stream/portfolio/{account}", "/api/v1/stream/portfolio", handleStreamPortfolio(s.events, s.metrics, s.logger))
		route("GET /api/v1/stream/portfolio", "/api/v1/stream/portfolio", handleStreamPortfolio(s.events, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("event source not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Stop balance polling first so no new passes start.
	s.sessions.close()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grcworks/sod-analyzer/internal/infrastructure/config"
)

// Server is the HTTP server for the analysis API.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	handler    *Handler
	hub        *ProgressHub
	logger     *slog.Logger
}

// NewServer assembles the router and middleware stack around the handlers.
func NewServer(cfg *config.Config, handler *Handler, hub *ProgressHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.handleHealth)
	mux.HandleFunc("GET /healthz", handler.handleHealth)
	mux.HandleFunc("GET /ready", handler.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Websocket connections must outlive the request timeout, so only the
	// analysis routes get one.
	timed := timeoutMiddleware(cfg.Server.RequestTimeout)
	mux.Handle("POST /api/v1/analyses", timed(http.HandlerFunc(handler.handleCreateAnalysis)))
	mux.Handle("GET /api/v1/analyses/{id}", timed(http.HandlerFunc(handler.handleGetAnalysis)))
	mux.Handle("DELETE /api/v1/analyses/{id}", timed(http.HandlerFunc(handler.handleDeleteAnalysis)))
	mux.Handle("GET /api/v1/analyses/{id}/violations/users", timed(http.HandlerFunc(handler.handleUserViolations)))
	mux.Handle("GET /api/v1/analyses/{id}/violations/roles", timed(http.HandlerFunc(handler.handleRoleViolations)))
	mux.Handle("GET /api/v1/analyses/{id}/charts", timed(http.HandlerFunc(handler.handleCharts)))
	mux.Handle("GET /api/v1/analyses/{id}/reports/users", timed(http.HandlerFunc(handler.handleUserReport)))
	mux.Handle("GET /api/v1/analyses/{id}/reports/roles", timed(http.HandlerFunc(handler.handleRoleReport)))

	if hub != nil {
		mux.HandleFunc("GET /api/v1/ws", hub.HandleWebSocket)
	}

	root := chain(mux,
		requestIDMiddleware,
		recoveryMiddleware,
		loggingMiddleware,
		metricsMiddleware(mux),
		corsMiddleware(cfg.CORS.AllowedOrigins),
		rateLimitMiddleware(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.Burst),
	)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      root,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		handler: handler,
		hub:     hub,
		logger:  logger,
	}
}

// Start serves until the context is cancelled or a shutdown signal arrives,
// then drains connections within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(shutdownCtx)
}

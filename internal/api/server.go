package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/multimediabot/internal/api/handlers"
	"github.com/amaumene/multimediabot/internal/api/middleware"
	"github.com/amaumene/multimediabot/internal/config"
	"github.com/amaumene/multimediabot/internal/controllers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// WebhookPath is where Telegram delivers updates in webhook mode
const WebhookPath = "/telegram/webhook"

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	catalog  handlers.StatsSource
	store    handlers.Pinger
	sessions *controllers.SessionStore
	updates  handlers.UpdateSink
	logger   *logrus.Logger
}

// Store is what the HTTP handlers need from the catalog database
type Store interface {
	handlers.StatsSource
	handlers.Pinger
}

// NewServer creates a new HTTP server. updates may be nil when the bot
// polls for updates instead of receiving them.
func NewServer(cfg *config.Config, store Store, sessions *controllers.SessionStore, updates handlers.UpdateSink, logger *logrus.Logger) *Server {
	s := &Server{
		catalog:  store,
		store:    store,
		sessions: sessions,
		updates:  updates,
		logger:   logger,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux, cfg)

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux, cfg *config.Config) {
	// Health check
	healthHandler := handlers.NewHealthHandler(s.store, s.logger)
	mux.HandleFunc("/health", healthHandler.ServeHTTP)

	// Status endpoint
	statusHandler := handlers.NewStatusHandler(s.catalog, s.sessions, s.logger)
	mux.HandleFunc("/status", statusHandler.ServeHTTP)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Telegram webhook
	if s.updates != nil {
		webhookHandler := handlers.NewWebhookHandler(s.updates, cfg.WebhookSecret, s.logger)
		mux.HandleFunc(WebhookPath, webhookHandler.ServeHTTP)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

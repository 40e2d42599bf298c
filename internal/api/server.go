package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-vc/backoffice/internal/config"
	"github.com/meridian-vc/backoffice/internal/consent"
	"github.com/meridian-vc/backoffice/internal/privacy"
	"github.com/meridian-vc/backoffice/internal/storage"
	"github.com/meridian-vc/backoffice/internal/subscriber"
)

// Server is the HTTP front of the back-office.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
	router  *chi.Mux
}

// NewServer wires handlers and routes over the given services.
func NewServer(
	cfg config.ServerConfig,
	registry *subscriber.Registry,
	ledger *consent.Ledger,
	ph *privacy.Handler,
	store storage.Store,
	limiter *RateLimiter,
) *Server {
	handlers := NewHandlers(registry, ledger, ph, store, limiter)
	router := SetupRoutes(handlers, cfg.AllowedOrigins)

	return &Server{
		config:  cfg,
		handler: router,
		router:  router,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Payloads are small JSON bodies; access exports are assembled
		// in-memory and can take a few seconds on large histories.
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

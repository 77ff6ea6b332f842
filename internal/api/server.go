// Package api exposes the run trigger surface over HTTP: start, status,
// cancel, list, results. It is a thin translation layer; all semantics live
// in the pipeline orchestrator.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"reva/internal/logging"
	"reva/internal/pipeline"
	"reva/internal/store"
)

// Server represents the HTTP API server
type Server struct {
	router *http.ServeMux
	server *http.Server
	addr   string
	logger *logging.Logger
	orch   *pipeline.Orchestrator
	store  *store.Store
}

// NewServer creates a new HTTP server instance
func NewServer(addr string, orch *pipeline.Orchestrator, st *store.Store, logger *logging.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger.WithComponent("api"),
		orch:   orch,
		store:  st,
		router: http.NewServeMux(),
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth)

	s.router.HandleFunc("/api/v1/runs", s.handleRuns)     // GET list, POST start
	s.router.HandleFunc("/api/v1/runs/", s.handleRunByID) // GET /:id, /:id/status, /:id/results; POST /:id/cancel
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully", nil)
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware()(handler)
	return handler
}

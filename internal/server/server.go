// Package server is the control-plane HTTP API: strategy-config CRUD and
// robot lifecycle operations.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecelik/mirrorbot/internal/server/handler"
	"github.com/ecelik/mirrorbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Configs *handler.ConfigHandler
	Robots  *handler.RobotHandler
}

// Server is the headless HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Strategy config endpoints.
	mux.HandleFunc("POST /api/configs", handlers.Configs.Create)
	mux.HandleFunc("GET /api/configs", handlers.Configs.List)
	mux.HandleFunc("GET /api/configs/{sha}", handlers.Configs.Get)
	mux.HandleFunc("DELETE /api/configs/{sha}", handlers.Configs.Delete)

	// Robot lifecycle endpoints.
	mux.HandleFunc("POST /api/robots/stop", handlers.Robots.StopAll)
	mux.HandleFunc("POST /api/robots/{sha}/start", handlers.Robots.Start)
	mux.HandleFunc("POST /api/robots/{sha}/stop", handlers.Robots.Stop)
	mux.HandleFunc("GET /api/robots", handlers.Robots.List)
	mux.HandleFunc("GET /api/robots/stats", handlers.Robots.Stats)

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the full middleware-wrapped handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

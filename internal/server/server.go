// Package server exposes the rate-limit engine, the role cache and the store
// health over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/internal/app"
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	app    *app.App
	logger *zap.Logger
}

// New creates a new HTTP server instance over a.
func New(a *app.App) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(RequestLogger(a.Logger.Named("http")))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "the requested method is not allowed for this resource")
	})

	cfg := a.Config.Server
	s := &Server{
		router: r,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		app:    a,
		logger: a.Logger.Named("server"),
	}
	s.registerRoutes()
	return s
}

// Start listens on the configured address until Shutdown is called. A
// graceful shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing
func (s *Server) Handler() http.Handler {
	return s.router
}

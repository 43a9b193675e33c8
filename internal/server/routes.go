package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PingModule is the policy module guarding the /ping demo route.
const PingModule = "ping"

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.app.Metrics.Handler())

	s.router.With(Limit(s.app.Engine, PingModule, ClientIP)).Get("/ping", s.handlePing)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/limits/check", s.handleCheck)
		r.Get("/limits/window", s.handleWindow)
		r.Post("/limits/reset", s.handleReset)
		r.Post("/blocks", s.handleBlock)
		r.Delete("/blocks", s.handleUnblock)
		r.Get("/roles", s.handleRoles)
		r.Get("/roles/{name}", s.handleRole)
		r.Delete("/roles/cache", s.handleInvalidateRoles)
	})
}

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/pkg/limiter"
	"github.com/manenim/resilient-ratelimit/pkg/rolecache"
	"github.com/manenim/resilient-ratelimit/pkg/store"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp string                  `json:"timestamp"`
	Checks    map[string]store.Health `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]store.Health{
		"ratelimit": s.app.Engine.HealthCheck(r.Context()),
		"roles":     s.app.Roles.HealthCheck(r.Context()),
	}

	status := statusHealthy
	for _, h := range checks {
		if !h.Healthy {
			status = statusUnhealthy
			break
		}
		if h.Degraded {
			status = statusDegraded
		}
	}

	code := http.StatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("Pong!\n"))
}

// CheckRequest is the /v1/limits/check body. Increment defaults to true.
type CheckRequest struct {
	Key           string   `json:"key"`
	Module        string   `json:"module"`
	Increment     *bool    `json:"increment,omitempty"`
	IdentityHints []string `json:"identity_hints,omitempty"`
}

// DecisionResponse is the JSON form of limiter.Decision. Timestamps are epoch
// milliseconds; RetryAfter is whole seconds.
type DecisionResponse struct {
	Allowed      bool   `json:"allowed"`
	Remaining    int64  `json:"remaining"`
	ResetTime    int64  `json:"reset_time"`
	BlockedUntil int64  `json:"blocked_until,omitempty"`
	Warning      bool   `json:"warning"`
	RetryAfter   int64  `json:"retry_after,omitempty"`
	BlockType    string `json:"block_type,omitempty"`
	Source       string `json:"source,omitempty"`
	Module       string `json:"module"`
	Key          string `json:"key"`
}

func toDecisionResponse(d limiter.Decision, now time.Time) DecisionResponse {
	resp := DecisionResponse{
		Allowed:      d.Allowed,
		Remaining:    d.Remaining,
		ResetTime:    d.ResetTime,
		BlockedUntil: d.BlockedUntil,
		Warning:      d.Warning,
		BlockType:    string(d.BlockType),
		Source:       d.Source,
		Module:       d.Module,
		Key:          d.Key,
	}
	if !d.Allowed {
		resp.RetryAfter = d.RetryAfterSeconds(now)
	}
	return resp
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	opts := limiter.CheckOptions{Increment: true, IdentityHints: req.IdentityHints}
	if req.Increment != nil {
		opts.Increment = *req.Increment
	}

	d, err := s.app.Engine.CheckLimit(r.Context(), req.Key, req.Module, opts)
	if err != nil {
		s.engineError(w, r, err)
		return
	}

	now := time.Now()
	setRateLimitHeaders(w, d, now)
	code := http.StatusOK
	if !d.Allowed {
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, toDecisionResponse(d, now))
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	key, module := r.URL.Query().Get("key"), r.URL.Query().Get("module")
	win, ok, err := s.app.Engine.Window(r.Context(), key, module)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no window for "+module+":"+key)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// IdentityRequest names one (key, module) pair.
type IdentityRequest struct {
	Key    string `json:"key"`
	Module string `json:"module"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.app.Engine.Reset(r.Context(), req.Key, req.Module); err != nil {
		s.engineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlockRequest is the POST /v1/blocks body. Duration uses Go duration syntax
// ("15m", "24h").
type BlockRequest struct {
	Key      string `json:"key"`
	Module   string `json:"module"`
	Duration string `json:"duration"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid duration: "+err.Error())
		return
	}

	b, err := s.app.Engine.Block(r.Context(), req.Key, req.Module, d, req.Reason)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	key, module := r.URL.Query().Get("key"), r.URL.Query().Get("module")
	if err := s.app.Engine.Unblock(r.Context(), key, module); err != nil {
		s.engineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.app.Roles.Roles(r.Context())
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.app.Roles.Role(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleInvalidateRoles(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Roles.Invalidate(r.Context()); err != nil {
		s.engineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// engineError maps engine and cache errors to responses. Anything not caused
// by the caller denies with 503.
func (s *Server) engineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, limiter.ErrInvalidIdentity), errors.Is(err, limiter.ErrInvalidPolicy):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, rolecache.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, limiter.ErrBlocksDisabled):
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "backing store unavailable")
	}
}

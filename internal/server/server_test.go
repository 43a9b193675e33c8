package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/internal/app"
	"github.com/manenim/resilient-ratelimit/internal/config"
	"github.com/manenim/resilient-ratelimit/pkg/limiter"
	"github.com/manenim/resilient-ratelimit/pkg/rolecache"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Failover: config.FailoverConfig{RetryInterval: time.Minute, ProbeTimeout: 50 * time.Millisecond},
		Fallback: config.FallbackConfig{Driver: config.DriverMemory},
		RateLimit: config.RateLimitConfig{
			Default:          config.PolicyConfig{MaxRequests: 10, Window: time.Minute, Block: 5 * time.Minute},
			WarningThreshold: 1,
			Modules: map[string]config.PolicyConfig{
				"auth":     {MaxRequests: 2, Window: time.Minute, Block: 5 * time.Minute},
				PingModule: {MaxRequests: 2, Window: time.Minute, Block: time.Minute},
			},
		},
		Roles: config.RolesConfig{
			TTL:    time.Minute,
			Static: []config.RoleConfig{{ID: "1", Name: "admin", Permissions: []string{"limits:reset"}}},
		},
		Metrics: config.MetricsConfig{Namespace: "ratelimit"},
	}
	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return New(a)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_NotFoundEnvelope(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/does-not-exist", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestServer_Check(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	req := CheckRequest{Key: "user-1", Module: "auth"}

	rec := do(t, h, http.MethodPost, "/v1/limits/check", req)
	require.Equal(t, http.StatusOK, rec.Code)
	var d DecisionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
	assert.True(t, d.Warning)
	assert.Equal(t, "memory", d.Source)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "true", rec.Header().Get("X-RateLimit-Warning"))

	do(t, h, http.MethodPost, "/v1/limits/check", req)
	rec = do(t, h, http.MethodPost, "/v1/limits/check", req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.False(t, d.Allowed)
	assert.Equal(t, string(limiter.BlockAutomatic), d.BlockType)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Equal(t, int64(300), d.RetryAfter)
}

func TestServer_CheckPeekDoesNotCount(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	peek := false

	for range 5 {
		rec := do(t, h, http.MethodPost, "/v1/limits/check", CheckRequest{Key: "u", Module: "auth", Increment: &peek})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/limits/window?key=u&module=auth", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CheckBadRequests(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/limits/check", CheckRequest{Key: " ", Module: "auth"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/limits/check", bytes.NewBufferString(`{"key":`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = do(t, h, http.MethodGet, "/v1/limits/check", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_WindowAndReset(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	do(t, h, http.MethodPost, "/v1/limits/check", CheckRequest{Key: "u", Module: "auth"})
	rec := do(t, h, http.MethodGet, "/v1/limits/window?key=u&module=auth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var w limiter.Window
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&w))
	assert.Equal(t, int64(1), w.Count)

	rec = do(t, h, http.MethodPost, "/v1/limits/reset", IdentityRequest{Key: "u", Module: "auth"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/limits/window?key=u&module=auth", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Blocks(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/blocks", BlockRequest{Key: "mallory", Module: limiter.AllModules, Duration: "10m", Reason: "abuse"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var b limiter.ManualBlock
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&b))
	assert.Equal(t, "abuse", b.Reason)

	rec = do(t, h, http.MethodPost, "/v1/limits/check", CheckRequest{Key: "mallory", Module: "auth"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var d DecisionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.Equal(t, string(limiter.BlockManual), d.BlockType)

	rec = do(t, h, http.MethodDelete, "/v1/blocks?key=mallory&module=*", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/limits/check", CheckRequest{Key: "mallory", Module: "auth"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/blocks", BlockRequest{Key: "x", Module: "auth", Duration: "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/blocks", BlockRequest{Key: "x", Module: "auth", Duration: "0s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Roles(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/v1/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []rolecache.Role
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&roles))
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)

	rec = do(t, h, http.MethodGet, "/v1/roles/admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/roles/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/roles/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_PingIsLimitedPerClient(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	ping := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, ping("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, ping("10.0.0.1").Code)
	rec := ping("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, ping("10.0.0.2").Code, "limits are per client")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, statusHealthy, health.Status)
	assert.Contains(t, health.Checks, "ratelimit")
	assert.Contains(t, health.Checks, "roles")

	do(t, h, http.MethodPost, "/v1/limits/check", CheckRequest{Key: "u", Module: "auth"})
	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ratelimit_checks_total")
}

func TestServer_HealthUnhealthyAfterShutdown(t *testing.T) {
	srv := newTestServer(t)
	srv.app.Engine.Shutdown()

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

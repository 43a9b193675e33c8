package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/internal/config"
	"github.com/manenim/resilient-ratelimit/pkg/limiter"
	"github.com/manenim/resilient-ratelimit/pkg/rolecache"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	active := false
	return &config.Config{
		Redis: config.RedisConfig{
			Enabled:     false,
			URL:         "redis://127.0.0.1:1/0",
			DialTimeout: 50 * time.Millisecond,
			OpTimeout:   50 * time.Millisecond,
			Prefix:      "rltest:",
		},
		Failover: config.FailoverConfig{RetryInterval: time.Minute, ProbeTimeout: 50 * time.Millisecond},
		Fallback: config.FallbackConfig{Driver: config.DriverMemory},
		RateLimit: config.RateLimitConfig{
			Default:          config.PolicyConfig{MaxRequests: 10, Window: time.Minute, Block: 5 * time.Minute},
			WarningThreshold: 2,
			Modules: map[string]config.PolicyConfig{
				"auth":   {MaxRequests: 2, Window: time.Minute, Block: time.Minute},
				"export": {MaxRequests: 1, Window: time.Minute, Active: &active},
			},
		},
		Roles: config.RolesConfig{
			TTL:    time.Minute,
			Static: []config.RoleConfig{{ID: "1", Name: "admin", Permissions: []string{"limits:reset"}}},
		},
		Metrics: config.MetricsConfig{Namespace: "ratelimit"},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestNew_LocalOnly(t *testing.T) {
	a, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	opts := limiter.CheckOptions{Increment: true}

	for range 2 {
		d, err := a.Engine.CheckLimit(ctx, "user-1", "auth", opts)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, "memory", d.Source)
	}
	d, err := a.Engine.CheckLimit(ctx, "user-1", "auth", opts)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	for range 5 {
		d, err := a.Engine.CheckLimit(ctx, "user-1", "export", opts)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "inactive module is never limited")
	}

	_, err = a.Engine.Block(ctx, "mallory", limiter.AllModules, time.Minute, "abuse")
	require.NoError(t, err)
	d, err = a.Engine.CheckLimit(ctx, "mallory", "auth", opts)
	require.NoError(t, err)
	assert.Equal(t, limiter.BlockManual, d.BlockType)

	role, err := a.Roles.Role(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, role.Can("limits:reset"))

	h := a.Engine.HealthCheck(ctx)
	assert.True(t, h.Healthy)
	assert.False(t, h.Degraded)
	assert.Nil(t, h.Primary)
}

func TestNew_UnreachableRedisFailsOver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err, "construction never contacts redis")
	defer a.Close()

	d, err := a.Engine.CheckLimit(context.Background(), "user-1", "auth", limiter.CheckOptions{Increment: true})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "memory", d.Source)
	assert.False(t, a.Engine.State().UsingPrimary)
}

func TestNew_SQLiteFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fallback = config.FallbackConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "windows.db"),
	}

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	d, err := a.Engine.CheckLimit(context.Background(), "user-1", "auth", limiter.CheckOptions{Increment: true})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Source)
	assert.Equal(t, int64(1), d.Remaining)
}

func TestNew_RoleLoaderOverride(t *testing.T) {
	calls := 0
	loader := func(context.Context) ([]rolecache.Role, error) {
		calls++
		return []rolecache.Role{{ID: "9", Name: "auditor"}}, nil
	}

	a, err := New(testConfig(t), nil, WithRoleLoader(loader))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Roles.Role(context.Background(), "auditor")
	require.NoError(t, err)
	_, err = a.Roles.Role(context.Background(), "admin")
	assert.ErrorIs(t, err, rolecache.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestNew_InvalidPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Modules["broken"] = config.PolicyConfig{MaxRequests: 0, Window: time.Minute}

	_, err := New(cfg, zap.NewNop())
	assert.ErrorIs(t, err, limiter.ErrInvalidPolicy)
}

func TestNewRedisClient(t *testing.T) {
	c, err := NewRedisClient(config.RedisConfig{URL: "redis://localhost:6379/2", TLS: true, DialTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	opt := c.Options()
	assert.Equal(t, 2, opt.DB)
	assert.Equal(t, time.Second, opt.DialTimeout)
	require.NotNil(t, opt.TLSConfig)

	_, err = NewRedisClient(config.RedisConfig{URL: "://nope"})
	assert.Error(t, err)
}

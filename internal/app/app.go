// Package app wires configuration into the running components: Redis
// clients, window and cache backends, the resilient stores, the rate-limit
// engine and the role cache.
package app

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/internal/config"
	"github.com/manenim/resilient-ratelimit/pkg/limiter"
	"github.com/manenim/resilient-ratelimit/pkg/metrics"
	"github.com/manenim/resilient-ratelimit/pkg/rolecache"
	"github.com/manenim/resilient-ratelimit/pkg/store"
)

// App holds every long-lived component of the service.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.PrometheusRecorder
	Engine  *limiter.Engine
	Roles   *rolecache.Cache
}

type options struct {
	roleLoader rolecache.Loader
}

// Option customises New.
type Option func(*options)

// WithRoleLoader replaces the static role list from config as the role
// source of truth.
func WithRoleLoader(l rolecache.Loader) Option {
	return func(o *options) {
		o.roleLoader = l
	}
}

// New builds the application. Redis is not contacted here: an unreachable
// server surfaces as a failover on first use.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{roleLoader: staticRoles(cfg.Roles.Static)}
	for _, opt := range opts {
		opt(&o)
	}

	rec, err := metrics.NewPrometheusRecorder(cfg.Metrics.Namespace)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	storeOpts := []store.Option{
		store.WithRetryInterval(cfg.Failover.RetryInterval),
		store.WithTimeout(cfg.Redis.OpTimeout),
		store.WithProbeTimeout(cfg.Failover.ProbeTimeout),
		store.WithRecorder(rec),
		store.WithLogger(logger.Named("store")),
	}

	windows, err := buildWindowStore(cfg, storeOpts)
	if err != nil {
		return nil, err
	}

	blocks, err := buildCache[limiter.ManualBlock](cfg, "blocks", storeOpts)
	if err != nil {
		windows.Shutdown()
		return nil, err
	}

	registry, err := buildPolicies(cfg.RateLimit)
	if err != nil {
		windows.Shutdown()
		blocks.Shutdown()
		return nil, err
	}

	engine, err := limiter.NewEngine(windows, registry,
		limiter.WithRecorder(rec),
		limiter.WithLogger(logger.Named("limiter")),
		limiter.WithWarningThreshold(cfg.RateLimit.WarningThreshold),
		limiter.WithBlocks(blocks),
	)
	if err != nil {
		windows.Shutdown()
		blocks.Shutdown()
		return nil, err
	}

	roleStore, err := buildCache[[]rolecache.Role](cfg, "roles", storeOpts)
	if err != nil {
		engine.Shutdown()
		return nil, err
	}
	roles, err := rolecache.New(roleStore, o.roleLoader,
		rolecache.WithTTL(cfg.Roles.TTL),
		rolecache.WithLogger(logger.Named("roles")),
	)
	if err != nil {
		engine.Shutdown()
		roleStore.Shutdown()
		return nil, err
	}

	logger.Info("application assembled",
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.String("fallback", cfg.Fallback.Driver),
		zap.Strings("modules", registry.Modules()),
		zap.Duration("retry_interval", cfg.Failover.RetryInterval))

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: rec,
		Engine:  engine,
		Roles:   roles,
	}, nil
}

// Close releases every store. It is safe to call more than once.
func (a *App) Close() {
	a.Engine.Shutdown()
	a.Roles.Shutdown()
	_ = a.Logger.Sync()
}

// NewRedisClient builds a client from the configured URL. Each adapter owns
// its client, so callers create one per adapter.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opt.ReadTimeout = cfg.OpTimeout
		opt.WriteTimeout = cfg.OpTimeout
	}
	if cfg.TLS && opt.TLSConfig == nil {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opt), nil
}

func buildWindowStore(cfg *config.Config, opts []store.Option) (*store.Resilient[limiter.WindowBackend], error) {
	var fallback limiter.WindowBackend
	switch cfg.Fallback.Driver {
	case config.DriverSQLite:
		s, err := limiter.OpenSQLiteWindows(cfg.Fallback.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite fallback: %w", err)
		}
		fallback = s
	default:
		fallback = limiter.NewMemoryWindows()
	}

	if !cfg.Redis.Enabled {
		return limiter.NewLocalWindowStore(fallback, opts...), nil
	}

	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		_ = fallback.Close()
		return nil, err
	}
	primary, err := limiter.NewRedisWindows(client,
		limiter.WithPrefix(cfg.Redis.Prefix+"w:"),
		limiter.WithTimeout(cfg.Redis.OpTimeout),
	)
	if err != nil {
		_ = client.Close()
		_ = fallback.Close()
		return nil, err
	}
	return limiter.NewWindowStore(primary, fallback, opts...), nil
}

func buildCache[V any](cfg *config.Config, name string, opts []store.Option) (*store.Cache[V], error) {
	fallback := store.NewMemoryKV[V]()
	if !cfg.Redis.Enabled {
		return store.NewLocalCache[V](name, fallback, opts...), nil
	}

	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	primary, err := store.NewRedisKV[V](client, store.WithPrefix(cfg.Redis.Prefix+name+":"))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store.NewCache[V](name, primary, fallback, opts...), nil
}

func buildPolicies(cfg config.RateLimitConfig) (*limiter.PolicyRegistry, error) {
	registry, err := limiter.NewPolicyRegistry(toPolicy(cfg.Default))
	if err != nil {
		return nil, err
	}
	for module, p := range cfg.Modules {
		if err := registry.Register(module, toPolicy(p)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func toPolicy(p config.PolicyConfig) limiter.Policy {
	return limiter.Policy{
		MaxRequests: p.MaxRequests,
		Window:      p.Window,
		Block:       p.Block,
		Active:      p.IsActive(),
	}
}

func staticRoles(cfg []config.RoleConfig) rolecache.Loader {
	roles := make([]rolecache.Role, 0, len(cfg))
	for _, r := range cfg {
		roles = append(roles, rolecache.Role{ID: r.ID, Name: r.Name, Permissions: r.Permissions})
	}
	return func(context.Context) ([]rolecache.Role, error) {
		return roles, nil
	}
}

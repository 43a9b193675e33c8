// Package config loads ratelimitd settings from compiled defaults, an
// optional YAML file, RATELIMIT_* environment variables and operator
// overrides, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Failover  FailoverConfig  `mapstructure:"failover"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Roles     RolesConfig     `mapstructure:"roles"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// RedisConfig configures the primary backend.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	TLS         bool          `mapstructure:"tls"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

// FailoverConfig tunes the primary/fallback state machine.
type FailoverConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// FallbackConfig selects the local window backend.
type FallbackConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// PolicyConfig is one module's rate-limit policy. Active defaults to true when
// omitted.
type PolicyConfig struct {
	MaxRequests int64         `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	Block       time.Duration `mapstructure:"block"`
	Active      *bool         `mapstructure:"active"`
}

// IsActive reports whether the policy limits requests.
func (p PolicyConfig) IsActive() bool {
	return p.Active == nil || *p.Active
}

// RateLimitConfig holds the default and per-module policies.
type RateLimitConfig struct {
	Default          PolicyConfig            `mapstructure:"default"`
	WarningThreshold int64                   `mapstructure:"warning_threshold"`
	Modules          map[string]PolicyConfig `mapstructure:"modules"`
}

// RolesConfig configures the role cache. Static roles seed the cache when
// no other role source is wired in.
type RolesConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Static []RoleConfig  `mapstructure:"static"`
}

// RoleConfig is one statically configured role.
type RoleConfig struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	Permissions []string `mapstructure:"permissions"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Validate checks settings that would otherwise fail late, at first use.
func (c *Config) Validate() error {
	var errs []error

	if c.Redis.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		errs = append(errs, errors.New("redis.url is required when redis is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Prefix == "" {
		errs = append(errs, errors.New("redis.prefix must not be empty"))
	}

	switch c.Fallback.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Fallback.SQLitePath) == "" {
			errs = append(errs, errors.New("fallback.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("fallback.driver %q is not one of memory, sqlite", c.Fallback.Driver))
	}

	if c.RateLimit.WarningThreshold < 0 {
		errs = append(errs, errors.New("ratelimit.warning_threshold must not be negative"))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, console", c.Log.Format))
	}

	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable; "redis.url" is read from
// RATELIMIT_REDIS_URL.
const EnvPrefix = "RATELIMIT"

// Loader assembles a Config. It is not safe for concurrent use.
type Loader struct {
	v         *viper.Viper
	overrides map[string]any
}

// NewLoader returns a loader with compiled defaults and environment binding.
// Without SetConfigFile it looks for an optional ratelimit.yaml in the
// working directory and /etc/ratelimit.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("ratelimit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ratelimit/")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{v: v, overrides: make(map[string]any)}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.dial_timeout", "1s")
	v.SetDefault("redis.op_timeout", "250ms")
	v.SetDefault("redis.prefix", "rl:")

	v.SetDefault("failover.retry_interval", "60s")
	v.SetDefault("failover.probe_timeout", "200ms")

	v.SetDefault("fallback.driver", DriverMemory)
	v.SetDefault("fallback.sqlite_path", "ratelimit.db")

	v.SetDefault("ratelimit.default.max_requests", 10)
	v.SetDefault("ratelimit.default.window", "1m")
	v.SetDefault("ratelimit.default.block", "5m")
	v.SetDefault("ratelimit.warning_threshold", 2)

	v.SetDefault("roles.ttl", "5m")
	v.SetDefault("metrics.namespace", "ratelimit")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// SetConfigFile points the loader at an explicit file, which then must exist.
func (l *Loader) SetConfigFile(path string) {
	if path != "" {
		l.v.SetConfigFile(path)
	}
}

// BindFlag lets a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not found", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Override sets key above every other source.
func (l *Loader) Override(key string, value any) {
	l.overrides[key] = value
}

// Load reads the config file (if any), applies overrides and decodes the
// result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	for k, v := range l.overrides {
		l.v.Set(k, v)
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the file Load read, or "" when none was found.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

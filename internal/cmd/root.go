// Package cmd implements the ratelimitd command line.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/internal/app"
	"github.com/manenim/resilient-ratelimit/internal/config"
	"github.com/manenim/resilient-ratelimit/internal/logging"
)

// Version is set by the main package.
var Version = "dev"

type rootOptions struct {
	configFile string
	noRedis    bool
}

// NewRootCommand returns the ratelimitd command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ratelimitd",
		Short: "Rate limiting service with Redis failover",
		Long: `ratelimitd enforces per-module fixed-window rate limits.

Windows live in Redis and fail over to a local memory or SQLite backend while
Redis is unreachable. Use the subcommands to run the HTTP service or to inspect
and reset limits directly.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default ./ratelimit.yaml or /etc/ratelimit/ratelimit.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json or console")
	pf.String("redis-url", "", "redis connection URL")
	pf.BoolVar(&opts.noRedis, "no-redis", false, "serve from the local fallback only")

	root.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newResetCommand(opts),
		newBlockCommand(opts),
		newUnblockCommand(opts),
		newHealthCommand(opts),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, string, error) {
	l := config.NewLoader()
	l.SetConfigFile(opts.configFile)

	flags := cmd.Flags()
	for key, name := range map[string]string{
		"log.level":   "log-level",
		"log.format":  "log-format",
		"redis.url":   "redis-url",
		"server.addr": "addr",
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := l.BindFlag(key, f); err != nil {
				return nil, "", err
			}
		}
	}
	if opts.noRedis {
		l.Override("redis.enabled", false)
	}

	cfg, err := l.Load()
	if err != nil {
		return nil, "", err
	}
	return cfg, l.ConfigFileUsed(), nil
}

// openApp loads configuration and builds the application for one command.
func openApp(cmd *cobra.Command, opts *rootOptions) (*app.App, error) {
	cfg, file, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("start: %w", err)
	}
	logger.Debug("configuration loaded", zap.String("file", file), zap.Bool("redis", cfg.Redis.Enabled))
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

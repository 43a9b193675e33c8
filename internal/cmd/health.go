package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/manenim/resilient-ratelimit/pkg/store"
)

type healthReport struct {
	RateLimit store.Health `json:"ratelimit"`
	Roles     store.Health `json:"roles"`
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe Redis and the local fallback",
		Long: `Ping every configured backend once and print the result as JSON. The
command exits non-zero when a fallback is unhealthy; an unreachable Redis only
marks the report degraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			r := healthReport{
				RateLimit: a.Engine.HealthCheck(cmd.Context()),
				Roles:     a.Roles.HealthCheck(cmd.Context()),
			}
			if err := printJSON(cmd.OutOrStdout(), r); err != nil {
				return err
			}
			if !r.RateLimit.Healthy || !r.Roles.Healthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
}

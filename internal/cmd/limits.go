package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/manenim/resilient-ratelimit/pkg/limiter"
)

type identityFlags struct {
	key    string
	module string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "rate-limit key (user id, email, IP)")
	cmd.Flags().StringVar(&f.module, "module", "", "policy module")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("module")
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var (
		id    identityFlags
		peek  bool
		hints []string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a key against its module's limit",
		Long: `Check a key against its module's limit and print the decision as JSON.

The request is counted unless --peek is set. The command exits non-zero when
the key is refused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.Engine.CheckLimit(cmd.Context(), id.key, id.module, limiter.CheckOptions{
				Increment:     !peek,
				IdentityHints: hints,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
			if !d.Allowed {
				return fmt.Errorf("%s:%s is rate limited, retry after %s", id.module, id.key, d.RetryAfter)
			}
			return nil
		},
	}
	id.register(cmd)
	cmd.Flags().BoolVar(&peek, "peek", false, "report without counting the request")
	cmd.Flags().StringSliceVar(&hints, "hint", nil, "other identities of the caller to match manual blocks against")
	return cmd
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var id identityFlags
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a key's window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Engine.Reset(cmd.Context(), id.key, id.module); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s:%s\n", id.module, id.key)
			return nil
		},
	}
	id.register(cmd)
	return cmd
}

func newBlockCommand(opts *rootOptions) *cobra.Command {
	var (
		id     identityFlags
		dur    time.Duration
		reason string
	)
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Block a key for a fixed duration",
		Long: `Block a key for a fixed duration. Use --module '*' to block the key in
every module.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dur <= 0 {
				return errors.New("--for must be positive")
			}
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.Engine.Block(cmd.Context(), id.key, id.module, dur, reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	id.register(cmd)
	cmd.Flags().DurationVar(&dur, "for", time.Hour, "block duration")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the block")
	return cmd
}

func newUnblockCommand(opts *rootOptions) *cobra.Command {
	var id identityFlags
	cmd := &cobra.Command{
		Use:   "unblock",
		Short: "Lift a manual block",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Engine.Unblock(cmd.Context(), id.key, id.module); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s:%s\n", id.module, id.key)
			return nil
		},
	}
	id.register(cmd)
	return cmd
}

// Package serve provides the long-running migration service command.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/repomigrate/internal/app"
	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
)

// Command creates and returns the serve command
func Command(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the migration scheduler and reconciler",
		Long: `Serve claims CREATED and stale EXECUTING migration tasks, runs them on the
dispatch pool, sweeps pending-copy markers and exposes /metrics and /healthz
when enabled. It runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Bootstrap(settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.Serve(ctx)
		},
	}
}

// Package reconcile provides a one-shot pending-copy sweep.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/repomigrate/internal/app"
	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
)

// Command creates and returns the reconcile command
func Command(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Copy blobs of nodes carrying pending-copy markers once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Bootstrap(settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := rt.NewReconciler().RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("reconcile sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, repaired %d, cleared %d, failed %d\n",
				result.Scanned, result.Repaired, result.Cleared, result.Failed)
			return nil
		},
	}
}

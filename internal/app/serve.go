package app

import (
	"context"
	"time"

	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/migrate"
	"github.com/tphakala/repomigrate/internal/observability"
)

// Serve runs the migration services until ctx is done. Intake stops before
// running work is cancelled.
func (r *Runtime) Serve(ctx context.Context) error {
	log := r.Log.Module(logger.ComponentServe)

	executor, dispatch, nodePool, err := r.NewExecutor()
	if err != nil {
		return err
	}

	var server *observability.Server
	if r.Settings.Metrics.Enabled {
		server, err = observability.NewServer(r.Settings.Metrics.Listen, r.Metrics, r.Health, r.Log)
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodePool.Start(runCtx)
	dispatch.Start(runCtx)

	service := migrate.NewService(executor, r.Stores.Tasks, r.Settings.Migrate.SchedulerInterval, r.Log)
	service.Start(runCtx)

	var reconciler *migrate.Reconciler
	if r.Settings.Reconcile.Enabled {
		reconciler = r.NewReconciler()
		reconciler.Start(runCtx)
	}

	log.Info("repomigrate serving",
		logger.InstanceID(executor.InstanceID()),
		logger.Int("dispatch_pool_size", dispatch.Size()),
		logger.Int("node_pool_size", nodePool.Size()),
		logger.Bool("reconcile", reconciler != nil),
		logger.Bool("metrics", server != nil))

	<-ctx.Done()
	stopStart := time.Now()
	log.Info("shutting down")

	service.Stop()
	if reconciler != nil {
		reconciler.Stop()
	}

	// Interrupted tasks stay EXECUTING and are reclaimed once stale
	dispatch.Stop()
	nodePool.Stop()

	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), observability.ShutdownTimeout)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", logger.Error(err))
		}
	}

	log.Info("shutdown complete", logger.Duration("elapsed", time.Since(stopStart)))
	_ = r.Log.Flush()
	return nil
}

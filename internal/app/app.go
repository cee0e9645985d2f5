// Package app assembles the metadata store, blob backends and migration
// engine from settings for the command-line entry points.
package app

import (
	"context"
	"fmt"
	"runtime"

	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/migrate"
	"github.com/tphakala/repomigrate/internal/observability"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
	"github.com/tphakala/repomigrate/internal/storage"
)

// Runtime holds the long-lived components shared by every command.
type Runtime struct {
	Settings *conf.Settings
	Log      logger.Logger
	Manager  datastore.Manager
	Stores   *datastore.Stores
	Storage  *storage.Registry
	Blobs    *storage.BlobStore
	Copier   *migrate.BlobCopier
	Tasks    *migrate.TaskRegistry
	Metrics  *observability.Metrics

	closers []func() error
}

// Open connects the metadata store and builds every configured backend.
// The caller must Close the runtime.
func Open(settings *conf.Settings, log logger.Logger) (*Runtime, error) {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}

	manager, err := datastore.NewManager(&settings.Database, log.Module(logger.ComponentDatastore))
	if err != nil {
		return nil, err
	}

	registry, err := storage.NewRegistryFromSettings(&settings.Storage, log.Module(logger.ComponentStorage))
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	stores := datastore.NewStores(manager)
	blobs := storage.NewBlobStore(registry, stores.References, storage.RetryConfig{
		MaxRetries: settings.Migrate.CopyRetries,
		Backoff:    settings.Migrate.CopyBackoff,
	}, log.Module(logger.ComponentStorage))

	return &Runtime{
		Settings: settings,
		Log:      log,
		Manager:  manager,
		Stores:   stores,
		Storage:  registry,
		Blobs:    blobs,
		Copier:   migrate.NewBlobCopier(blobs, stores.Blocks, m.Migration, log.Module(logger.ComponentCopier)),
		Tasks:    migrate.NewTaskRegistry(stores.Tasks, stores.Repositories, registry, log.Module(logger.ComponentRegistry)),
		Metrics:  m,
	}, nil
}

// Recorder returns the migration metrics recorder.
func (r *Runtime) Recorder() metrics.MigrationRecorder {
	return r.Metrics.Migration
}

// Health pings the metadata store.
func (r *Runtime) Health(ctx context.Context) error {
	sqlDB, err := r.Manager.DB().DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("metadata store unreachable: %w", err)
	}
	return nil
}

// NewExecutor builds an executor with its dispatch and node-copy pools.
// The pools are returned stopped.
func (r *Runtime) NewExecutor() (*migrate.Executor, *migrate.Pool, *migrate.Pool, error) {
	ms := &r.Settings.Migrate

	dispatchSize := ms.DispatchPoolSize
	if dispatchSize <= 0 {
		dispatchSize = runtime.NumCPU()
	}
	dispatch := migrate.NewPool(metrics.PoolDispatch, dispatchSize, r.Recorder())
	nodePool := migrate.NewPool(metrics.PoolNodeCopy, ms.NodePoolSize, r.Recorder())

	executor, err := migrate.NewExecutor(migrate.ConfigFromSettings(ms), migrate.Dependencies{
		Tasks:       r.Stores.Tasks,
		Nodes:       r.Stores.Nodes,
		Repos:       r.Stores.Repositories,
		FailedNodes: r.Stores.FailedNodes,
		Copier:      r.Copier,
		Keys:        r.Storage,
		Dispatch:    dispatch,
		NodePool:    nodePool,
		Recorder:    r.Recorder(),
		Logger:      r.Log.Module(logger.ComponentExecutor),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return executor, dispatch, nodePool, nil
}

// NewReconciler builds the pending-copy reconciler.
func (r *Runtime) NewReconciler() *migrate.Reconciler {
	return migrate.NewReconciler(
		migrate.ReconcilerConfigFromSettings(&r.Settings.Reconcile),
		r.Stores.Nodes,
		r.Stores.Repositories,
		r.Copier,
		r.Recorder(),
		r.Log.Module(logger.ComponentReconciler))
}

func (r *Runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases backends and the database, then anything registered by
// Bootstrap in registration order.
func (r *Runtime) Close() error {
	errs := []error{r.Storage.Close(), r.Manager.Close()}
	for _, fn := range r.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

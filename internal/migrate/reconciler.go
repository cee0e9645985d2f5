package migrate

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
)

// ReconcilerConfig tunes the pending-copy reconciler.
type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
	// RateLimit caps nodes per second, 0 means unlimited
	RateLimit float64
	Burst     int
}

// ReconcilerConfigFromSettings maps reconcile settings onto a reconciler config.
func ReconcilerConfigFromSettings(s *conf.ReconcileSettings) ReconcilerConfig {
	return ReconcilerConfig{
		Interval:  s.Interval,
		BatchSize: s.BatchSize,
		RateLimit: s.RateLimit,
		Burst:     s.Burst,
	}
}

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Scanned  int
	Repaired int
	Cleared  int
	Failed   int
}

// Reconciler repairs nodes whose bytes were written to a credential set
// other than the repository's target while it was being redirected.
type Reconciler struct {
	cfg      ReconcilerConfig
	nodes    NodeCatalog
	repos    RepositoryDirectory
	copier   *BlobCopier
	limiter  *rate.Limiter
	recorder metrics.MigrationRecorder
	log      logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewReconciler creates a stopped reconciler.
func NewReconciler(cfg ReconcilerConfig, nodes NodeCatalog, repos RepositoryDirectory, copier *BlobCopier, recorder metrics.MigrationRecorder, log logger.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)

	return &Reconciler{
		cfg:      cfg,
		nodes:    nodes,
		repos:    repos,
		copier:   copier,
		limiter:  rate.NewLimiter(limit, burst),
		recorder: recorder,
		log:      log.Module(logger.ComponentReconciler),
	}
}

// Start runs a sweep every interval until Stop or ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.wg.Go(func() {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := r.RunOnce(ctx)
				if err != nil && ctx.Err() == nil {
					r.log.Error("pending copy sweep failed", logger.Error(err))
					continue
				}
				if result.Scanned > 0 {
					r.log.Info("pending copy sweep finished",
						logger.Int("scanned", result.Scanned),
						logger.Int("repaired", result.Repaired),
						logger.Int("cleared", result.Cleared),
						logger.Int("failed", result.Failed))
				}
			}
		}
	})
	r.log.Info("reconciler started", logger.Duration("interval", r.cfg.Interval))
}

// Stop ends the sweep loop and waits for a running sweep to return.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("reconciler stopped")
}

// RunOnce scans every node carrying a pending-copy marker once. A node's
// markers are cleared only after its content reached the target set.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var (
		result  ReconcileResult
		afterID uint
	)
	for {
		batch, err := r.nodes.FindPendingCopy(ctx, afterID, r.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			return result, nil
		}

		for i := range batch {
			node := &batch[i]
			afterID = node.ID
			if err := r.limiter.Wait(ctx); err != nil {
				return result, err
			}
			result.Scanned++
			r.reconcileNode(ctx, node, &result)
		}
	}
}

func (r *Reconciler) reconcileNode(ctx context.Context, node *entities.Node, result *ReconcileResult) {
	log := r.log.With(
		logger.Uint64("node_id", uint64(node.ID)),
		logger.ProjectID(node.ProjectID),
		logger.RepoName(node.RepoName),
		logger.NodePath(node.FullPath))

	srcKey := entities.MarkerToKey(node.PendingCopyFrom)
	dstKey, err := r.targetKey(ctx, node)
	if err != nil {
		result.Failed++
		r.recorder.RecordReconciledNode(metrics.StatusFailed)
		log.Warn("cannot resolve pending copy target", logger.Error(err))
		return
	}

	needsCopy := srcKey != dstKey && !node.Folder
	if needsCopy {
		start := time.Now()
		n, err := r.copier.MigrateNode(ctx, node, srcKey, dstKey)
		elapsed := time.Since(start)
		if err != nil {
			result.Failed++
			r.recorder.RecordReconciledNode(metrics.StatusFailed)
			r.recorder.RecordNode(metrics.PassReconcile, metrics.StatusFailed, 0, elapsed)
			log.Warn("pending copy failed, markers kept",
				logger.StorageKey("src_storage_key", srcKey),
				logger.StorageKey("dst_storage_key", dstKey),
				logger.Error(err))
			return
		}
		r.recorder.RecordNode(metrics.PassReconcile, metrics.StatusSuccess, n, elapsed)
	}

	// A node only counts as repaired once its markers are gone; a retained
	// marker makes the next sweep copy it again.
	if err := r.nodes.ClearPendingCopy(ctx, node.ID); err != nil {
		result.Failed++
		r.recorder.RecordReconciledNode(metrics.StatusFailed)
		log.Warn("failed to clear pending copy markers", logger.Error(err))
		return
	}
	if needsCopy {
		result.Repaired++
	} else {
		result.Cleared++
	}
	r.recorder.RecordReconciledNode(metrics.StatusSuccess)
}

// targetKey returns the pending-copy destination. A node without a target
// marker goes to the repository's current write target.
func (r *Reconciler) targetKey(ctx context.Context, node *entities.Node) (string, error) {
	if node.PendingCopyTo != nil {
		return entities.MarkerToKey(node.PendingCopyTo), nil
	}
	repo, err := r.repos.GetFresh(ctx, node.ProjectID, node.RepoName)
	if err != nil {
		return "", err
	}
	return repo.Key(), nil
}

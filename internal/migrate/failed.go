package migrate

import (
	"context"
	"time"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
)

// recordFailure saves node as failed for this task. Saving is best effort.
func (r *run) recordFailure(ctx context.Context, node *entities.Node, cause error) {
	failed := &entities.MigrateFailedNode{
		TaskID:    r.task.ID,
		NodeID:    node.ID,
		ProjectID: node.ProjectID,
		RepoName:  node.RepoName,
		FullPath:  node.FullPath,
		Digest:    node.Digest,
		Size:      node.Size,
		Reason:    cause.Error(),
	}
	if err := r.e.failedNodes.Save(ctx, failed); err != nil {
		r.log.Warn("failed to record failed node",
			logger.NodePath(node.FullPath),
			logger.Error(err))
	}
}

// retryFailedNodes gives every failed node of the task below the retry
// limit one more attempt. Recovered nodes are removed from the failed set.
// Remaining failures do not fail the task.
func (r *run) retryFailedNodes(ctx context.Context) error {
	maxRetries := r.e.cfg.FailedNodeMaxRetries
	if maxRetries <= 0 {
		return nil
	}

	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return r.fatal(err, nil)
		}

		batch, err := r.e.failedNodes.ListRetryable(ctx, r.task.ID, maxRetries, afterID, r.e.cfg.PageSize)
		if err != nil {
			return r.fatal(err, nil)
		}
		if len(batch) == 0 {
			return nil
		}

		for i := range batch {
			afterID = batch[i].ID
			if err := r.retryFailedNode(ctx, &batch[i]); err != nil {
				return r.fatal(err, nil)
			}
		}
	}
}

// retryFailedNode returns an error only for metadata store failures.
func (r *run) retryFailedNode(ctx context.Context, failed *entities.MigrateFailedNode) error {
	node, err := r.e.nodes.Get(ctx, failed.NodeID)
	if errors.Is(err, datastore.ErrNodeNotFound) {
		// Deleted since it failed, nothing left to copy
		return r.e.failedNodes.Remove(ctx, failed.ID)
	}
	if err != nil {
		return err
	}

	r.report.Retried++
	if node.Compressed {
		r.e.recorder.RecordNode(metrics.PassFailedRetry, metrics.StatusSkipped, 0, 0)
		return r.e.failedNodes.IncrementRetry(ctx, failed.ID, "compressed nodes are not migrated")
	}

	op := r.e.copier.MigrateNode
	if node.CreatedAt.After(*r.task.StartBoundary) {
		op = r.e.copier.CorrectNode
	}

	start := time.Now()
	n, copyErr := op(ctx, node, r.task.SrcKey(), r.task.DstStorageKey)
	elapsed := time.Since(start)
	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.e.recorder.RecordNode(metrics.PassFailedRetry, metrics.StatusFailed, 0, elapsed)
		r.log.Warn("failed node retry failed",
			logger.NodePath(node.FullPath),
			logger.Int("retry_times", failed.RetryTimes+1),
			logger.Error(copyErr))
		return r.e.failedNodes.IncrementRetry(ctx, failed.ID, copyErr.Error())
	}

	r.report.Recovered++
	r.bytes.Add(n)
	r.e.recorder.RecordNode(metrics.PassFailedRetry, metrics.StatusSuccess, n, elapsed)
	r.log.Info("failed node recovered", logger.NodePath(node.FullPath))
	return r.e.failedNodes.Remove(ctx, failed.ID)
}

package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// FailedNodeStore keeps nodes whose copy failed during a task.
type FailedNodeStore struct {
	db *gorm.DB
}

// NewFailedNodeStore creates a failed node store.
func NewFailedNodeStore(db *gorm.DB) *FailedNodeStore {
	return &FailedNodeStore{db: db}
}

// Save records a failure. A node that already has a record for the task
// keeps its retry count and gets the new reason.
func (s *FailedNodeStore) Save(ctx context.Context, failed *entities.MigrateFailedNode) error {
	now := Now()
	failed.CreatedAt = now
	failed.UpdatedAt = now

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}, {Name: "node_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"reason":     failed.Reason,
			"digest":     failed.Digest,
			"updated_at": now,
		}),
	}).Create(failed).Error
	return dbError(err, "save_failed_node")
}

// IncrementRetry bumps the retry counter of a record after a failed retry.
func (s *FailedNodeStore) IncrementRetry(ctx context.Context, id uint, reason string) error {
	err := s.db.WithContext(ctx).Model(&entities.MigrateFailedNode{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_times": gorm.Expr("retry_times + 1"),
			"reason":      reason,
			"updated_at":  Now(),
		}).Error
	return dbError(err, "increment_failed_node_retry")
}

// ListRetryable returns up to limit records of a task with id greater than
// afterID whose retry count is below maxRetries.
func (s *FailedNodeStore) ListRetryable(ctx context.Context, taskID string, maxRetries int, afterID uint, limit int) ([]entities.MigrateFailedNode, error) {
	var failed []entities.MigrateFailedNode
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND retry_times < ? AND id > ?", taskID, maxRetries, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&failed).Error
	if err != nil {
		return nil, dbError(err, "list_retryable_failed_nodes")
	}
	return failed, nil
}

// List returns every record of a task.
func (s *FailedNodeStore) List(ctx context.Context, taskID string) ([]entities.MigrateFailedNode, error) {
	var failed []entities.MigrateFailedNode
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&failed).Error; err != nil {
		return nil, dbError(err, "list_failed_nodes")
	}
	return failed, nil
}

// Remove deletes a record once its node has been copied.
func (s *FailedNodeStore) Remove(ctx context.Context, id uint) error {
	return dbError(s.db.WithContext(ctx).Delete(&entities.MigrateFailedNode{}, id).Error, "remove_failed_node")
}

// ResetRetryCount zeroes the retry counters of a repository's records so the
// next run retries them again. It returns the number of records reset.
func (s *FailedNodeStore) ResetRetryCount(ctx context.Context, projectID, repoName string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&entities.MigrateFailedNode{}).
		Where("project_id = ? AND repo_name = ?", projectID, repoName).
		Updates(map[string]any{
			"retry_times": 0,
			"updated_at":  Now(),
		})
	if result.Error != nil {
		return 0, dbError(result.Error, "reset_failed_node_retries")
	}
	return result.RowsAffected, nil
}

// Count returns the number of records of a task.
func (s *FailedNodeStore) Count(ctx context.Context, taskID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&entities.MigrateFailedNode{}).
		Where("task_id = ?", taskID).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "count_failed_nodes")
	}
	return count, nil
}

package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
)

// TaskStore persists migration tasks. Every state change is an atomic
// conditional UPDATE; RowsAffected == 0 means another process moved the
// task first. This is the only cross-process coordination primitive.
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore creates a task store.
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// TaskFilter narrows List results
type TaskFilter struct {
	State     entities.TaskState
	ProjectID string
	RepoName  string
	Limit     int
	Offset    int
}

// Create inserts a CREATED task. A second non-terminal task for the same
// repository fails with ErrDuplicateActiveTask.
func (s *TaskStore) Create(ctx context.Context, task *entities.MigrationTask) error {
	now := Now()
	activeKey := entities.RepoKey(task.ProjectID, task.RepoName)

	task.ActiveKey = &activeKey
	task.State = entities.TaskStateCreated
	task.CreatedAt = now
	task.LastModifiedAt = now
	if task.LastModifiedBy == "" {
		task.LastModifiedBy = task.CreatedBy
	}

	err := s.db.WithContext(ctx).Create(task).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.New(ErrDuplicateActiveTask).
			Component("datastore").
			Category(errors.CategoryConflict).
			TaskContext(task.ID, task.ProjectID, task.RepoName).
			Build()
	}
	return dbError(err, "create_task")
}

// Get loads a task by id.
func (s *TaskStore) Get(ctx context.Context, id string) (*entities.MigrationTask, error) {
	var task entities.MigrationTask
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFoundOr(err, ErrTaskNotFound, "get_task")
	}
	return &task, nil
}

// FindActive returns the non-terminal task of a repository, or ErrTaskNotFound.
func (s *TaskStore) FindActive(ctx context.Context, projectID, repoName string) (*entities.MigrationTask, error) {
	var task entities.MigrationTask
	err := s.db.WithContext(ctx).
		Where("active_key = ?", entities.RepoKey(projectID, repoName)).
		First(&task).Error
	if err != nil {
		return nil, notFoundOr(err, ErrTaskNotFound, "find_active_task")
	}
	return &task, nil
}

// List returns tasks ordered by creation time.
func (s *TaskStore) List(ctx context.Context, filter TaskFilter) ([]entities.MigrationTask, error) {
	query := s.db.WithContext(ctx).Model(&entities.MigrationTask{})
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.RepoName != "" {
		query = query.Where("repo_name = ?", filter.RepoName)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var tasks []entities.MigrationTask
	if err := query.Order("created_at ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, dbError(err, "list_tasks")
	}
	return tasks, nil
}

// ListStale returns EXECUTING tasks whose last heartbeat is older than staleBefore.
func (s *TaskStore) ListStale(ctx context.Context, staleBefore time.Time, limit int) ([]entities.MigrationTask, error) {
	query := s.db.WithContext(ctx).
		Where("state = ? AND last_modified_at < ?", entities.TaskStateExecuting, normalizeTime(staleBefore)).
		Order("last_modified_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var tasks []entities.MigrationTask
	if err := query.Find(&tasks).Error; err != nil {
		return nil, dbError(err, "list_stale_tasks")
	}
	return tasks, nil
}

// UpdateState moves a task from expected to next. It returns false without
// error when the task is no longer in the expected state. Moving to a
// terminal state releases the repository's active slot.
func (s *TaskStore) UpdateState(ctx context.Context, id string, expected, next entities.TaskState, operator string) (bool, error) {
	updates := map[string]any{
		"state":            next,
		"last_modified_by": operator,
		"last_modified_at": Now(),
	}
	if next.IsTerminal() {
		updates["active_key"] = nil
	}

	result := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND state = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, dbError(result.Error, "update_task_state")
	}

	return result.RowsAffected > 0, nil
}

// ClaimStale takes over an EXECUTING task whose heartbeat is older than
// staleBefore. The condition on last_modified_at makes the takeover
// exclusive: the winner refreshes the timestamp and every other claimant
// matches zero rows.
func (s *TaskStore) ClaimStale(ctx context.Context, id string, staleBefore time.Time, operator string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND state = ? AND last_modified_at < ?", id, entities.TaskStateExecuting, normalizeTime(staleBefore)).
		Updates(map[string]any{
			"last_modified_by": operator,
			"last_modified_at": Now(),
		})
	if result.Error != nil {
		return false, dbError(result.Error, "claim_stale_task")
	}
	return result.RowsAffected > 0, nil
}

// ReleaseClaim hands a claimed task back as it was before the claim by
// restoring the previous owner and modification time. It applies only while
// operator still owns the task.
func (s *TaskStore) ReleaseClaim(ctx context.Context, id, operator, previousBy string, previousAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND state = ? AND last_modified_by = ?", id, entities.TaskStateExecuting, operator).
		Updates(map[string]any{
			"last_modified_by": previousBy,
			"last_modified_at": normalizeTime(previousAt),
		})
	if result.Error != nil {
		return false, dbError(result.Error, "release_claim")
	}
	return result.RowsAffected > 0, nil
}

// UpdateStartBoundary records the first-claim boundary. It only applies
// while the boundary is still NULL so a resumed run never moves it.
func (s *TaskStore) UpdateStartBoundary(ctx context.Context, id string, boundary time.Time, operator string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND start_boundary IS NULL", id).
		Updates(map[string]any{
			"start_boundary":   normalizeTime(boundary),
			"last_modified_by": operator,
			"last_modified_at": Now(),
		})
	if result.Error != nil {
		return false, dbError(result.Error, "update_start_boundary")
	}
	return result.RowsAffected > 0, nil
}

// UpdateTotalCount stores the frozen size of the main pass.
func (s *TaskStore) UpdateTotalCount(ctx context.Context, id string, total int64) error {
	return s.touch(ctx, id, "update_total_count", map[string]any{"total_count": total})
}

// UpdateMigratedCount persists the main pass checkpoint. The checkpoint
// never moves backwards.
func (s *TaskStore) UpdateMigratedCount(ctx context.Context, id string, migrated int64) error {
	err := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND migrated_count <= ?", id, migrated).
		Updates(map[string]any{
			"migrated_count":   migrated,
			"last_modified_at": Now(),
		}).Error
	return dbError(err, "update_migrated_count")
}

// UpdateCorrectedCount persists the correction pass checkpoint.
func (s *TaskStore) UpdateCorrectedCount(ctx context.Context, id string, corrected int64) error {
	err := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND corrected_count <= ?", id, corrected).
		Updates(map[string]any{
			"corrected_count":  corrected,
			"last_modified_at": Now(),
		}).Error
	return dbError(err, "update_corrected_count")
}

// Heartbeat refreshes last_modified_at of an EXECUTING task held by operator.
// It returns false when the task was finished or taken over.
func (s *TaskStore) Heartbeat(ctx context.Context, id, operator string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ? AND state = ? AND last_modified_by = ?", id, entities.TaskStateExecuting, operator).
		Update("last_modified_at", Now())
	if result.Error != nil {
		return false, dbError(result.Error, "heartbeat")
	}
	return result.RowsAffected > 0, nil
}

// Finish moves an EXECUTING task to a terminal state.
func (s *TaskStore) Finish(ctx context.Context, id string, state entities.TaskState, operator string) error {
	if !state.IsTerminal() {
		return errors.Newf("cannot finish task with non-terminal state %s", state).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}

	ok, err := s.UpdateState(ctx, id, entities.TaskStateExecuting, state, operator)
	if err != nil {
		return err
	}
	if !ok {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return errors.New(fmt.Errorf("cannot finish task: current state is %s, expected %s", current.State, entities.TaskStateExecuting)).
			Component("datastore").
			Category(errors.CategoryState).
			Context("task_id", id).
			Build()
	}
	return nil
}

func (s *TaskStore) touch(ctx context.Context, id, operation string, updates map[string]any) error {
	updates["last_modified_at"] = Now()
	result := s.db.WithContext(ctx).Model(&entities.MigrationTask{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, operation)
	}
	if result.RowsAffected == 0 {
		return notFoundOr(gorm.ErrRecordNotFound, ErrTaskNotFound, operation)
	}
	return nil
}

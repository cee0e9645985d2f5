package migrate

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// CreateTaskRequest describes a repository to move to another credential set.
type CreateTaskRequest struct {
	ProjectID     string
	RepoName      string
	DstStorageKey string
	Operator      string
}

// TaskRegistry creates migration tasks and enforces one active task per repository.
type TaskRegistry struct {
	tasks TaskRepository
	repos RepositoryDirectory
	keys  KeyChecker
	log   logger.Logger
}

// NewTaskRegistry creates a registry. keys may be nil to skip the
// destination key check.
func NewTaskRegistry(tasks TaskRepository, repos RepositoryDirectory, keys KeyChecker, log logger.Logger) *TaskRegistry {
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &TaskRegistry{
		tasks: tasks,
		repos: repos,
		keys:  keys,
		log:   log.Module(logger.ComponentRegistry),
	}
}

// CreateTask persists a CREATED task snapshotting the repository's current
// storage key as the source. The repository write target is not changed.
func (r *TaskRegistry) CreateTask(ctx context.Context, req CreateTaskRequest) (*entities.MigrationTask, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}

	repo, err := r.repos.GetFresh(ctx, req.ProjectID, req.RepoName)
	if err != nil {
		return nil, err
	}

	dstKey := normalizeKey(req.DstStorageKey)
	if repo.Key() == dstKey {
		return nil, errors.New(ErrSameStorageKey).
			Component("migrate").
			Category(errors.CategoryValidation).
			Context("project_id", req.ProjectID).
			Context("repo_name", req.RepoName).
			Context("storage_key", displayKey(dstKey)).
			Build()
	}

	if _, err := r.tasks.FindActive(ctx, req.ProjectID, req.RepoName); err == nil {
		return nil, r.alreadyExists(req)
	} else if !errors.Is(err, datastore.ErrTaskNotFound) {
		return nil, err
	}

	task := &entities.MigrationTask{
		ID:             uuid.NewString(),
		CreatedBy:      req.Operator,
		LastModifiedBy: req.Operator,
		ProjectID:      req.ProjectID,
		RepoName:       req.RepoName,
		SrcStorageKey:  repo.StorageKey,
		DstStorageKey:  dstKey,
	}
	if err := r.tasks.Create(ctx, task); err != nil {
		// Lost the race against a concurrent create
		if errors.Is(err, datastore.ErrDuplicateActiveTask) {
			return nil, r.alreadyExists(req)
		}
		return nil, err
	}

	r.log.Info("migration task created",
		logger.TaskID(task.ID),
		logger.ProjectID(task.ProjectID),
		logger.RepoName(task.RepoName),
		logger.StorageKey("src_storage_key", task.SrcKey()),
		logger.StorageKey("dst_storage_key", task.DstStorageKey),
		logger.String("operator", req.Operator))

	return task, nil
}

func (r *TaskRegistry) validate(req CreateTaskRequest) error {
	var missing []string
	if req.ProjectID == "" {
		missing = append(missing, "project")
	}
	if req.RepoName == "" {
		missing = append(missing, "repository")
	}
	if req.Operator == "" {
		missing = append(missing, "operator")
	}
	if len(missing) > 0 {
		return errors.Newf("missing required fields: %s", strings.Join(missing, ", ")).
			Component("migrate").
			Category(errors.CategoryValidation).
			Build()
	}

	dstKey := normalizeKey(req.DstStorageKey)
	if r.keys != nil && !r.keys.Has(dstKey) {
		return errors.Newf("unknown destination storage key %q", req.DstStorageKey).
			Component("migrate").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (r *TaskRegistry) alreadyExists(req CreateTaskRequest) error {
	return errors.New(ErrAlreadyExists).
		Component("migrate").
		Category(errors.CategoryConflict).
		Context("project_id", req.ProjectID).
		Context("repo_name", req.RepoName).
		Build()
}

// normalizeKey maps the "default" alias to the empty default key.
func normalizeKey(key string) string {
	if key == entities.DefaultStorageMarker {
		return ""
	}
	return key
}

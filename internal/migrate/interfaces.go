package migrate

import (
	"context"
	"time"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// BlobStore is the content-addressed blob layer spanning every credential set.
type BlobStore interface {
	Exists(ctx context.Context, digest, storageKey string) (bool, error)
	// Copy overwrites the destination, so repeating it is harmless
	Copy(ctx context.Context, digest, srcKey, dstKey string) (int64, error)
	IncrementRef(ctx context.Context, digest, storageKey string) (bool, error)
	DecrementRef(ctx context.Context, digest, storageKey string) (bool, error)
	RefCount(ctx context.Context, digest, storageKey string) (int64, error)
}

// NodeCatalog is the paginated node store.
type NodeCatalog interface {
	Find(ctx context.Context, q datastore.NodeQuery, page, pageSize int) ([]entities.Node, error)
	Count(ctx context.Context, q datastore.NodeQuery) (int64, error)
	Get(ctx context.Context, id uint) (*entities.Node, error)
	FindPendingCopy(ctx context.Context, afterID uint, limit int) ([]entities.Node, error)
	ClearPendingCopy(ctx context.Context, id uint) error
}

// BlockLister lists the blocks of a multi-block node as of a snapshot time.
type BlockLister interface {
	ListBlocks(ctx context.Context, projectID, repoName, fullPath string, snapshot time.Time) ([]entities.BlockNode, error)
}

// RepositoryDirectory owns the write target of each repository.
type RepositoryDirectory interface {
	// GetFresh reads the current write target, bypassing any cache
	GetFresh(ctx context.Context, projectID, name string) (*entities.Repository, error)
	SetActiveStorageKey(ctx context.Context, projectID, name, key string) error
	UnsetOldStorageKey(ctx context.Context, projectID, name string) error
}

// TaskRepository persists migration tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *entities.MigrationTask) error
	Get(ctx context.Context, id string) (*entities.MigrationTask, error)
	FindActive(ctx context.Context, projectID, repoName string) (*entities.MigrationTask, error)
	List(ctx context.Context, filter datastore.TaskFilter) ([]entities.MigrationTask, error)
	ListStale(ctx context.Context, staleBefore time.Time, limit int) ([]entities.MigrationTask, error)
	UpdateState(ctx context.Context, id string, expected, next entities.TaskState, operator string) (bool, error)
	ClaimStale(ctx context.Context, id string, staleBefore time.Time, operator string) (bool, error)
	ReleaseClaim(ctx context.Context, id, operator, previousBy string, previousAt time.Time) (bool, error)
	UpdateStartBoundary(ctx context.Context, id string, boundary time.Time, operator string) (bool, error)
	UpdateTotalCount(ctx context.Context, id string, total int64) error
	UpdateMigratedCount(ctx context.Context, id string, migrated int64) error
	UpdateCorrectedCount(ctx context.Context, id string, corrected int64) error
	Heartbeat(ctx context.Context, id, operator string) (bool, error)
	Finish(ctx context.Context, id string, state entities.TaskState, operator string) error
}

// FailedNodeRepository persists nodes whose copy failed.
type FailedNodeRepository interface {
	Save(ctx context.Context, failed *entities.MigrateFailedNode) error
	IncrementRetry(ctx context.Context, id uint, reason string) error
	ListRetryable(ctx context.Context, taskID string, maxRetries int, afterID uint, limit int) ([]entities.MigrateFailedNode, error)
	Remove(ctx context.Context, id uint) error
}

// KeyChecker reports whether a storage key is configured.
type KeyChecker interface {
	Has(key string) bool
}

// Compile-time checks against the concrete stores
var (
	_ NodeCatalog          = (*datastore.NodeStore)(nil)
	_ BlockLister          = (*datastore.BlockStore)(nil)
	_ RepositoryDirectory  = (*datastore.RepositoryStore)(nil)
	_ TaskRepository       = (*datastore.TaskStore)(nil)
	_ FailedNodeRepository = (*datastore.FailedNodeStore)(nil)
)

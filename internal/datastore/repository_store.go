package datastore

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

const (
	repositoryCacheTTL     = time.Minute
	repositoryCacheCleanup = 5 * time.Minute
)

// RepositoryStore reads and redirects repository write targets. Lookups are
// cached per process; writes through this store invalidate the entry.
type RepositoryStore struct {
	db    *gorm.DB
	cache *cache.Cache
}

// NewRepositoryStore creates a repository store.
func NewRepositoryStore(db *gorm.DB) *RepositoryStore {
	return &RepositoryStore{
		db:    db,
		cache: cache.New(repositoryCacheTTL, repositoryCacheCleanup),
	}
}

func repositoryCacheKey(projectID, name string) string {
	return entities.RepoKey(projectID, name)
}

// Create inserts a repository.
func (s *RepositoryStore) Create(ctx context.Context, repo *entities.Repository) error {
	if err := s.db.WithContext(ctx).Create(repo).Error; err != nil {
		return dbError(err, "create_repository")
	}
	s.cache.Delete(repositoryCacheKey(repo.ProjectID, repo.Name))
	return nil
}

// Get returns a repository, served from cache when fresh. A redirect made
// by another instance can take up to a minute to show; decisions that
// depend on the write target use GetFresh.
func (s *RepositoryStore) Get(ctx context.Context, projectID, name string) (*entities.Repository, error) {
	key := repositoryCacheKey(projectID, name)
	if cached, ok := s.cache.Get(key); ok {
		if repo, ok := cached.(entities.Repository); ok {
			return &repo, nil
		}
	}

	repo, err := s.load(s.db.WithContext(ctx), projectID, name)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, *repo)
	return repo, nil
}

// GetFresh reads a repository from the database and refreshes the cache.
func (s *RepositoryStore) GetFresh(ctx context.Context, projectID, name string) (*entities.Repository, error) {
	repo, err := s.load(s.db.WithContext(ctx), projectID, name)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(repositoryCacheKey(projectID, name), *repo)
	return repo, nil
}

func (s *RepositoryStore) load(db *gorm.DB, projectID, name string) (*entities.Repository, error) {
	var repo entities.Repository
	if err := db.Where("project_id = ? AND name = ?", projectID, name).First(&repo).Error; err != nil {
		return nil, notFoundOr(err, ErrRepositoryNotFound, "get_repository")
	}
	return &repo, nil
}

// SetActiveStorageKey redirects new writes of a repository to key ("" is
// the default set) and remembers the previous key as the old storage key.
func (s *RepositoryStore) SetActiveStorageKey(ctx context.Context, projectID, name, key string) error {
	defer s.cache.Delete(repositoryCacheKey(projectID, name))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo, err := s.load(tx, projectID, name)
		if err != nil {
			return err
		}

		var next any
		if key != "" {
			next = key
		}
		var previous any
		if repo.StorageKey != nil {
			previous = *repo.StorageKey
		}

		err = tx.Model(&entities.Repository{}).
			Where("id = ?", repo.ID).
			Updates(map[string]any{
				"credentials_key":     next,
				"old_credentials_key": previous,
				"updated_at":          Now(),
			}).Error
		return dbError(err, "set_active_storage_key")
	})
}

// UnsetOldStorageKey clears the remembered previous key after a migration.
func (s *RepositoryStore) UnsetOldStorageKey(ctx context.Context, projectID, name string) error {
	defer s.cache.Delete(repositoryCacheKey(projectID, name))

	err := s.db.WithContext(ctx).Model(&entities.Repository{}).
		Where("project_id = ? AND name = ?", projectID, name).
		Updates(map[string]any{
			"old_credentials_key": gorm.Expr("NULL"),
			"updated_at":          Now(),
		}).Error
	return dbError(err, "unset_old_storage_key")
}

package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// BlockStore lists the blocks of multi-block nodes.
type BlockStore struct {
	db *gorm.DB
}

// NewBlockStore creates a block store.
func NewBlockStore(db *gorm.DB) *BlockStore {
	return &BlockStore{db: db}
}

// ListBlocks returns the blocks that made up a node at snapshot, ordered by
// start position.
func (s *BlockStore) ListBlocks(ctx context.Context, projectID, repoName, fullPath string, snapshot time.Time) ([]entities.BlockNode, error) {
	at := normalizeTime(snapshot)

	var blocks []entities.BlockNode
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND repo_name = ? AND node_full_path = ?", projectID, repoName, fullPath).
		Where("created_at <= ?", at).
		Where("(deleted_at IS NULL OR deleted_at > ?)", at).
		Order("start_pos ASC, id ASC").
		Find(&blocks).Error
	if err != nil {
		return nil, dbError(err, "list_blocks")
	}
	return blocks, nil
}

// Create inserts a block.
func (s *BlockStore) Create(ctx context.Context, block *entities.BlockNode) error {
	if block.CreatedAt.IsZero() {
		block.CreatedAt = Now()
	} else {
		block.CreatedAt = normalizeTime(block.CreatedAt)
	}
	return dbError(s.db.WithContext(ctx).Create(block).Error, "create_block")
}

package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// NodeQuery selects the non-folder nodes of one repository within a
// creation-time window. Nil bounds are open.
type NodeQuery struct {
	ProjectID string
	RepoName  string
	// CreatedAtOrBefore keeps nodes with created_at <= the value
	CreatedAtOrBefore *time.Time
	// CreatedAfter keeps nodes with created_at > the value
	CreatedAfter *time.Time
}

// NodeStore is the node catalog.
type NodeStore struct {
	db *gorm.DB
}

// NewNodeStore creates a node store.
func NewNodeStore(db *gorm.DB) *NodeStore {
	return &NodeStore{db: db}
}

func (s *NodeStore) scoped(ctx context.Context, q NodeQuery) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&entities.Node{}).
		Where("project_id = ? AND repo_name = ? AND folder = ?", q.ProjectID, q.RepoName, false)
	if q.CreatedAtOrBefore != nil {
		query = query.Where("created_at <= ?", normalizeTime(*q.CreatedAtOrBefore))
	}
	if q.CreatedAfter != nil {
		query = query.Where("created_at > ?", normalizeTime(*q.CreatedAfter))
	}
	return query
}

// Find returns one page of nodes ordered by id, the stable identity that
// keeps pages disjoint.
func (s *NodeStore) Find(ctx context.Context, q NodeQuery, page, pageSize int) ([]entities.Node, error) {
	var nodes []entities.Node
	err := s.scoped(ctx, q).
		Order("id ASC").
		Offset(page * pageSize).
		Limit(pageSize).
		Find(&nodes).Error
	if err != nil {
		return nil, dbError(err, "find_nodes")
	}
	return nodes, nil
}

// Count returns the number of nodes matching q.
func (s *NodeStore) Count(ctx context.Context, q NodeQuery) (int64, error) {
	var count int64
	if err := s.scoped(ctx, q).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_nodes")
	}
	return count, nil
}

// Get loads a node by id.
func (s *NodeStore) Get(ctx context.Context, id uint) (*entities.Node, error) {
	var node entities.Node
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		return nil, notFoundOr(err, ErrNodeNotFound, "get_node")
	}
	return &node, nil
}

// Create inserts a node.
func (s *NodeStore) Create(ctx context.Context, node *entities.Node) error {
	if node.CreatedAt.IsZero() {
		node.CreatedAt = Now()
	} else {
		node.CreatedAt = normalizeTime(node.CreatedAt)
	}
	return dbError(s.db.WithContext(ctx).Create(node).Error, "create_node")
}

// FindPendingCopy returns up to limit nodes carrying a pending-copy marker
// with id greater than afterID, ordered by id.
func (s *NodeStore) FindPendingCopy(ctx context.Context, afterID uint, limit int) ([]entities.Node, error) {
	var nodes []entities.Node
	err := s.db.WithContext(ctx).
		Where("pending_copy_from IS NOT NULL AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&nodes).Error
	if err != nil {
		return nil, dbError(err, "find_pending_copy")
	}
	return nodes, nil
}

// MarkPendingCopy records that a node's bytes were written to fromKey while
// the repository targets toKey.
func (s *NodeStore) MarkPendingCopy(ctx context.Context, id uint, fromKey, toKey string) error {
	err := s.db.WithContext(ctx).Model(&entities.Node{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pending_copy_from": entities.KeyToMarker(fromKey),
			"pending_copy_to":   entities.KeyToMarker(toKey),
		}).Error
	return dbError(err, "mark_pending_copy")
}

// ClearPendingCopy clears exactly the two marker columns of one node and
// leaves every other column untouched.
func (s *NodeStore) ClearPendingCopy(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&entities.Node{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pending_copy_from": gorm.Expr("NULL"),
			"pending_copy_to":   gorm.Expr("NULL"),
		}).Error
	return dbError(err, "clear_pending_copy")
}

// Delete removes a node from the catalog.
func (s *NodeStore) Delete(ctx context.Context, id uint) error {
	return dbError(s.db.WithContext(ctx).Delete(&entities.Node{}, id).Error, "delete_node")
}

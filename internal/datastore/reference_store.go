package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// ReferenceStore maintains per credential set blob reference counts.
type ReferenceStore struct {
	db *gorm.DB
}

// NewReferenceStore creates a reference store.
func NewReferenceStore(db *gorm.DB) *ReferenceStore {
	return &ReferenceStore{db: db}
}

// Increment adds one reference, creating the row when missing.
func (s *ReferenceStore) Increment(ctx context.Context, digest, storageKey string) (bool, error) {
	ref := entities.FileReference{Digest: digest, StorageKey: storageKey, Count: 1}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "digest"}, {Name: "credentials_key"}},
		DoUpdates: clause.Assignments(map[string]any{"ref_count": gorm.Expr("ref_count + 1")}),
	}).Create(&ref)
	if result.Error != nil {
		return false, dbError(result.Error, "increment_reference")
	}
	return result.RowsAffected > 0, nil
}

// Decrement removes one reference. It returns false when the count was
// already zero or the row does not exist; the count never goes negative.
func (s *ReferenceStore) Decrement(ctx context.Context, digest, storageKey string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&entities.FileReference{}).
		Where("digest = ? AND credentials_key = ? AND ref_count > 0", digest, storageKey).
		Update("ref_count", gorm.Expr("ref_count - 1"))
	if result.Error != nil {
		return false, dbError(result.Error, "decrement_reference")
	}
	return result.RowsAffected > 0, nil
}

// Count returns the reference count, 0 when no row exists.
func (s *ReferenceStore) Count(ctx context.Context, digest, storageKey string) (int64, error) {
	var refs []entities.FileReference
	err := s.db.WithContext(ctx).
		Where("digest = ? AND credentials_key = ?", digest, storageKey).
		Limit(1).
		Find(&refs).Error
	if err != nil {
		return 0, dbError(err, "count_reference")
	}
	if len(refs) == 0 {
		return 0, nil
	}
	return refs[0].Count, nil
}

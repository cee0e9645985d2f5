package datastore

import (
	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/errors"
)

// Sentinel errors returned by the stores
var (
	ErrTaskNotFound        = errors.NewStd("migration task not found")
	ErrRepositoryNotFound  = errors.NewStd("repository not found")
	ErrNodeNotFound        = errors.NewStd("node not found")
	ErrDuplicateActiveTask = errors.NewStd("an active migration task already exists for this repository")
)

// dbError wraps a GORM error with datastore context
func dbError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// notFoundOr maps gorm.ErrRecordNotFound to the given sentinel
func notFoundOr(err error, sentinel error, operation string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(sentinel).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("operation", operation).
			Build()
	}
	return dbError(err, operation)
}

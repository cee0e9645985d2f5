package storage

import (
	"context"
	"io"

	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// ReferenceCounter maintains per storage key reference counts of blobs.
type ReferenceCounter interface {
	Increment(ctx context.Context, digest, storageKey string) (bool, error)
	Decrement(ctx context.Context, digest, storageKey string) (bool, error)
	Count(ctx context.Context, digest, storageKey string) (int64, error)
}

// BlobStore exposes blob existence, cross credential copy and reference
// counting over the configured backends.
type BlobStore struct {
	registry *Registry
	refs     ReferenceCounter
	retry    RetryConfig
	log      logger.Logger
}

// NewBlobStore creates a blob store. Transient backend failures are retried
// according to retry.
func NewBlobStore(registry *Registry, refs ReferenceCounter, retry RetryConfig, log logger.Logger) *BlobStore {
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &BlobStore{
		registry: registry,
		refs:     refs,
		retry:    retry,
		log:      log,
	}
}

// Registry returns the backend registry
func (s *BlobStore) Registry() *Registry {
	return s.registry
}

func (s *BlobStore) retryConfig(operation, digest string) RetryConfig {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		s.log.Debug("retrying blob operation",
			logger.String("operation", operation),
			logger.Digest(digest),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}
	return cfg
}

// Exists reports whether digest is stored under storageKey.
func (s *BlobStore) Exists(ctx context.Context, digest, storageKey string) (bool, error) {
	backend, err := s.registry.Resolve(storageKey)
	if err != nil {
		return false, err
	}

	var exists bool
	err = WithRetry(ctx, s.retryConfig("exists", digest), func() error {
		var existsErr error
		exists, existsErr = backend.Exists(ctx, digest)
		return existsErr
	})
	return exists, err
}

// Copy streams digest from srcKey to dstKey and returns the bytes copied.
// The destination is overwritten, so repeating a copy is harmless. A missing
// source blob fails with ErrBlobNotFound and is not retried.
func (s *BlobStore) Copy(ctx context.Context, digest, srcKey, dstKey string) (int64, error) {
	if srcKey == dstKey {
		return 0, errors.Newf("copy of %s onto its own storage key %s", digest, displayKey(srcKey)).
			Component("storage").
			Category(errors.CategoryValidation).
			Build()
	}

	src, err := s.registry.Resolve(srcKey)
	if err != nil {
		return 0, err
	}
	dst, err := s.registry.Resolve(dstKey)
	if err != nil {
		return 0, err
	}

	var copied int64
	err = WithRetry(ctx, s.retryConfig("copy", digest), func() error {
		reader, openErr := src.Open(ctx, digest)
		if openErr != nil {
			return openErr
		}
		defer func() { _ = reader.Close() }()

		n, putErr := dst.Put(ctx, digest, reader)
		copied = n
		return putErr
	})
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return 0, err
		}
		return 0, errors.StorageError(err, digest, srcKey, dstKey)
	}
	return copied, nil
}

// IncrementRef adds a reference to digest under storageKey.
func (s *BlobStore) IncrementRef(ctx context.Context, digest, storageKey string) (bool, error) {
	return s.refs.Increment(ctx, digest, storageKey)
}

// DecrementRef removes a reference to digest under storageKey. It returns
// false when there was no reference left to remove.
func (s *BlobStore) DecrementRef(ctx context.Context, digest, storageKey string) (bool, error) {
	return s.refs.Decrement(ctx, digest, storageKey)
}

// RefCount returns the reference count of digest under storageKey.
func (s *BlobStore) RefCount(ctx context.Context, digest, storageKey string) (int64, error) {
	return s.refs.Count(ctx, digest, storageKey)
}

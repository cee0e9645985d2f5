// Package storage provides the content-addressed blob backends behind each
// credential set, the registry resolving storage keys to backends, and the
// BlobStore used by the migration engine.
package storage

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/tphakala/repomigrate/internal/errors"
)

// Common constants for blob backends
const (
	// File and directory permissions
	PermDir  = 0o750
	PermFile = 0o640

	// CopyBufferSize is the buffer used when streaming blobs
	CopyBufferSize = 32 * 1024

	// Connection defaults
	DefaultMaxConns = 5
	DefaultTimeout  = 30 * time.Second
	DefaultFTPPort  = 21
	DefaultSSHPort  = 22

	// tempPrefix marks in-flight uploads; they are renamed over the final
	// name only after the write completed
	tempPrefix = ".upload-"

	// minDigestLength is the shortest digest that fits the two shard levels
	minDigestLength = 4
)

// Sentinel errors
var (
	ErrBlobNotFound      = errors.NewStd("blob not found")
	ErrUnknownStorageKey = errors.NewStd("unknown storage key")
	ErrInvalidDigest     = errors.NewStd("invalid digest")
)

// Backend stores blobs of one credential set keyed by digest.
//
// Put must have overwrite semantics: writing the same digest twice leaves a
// single complete blob. Readers never observe a partially written blob.
type Backend interface {
	// Name identifies the backend in logs
	Name() string
	// Exists reports whether the blob is stored
	Exists(ctx context.Context, digest string) (bool, error)
	// Open returns a reader for the blob or ErrBlobNotFound
	Open(ctx context.Context, digest string) (io.ReadCloser, error)
	// Put stores the blob read from r and returns the number of bytes read
	Put(ctx context.Context, digest string, r io.Reader) (int64, error)
	// Delete removes the blob; deleting a missing blob is not an error
	Delete(ctx context.Context, digest string) error
	// Close releases connections held by the backend
	Close() error
}

// validateDigest rejects digests that are too short for the layout or that
// could escape the base directory.
func validateDigest(digest string) error {
	if len(digest) < minDigestLength {
		return errors.New(ErrInvalidDigest).
			Component("storage").
			Category(errors.CategoryValidation).
			Context("digest", digest).
			Build()
	}
	for _, c := range digest {
		isDigit := c >= '0' && c <= '9'
		isLower := c >= 'a' && c <= 'z'
		isUpper := c >= 'A' && c <= 'Z'
		if !isDigit && !isLower && !isUpper {
			return errors.New(ErrInvalidDigest).
				Component("storage").
				Category(errors.CategoryValidation).
				Context("digest", digest).
				Build()
		}
	}
	return nil
}

// blobPath returns the slash separated location of digest under base:
// base/ab/cd/abcdef...
func blobPath(base, digest string) string {
	return path.Join(base, digest[0:2], digest[2:4], digest)
}

// notFound builds the ErrBlobNotFound error for a backend
func notFound(backend, digest string) error {
	return errors.New(ErrBlobNotFound).
		Component("storage").
		Category(errors.CategoryNotFound).
		Context("backend", backend).
		Context("digest", digest).
		Build()
}

// ioError wraps a backend I/O failure
func ioError(err error, backend, operation, digest string) error {
	return errors.New(err).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("backend", backend).
		Context("operation", operation).
		Context("digest", digest).
		Build()
}

// countingReader counts bytes read through it
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

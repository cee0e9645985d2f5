package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/tphakala/repomigrate/internal/errors"
)

// LocalBackendConfig holds configuration for the filesystem backend
type LocalBackendConfig struct {
	Path string
	// Compress stores blobs zstd encoded; readers always see plain bytes
	Compress bool
}

// LocalBackend stores blobs on the local filesystem
type LocalBackend struct {
	name     string
	root     string
	compress bool
}

// NewLocalBackend creates a filesystem backend rooted at config.Path.
func NewLocalBackend(name string, config LocalBackendConfig) (*LocalBackend, error) {
	if config.Path == "" {
		return nil, errors.Newf("local storage %s: path is required", name).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}

	root, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("path", config.Path).
			Build()
	}
	if err := os.MkdirAll(root, PermDir); err != nil {
		return nil, ioError(err, name, "create_root", "")
	}

	return &LocalBackend{name: name, root: root, compress: config.Compress}, nil
}

// Name returns the backend name
func (b *LocalBackend) Name() string {
	return b.name
}

func (b *LocalBackend) path(digest string) string {
	return filepath.FromSlash(blobPath(b.root, digest))
}

// Exists reports whether the blob file exists
func (b *LocalBackend) Exists(ctx context.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}
	_, err := os.Stat(b.path(digest))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, ioError(err, b.name, "stat", digest)
	}
}

// Open returns a reader for the blob
func (b *LocalBackend) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}

	file, err := os.Open(b.path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(b.name, digest)
		}
		return nil, ioError(err, b.name, "open", digest)
	}
	if !b.compress {
		return file, nil
	}

	dec, err := zstd.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, ioError(err, b.name, "decode", digest)
	}
	return &zstdReadCloser{dec: dec, file: file}, nil
}

// Put writes the blob to a temporary file in the shard directory and
// renames it over the final name.
func (b *LocalBackend) Put(ctx context.Context, digest string, r io.Reader) (int64, error) {
	if err := validateDigest(digest); err != nil {
		return 0, err
	}

	target := b.path(digest)
	if err := os.MkdirAll(filepath.Dir(target), PermDir); err != nil {
		return 0, ioError(err, b.name, "mkdir", digest)
	}

	src := &countingReader{r: ctxReader{ctx: ctx, r: r}}
	err := atomicWriteFile(target, tempPrefix+"*", PermFile, func(f *os.File) error {
		if !b.compress {
			_, err := io.CopyBuffer(f, src, make([]byte, CopyBufferSize))
			return err
		}

		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if _, err := io.CopyBuffer(enc, src, make([]byte, CopyBufferSize)); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return src.n, ioError(err, b.name, "put", digest)
	}
	return src.n, nil
}

// Delete removes the blob file
func (b *LocalBackend) Delete(ctx context.Context, digest string) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	if err := os.Remove(b.path(digest)); err != nil && !os.IsNotExist(err) {
		return ioError(err, b.name, "delete", digest)
	}
	return nil
}

// Close is a no-op for the filesystem backend
func (b *LocalBackend) Close() error {
	return nil
}

// atomicWriteFile writes data to a temporary file and then renames it to the target path
func atomicWriteFile(targetPath, tempPattern string, perm os.FileMode, write func(*os.File) error) error {
	dir := filepath.Dir(targetPath)
	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	if err := write(tempFile); err != nil {
		return err
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	success = true
	return nil
}

// zstdReadCloser closes both the decoder and the underlying file
type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.file.Close()
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

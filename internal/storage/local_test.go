package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

func newTestLocalBackend(t *testing.T, compress bool) *LocalBackend {
	t.Helper()
	backend, err := NewLocalBackend("test", LocalBackendConfig{Path: t.TempDir(), Compress: compress})
	require.NoError(t, err)
	return backend
}

func readBlob(t *testing.T, backend Backend, digest string) []byte {
	t.Helper()
	r, err := backend.Open(context.Background(), digest)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestLocalBackend_PutOpenDelete(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := newTestLocalBackend(t, compress)
			payload := []byte(strings.Repeat("artifact-bytes ", 1000))

			exists, err := backend.Exists(ctx, testDigest)
			require.NoError(t, err)
			assert.False(t, exists)

			n, err := backend.Put(ctx, testDigest, bytes.NewReader(payload))
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), n)

			exists, err = backend.Exists(ctx, testDigest)
			require.NoError(t, err)
			assert.True(t, exists)
			assert.Equal(t, payload, readBlob(t, backend, testDigest))

			require.NoError(t, backend.Delete(ctx, testDigest))
			require.NoError(t, backend.Delete(ctx, testDigest), "deleting a missing blob is not an error")

			_, err = backend.Open(ctx, testDigest)
			require.ErrorIs(t, err, ErrBlobNotFound)
		})
	}
}

func TestLocalBackend_ShardedLayout(t *testing.T) {
	backend := newTestLocalBackend(t, false)
	_, err := backend.Put(context.Background(), testDigest, strings.NewReader("x"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(backend.root, "ab", "cd", testDigest))
	require.NoError(t, err)
}

func TestLocalBackend_CompressedOnDisk(t *testing.T) {
	backend := newTestLocalBackend(t, true)
	payload := []byte(strings.Repeat("a", 64*1024))

	_, err := backend.Put(context.Background(), testDigest, bytes.NewReader(payload))
	require.NoError(t, err)

	raw, err := os.ReadFile(backend.path(testDigest))
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))
	assert.NotEqual(t, payload, raw)
}

func TestLocalBackend_Overwrite(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t, false)

	_, err := backend.Put(ctx, testDigest, strings.NewReader("first"))
	require.NoError(t, err)
	_, err = backend.Put(ctx, testDigest, strings.NewReader("second"))
	require.NoError(t, err)

	assert.Equal(t, []byte("second"), readBlob(t, backend, testDigest))

	entries, err := os.ReadDir(filepath.Dir(backend.path(testDigest)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestLocalBackend_FailedPutLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t, false)

	_, err := backend.Put(ctx, testDigest, failingReader{})
	require.Error(t, err)

	exists, err := backend.Exists(ctx, testDigest)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalBackend_InvalidDigest(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t, false)

	for _, digest := range []string{"", "ab", "../../etc/passwd", "abcd/../x"} {
		t.Run(digest, func(t *testing.T) {
			_, err := backend.Exists(ctx, digest)
			require.ErrorIs(t, err, ErrInvalidDigest)
			_, err = backend.Put(ctx, digest, strings.NewReader("x"))
			require.ErrorIs(t, err, ErrInvalidDigest)
		})
	}
}

func TestNewLocalBackend_RequiresPath(t *testing.T) {
	_, err := NewLocalBackend("broken", LocalBackendConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

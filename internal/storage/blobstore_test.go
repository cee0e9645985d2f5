package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/repomigrate/internal/conf"
)

// memRefs is an in-memory ReferenceCounter
type memRefs struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemRefs() *memRefs {
	return &memRefs{counts: make(map[string]int64)}
}

func (m *memRefs) Increment(_ context.Context, digest, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[digest+"@"+key]++
	return true, nil
}

func (m *memRefs) Decrement(_ context.Context, digest, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[digest+"@"+key] == 0 {
		return false, nil
	}
	m.counts[digest+"@"+key]--
	return true, nil
}

func (m *memRefs) Count(_ context.Context, digest, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[digest+"@"+key], nil
}

// flakyBackend fails the first failures Put calls with a transient error
type flakyBackend struct {
	Backend
	mu       sync.Mutex
	failures int
	puts     int
}

func (f *flakyBackend) Put(ctx context.Context, digest string, r io.Reader) (int64, error) {
	f.mu.Lock()
	f.puts++
	fail := f.puts <= f.failures
	f.mu.Unlock()
	if fail {
		_, _ = io.Copy(io.Discard, r)
		return 0, fmt.Errorf("write: connection reset by peer")
	}
	return f.Backend.Put(ctx, digest, r)
}

func setupBlobStore(t *testing.T) (store *BlobStore, src, dst *LocalBackend) {
	t.Helper()
	src = newTestLocalBackend(t, false)
	dst = newTestLocalBackend(t, true)

	registry := NewRegistry()
	registry.Register("", src)
	registry.Register("cold", dst)

	store = NewBlobStore(registry, newMemRefs(), RetryConfig{MaxRetries: 2, Backoff: time.Millisecond}, nil)
	return store, src, dst
}

func TestBlobStore_CopyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, src, dst := setupBlobStore(t)
	payload := []byte("jar bytes")

	_, err := src.Put(ctx, testDigest, bytes.NewReader(payload))
	require.NoError(t, err)

	for range 2 {
		n, err := store.Copy(ctx, testDigest, "", "cold")
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)
	}

	exists, err := store.Exists(ctx, testDigest, "cold")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, payload, readBlob(t, dst, testDigest))

	exists, err = store.Exists(ctx, testDigest, "")
	require.NoError(t, err)
	assert.True(t, exists, "source blob is left in place")
}

func TestBlobStore_CopyMissingSource(t *testing.T) {
	store, _, _ := setupBlobStore(t)

	n, err := store.Copy(context.Background(), testDigest, "", "cold")
	require.ErrorIs(t, err, ErrBlobNotFound)
	assert.Zero(t, n)
}

func TestBlobStore_CopyRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store, src, dst := setupBlobStore(t)
	flaky := &flakyBackend{Backend: dst, failures: 2}
	store.Registry().Register("cold", flaky)

	_, err := src.Put(ctx, testDigest, bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	n, err := store.Copy(ctx, testDigest, "", "cold")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 3, flaky.puts)
}

func TestBlobStore_CopyRejectsSameKeyAndUnknownKey(t *testing.T) {
	ctx := context.Background()
	store, _, _ := setupBlobStore(t)

	_, err := store.Copy(ctx, testDigest, "cold", "cold")
	require.Error(t, err)

	_, err = store.Copy(ctx, testDigest, "", "missing")
	require.ErrorIs(t, err, ErrUnknownStorageKey)

	_, err = store.Exists(ctx, testDigest, "missing")
	require.ErrorIs(t, err, ErrUnknownStorageKey)
}

func TestBlobStore_References(t *testing.T) {
	ctx := context.Background()
	store, _, _ := setupBlobStore(t)

	ok, err := store.IncrementRef(ctx, testDigest, "cold")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := store.RefCount(ctx, testDigest, "cold")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	ok, err = store.DecrementRef(ctx, testDigest, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRegistryFromSettings(t *testing.T) {
	settings := &conf.StorageSettings{
		Default: conf.CredentialSettings{Type: conf.StorageTypeLocal, Path: t.TempDir()},
		Credentials: map[string]conf.CredentialSettings{
			"cold":    {Type: conf.StorageTypeLocal, Path: t.TempDir(), Compress: true},
			"offsite": {Type: conf.StorageTypeSFTP, Host: "backup.example.com", Username: "u", Password: "p"},
			"legacy":  {Type: conf.StorageTypeFTP, Host: "ftp.example.com"},
		},
	}

	registry, err := NewRegistryFromSettings(settings, nil)
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	assert.Equal(t, []string{"", "cold", "legacy", "offsite"}, registry.Keys())
	assert.True(t, registry.Has(""))
	assert.False(t, registry.Has("missing"))

	backend, err := registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultKeyName, backend.Name())

	backend, err = registry.Resolve("offsite")
	require.NoError(t, err)
	assert.IsType(t, &SFTPBackend{}, backend)

	_, err = registry.Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownStorageKey)
}

func TestNewBackend_InvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		cred conf.CredentialSettings
		want string
	}{
		{"unsupported type", conf.CredentialSettings{Type: "s3"}, "unsupported type"},
		{"local without path", conf.CredentialSettings{Type: conf.StorageTypeLocal}, "path is required"},
		{"sftp without host", conf.CredentialSettings{Type: conf.StorageTypeSFTP}, "host is required"},
		{"sftp without auth", conf.CredentialSettings{Type: conf.StorageTypeSFTP, Host: "h"}, "no authentication method"},
		{"ftp without host", conf.CredentialSettings{Type: conf.StorageTypeFTP}, "host is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBackend("x", &tt.cred, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

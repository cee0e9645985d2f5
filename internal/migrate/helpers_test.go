package migrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/storage"
)

const (
	testProject = "proj"
	testRepo    = "generic-local"
	testDstKey  = "cold"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// recordingTasks records checkpoint writes on top of the real task store
type recordingTasks struct {
	*datastore.TaskStore
	mu          sync.Mutex
	checkpoints []int64
}

func (r *recordingTasks) UpdateMigratedCount(ctx context.Context, id string, migrated int64) error {
	r.mu.Lock()
	r.checkpoints = append(r.checkpoints, migrated)
	r.mu.Unlock()
	return r.TaskStore.UpdateMigratedCount(ctx, id, migrated)
}

func (r *recordingTasks) recorded() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.checkpoints...)
}

// recordingRepos counts write target redirects
type recordingRepos struct {
	*datastore.RepositoryStore
	mu        sync.Mutex
	redirects int
}

func (r *recordingRepos) SetActiveStorageKey(ctx context.Context, projectID, name, key string) error {
	r.mu.Lock()
	r.redirects++
	r.mu.Unlock()
	return r.RepositoryStore.SetActiveStorageKey(ctx, projectID, name, key)
}

func (r *recordingRepos) redirectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirects
}

// countingBlobs counts copies per digest
type countingBlobs struct {
	BlobStore
	mu     sync.Mutex
	copies map[string]int
}

func (c *countingBlobs) Copy(ctx context.Context, digest, srcKey, dstKey string) (int64, error) {
	c.mu.Lock()
	c.copies[digest]++
	c.mu.Unlock()
	return c.BlobStore.Copy(ctx, digest, srcKey, dstKey)
}

func (c *countingBlobs) copyCount(digest string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copies[digest]
}

// failingBackend rejects the first failures writes, or every write when
// failures is negative
type failingBackend struct {
	storage.Backend
	mu       sync.Mutex
	failures int
	puts     int
}

func (f *failingBackend) Put(ctx context.Context, digest string, r io.Reader) (int64, error) {
	f.mu.Lock()
	f.puts++
	fail := f.failures < 0 || f.puts <= f.failures
	f.mu.Unlock()
	if fail {
		_, _ = io.Copy(io.Discard, r)
		return 0, fmt.Errorf("write blob: %w", os.ErrPermission)
	}
	return f.Backend.Put(ctx, digest, r)
}

// countingRecorder counts recorder events
type countingRecorder struct {
	mu          sync.Mutex
	nodes       map[string]int
	tasks       map[string]int
	rejections  map[string]int
	refFailures map[string]int
	reconciled  map[string]int
	checkpoints []int64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		nodes:       make(map[string]int),
		tasks:       make(map[string]int),
		rejections:  make(map[string]int),
		refFailures: make(map[string]int),
		reconciled:  make(map[string]int),
	}
}

func (c *countingRecorder) RecordNode(pass, status string, _ int64, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[pass+"/"+status]++
}

func (c *countingRecorder) RecordCheckpoint(_ string, position int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints = append(c.checkpoints, position)
}

func (c *countingRecorder) RecordTask(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[state]++
}

func (c *countingRecorder) RecordPoolRejection(pool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections[pool]++
}

func (c *countingRecorder) RecordReferenceAdjustFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refFailures[op]++
}

func (c *countingRecorder) RecordReconciledNode(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciled[status]++
}

func (c *countingRecorder) count(m map[string]int, key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m[key]
}

// testEnv wires real SQLite stores and local backends in temp dirs. The
// default credential set is the source, "cold" the destination.
type testEnv struct {
	t        *testing.T
	manager  *datastore.SQLiteManager
	stores   *datastore.Stores
	nodes    NodeCatalog
	tasks    *recordingTasks
	repos    *recordingRepos
	registry *storage.Registry
	blobs    *countingBlobs
	src      *storage.LocalBackend
	dst      *storage.LocalBackend
	copier   *BlobCopier
	recorder *countingRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(datastore.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	stores := datastore.NewStores(mgr)

	src, err := storage.NewLocalBackend(storage.DefaultKeyName, storage.LocalBackendConfig{Path: t.TempDir()})
	require.NoError(t, err)
	dst, err := storage.NewLocalBackend(testDstKey, storage.LocalBackendConfig{Path: t.TempDir(), Compress: true})
	require.NoError(t, err)

	registry := storage.NewRegistry()
	registry.Register("", src)
	registry.Register(testDstKey, dst)

	blobStore := storage.NewBlobStore(registry, stores.References, storage.RetryConfig{MaxRetries: 1, Backoff: time.Millisecond}, nil)
	blobs := &countingBlobs{BlobStore: blobStore, copies: make(map[string]int)}
	recorder := newCountingRecorder()

	env := &testEnv{
		t:        t,
		manager:  mgr,
		stores:   stores,
		nodes:    stores.Nodes,
		tasks:    &recordingTasks{TaskStore: stores.Tasks},
		repos:    &recordingRepos{RepositoryStore: stores.Repositories},
		registry: registry,
		blobs:    blobs,
		src:      src,
		dst:      dst,
		recorder: recorder,
	}
	env.copier = NewBlobCopier(blobs, stores.Blocks, recorder, testLogger())

	require.NoError(t, stores.Repositories.Create(context.Background(), &entities.Repository{
		ProjectID: testProject,
		Name:      testRepo,
	}))
	return env
}

func testDigest(i int) string {
	return fmt.Sprintf("%064x", i+1)
}

// putBlob stores content under digest in the backend of key and counts one reference there.
func (env *testEnv) putBlob(key, digest, content string) {
	env.t.Helper()
	ctx := context.Background()

	backend, err := env.registry.Resolve(key)
	require.NoError(env.t, err)
	_, err = backend.Put(ctx, digest, strings.NewReader(content))
	require.NoError(env.t, err)
	_, err = env.stores.References.Increment(ctx, digest, key)
	require.NoError(env.t, err)
}

// seedNodes creates count nodes created at createdAt with their blob in the source set.
func (env *testEnv) seedNodes(count int, createdAt time.Time) []entities.Node {
	env.t.Helper()

	nodes := make([]entities.Node, 0, count)
	for i := range count {
		node := entities.Node{
			ProjectID: testProject,
			RepoName:  testRepo,
			FullPath:  fmt.Sprintf("/file-%04d", i),
			Digest:    testDigest(i),
			Size:      int64(len(fmt.Sprintf("content-%d", i))),
			CreatedAt: createdAt,
		}
		require.NoError(env.t, env.stores.Nodes.Create(context.Background(), &node))
		env.putBlob("", node.Digest, fmt.Sprintf("content-%d", i))
		nodes = append(nodes, node)
	}
	return nodes
}

func (env *testEnv) newExecutor(cfg Config, dispatchSize int) *Executor {
	env.t.Helper()

	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 50
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "test-instance"
	}

	dispatch := NewPool("dispatch", dispatchSize, env.recorder)
	dispatch.Start(context.Background())
	env.t.Cleanup(dispatch.Stop)

	nodePool := NewPool("node_copy", 4, env.recorder)
	nodePool.Start(context.Background())
	env.t.Cleanup(nodePool.Stop)

	executor, err := NewExecutor(cfg, Dependencies{
		Tasks:       env.tasks,
		Nodes:       env.nodes,
		Repos:       env.repos,
		FailedNodes: env.stores.FailedNodes,
		Copier:      env.copier,
		Keys:        env.registry,
		Dispatch:    dispatch,
		NodePool:    nodePool,
		Recorder:    env.recorder,
		Logger:      testLogger(),
	})
	require.NoError(env.t, err)
	return executor
}

func (env *testEnv) createTask(dstKey string) *entities.MigrationTask {
	env.t.Helper()
	registry := NewTaskRegistry(env.tasks, env.repos, env.registry, testLogger())
	task, err := registry.CreateTask(context.Background(), CreateTaskRequest{
		ProjectID:     testProject,
		RepoName:      testRepo,
		DstStorageKey: dstKey,
		Operator:      "alice",
	})
	require.NoError(env.t, err)
	return task
}

// claimAndExecute runs task synchronously on executor.
func (env *testEnv) claimAndExecute(executor *Executor, task *entities.MigrationTask) (*Report, error) {
	env.t.Helper()
	_, err := executor.claim(context.Background(), task)
	require.NoError(env.t, err)
	return executor.Execute(context.Background(), task.ID)
}

// startedTask creates a task that is EXECUTING with the given boundary,
// as left behind by an interrupted run.
func (env *testEnv) startedTask(boundary time.Time, migrated int64) *entities.MigrationTask {
	env.t.Helper()
	ctx := context.Background()

	task := env.createTask(testDstKey)
	ok, err := env.stores.Tasks.UpdateState(ctx, task.ID, entities.TaskStateCreated, entities.TaskStateExecuting, "crashed-instance")
	require.NoError(env.t, err)
	require.True(env.t, ok)
	ok, err = env.stores.Tasks.UpdateStartBoundary(ctx, task.ID, boundary, "crashed-instance")
	require.NoError(env.t, err)
	require.True(env.t, ok)
	if migrated > 0 {
		require.NoError(env.t, env.stores.Tasks.UpdateMigratedCount(ctx, task.ID, migrated))
	}

	task, err = env.stores.Tasks.Get(ctx, task.ID)
	require.NoError(env.t, err)
	return task
}

func (env *testEnv) refCount(digest, key string) int64 {
	env.t.Helper()
	count, err := env.stores.References.Count(context.Background(), digest, key)
	require.NoError(env.t, err)
	return count
}

func (env *testEnv) dstHas(digest string) bool {
	env.t.Helper()
	exists, err := env.dst.Exists(context.Background(), digest)
	require.NoError(env.t, err)
	return exists
}

func (env *testEnv) reloadTask(id string) *entities.MigrationTask {
	env.t.Helper()
	task, err := env.stores.Tasks.Get(context.Background(), id)
	require.NoError(env.t, err)
	return task
}

package migrate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
)

func (env *testEnv) newReconciler() *Reconciler {
	return NewReconciler(ReconcilerConfig{Interval: 10 * time.Millisecond, BatchSize: 2}, env.stores.Nodes, env.repos, env.copier, env.recorder, testLogger())
}

func (env *testEnv) getNode(id uint) *entities.Node {
	env.t.Helper()
	node, err := env.stores.Nodes.Get(context.Background(), id)
	require.NoError(env.t, err)
	return node
}

func TestReconciler_CopiesEveryBlockAndClearsMarkers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createdAt := datastore.Now().Add(-time.Minute)

	pending := entities.Node{
		ProjectID: testProject, RepoName: testRepo, FullPath: "/big.iso",
		Digest: entities.MultiBlockDigest, Size: 12, CreatedAt: createdAt,
	}
	require.NoError(t, env.stores.Nodes.Create(ctx, &pending))
	var blocks []string
	for i := range 3 {
		digest := testDigest(600 + i)
		blocks = append(blocks, digest)
		env.putBlob("", digest, "blk"+fmt.Sprint(i))
		require.NoError(t, env.stores.Blocks.Create(ctx, &entities.BlockNode{
			ProjectID: testProject, RepoName: testRepo, NodeFullPath: pending.FullPath,
			Digest: digest, StartPos: int64(i * 4), Size: 4, CreatedAt: createdAt,
		}))
	}
	require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, pending.ID, "", testDstKey))

	bystander := env.seedNodes(1, createdAt)[0]

	result, err := env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 1, Repaired: 1}, result)

	for _, digest := range blocks {
		assert.Equal(t, 1, env.blobs.copyCount(digest), "one copy per block")
		assert.True(t, env.dstHas(digest))
	}

	repaired := env.getNode(pending.ID)
	assert.Nil(t, repaired.PendingCopyFrom)
	assert.Nil(t, repaired.PendingCopyTo)
	assert.Equal(t, entities.MultiBlockDigest, repaired.Digest, "other columns untouched")
	assert.Equal(t, int64(12), repaired.Size)

	untouched := env.getNode(bystander.ID)
	assert.Equal(t, bystander.Digest, untouched.Digest)
	assert.Zero(t, env.blobs.copyCount(bystander.Digest))
	assert.Equal(t, 1, env.recorder.count(env.recorder.reconciled, metrics.StatusSuccess))

	result, err = env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned, "nothing left pending")
}

func TestReconciler_DefaultMarkerMeansDefaultSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	node := entities.Node{ProjectID: testProject, RepoName: testRepo, FullPath: "/back", Digest: testDigest(610)}
	require.NoError(t, env.stores.Nodes.Create(ctx, &node))
	env.putBlob(testDstKey, node.Digest, "back")
	require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, node.ID, testDstKey, ""))

	stored := env.getNode(node.ID)
	require.NotNil(t, stored.PendingCopyTo)
	assert.Equal(t, entities.DefaultStorageMarker, *stored.PendingCopyTo)

	_, err := env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)

	exists, err := env.src.Exists(ctx, node.Digest)
	require.NoError(t, err)
	assert.True(t, exists, "copied into the default set")
}

func TestReconciler_FailureKeepsMarkers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registry.Register(testDstKey, &failingBackend{Backend: env.dst, failures: -1})

	node := env.seedNodes(1, datastore.Now())[0]
	require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, node.ID, "", testDstKey))

	result, err := env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored := env.getNode(node.ID)
	assert.NotNil(t, stored.PendingCopyFrom, "retried on the next sweep")
	assert.Equal(t, 1, env.recorder.count(env.recorder.reconciled, metrics.StatusFailed))
}

// stickyMarkers fails to clear pending-copy markers
type stickyMarkers struct {
	NodeCatalog
}

func (stickyMarkers) ClearPendingCopy(context.Context, uint) error {
	return fmt.Errorf("clear markers: %w", context.DeadlineExceeded)
}

func TestReconciler_UnclearedMarkersCountOnlyAsFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	node := env.seedNodes(1, datastore.Now())[0]
	require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, node.ID, "", testDstKey))

	reconciler := NewReconciler(ReconcilerConfig{BatchSize: 2}, stickyMarkers{env.stores.Nodes}, env.repos, env.copier, env.recorder, testLogger())
	result, err := reconciler.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Scanned: 1, Failed: 1}, result)
	assert.True(t, env.dstHas(node.Digest), "content was copied")
	assert.NotNil(t, env.getNode(node.ID).PendingCopyFrom)
	assert.Zero(t, env.recorder.count(env.recorder.reconciled, metrics.StatusSuccess))
	assert.Equal(t, 1, env.recorder.count(env.recorder.reconciled, metrics.StatusFailed))
}

func TestReconciler_UntargetedMarkerFollowsRedirectByOtherInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	node := env.seedNodes(1, datastore.Now())[0]
	require.NoError(t, env.manager.DB().Model(&entities.Node{}).
		Where("id = ?", node.ID).
		Update("pending_copy_from", entities.DefaultStorageMarker).Error)

	// Warm this process's cache, then redirect from another process
	_, err := env.stores.Repositories.Get(ctx, testProject, testRepo)
	require.NoError(t, err)
	other := datastore.NewRepositoryStore(env.manager.DB())
	require.NoError(t, other.SetActiveStorageKey(ctx, testProject, testRepo, testDstKey))

	result, err := env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Scanned: 1, Repaired: 1}, result)
	assert.True(t, env.dstHas(node.Digest))
	assert.Nil(t, env.getNode(node.ID).PendingCopyFrom)
}

func TestReconciler_SameKeyOnlyClearsMarkers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	node := env.seedNodes(1, datastore.Now())[0]
	require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, node.ID, "", ""))

	result, err := env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 1, Cleared: 1}, result)
	assert.Zero(t, env.blobs.copyCount(node.Digest))
	assert.Nil(t, env.getNode(node.ID).PendingCopyFrom)
}

func TestReconciler_PagesThroughBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	nodes := env.seedNodes(5, datastore.Now())
	for i := range nodes {
		require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, nodes[i].ID, "", testDstKey))
	}

	result, err := env.newReconciler().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Scanned)
	assert.Equal(t, 5, result.Repaired)
	for i := range nodes {
		assert.True(t, env.dstHas(nodes[i].Digest))
	}
}

func TestReconciler_RateLimitHonorsCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	nodes := env.seedNodes(3, datastore.Now())
	for i := range nodes {
		require.NoError(t, env.stores.Nodes.MarkPendingCopy(ctx, nodes[i].ID, "", testDstKey))
	}
	reconciler := NewReconciler(ReconcilerConfig{BatchSize: 10, RateLimit: 0.001, Burst: 1}, env.stores.Nodes, env.repos, env.copier, nil, testLogger())

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	result, err := reconciler.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, result.Scanned, "burst of one, then the limiter waits")
}

func TestReconciler_StartStop(t *testing.T) {
	env := newTestEnv(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	node := env.seedNodes(1, datastore.Now())[0]
	require.NoError(t, env.stores.Nodes.MarkPendingCopy(context.Background(), node.ID, "", testDstKey))

	reconciler := env.newReconciler()
	reconciler.Start(context.Background())
	reconciler.Start(context.Background())

	require.Eventually(t, func() bool {
		return env.getNode(node.ID).PendingCopyFrom == nil
	}, 2*time.Second, 10*time.Millisecond)

	reconciler.Stop()
	reconciler.Stop()
}

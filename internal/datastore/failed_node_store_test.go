package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

func TestFailedNodeStore_Lifecycle(t *testing.T) {
	stores, cleanup := setupTestStores(t)
	defer cleanup()
	ctx := context.Background()
	failed := stores.FailedNodes

	record := func(nodeID uint, reason string) *entities.MigrateFailedNode {
		return &entities.MigrateFailedNode{
			TaskID:    "task-1",
			NodeID:    nodeID,
			ProjectID: "proj",
			RepoName:  "repo",
			FullPath:  "/a.jar",
			Digest:    "abc",
			Reason:    reason,
		}
	}

	require.NoError(t, failed.Save(ctx, record(1, "timeout")))
	require.NoError(t, failed.Save(ctx, record(2, "refused")))

	list, err := failed.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, failed.IncrementRetry(ctx, list[0].ID, "timeout again"))
	require.NoError(t, failed.IncrementRetry(ctx, list[0].ID, "timeout again"))

	// Saving the same node again keeps the record and its retry count
	require.NoError(t, failed.Save(ctx, record(1, "checksum mismatch")))

	count, err := failed.Count(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	list, err = failed.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, list[0].RetryTimes)
	assert.Equal(t, "checksum mismatch", list[0].Reason)

	retryable, err := failed.ListRetryable(ctx, "task-1", 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, uint(2), retryable[0].NodeID)

	reset, err := failed.ResetRetryCount(ctx, "proj", "repo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	retryable, err = failed.ListRetryable(ctx, "task-1", 2, 0, 10)
	require.NoError(t, err)
	assert.Len(t, retryable, 2)

	require.NoError(t, failed.Remove(ctx, retryable[0].ID))
	count, err = failed.Count(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

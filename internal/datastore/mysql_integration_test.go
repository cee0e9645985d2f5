//go:build integration && mysql

package datastore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// setupMySQLStores starts a MySQL container and returns stores over it.
func setupMySQLStores(t *testing.T) (stores *Stores, cleanup func()) {
	t.Helper()
	ctx := context.Background()

	ctr, err := mysql.Run(ctx, "mysql:8.4",
		mysql.WithDatabase("repomigrate"),
		mysql.WithUsername("migrator"),
		mysql.WithPassword("migrator"),
	)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	mgr, err := NewMySQLManager(&MySQLConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())

	return NewStores(mgr), func() {
		_ = mgr.Delete()
		_ = mgr.Close()
		_ = testcontainers.TerminateContainer(ctr)
	}
}

func TestMySQL_ClaimIsExclusive(t *testing.T) {
	stores, cleanup := setupMySQLStores(t)
	defer cleanup()
	ctx := context.Background()

	task := newTestTask("proj", "repo", "cold")
	require.NoError(t, stores.Tasks.Create(ctx, task))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for range 10 {
		wg.Go(func() {
			ok, err := stores.Tasks.UpdateState(ctx, task.ID, entities.TaskStateCreated, entities.TaskStateExecuting, "node")
			if err == nil && ok {
				won.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())

	// clientFoundRows: a heartbeat within the same millisecond still matches
	ok, err := stores.Tasks.Heartbeat(ctx, task.ID, "node")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = stores.Tasks.Heartbeat(ctx, task.ID, "node")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMySQL_DuplicateActiveTask(t *testing.T) {
	stores, cleanup := setupMySQLStores(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, stores.Tasks.Create(ctx, newTestTask("proj", "repo", "cold")))
	err := stores.Tasks.Create(ctx, newTestTask("proj", "repo", "cold"))
	require.ErrorIs(t, err, ErrDuplicateActiveTask)
}

func TestMySQL_ReferencesAndStaleClaim(t *testing.T) {
	stores, cleanup := setupMySQLStores(t)
	defer cleanup()
	ctx := context.Background()

	for range 2 {
		_, err := stores.References.Increment(ctx, "abc", "cold")
		require.NoError(t, err)
	}
	count, err := stores.References.Count(ctx, "abc", "cold")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	task := newTestTask("proj", "repo", "cold")
	require.NoError(t, stores.Tasks.Create(ctx, task))
	_, err = stores.Tasks.UpdateState(ctx, task.ID, entities.TaskStateCreated, entities.TaskStateExecuting, "crashed")
	require.NoError(t, err)
	require.NoError(t, stores.Tasks.db.Model(&entities.MigrationTask{}).
		Where("id = ?", task.ID).
		Update("last_modified_at", Now().Add(-time.Hour)).Error)

	ok, err := stores.Tasks.ClaimStale(ctx, task.ID, Now().Add(-time.Minute), "node-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

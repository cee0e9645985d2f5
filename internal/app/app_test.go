package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/migrate"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Database: conf.DatabaseSettings{
			Type:   conf.DatabaseSQLite,
			SQLite: conf.SQLiteSettings{Path: t.TempDir()},
		},
		Storage: conf.StorageSettings{
			Default: conf.CredentialSettings{Type: conf.StorageTypeLocal, Path: t.TempDir()},
			Credentials: map[string]conf.CredentialSettings{
				"cold": {Type: conf.StorageTypeLocal, Path: t.TempDir(), Compress: true},
			},
		},
		Migrate: conf.MigrateSettings{
			PageSize:           10,
			CheckpointInterval: 5,
			DispatchPoolSize:   2,
			NodePoolSize:       2,
			SchedulerInterval:  10 * time.Millisecond,
			StaleTimeout:       time.Minute,
			HeartbeatInterval:  time.Second,
			InstanceID:         "app-test",
		},
		Reconcile: conf.ReconcileSettings{
			Enabled:   true,
			Interval:  10 * time.Millisecond,
			BatchSize: 10,
		},
		Metrics: conf.MetricsSettings{Enabled: true, Listen: "127.0.0.1:0"},
	}
}

func openRuntime(t *testing.T, settings *conf.Settings) *Runtime {
	t.Helper()
	rt, err := Open(settings, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// seedRepository creates a repository with count nodes whose blobs live in
// the default credential set.
func seedRepository(t *testing.T, rt *Runtime, count int) []entities.Node {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, rt.Stores.Repositories.Create(ctx, &entities.Repository{ProjectID: "proj", Name: "repo"}))
	backend, err := rt.Storage.Resolve("")
	require.NoError(t, err)

	nodes := make([]entities.Node, 0, count)
	for i := range count {
		digest := fmt.Sprintf("%064x", i+1)
		_, err := backend.Put(ctx, digest, strings.NewReader(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
		_, err = rt.Stores.References.Increment(ctx, digest, "")
		require.NoError(t, err)

		node := entities.Node{
			ProjectID: "proj",
			RepoName:  "repo",
			FullPath:  fmt.Sprintf("/n-%02d", i),
			Digest:    digest,
			CreatedAt: datastore.Now().Add(-time.Hour),
		}
		require.NoError(t, rt.Stores.Nodes.Create(ctx, &node))
		nodes = append(nodes, node)
	}
	return nodes
}

func TestOpen_BuildsRuntime(t *testing.T) {
	rt := openRuntime(t, testSettings(t))

	assert.True(t, rt.Storage.Has(""))
	assert.True(t, rt.Storage.Has("cold"))
	assert.False(t, rt.Storage.Has("missing"))
	require.NoError(t, rt.Health(context.Background()))
}

func TestOpen_UnknownStorageType(t *testing.T) {
	settings := testSettings(t)
	settings.Storage.Credentials["broken"] = conf.CredentialSettings{Type: "tape"}

	_, err := Open(settings, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestRuntime_NewExecutorDefaultsDispatchToCPUCount(t *testing.T) {
	settings := testSettings(t)
	settings.Migrate.DispatchPoolSize = 0
	rt := openRuntime(t, settings)

	executor, dispatch, nodePool, err := rt.NewExecutor()
	require.NoError(t, err)
	assert.Equal(t, "app-test", executor.InstanceID())
	assert.Positive(t, dispatch.Size())
	assert.Equal(t, 2, nodePool.Size())
}

func TestServe_RunsTaskToCompletion(t *testing.T) {
	rt := openRuntime(t, testSettings(t))
	nodes := seedRepository(t, rt, 12)

	task, err := rt.Tasks.CreateTask(context.Background(), migrate.CreateTaskRequest{
		ProjectID:     "proj",
		RepoName:      "repo",
		DstStorageKey: "cold",
		Operator:      "alice",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	require.Eventually(t, func() bool {
		current, err := rt.Stores.Tasks.Get(context.Background(), task.ID)
		return err == nil && current.State == entities.TaskStateSuccess
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}

	cold, err := rt.Storage.Resolve("cold")
	require.NoError(t, err)
	for i := range nodes {
		exists, err := cold.Exists(context.Background(), nodes[i].Digest)
		require.NoError(t, err)
		assert.True(t, exists, nodes[i].FullPath)
	}

	repo, err := rt.Stores.Repositories.Get(context.Background(), "proj", "repo")
	require.NoError(t, err)
	assert.Equal(t, "cold", repo.Key())
	assert.Nil(t, repo.OldStorageKey)
}

package task

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

func sampleTask() *entities.MigrationTask {
	total := int64(200)
	boundary := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return &entities.MigrationTask{
		ID:             "3f0c",
		ProjectID:      "proj",
		RepoName:       "generic",
		DstStorageKey:  "cold",
		State:          entities.TaskStateExecuting,
		StartBoundary:  &boundary,
		MigratedCount:  50,
		TotalCount:     &total,
		CreatedBy:      "alice",
		LastModifiedBy: "node-a",
	}
}

func TestWriteTask_Formats(t *testing.T) {
	view := newTaskView(sampleTask(), 3)

	var yamlOut bytes.Buffer
	require.NoError(t, writeTask(&yamlOut, view, formatYAML))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(yamlOut.Bytes(), &fromYAML))
	assert.Equal(t, "default", fromYAML["srcStorageKey"])
	assert.Equal(t, "25.0%", fromYAML["progress"])
	assert.Equal(t, 3, fromYAML["failedNodes"])

	var jsonOut bytes.Buffer
	require.NoError(t, writeTask(&jsonOut, view, formatJSON))
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &fromJSON))
	assert.Equal(t, "EXECUTING", fromJSON["state"])
	assert.InDelta(t, 200, fromJSON["totalCount"], 0)

	assert.Error(t, writeTask(&bytes.Buffer{}, view, "xml"))
}

func TestWriteTaskTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeTaskTable(&out, []entities.MigrationTask{*sampleTask()}))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "STATE")
	assert.Contains(t, string(lines[1]), "proj/generic")
	assert.Contains(t, string(lines[1]), "25.0%")
}

func TestWriteFailedTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeFailedTable(&out, []entities.MigrateFailedNode{
		{FullPath: "/a.bin", Digest: "ab12", Size: 4, RetryTimes: 2, Reason: "permission denied"},
	}))
	assert.Contains(t, out.String(), "/a.bin")
	assert.Contains(t, out.String(), "permission denied")
}

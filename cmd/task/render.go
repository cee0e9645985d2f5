package task

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// Output formats of task show
const (
	formatYAML = "yaml"
	formatJSON = "json"
)

// taskView is the printable form of a task
type taskView struct {
	ID             string     `json:"id" yaml:"id"`
	ProjectID      string     `json:"projectId" yaml:"projectId"`
	RepoName       string     `json:"repoName" yaml:"repoName"`
	SrcStorageKey  string     `json:"srcStorageKey" yaml:"srcStorageKey"`
	DstStorageKey  string     `json:"dstStorageKey" yaml:"dstStorageKey"`
	State          string     `json:"state" yaml:"state"`
	StartBoundary  *time.Time `json:"startBoundary,omitempty" yaml:"startBoundary,omitempty"`
	MigratedCount  int64      `json:"migratedCount" yaml:"migratedCount"`
	TotalCount     *int64     `json:"totalCount,omitempty" yaml:"totalCount,omitempty"`
	CorrectedCount int64      `json:"correctedCount" yaml:"correctedCount"`
	Progress       string     `json:"progress" yaml:"progress"`
	FailedNodes    int64      `json:"failedNodes" yaml:"failedNodes"`
	CreatedBy      string     `json:"createdBy" yaml:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt" yaml:"createdAt"`
	LastModifiedBy string     `json:"lastModifiedBy" yaml:"lastModifiedBy"`
	LastModifiedAt time.Time  `json:"lastModifiedAt" yaml:"lastModifiedAt"`
}

func newTaskView(task *entities.MigrationTask, failed int64) taskView {
	return taskView{
		ID:             task.ID,
		ProjectID:      task.ProjectID,
		RepoName:       task.RepoName,
		SrcStorageKey:  displayKey(task.SrcKey()),
		DstStorageKey:  task.DstStorageKey,
		State:          string(task.State),
		StartBoundary:  task.StartBoundary,
		MigratedCount:  task.MigratedCount,
		TotalCount:     task.TotalCount,
		CorrectedCount: task.CorrectedCount,
		Progress:       fmt.Sprintf("%.1f%%", task.Progress()),
		FailedNodes:    failed,
		CreatedBy:      task.CreatedBy,
		CreatedAt:      task.CreatedAt,
		LastModifiedBy: task.LastModifiedBy,
		LastModifiedAt: task.LastModifiedAt,
	}
}

func writeTask(w io.Writer, view taskView, format string) error {
	switch format {
	case formatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	default:
		return fmt.Errorf("unsupported output format %q, use yaml or json", format)
	}
}

func writeTaskTable(w io.Writer, tasks []entities.MigrationTask) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPOSITORY\tSRC\tDST\tSTATE\tMIGRATED\tPROGRESS\tMODIFIED BY")
	for i := range tasks {
		t := &tasks[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.1f%%\t%s\n",
			t.ID, entities.RepoKey(t.ProjectID, t.RepoName), displayKey(t.SrcKey()), t.DstStorageKey,
			t.State, t.MigratedCount, t.Progress(), t.LastModifiedBy)
	}
	return tw.Flush()
}

func writeFailedTable(w io.Writer, nodes []entities.MigrateFailedNode) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tDIGEST\tSIZE\tRETRIES\tREASON")
	for i := range nodes {
		n := &nodes[i]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", n.FullPath, n.Digest, n.Size, n.RetryTimes, n.Reason)
	}
	return tw.Flush()
}

func displayKey(key string) string {
	if key == "" {
		return entities.DefaultStorageMarker
	}
	return key
}

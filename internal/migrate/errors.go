package migrate

import (
	"fmt"

	"github.com/tphakala/repomigrate/internal/errors"
)

// Sentinel errors of the migration engine
var (
	// ErrAlreadyExists is returned when a repository already has a non-terminal task
	ErrAlreadyExists = errors.NewStd("migration task already exists")
	// ErrTaskAlreadyClaimed is returned when another process won the claim
	ErrTaskAlreadyClaimed = errors.NewStd("migration task already claimed")
	// ErrSameStorageKey is returned when source and destination are the same credential set
	ErrSameStorageKey = errors.NewStd("source and destination storage keys are the same")
	// ErrMissingStartBoundary is returned when a cursor is built for an unprepared task
	ErrMissingStartBoundary = errors.NewStd("migration task has no start boundary")
)

// FatalIterationError aborts a migration run. The task stays EXECUTING so a
// later claim resumes it from the last checkpoint.
type FatalIterationError struct {
	TaskID    string
	ProjectID string
	RepoName  string
	FullPath  string
	Digest    string
	Err       error
}

func (e *FatalIterationError) Error() string {
	return fmt.Sprintf("migrate %s/%s (task %s) failed after node %q digest %q: %v",
		e.ProjectID, e.RepoName, e.TaskID, e.FullPath, e.Digest, e.Err)
}

func (e *FatalIterationError) Unwrap() error {
	return e.Err
}

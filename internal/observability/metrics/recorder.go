package metrics

import "time"

// MigrationRecorder receives migration engine events. Components depend on
// this interface rather than on the Prometheus implementation.
type MigrationRecorder interface {
	// RecordNode records one node processed by a pass with its outcome.
	RecordNode(pass, status string, bytes int64, duration time.Duration)
	// RecordCheckpoint records a persisted checkpoint of a pass.
	RecordCheckpoint(pass string, position int64)
	// RecordTask records a task reaching a state.
	RecordTask(state string)
	// RecordPoolRejection records a submission rejected by a saturated pool.
	RecordPoolRejection(pool string)
	// RecordReferenceAdjustFailure records a failed reference count update.
	RecordReferenceAdjustFailure(op string)
	// RecordReconciledNode records a node handled by the pending-copy reconciler.
	RecordReconciledNode(status string)
}

// NoopRecorder discards every event.
type NoopRecorder struct{}

func (NoopRecorder) RecordNode(string, string, int64, time.Duration) {}
func (NoopRecorder) RecordCheckpoint(string, int64)                  {}
func (NoopRecorder) RecordTask(string)                               {}
func (NoopRecorder) RecordPoolRejection(string)                      {}
func (NoopRecorder) RecordReferenceAdjustFailure(string)             {}
func (NoopRecorder) RecordReconciledNode(string)                     {}

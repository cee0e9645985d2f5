// Package metrics provides constants used across metric definitions.
package metrics

// Pass label values
const (
	// PassMain is the main pass over nodes created before the start boundary.
	PassMain = "main"
	// PassCorrection is the pass over nodes created after the start boundary.
	PassCorrection = "correction"
	// PassFailedRetry retries nodes recorded as failed.
	PassFailedRetry = "failed_retry"
	// PassReconcile is the pending-copy reconciler.
	PassReconcile = "reconcile"
)

// Status label values
const (
	// StatusSuccess marks a node whose content was copied or already present.
	StatusSuccess = "success"
	// StatusFailed marks a node that was recorded as failed.
	StatusFailed = "failed"
	// StatusSkipped marks a node with nothing to copy.
	StatusSkipped = "skipped"
)

// Pool label values
const (
	PoolDispatch = "dispatch"
	PoolNodeCopy = "node_copy"
)

// Reference operation label values
const (
	RefOpIncrement = "increment"
	RefOpDecrement = "decrement"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart1KB is the starting bucket for 1KB histograms (1KB to ~1GB range).
	BucketStart1KB = 1024.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
	// BucketCount20 defines 20 exponential buckets.
	BucketCount20 = 20
)

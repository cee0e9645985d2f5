package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MigrationMetrics contains Prometheus metrics for storage migration
type MigrationMetrics struct {
	registry *prometheus.Registry

	nodesTotal             *prometheus.CounterVec
	bytesCopiedTotal       *prometheus.CounterVec
	copyDuration           *prometheus.HistogramVec
	copySize               *prometheus.HistogramVec
	checkpointPosition     *prometheus.GaugeVec
	tasksTotal             *prometheus.CounterVec
	poolRejectionsTotal    *prometheus.CounterVec
	refAdjustFailuresTotal *prometheus.CounterVec
	reconciledNodesTotal   *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewMigrationMetrics creates and registers migration metrics
func NewMigrationMetrics(registry *prometheus.Registry) (*MigrationMetrics, error) {
	m := &MigrationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MigrationMetrics) initMetrics() {
	m.nodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repomigrate_nodes_total",
			Help: "Total number of nodes processed by migration passes",
		},
		[]string{"pass", "status"},
	)

	m.bytesCopiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repomigrate_bytes_copied_total",
			Help: "Total bytes copied between credential sets",
		},
		[]string{"pass"},
	)

	m.copyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repomigrate_copy_duration_seconds",
			Help:    "Time taken to copy the content of one node",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
		},
		[]string{"pass"},
	)

	m.copySize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repomigrate_copy_size_bytes",
			Help:    "Bytes copied for one node",
			Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor2, BucketCount20), // 1KB to ~512MB
		},
		[]string{"pass"},
	)

	m.checkpointPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repomigrate_checkpoint_position",
			Help: "Last persisted checkpoint of a pass",
		},
		[]string{"pass"},
	)

	m.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repomigrate_tasks_total",
			Help: "Total number of migration tasks reaching a state",
		},
		[]string{"state"},
	)

	m.poolRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repomigrate_pool_rejections_total",
			Help: "Total number of submissions rejected by a saturated pool",
		},
		[]string{"pool"},
	)

	m.refAdjustFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repomigrate_reference_adjust_failures_total",
			Help: "Total number of failed reference count adjustments",
		},
		[]string{"op"},
	)

	m.reconciledNodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repomigrate_reconciled_nodes_total",
			Help: "Total number of pending-copy nodes handled by the reconciler",
		},
		[]string{"status"},
	)

	m.collectors = []prometheus.Collector{
		m.nodesTotal,
		m.bytesCopiedTotal,
		m.copyDuration,
		m.copySize,
		m.checkpointPosition,
		m.tasksTotal,
		m.poolRejectionsTotal,
		m.refAdjustFailuresTotal,
		m.reconciledNodesTotal,
	}
}

// Describe implements the Collector interface
func (m *MigrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *MigrationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordNode records one processed node
func (m *MigrationMetrics) RecordNode(pass, status string, bytes int64, duration time.Duration) {
	m.nodesTotal.WithLabelValues(pass, status).Inc()
	if status != StatusSuccess {
		return
	}
	m.copyDuration.WithLabelValues(pass).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytesCopiedTotal.WithLabelValues(pass).Add(float64(bytes))
		m.copySize.WithLabelValues(pass).Observe(float64(bytes))
	}
}

// RecordCheckpoint records a persisted checkpoint
func (m *MigrationMetrics) RecordCheckpoint(pass string, position int64) {
	m.checkpointPosition.WithLabelValues(pass).Set(float64(position))
}

// RecordTask records a task state transition
func (m *MigrationMetrics) RecordTask(state string) {
	m.tasksTotal.WithLabelValues(state).Inc()
}

// RecordPoolRejection records a rejected pool submission
func (m *MigrationMetrics) RecordPoolRejection(pool string) {
	m.poolRejectionsTotal.WithLabelValues(pool).Inc()
}

// RecordReferenceAdjustFailure records a failed reference count update
func (m *MigrationMetrics) RecordReferenceAdjustFailure(op string) {
	m.refAdjustFailuresTotal.WithLabelValues(op).Inc()
}

// RecordReconciledNode records a node handled by the reconciler
func (m *MigrationMetrics) RecordReconciledNode(status string) {
	m.reconciledNodesTotal.WithLabelValues(status).Inc()
}

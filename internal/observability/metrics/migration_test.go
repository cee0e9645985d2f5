package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ MigrationRecorder = (*MigrationMetrics)(nil)
var _ MigrationRecorder = NoopRecorder{}

func newTestMetrics(t *testing.T) (*MigrationMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := NewMigrationMetrics(registry)
	require.NoError(t, err)
	return m, registry
}

func TestMigrationMetrics_DuplicateRegistration(t *testing.T) {
	_, registry := newTestMetrics(t)
	_, err := NewMigrationMetrics(registry)
	require.Error(t, err)
}

func TestMigrationMetrics_RecordNode(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordNode(PassMain, StatusSuccess, 4096, 20*time.Millisecond)
	m.RecordNode(PassMain, StatusSuccess, 0, time.Millisecond)
	m.RecordNode(PassMain, StatusFailed, 0, time.Millisecond)
	m.RecordNode(PassCorrection, StatusSuccess, 1024, time.Millisecond)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.nodesTotal.WithLabelValues(PassMain, StatusSuccess)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.nodesTotal.WithLabelValues(PassMain, StatusFailed)), 0)
	assert.InDelta(t, 4096.0, testutil.ToFloat64(m.bytesCopiedTotal.WithLabelValues(PassMain)), 0)
	assert.InDelta(t, 1024.0, testutil.ToFloat64(m.bytesCopiedTotal.WithLabelValues(PassCorrection)), 0)

	metric := &dto.Metric{}
	observer, err := m.copySize.GetMetricWithLabelValues(PassMain)
	require.NoError(t, err)
	require.NoError(t, observer.(prometheus.Metric).Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount(), "zero-byte copies are not sized")
}

func TestMigrationMetrics_Counters(t *testing.T) {
	m, registry := newTestMetrics(t)

	m.RecordTask("SUCCESS")
	m.RecordTask("SUCCESS")
	m.RecordPoolRejection(PoolDispatch)
	m.RecordReferenceAdjustFailure(RefOpDecrement)
	m.RecordCheckpoint(PassMain, 150)
	m.RecordReconciledNode(StatusSuccess)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("SUCCESS")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.poolRejectionsTotal.WithLabelValues(PoolDispatch)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.refAdjustFailuresTotal.WithLabelValues(RefOpDecrement)), 0)
	assert.InDelta(t, 150.0, testutil.ToFloat64(m.checkpointPosition.WithLabelValues(PassMain)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.reconciledNodesTotal.WithLabelValues(StatusSuccess)), 0)

	count, err := testutil.GatherAndCount(registry, "repomigrate_tasks_total", "repomigrate_pool_rejections_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

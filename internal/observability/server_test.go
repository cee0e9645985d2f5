package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
)

func newTestServer(t *testing.T, health HealthFunc) *Server {
	t.Helper()
	m, err := NewMetrics()
	require.NoError(t, err)
	s, err := NewServer("127.0.0.1:0", m, health, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)
	return s
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.metrics.Migration.RecordNode(metrics.PassMain, metrics.StatusSuccess, 2048, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `repomigrate_nodes_total{pass="main",status="success"} 1`)
	assert.Contains(t, rec.Body.String(), "repomigrate_bytes_copied_total")
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name   string
		health HealthFunc
		want   int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"unhealthy", func(context.Context) error { return fmt.Errorf("database unreachable") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.health)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestNewServer_RequiresMetrics(t *testing.T) {
	_, err := NewServer(":0", nil, nil, nil)
	require.Error(t, err)
}

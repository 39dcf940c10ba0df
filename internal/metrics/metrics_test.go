package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRemote("CreatePipeline", "ok", time.Millisecond)
	m.Reconciled("pipeline", "create", "ok")
	m.Orphaned("run")
	m.Uploaded(10)
	m.SetBreakerState("workflow", 2)
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRemote("GetRun", "unavailable", 20*time.Millisecond)
	m.ObserveRemote("GetRun", "unavailable", 20*time.Millisecond)
	m.Orphaned("pipeline")
	m.Uploaded(512)
	m.Uploaded(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.remoteRequests.WithLabelValues("GetRun", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orphaned.WithLabelValues("pipeline")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.uploadedBytes))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reconciled("run", "delete", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pipelines_reconciliations_total{entity="run",operation="delete",outcome="ok"} 1`)
}

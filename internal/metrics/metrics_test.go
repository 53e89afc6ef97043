package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"node-service/internal/loop"
	"node-service/internal/model"
)

func TestObserveProbe(t *testing.T) {
	m := New("test")
	m.ObserveProbe(model.ProbeStatusIdentified, 100*time.Millisecond)
	m.ObserveProbe(model.ProbeStatusTimedOut, time.Second)
	m.ObserveProbe(model.ProbeStatusTimedOut, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("IDENTIFIED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("TIMED_OUT")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ProbeDuration))
}

func TestBridgeRecorder(t *testing.T) {
	m := New("test")
	b := loop.NewBridge(zap.NewNop(), loop.WithRecorder(m), loop.WithStrategy(loop.Strategy{GOOS: "linux"}))

	v, err := loop.Run(context.Background(), b, func(ctx context.Context) (int, error) {
		return loop.Run(ctx, b, func(context.Context) (int, error) { return 42, nil })
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgePaths.WithLabelValues(loop.PathInThread)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgePaths.WithLabelValues(loop.PathWorkerBusy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkersStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveWorkers))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("node_service")
	m.ObserveRun("available_devices", 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `node_service_discovery_runs_total{operation="available_devices"} 1`))
	assert.Contains(t, body, "node_service_discovery_run_duration_seconds_count 1")
}

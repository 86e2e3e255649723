package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/errors"
)

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	reg := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total", Help: "test"})
	require.NoError(t, reg.RegisterCounter("examples", "hits", c))

	err := reg.RegisterCounter("examples", "hits", c)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, reg.Unregister("examples", "hits"))
	assert.False(t, reg.Unregister("examples", "hits"))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	reg := NewMetricsRegistry()

	a := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_size", Help: "test"})
	b := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_size", Help: "test"})
	require.NoError(t, reg.RegisterGauge("a", "size", a))

	err := reg.RegisterGauge("b", "size", b)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetrics_Record(t *testing.T) {
	reg := NewMetricsRegistry()
	m := reg.CoreMetrics()

	m.RecordPrediction("echo", "ok")
	m.RecordPrediction("echo", "ok")
	m.RecordFlag("echo", false)
	m.RecordExampleLookup("echo", true)
	m.RecordStateCommit("chat")
	m.SetQueueDepth("default", 3)
	m.RecordInvocation("echo", "0", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Predictions.WithLabelValues("echo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flags.WithLabelValues("echo", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExampleLookups.WithLabelValues("echo", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateCommits.WithLabelValues("chat")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("default")))

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily)
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	durations := byName["gradio_prediction_duration_seconds"]
	require.NotNil(t, durations)
	require.Len(t, durations.GetMetric(), 1)
	hist := durations.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.InDelta(t, 0.02, hist.GetSampleSum(), 1e-9)
}

func TestServer_Handler(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.CoreMetrics().RecordPrediction("echo", "ok")

	srv := NewServer(0, "", reg)
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gradio_prediction_total")
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder("openauth", registry)

	recorder.ObserveIntrospection(true, "", time.Millisecond)
	recorder.ObserveIntrospection(false, "revoked", time.Millisecond)
	recorder.ObserveIntrospection(false, "revoked", time.Millisecond)
	recorder.ObserveIntrospection(false, "", time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.results.WithLabelValues("true", "none")))
	assert.Equal(t, float64(2), testutil.ToFloat64(recorder.results.WithLabelValues("false", "revoked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.results.WithLabelValues("false", "unknown")))
	assert.Equal(t, 3, testutil.CollectAndCount(recorder.results))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.latency))
}

func TestNilRecorders(t *testing.T) {
	var recorder *PrometheusRecorder
	assert.NotPanics(t, func() { recorder.ObserveIntrospection(true, "", 0) })
	assert.NotPanics(t, func() { Noop{}.ObserveIntrospection(false, "expired", 0) })
}

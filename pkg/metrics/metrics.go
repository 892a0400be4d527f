// Package metrics records introspection outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is told the outcome of every introspection call. code is empty
// for active tokens.
type Recorder interface {
	ObserveIntrospection(active bool, code string, elapsed time.Duration)
}

type Noop struct{}

func (Noop) ObserveIntrospection(bool, string, time.Duration) {}

type PrometheusRecorder struct {
	results *prometheus.CounterVec
	latency prometheus.Histogram
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers its collectors with registerer. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewPrometheusRecorder(namespace string, registerer prometheus.Registerer) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusRecorder{
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "introspection_results_total",
				Help:      "Total number of token introspections by outcome",
			},
			[]string{"active", "code"},
		),
		latency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "introspection_duration_seconds",
				Help:      "Token introspection latency in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
	}
}

func (r *PrometheusRecorder) ObserveIntrospection(active bool, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	if active {
		code = "none"
	} else if code == "" {
		code = "unknown"
	}

	activeLabel := "false"
	if active {
		activeLabel = "true"
	}
	r.results.WithLabelValues(activeLabel, code).Inc()
	r.latency.Observe(elapsed.Seconds())
}

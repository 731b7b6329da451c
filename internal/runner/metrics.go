package runner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type batchMetrics struct {
	runs      prometheus.Counter
	outcomes  *prometheus.CounterVec
	durations prometheus.Observer
}

var (
	batchMetricsOnce sync.Once
	batchMetricsInst *batchMetrics
)

func globalBatchMetrics() *batchMetrics {
	batchMetricsOnce.Do(func() {
		batchMetricsInst = newBatchMetrics()
	})
	return batchMetricsInst
}

func newBatchMetrics() *batchMetrics {
	return &batchMetrics{
		runs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "opendachs",
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Total batch runner executions",
		}),
		outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opendachs",
			Subsystem: "runner",
			Name:      "tickets_total",
			Help:      "Tickets processed by the batch runner, labeled by outcome",
		}, []string{"outcome"}),
		durations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opendachs",
			Subsystem: "runner",
			Name:      "run_duration_seconds",
			Help:      "Duration of batch runner executions",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *batchMetrics) recordRun() func() {
	if m == nil {
		return func() {}
	}
	m.runs.Inc()
	timer := prometheus.NewTimer(m.durations)
	return func() {
		timer.ObserveDuration()
	}
}

func (m *batchMetrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

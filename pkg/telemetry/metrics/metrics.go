// Package metrics exposes the Prometheus collectors for the broker:
// dispatch outcomes, queue depth, scheduling waits, execution latency,
// and usage persistence failures.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the broker's Prometheus collectors.
type Metrics struct {
	dispatches   *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	queueWait    *prometheus.HistogramVec
	execDuration *prometheus.HistogramVec
	persistFails *prometheus.CounterVec
	reloads      *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultSet  *Metrics
)

// Default returns the process-wide Metrics instance, registering the
// collectors on first use. promauto registers with the default registry,
// so construction must happen exactly once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultSet = newMetrics()
	})
	return defaultSet
}

func newMetrics() *Metrics {
	return &Metrics{
		dispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_dispatches_total",
				Help: "Completed dispatches by queue, model and outcome",
			},
			[]string{"queue", "model", "outcome"},
		),

		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_queue_depth",
				Help: "Current number of pending items per queue",
			},
			[]string{"queue"},
		),

		queueWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_queue_wait_seconds",
				Help:    "Time items spend queued before dispatch",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
			},
			[]string{"queue"},
		),

		execDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_execution_seconds",
				Help:    "Provider call duration",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"queue", "model"},
		),

		persistFails: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_usage_persist_failures_total",
				Help: "Usage store persistence failures by backend",
			},
			[]string{"backend"},
		),

		reloads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_key_reloads_total",
				Help: "Key configuration reloads by provider and result",
			},
			[]string{"provider", "result"},
		),
	}
}

// RecordDispatch counts one completed dispatch.
func (m *Metrics) RecordDispatch(queue, model string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.dispatches.WithLabelValues(queue, model, outcome).Inc()
}

// SetQueueDepth updates the pending-item gauge for a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveQueueWait records how long an item waited before dispatch.
func (m *Metrics) ObserveQueueWait(queue string, seconds float64) {
	m.queueWait.WithLabelValues(queue).Observe(seconds)
}

// ObserveExecution records a provider call duration.
func (m *Metrics) ObserveExecution(queue, model string, seconds float64) {
	m.execDuration.WithLabelValues(queue, model).Observe(seconds)
}

// RecordPersistFailure counts one failed usage flush.
func (m *Metrics) RecordPersistFailure(backend string) {
	m.persistFails.WithLabelValues(backend).Inc()
}

// RecordReload counts one key reload attempt.
func (m *Metrics) RecordReload(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.reloads.WithLabelValues(provider, result).Inc()
}

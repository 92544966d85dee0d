package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StatusSuccess is the label value for successful store operations.
const StatusSuccess = "success"

// StatusFailure is the label value for failed store operations.
const StatusFailure = "failure"

// StoreMetrics holds metrics for store connections and watermark operations.
// It implements the store package's MetricsRecorder interface.
type StoreMetrics struct {
	// ConnectsTotal counts connection acquisitions by status.
	ConnectsTotal *prometheus.CounterVec

	// ConnectLatency tracks connection acquisition latency.
	ConnectLatency prometheus.Histogram

	// OpsTotal counts watermark operations by operation name and status.
	OpsTotal *prometheus.CounterVec

	// OpLatency tracks watermark operation latency by operation name.
	OpLatency *prometheus.HistogramVec
}

// NewStoreMetrics creates and registers store metrics with the default
// registry.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegistry creates store metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewStoreMetricsWithRegistry(reg prometheus.Registerer) *StoreMetrics {
	factory := promauto.With(reg)
	return &StoreMetrics{
		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "store",
				Name:      "connects_total",
				Help:      "Connection acquisitions by status.",
			},
			[]string{"status"},
		),
		ConnectLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tidewater",
				Subsystem: "store",
				Name:      "connect_latency_seconds",
				Help:      "Connection acquisition latency.",
				Buckets:   DefaultCommitLatencyBuckets,
			},
		),
		OpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "store",
				Name:      "ops_total",
				Help:      "Watermark operations by operation and status.",
			},
			[]string{"op", "status"},
		),
		OpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tidewater",
				Subsystem: "store",
				Name:      "op_latency_seconds",
				Help:      "Watermark operation latency by operation.",
				Buckets:   DefaultCommitLatencyBuckets,
			},
			[]string{"op"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

// RecordConnect records a connection acquisition.
func (m *StoreMetrics) RecordConnect(durationSeconds float64, success bool) {
	m.ConnectsTotal.WithLabelValues(statusLabel(success)).Inc()
	m.ConnectLatency.Observe(durationSeconds)
}

// RecordOp records a watermark operation.
func (m *StoreMetrics) RecordOp(op string, durationSeconds float64, success bool) {
	m.OpsTotal.WithLabelValues(op, statusLabel(success)).Inc()
	m.OpLatency.WithLabelValues(op).Observe(durationSeconds)
}

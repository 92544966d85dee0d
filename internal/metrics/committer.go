package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCommitLatencyBuckets are latency buckets for batch commits.
// Store writes are expected to land in the millisecond-to-second range, with
// the tail covering retries against a struggling store.
var DefaultCommitLatencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

// CommitterMetrics holds metrics related to batch commits.
// All metrics are labeled by pipeline.
type CommitterMetrics struct {
	// BatchesAttempted counts commit attempts, including retries.
	BatchesAttempted *prometheus.CounterVec

	// BatchesSucceeded counts batches that committed durably.
	BatchesSucceeded *prometheus.CounterVec

	// BatchesFailed counts failed commit attempts (connection or write).
	BatchesFailed *prometheus.CounterVec

	// RowsCommitted counts rows carried by successfully committed batches.
	RowsCommitted *prometheus.CounterVec

	// RowsAffected counts store-reported affected rows. This can differ from
	// RowsCommitted when a retried batch finds some rows already present.
	RowsAffected *prometheus.CounterVec

	// CommitLatency tracks the latency of individual commit attempts.
	CommitLatency *prometheus.HistogramVec

	// CheckpointLag tracks the age of the most recently committed
	// checkpoint: wall-clock time minus the checkpoint's source timestamp.
	CheckpointLag *prometheus.GaugeVec

	// WatermarkCheckpoint tracks the highest checkpoint covered by the
	// persisted committer watermark. Updated by the watermark aggregator.
	WatermarkCheckpoint *prometheus.GaugeVec
}

// NewCommitterMetrics creates and registers committer metrics with the
// default registry.
func NewCommitterMetrics() *CommitterMetrics {
	return NewCommitterMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewCommitterMetricsWithRegistry creates committer metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewCommitterMetricsWithRegistry(reg prometheus.Registerer) *CommitterMetrics {
	factory := promauto.With(reg)
	return &CommitterMetrics{
		BatchesAttempted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "batches_attempted_total",
				Help:      "Total batch commit attempts, including retries.",
			},
			[]string{"pipeline"},
		),
		BatchesSucceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "batches_succeeded_total",
				Help:      "Total batches committed durably.",
			},
			[]string{"pipeline"},
		),
		BatchesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "batches_failed_total",
				Help:      "Total failed batch commit attempts.",
			},
			[]string{"pipeline"},
		),
		RowsCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "rows_committed_total",
				Help:      "Total rows carried by successfully committed batches.",
			},
			[]string{"pipeline"},
		),
		RowsAffected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "rows_affected_total",
				Help:      "Total store-reported affected rows for committed batches.",
			},
			[]string{"pipeline"},
		),
		CommitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "commit_latency_seconds",
				Help:      "Latency of individual batch commit attempts.",
				Buckets:   DefaultCommitLatencyBuckets,
			},
			[]string{"pipeline"},
		),
		CheckpointLag: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "checkpoint_lag_seconds",
				Help:      "Age of the most recently committed checkpoint relative to its source timestamp.",
			},
			[]string{"pipeline"},
		),
		WatermarkCheckpoint: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tidewater",
				Subsystem: "committer",
				Name:      "watermark_checkpoint",
				Help:      "Highest checkpoint covered by the persisted committer watermark.",
			},
			[]string{"pipeline"},
		),
	}
}

// RecordAttempt records one commit attempt.
func (m *CommitterMetrics) RecordAttempt(pipeline string) {
	m.BatchesAttempted.WithLabelValues(pipeline).Inc()
}

// RecordSuccess records a durable commit with its row counts and latency.
func (m *CommitterMetrics) RecordSuccess(pipeline string, rows, affected int64, seconds float64) {
	m.BatchesSucceeded.WithLabelValues(pipeline).Inc()
	m.RowsCommitted.WithLabelValues(pipeline).Add(float64(rows))
	m.RowsAffected.WithLabelValues(pipeline).Add(float64(affected))
	m.CommitLatency.WithLabelValues(pipeline).Observe(seconds)
}

// RecordFailure records a failed commit attempt with its latency.
func (m *CommitterMetrics) RecordFailure(pipeline string, seconds float64) {
	m.BatchesFailed.WithLabelValues(pipeline).Inc()
	m.CommitLatency.WithLabelValues(pipeline).Observe(seconds)
}

// ReportLag updates the checkpoint lag gauge from a source timestamp in
// milliseconds since the Unix epoch.
func (m *CommitterMetrics) ReportLag(pipeline string, timestampMs uint64) {
	lag := time.Since(time.UnixMilli(int64(timestampMs)))
	m.CheckpointLag.WithLabelValues(pipeline).Set(lag.Seconds())
}

// SetWatermark updates the committer watermark checkpoint gauge.
func (m *CommitterMetrics) SetWatermark(pipeline string, checkpoint uint64) {
	m.WatermarkCheckpoint.WithLabelValues(pipeline).Set(float64(checkpoint))
}

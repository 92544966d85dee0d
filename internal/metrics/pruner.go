package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrunerMetrics holds metrics related to range pruning.
// All metrics are labeled by pipeline.
type PrunerMetrics struct {
	// ChunksAttempted counts prune calls dispatched.
	ChunksAttempted *prometheus.CounterVec

	// ChunksSucceeded counts chunks deleted successfully.
	ChunksSucceeded *prometheus.CounterVec

	// ChunksFailed counts prune calls that failed and were left pending.
	ChunksFailed *prometheus.CounterVec

	// RowsDeleted counts store-reported rows removed by pruning.
	RowsDeleted *prometheus.CounterVec

	// PruneLatency tracks the latency of individual prune calls.
	PruneLatency *prometheus.HistogramVec

	// PendingRanges tracks how many scheduled ranges are awaiting deletion
	// at the end of each polling iteration.
	PendingRanges *prometheus.GaugeVec

	// WatermarkCheckpoint tracks the persisted pruner_hi frontier.
	WatermarkCheckpoint *prometheus.GaugeVec
}

// NewPrunerMetrics creates and registers pruner metrics with the default
// registry.
func NewPrunerMetrics() *PrunerMetrics {
	return NewPrunerMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrunerMetricsWithRegistry creates pruner metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewPrunerMetricsWithRegistry(reg prometheus.Registerer) *PrunerMetrics {
	factory := promauto.With(reg)
	return &PrunerMetrics{
		ChunksAttempted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "chunks_attempted_total",
				Help:      "Total prune calls dispatched.",
			},
			[]string{"pipeline"},
		),
		ChunksSucceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "chunks_succeeded_total",
				Help:      "Total chunks deleted successfully.",
			},
			[]string{"pipeline"},
		),
		ChunksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "chunks_failed_total",
				Help:      "Total prune calls that failed and were left pending.",
			},
			[]string{"pipeline"},
		),
		RowsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "rows_deleted_total",
				Help:      "Total store-reported rows removed by pruning.",
			},
			[]string{"pipeline"},
		),
		PruneLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "prune_latency_seconds",
				Help:      "Latency of individual prune calls.",
				Buckets:   DefaultCommitLatencyBuckets,
			},
			[]string{"pipeline"},
		),
		PendingRanges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "pending_ranges",
				Help:      "Scheduled ranges awaiting deletion at the end of the last polling iteration.",
			},
			[]string{"pipeline"},
		),
		WatermarkCheckpoint: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tidewater",
				Subsystem: "pruner",
				Name:      "watermark_checkpoint",
				Help:      "Persisted pruner_hi frontier.",
			},
			[]string{"pipeline"},
		),
	}
}

// RecordAttempt records one dispatched prune call.
func (m *PrunerMetrics) RecordAttempt(pipeline string) {
	m.ChunksAttempted.WithLabelValues(pipeline).Inc()
}

// RecordSuccess records a successfully deleted chunk.
func (m *PrunerMetrics) RecordSuccess(pipeline string, affected int64, seconds float64) {
	m.ChunksSucceeded.WithLabelValues(pipeline).Inc()
	m.RowsDeleted.WithLabelValues(pipeline).Add(float64(affected))
	m.PruneLatency.WithLabelValues(pipeline).Observe(seconds)
}

// RecordFailure records a failed prune call.
func (m *PrunerMetrics) RecordFailure(pipeline string, seconds float64) {
	m.ChunksFailed.WithLabelValues(pipeline).Inc()
	m.PruneLatency.WithLabelValues(pipeline).Observe(seconds)
}

// SetPendingRanges updates the pending range gauge.
func (m *PrunerMetrics) SetPendingRanges(pipeline string, count int) {
	m.PendingRanges.WithLabelValues(pipeline).Set(float64(count))
}

// SetWatermark updates the pruner watermark frontier gauge.
func (m *PrunerMetrics) SetWatermark(pipeline string, prunerHi uint64) {
	m.WatermarkCheckpoint.WithLabelValues(pipeline).Set(float64(prunerHi))
}

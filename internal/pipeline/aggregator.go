package pipeline

import (
	"context"

	"github.com/tidewater-io/tidewater/internal/logging"
	"github.com/tidewater-io/tidewater/internal/metrics"
	"github.com/tidewater-io/tidewater/internal/store"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

// AggregatorConfig configures a watermark Aggregator.
type AggregatorConfig struct {
	// InitialCheckpoint is the first checkpoint the pipeline expects when no
	// committer watermark has been persisted yet.
	InitialCheckpoint uint64
}

// checkpointCoverage accumulates the watermark parts seen for one checkpoint.
type checkpointCoverage struct {
	watermark watermark.CommitterWatermark
	seen      uint64
	total     uint64
}

// Aggregator reconstructs a monotonic, gap-free committer watermark from the
// out-of-order stream of watermark parts the committer emits.
//
// The committer makes no ordering promises across concurrent batches, and a
// checkpoint's rows may be spread over several batches; the aggregator
// tracks per-checkpoint coverage and advances the persisted watermark only
// across a contiguous prefix of fully covered checkpoints. A checkpoint gap
// therefore stalls the watermark instead of being silently accepted.
type Aggregator struct {
	pipeline string
	store    store.Store
	config   AggregatorConfig

	in <-chan []watermark.Part

	metrics *metrics.CommitterMetrics
	logger  *logging.Logger
}

// NewAggregator creates an Aggregator consuming the committer's watermark
// output for the named pipeline.
func NewAggregator(
	pipeline string,
	st store.Store,
	config AggregatorConfig,
	in <-chan []watermark.Part,
	m *metrics.CommitterMetrics,
	logger *logging.Logger,
) *Aggregator {
	if logger == nil {
		logger = logging.Global()
	}
	return &Aggregator{
		pipeline: pipeline,
		store:    st,
		config:   config,
		in:       in,
		metrics:  m,
		logger:   logger.WithPipeline(pipeline),
	}
}

// Run drives the aggregator until its input channel closes or ctx is
// cancelled; both are clean shutdowns. Store errors are absorbed and the
// persist is retried after the next batch of parts.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("starting watermark aggregator")

	next := a.config.InitialCheckpoint
	var current *watermark.CommitterWatermark
	if wm := a.loadWatermark(ctx); wm != nil {
		current = wm
		next = wm.CheckpointHiInclusive + 1
	}

	coverage := make(map[uint64]*checkpointCoverage)
	dirty := false

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("stopping watermark aggregator")
			return nil
		case parts, ok := <-a.in:
			if !ok {
				a.logger.Info("stopping watermark aggregator")
				return nil
			}

			for _, p := range parts {
				cp := p.Checkpoint()
				if cp < next {
					// Already covered by the persisted watermark.
					continue
				}
				cov, found := coverage[cp]
				if !found {
					cov = &checkpointCoverage{}
					coverage[cp] = cov
				}
				cov.watermark = p.Watermark
				cov.seen += p.BatchRows
				cov.total = p.TotalRows
			}

			advanced := false
			for {
				cov, found := coverage[next]
				if !found || cov.seen < cov.total {
					break
				}
				wm := cov.watermark
				current = &wm
				delete(coverage, next)
				next++
				advanced = true
			}

			if !advanced && len(coverage) > 0 {
				a.logger.Debugf("watermark stalled", map[string]any{
					"next_checkpoint": next,
					"pending":         len(coverage),
				})
			}

			if (advanced || dirty) && current != nil {
				dirty = !a.persist(ctx, *current)
			}
		}
	}
}

// loadWatermark reads the persisted committer watermark, absorbing failures;
// a missed read only restarts aggregation from InitialCheckpoint.
func (a *Aggregator) loadWatermark(ctx context.Context) *watermark.CommitterWatermark {
	conn, err := a.store.Connect(ctx)
	if err != nil {
		a.logger.Warnf("failed to get store connection", map[string]any{"error": err.Error()})
		return nil
	}
	defer conn.Release()

	wm, err := conn.CommitterWatermark(ctx, a.pipeline)
	if err != nil {
		a.logger.Warnf("failed to read committer watermark", map[string]any{"error": err.Error()})
		return nil
	}
	return wm
}

// persist writes the committer watermark, reporting success.
func (a *Aggregator) persist(ctx context.Context, wm watermark.CommitterWatermark) bool {
	conn, err := a.store.Connect(ctx)
	if err != nil {
		a.logger.Warnf("failed to get store connection", map[string]any{"error": err.Error()})
		return false
	}
	defer conn.Release()

	if _, err := conn.SetCommitterWatermark(ctx, a.pipeline, wm); err != nil {
		a.logger.Warnf("failed to persist committer watermark", map[string]any{
			"checkpoint": wm.CheckpointHiInclusive,
			"error":      err.Error(),
		})
		return false
	}

	a.logger.Debugf("advanced committer watermark", map[string]any{
		"checkpoint": wm.CheckpointHiInclusive,
	})
	if a.metrics != nil {
		a.metrics.SetWatermark(a.pipeline, wm.CheckpointHiInclusive)
	}
	return true
}

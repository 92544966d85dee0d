// Package pruner implements the prune half of a pipeline: it discovers
// checkpoint ranges that readers no longer need, deletes them in bounded
// chunks, and persists the pruning frontier.
//
// Deletion may be non-idempotent, so the pruner must never invoke the
// handler twice for overlapping ranges. PendingRanges enforces that across
// repeated, overlapping discovery passes; the dispatch loop enforces it
// within one pass by waiting for every in-flight chunk before rediscovering.
package pruner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tidewater-io/tidewater/internal/logging"
	"github.com/tidewater-io/tidewater/internal/metrics"
	"github.com/tidewater-io/tidewater/internal/pipeline"
	"github.com/tidewater-io/tidewater/internal/store"
)

// Config configures a Pruner.
type Config struct {
	// Interval is how often the pruner polls for prunable work.
	Interval time.Duration

	// Delay is the safety delay after reader_lo advances before the
	// checkpoints it released may be deleted, giving in-flight reads time
	// to land.
	Delay time.Duration

	// Retention is how many checkpoints below the committer watermark are
	// kept. Zero disables reader watermark advancement, leaving reader_lo
	// to an external writer.
	Retention uint64

	// MaxChunkSize bounds the number of checkpoints deleted per prune call.
	MaxChunkSize uint64

	// PruneConcurrency bounds concurrent prune calls.
	PruneConcurrency int64
}

// DefaultConfig returns the default pruner configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		Delay:            2 * time.Minute,
		Retention:        4_000_000,
		MaxChunkSize:     2_000,
		PruneConcurrency: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = d.MaxChunkSize
	}
	if c.PruneConcurrency < 1 {
		c.PruneConcurrency = d.PruneConcurrency
	}
	return c
}

// Pruner prunes old checkpoint ranges for one pipeline. Construct with New
// and drive with Run.
type Pruner[R any] struct {
	handler pipeline.Handler[R]
	store   store.Store
	config  Config

	metrics *metrics.PrunerMetrics
	logger  *logging.Logger

	// pending accumulates undrained chunks across polling iterations. Owned
	// by the Run goroutine only.
	pending *PendingRanges
	sem     *semaphore.Weighted

	// highestFrontier is the highest safe-to-resume frontier reached so
	// far; lastPersisted trails it until a watermark write succeeds.
	highestFrontier  uint64
	lastPersisted    uint64
	hasLastPersisted bool
}

// New creates a Pruner for the handler's pipeline.
func New[R any](
	handler pipeline.Handler[R],
	st store.Store,
	config Config,
	m *metrics.PrunerMetrics,
	logger *logging.Logger,
) *Pruner[R] {
	if logger == nil {
		logger = logging.Global()
	}
	config = config.withDefaults()
	return &Pruner[R]{
		handler: handler,
		store:   st,
		config:  config,
		metrics: m,
		logger:  logger.WithPipeline(handler.Name()),
		pending: NewPendingRanges(),
		sem:     semaphore.NewWeighted(config.PruneConcurrency),
	}
}

// Run drives the pruner until ctx is cancelled, which is a clean shutdown.
// Store errors never escape: they are logged and left for a later tick. A
// non-nil error is returned only when a prune task panics.
func (p *Pruner[R]) Run(ctx context.Context) error {
	p.logger.Info("starting pruner")

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping pruner")
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.logger.Errorf("pruner stopping on fatal error", map[string]any{"error": err.Error()})
				return err
			}
		}
	}
}

// tick runs one polling iteration. Returns a non-nil error only for fatal
// failures (a panicked prune task).
func (p *Pruner[R]) tick(ctx context.Context) error {
	name := p.handler.Name()

	conn, err := p.store.Connect(ctx)
	if err != nil {
		p.logger.Warnf("failed to get store connection", map[string]any{"error": err.Error()})
		return nil
	}
	defer conn.Release()

	p.advanceReaderWatermark(ctx, conn)

	wm, err := conn.PrunerWatermark(ctx, name, p.config.Delay)
	if err != nil {
		p.logger.Warnf("failed to read pruner watermark", map[string]any{"error": err.Error()})
		return nil
	}
	if wm == nil {
		p.logger.Debug("no pruner watermark yet")
		return nil
	}

	if wait := wm.WaitFor(); wait > 0 {
		p.logger.Debugf("waiting for safety delay", map[string]any{"wait_ms": wait.Milliseconds()})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}

	for {
		from, to, ok := wm.NextChunk(p.config.MaxChunkSize)
		if !ok {
			break
		}
		p.pending.Schedule(from, to)
	}

	highest, fatal := p.prunePending(ctx)
	if fatal != nil {
		return fatal
	}

	if p.metrics != nil {
		p.metrics.SetPendingRanges(name, p.pending.Len())
	}

	if highest > p.highestFrontier {
		p.highestFrontier = highest
	}
	if p.highestFrontier > 0 && (!p.hasLastPersisted || p.highestFrontier > p.lastPersisted) {
		if _, err := conn.SetPrunerWatermark(ctx, name, p.highestFrontier); err != nil {
			p.logger.Warnf("failed to persist pruner watermark", map[string]any{
				"pruner_hi": p.highestFrontier,
				"error":     err.Error(),
			})
		} else {
			p.lastPersisted = p.highestFrontier
			p.hasLastPersisted = true
			if p.metrics != nil {
				p.metrics.SetWatermark(name, p.highestFrontier)
			}
		}
	}

	return nil
}

// advanceReaderWatermark derives reader_lo from the committer watermark and
// the retention window. Failures are absorbed; a stale reader_lo only delays
// pruning.
func (p *Pruner[R]) advanceReaderWatermark(ctx context.Context, conn store.Connection) {
	if p.config.Retention == 0 {
		return
	}
	name := p.handler.Name()

	committed, err := conn.CommitterWatermark(ctx, name)
	if err != nil {
		p.logger.Warnf("failed to read committer watermark", map[string]any{"error": err.Error()})
		return
	}
	if committed == nil || committed.CheckpointHiInclusive+1 <= p.config.Retention {
		return
	}

	readerLo := committed.CheckpointHiInclusive + 1 - p.config.Retention
	if _, err := conn.SetReaderWatermark(ctx, name, readerLo); err != nil {
		p.logger.Warnf("failed to advance reader watermark", map[string]any{
			"reader_lo": readerLo,
			"error":     err.Error(),
		})
	}
}

type pruneResult struct {
	rng   Range
	err   error
	fatal error
}

// prunePending launches one deletion task per pending range, bounded by the
// prune concurrency semaphore, and collects the results. It returns the
// highest frontier observed across successful removals this iteration, and
// the first fatal (panic-derived) error if any task suffered one.
//
// Every launched task reports exactly one result, so the collection loop
// drains fully even under cancellation.
func (p *Pruner[R]) prunePending(ctx context.Context) (uint64, error) {
	snapshot := p.pending.Ranges()
	if len(snapshot) == 0 {
		return 0, nil
	}

	results := make(chan pruneResult, len(snapshot))
	for _, r := range snapshot {
		go p.pruneChunk(ctx, r, results)
	}

	var highest uint64
	var fatal error
	for range snapshot {
		res := <-results
		switch {
		case res.fatal != nil:
			if fatal == nil {
				fatal = res.fatal
			}
		case res.err != nil:
			// Leave the range pending; it is retried on a future tick.
			p.logger.Warnf("failed to prune chunk", map[string]any{
				"from":  res.rng.From,
				"to":    res.rng.To,
				"error": res.err.Error(),
			})
		default:
			p.pending.Remove(res.rng.From)
			if hi := p.pending.PrunerHi(); hi > highest {
				highest = hi
			}
		}
	}
	return highest, fatal
}

// pruneChunk deletes one chunk, gated by the concurrency semaphore. A task
// still waiting for a permit when cancellation fires reports the
// cancellation outcome instead of acquiring one.
func (p *Pruner[R]) pruneChunk(ctx context.Context, r Range, results chan<- pruneResult) {
	var res pruneResult
	res.rng = r
	defer func() {
		if rec := recover(); rec != nil {
			res.fatal = fmt.Errorf("pruner: panic while pruning range [%d, %d): %v", r.From, r.To, rec)
		}
		results <- res
	}()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		res.err = err
		return
	}
	defer p.sem.Release(1)

	name := p.handler.Name()
	if p.metrics != nil {
		p.metrics.RecordAttempt(name)
	}

	start := time.Now()

	conn, err := p.store.Connect(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordFailure(name, time.Since(start).Seconds())
		}
		res.err = err
		return
	}
	defer conn.Release()

	affected, err := p.handler.Prune(ctx, conn, r.From, r.To)
	elapsed := time.Since(start)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordFailure(name, elapsed.Seconds())
		}
		res.err = err
		return
	}

	p.logger.Debugf("pruned chunk", map[string]any{
		"from":       r.From,
		"to":         r.To,
		"affected":   affected,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if p.metrics != nil {
		p.metrics.RecordSuccess(name, affected, elapsed.Seconds())
	}
}

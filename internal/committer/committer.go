// Package committer implements the commit half of a pipeline: it drains
// batches of rows from the processor, writes them to the store with bounded
// concurrency, and forwards watermark parts downstream once writes are
// durable.
//
// A batch is never dropped. Failed commits are retried on an exponential
// backoff with no overall deadline; the only ways a batch leaves the
// committer are a successful write or pipeline shutdown.
package committer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/tidewater-io/tidewater/internal/logging"
	"github.com/tidewater-io/tidewater/internal/metrics"
	"github.com/tidewater-io/tidewater/internal/pipeline"
	"github.com/tidewater-io/tidewater/internal/store"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

const (
	// initialRetryInterval is how long the committer waits before the first
	// retry of a failed commit.
	initialRetryInterval = 100 * time.Millisecond

	// maxRetryInterval caps the backoff between retries.
	maxRetryInterval = time.Second
)

// Config configures a Committer.
type Config struct {
	// WriteConcurrency bounds the number of batches committed in flight.
	// Values below 1 are treated as 1.
	WriteConcurrency int

	// SkipWatermark suppresses watermark forwarding. Prune-only pipelines
	// set this; they never need commit-progress visibility.
	SkipWatermark bool
}

func (c Config) writeConcurrency() int {
	if c.WriteConcurrency < 1 {
		return 1
	}
	return c.WriteConcurrency
}

// Committer commits batches for one pipeline. Construct with New and drive
// with Run.
type Committer[R any] struct {
	handler pipeline.Handler[R]
	store   store.Store
	config  Config

	in  <-chan pipeline.BatchedRows[R]
	out chan<- []watermark.Part

	metrics *metrics.CommitterMetrics
	logger  *logging.Logger
}

// New creates a Committer that drains in, commits through handler against
// st, and forwards each batch's watermark parts on out.
func New[R any](
	handler pipeline.Handler[R],
	st store.Store,
	config Config,
	in <-chan pipeline.BatchedRows[R],
	out chan<- []watermark.Part,
	m *metrics.CommitterMetrics,
	logger *logging.Logger,
) *Committer[R] {
	if logger == nil {
		logger = logging.Global()
	}
	return &Committer[R]{
		handler: handler,
		store:   st,
		config:  config,
		in:      in,
		out:     out,
		metrics: m,
		logger:  logger.WithPipeline(handler.Name()),
	}
}

// Run drives the committer until the input channel closes or ctx is
// cancelled. Both are clean shutdowns and return nil. A non-nil error is
// returned only for fatal failures: a panic inside a commit attempt is
// recovered, wrapped, and re-raised here so the supervisor can tear the
// pipeline down.
func (c *Committer[R]) Run(ctx context.Context) error {
	c.logger.Info("starting committer")

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(c.config.writeConcurrency())

recv:
	for {
		select {
		case <-gctx.Done():
			break recv
		case batch, ok := <-c.in:
			if !ok {
				break recv
			}
			group.Go(func() error {
				return c.commitBatch(gctx, batch)
			})
		}
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Errorf("committer stopping on fatal error", map[string]any{"error": err.Error()})
		return err
	}

	c.logger.Info("stopping committer")
	return nil
}

// commitBatch writes one batch durably, retrying transient failures forever,
// then forwards its watermark parts. Only cancellation or a recovered panic
// can surface as an error.
func (c *Committer[R]) commitBatch(ctx context.Context, batch pipeline.BatchedRows[R]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("committer: panic while committing batch %s: %v", batch.BatchID, r)
		}
	}()

	logger := c.logger.WithBatch(batch.BatchID.String())

	// Empty batches carry watermark-only progress and need no store call.
	if batch.Len() > 0 {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = initialRetryInterval
		policy.MaxInterval = maxRetryInterval
		policy.MaxElapsedTime = 0

		err := backoff.Retry(func() error {
			return c.attempt(ctx, logger, batch)
		}, backoff.WithContext(policy, ctx))
		if err != nil {
			// Only cancellation escapes the retry loop.
			return err
		}
	}

	if c.config.SkipWatermark {
		return nil
	}

	select {
	case c.out <- batch.Watermark:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt performs a single commit attempt. Any returned error is retried by
// the caller's backoff loop.
func (c *Committer[R]) attempt(ctx context.Context, logger *logging.Logger, batch pipeline.BatchedRows[R]) error {
	name := c.handler.Name()
	if c.metrics != nil {
		c.metrics.RecordAttempt(name)
	}

	start := time.Now()

	conn, err := c.store.Connect(ctx)
	if err != nil {
		logger.Warnf("failed to get store connection", map[string]any{"error": err.Error()})
		if c.metrics != nil {
			c.metrics.RecordFailure(name, time.Since(start).Seconds())
		}
		return err
	}
	defer conn.Release()

	affected, err := c.handler.Commit(ctx, conn, batch.Values)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warnf("error writing batch", map[string]any{
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
			"rows":       batch.Len(),
		})
		if c.metrics != nil {
			c.metrics.RecordFailure(name, elapsed.Seconds())
		}
		return err
	}

	logger.Debugf("wrote batch", map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
		"rows":       batch.Len(),
		"affected":   affected,
	})

	if c.metrics != nil {
		c.metrics.RecordSuccess(name, int64(batch.Len()), affected, elapsed.Seconds())
		if ts, ok := highestTimestamp(batch.Watermark); ok {
			c.metrics.ReportLag(name, ts)
		}
	}
	return nil
}

// highestTimestamp returns the source timestamp of the highest checkpoint a
// batch covers.
func highestTimestamp(parts []watermark.Part) (uint64, bool) {
	var best uint64
	found := false
	for _, p := range parts {
		if !found || p.TimestampMs() > best {
			best = p.TimestampMs()
			found = true
		}
	}
	return best, found
}

// Package store defines the Store and Connection interfaces that pipelines
// commit to and prune from, along with the watermark persistence contract.
//
// The default implementation is SQLite-backed (see the sqlite subpackage).
// An exported MockStore is provided for tests in other packages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tidewater-io/tidewater/internal/watermark"
)

// Common errors returned by store operations.
var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrNoWatermark is returned by watermark reads when the pipeline has no
	// persisted watermark row yet.
	ErrNoWatermark = errors.New("store: no watermark for pipeline")
)

// Store hands out connections to the underlying database. Connections are
// acquired per operation and released when done; the pool behind Connect is
// the only resource shared between the committer and pruner tasks.
type Store interface {
	Connect(ctx context.Context) (Connection, error)
}

// Connection is a single leased connection. A Connection is not safe for
// concurrent use; each task acquires its own.
//
// Watermark reads return (nil, nil) when no watermark has been persisted for
// the pipeline yet. Watermark writes return whether the stored value was
// actually advanced, so callers can distinguish progress from no-ops.
type Connection interface {
	// CommitterWatermark reads the committer watermark for a pipeline.
	CommitterWatermark(ctx context.Context, pipeline string) (*watermark.CommitterWatermark, error)

	// SetCommitterWatermark advances the committer watermark. The write is
	// ignored (false, nil) if the stored watermark is already at or past the
	// given one.
	SetCommitterWatermark(ctx context.Context, pipeline string, wm watermark.CommitterWatermark) (bool, error)

	// SetReaderWatermark advances reader_lo for a pipeline, recording when
	// the advance happened. Returns false if readerLo does not exceed the
	// stored value.
	SetReaderWatermark(ctx context.Context, pipeline string, readerLo uint64) (bool, error)

	// PrunerWatermark reads the pruning bounds for a pipeline. The returned
	// watermark's WaitForMs is delay minus the time elapsed since reader_lo
	// was last advanced, so a freshly moved reader_lo forces the caller to
	// wait out the safety delay.
	PrunerWatermark(ctx context.Context, pipeline string, delay time.Duration) (*watermark.PrunerWatermark, error)

	// SetPrunerWatermark advances pruner_hi for a pipeline. Returns false if
	// prunerHi does not exceed the stored value.
	SetPrunerWatermark(ctx context.Context, pipeline string, prunerHi uint64) (bool, error)

	// Release returns the connection to the pool.
	Release() error
}

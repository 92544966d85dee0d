// Package pipeline defines the per-pipeline business logic contract and the
// types that flow between the pipeline's tasks.
//
// A pipeline moves rows derived from externally numbered checkpoints into a
// store (the committer), reconciles partial batch progress into a durable
// commit watermark (the aggregator), and deletes rows that readers no longer
// need (the pruner). The Handler supplies the storage-specific commit and
// prune operations; everything else is coordination.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/tidewater-io/tidewater/internal/store"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

// Handler is the business logic for one pipeline, fixed at construction.
//
// Commit must be safe to call repeatedly on the same logical batch until a
// success is observed; the committer retries failed batches indefinitely.
// Its affected-row count feeds metrics only.
//
// Prune may assume it is called on non-overlapping, monotonically
// non-decreasing ranges, and that a range is never repeated after a success.
// It is allowed to be non-idempotent.
type Handler[R any] interface {
	// Name is the stable identifier for the pipeline, used as the key for
	// its persisted watermarks and as a metrics label.
	Name() string

	// Commit writes values to the store, returning the number of rows
	// affected.
	Commit(ctx context.Context, conn store.Connection, values []R) (int64, error)

	// Prune deletes the rows of checkpoints in the half-open range
	// [from, to), returning the number of rows affected.
	Prune(ctx context.Context, conn store.Connection, from, to uint64) (int64, error)
}

// BatchedRows is one unit of commit work: a batch of rows plus the watermark
// parts describing which checkpoints (and what share of each) the batch
// covers. Batches arrive in checkpoint order but are not required to
// complete in that order.
type BatchedRows[R any] struct {
	// BatchID correlates log records for one batch across retries.
	BatchID uuid.UUID

	Values    []R
	Watermark []watermark.Part
}

// NewBatch assembles a batch with a fresh ID.
func NewBatch[R any](values []R, parts []watermark.Part) BatchedRows[R] {
	return BatchedRows[R]{
		BatchID:   uuid.New(),
		Values:    values,
		Watermark: parts,
	}
}

// Len returns the number of rows in the batch.
func (b BatchedRows[R]) Len() int {
	return len(b.Values)
}

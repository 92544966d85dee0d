// Package watermark defines the value types that track pipeline progress:
// how far data is durably committed, and how far old data may be pruned.
package watermark

import (
	"fmt"
	"time"
)

// CommitterWatermark is the highest checkpoint up to which a pipeline's data
// is fully and durably committed. It is advanced only by the watermark
// aggregator, after the committer has confirmed the writes that cover it.
type CommitterWatermark struct {
	// EpochHiInclusive is the epoch of the highest committed checkpoint.
	EpochHiInclusive uint64
	// CheckpointHiInclusive is the highest fully committed checkpoint.
	CheckpointHiInclusive uint64
	// TxHi is the transaction sequence number after the highest committed
	// checkpoint.
	TxHi uint64
	// TimestampMsHiInclusive is the timestamp of the highest committed
	// checkpoint, in milliseconds since the Unix epoch.
	TimestampMsHiInclusive uint64
}

// Part describes the share of one checkpoint's rows that was included in a
// single committed batch. A checkpoint's rows may be split across several
// batches, so several parts; a consumer may only advance its persisted
// watermark for a checkpoint once the parts it has seen sum to TotalRows.
type Part struct {
	Watermark CommitterWatermark
	// BatchRows is the number of this checkpoint's rows carried by the batch
	// this part was attached to.
	BatchRows uint64
	// TotalRows is the total number of rows the checkpoint produced.
	TotalRows uint64
}

// Checkpoint returns the checkpoint this part accounts for.
func (p Part) Checkpoint() uint64 {
	return p.Watermark.CheckpointHiInclusive
}

// TimestampMs returns the source timestamp of the checkpoint this part
// accounts for.
func (p Part) TimestampMs() uint64 {
	return p.Watermark.TimestampMsHiInclusive
}

// Complete reports whether this part alone covers the whole checkpoint.
func (p Part) Complete() bool {
	return p.BatchRows == p.TotalRows
}

func (p Part) String() string {
	return fmt.Sprintf("checkpoint %d (%d/%d rows)", p.Checkpoint(), p.BatchRows, p.TotalRows)
}

// PrunerWatermark bounds the window of checkpoints a pruner may delete.
//
// PrunerHi is the first checkpoint not yet guaranteed pruned (inclusive
// lower bound of remaining work). ReaderLo is the first checkpoint that must
// never be pruned, because readers may still depend on it (exclusive upper
// bound). WaitForMs is a safety delay derived from how recently ReaderLo was
// advanced, giving in-flight reads time to land before deletion proceeds.
type PrunerWatermark struct {
	PrunerHi  uint64
	ReaderLo  uint64
	WaitForMs int64
}

// WaitFor returns how long the pruner must wait before it may act on this
// watermark. Zero or negative means the safety delay has already elapsed.
func (w *PrunerWatermark) WaitFor() time.Duration {
	return time.Duration(w.WaitForMs) * time.Millisecond
}

// NextChunk consumes up to size checkpoints from the front of the prunable
// window, returning the half-open range [from, to) and advancing PrunerHi.
// It returns ok == false once the window is exhausted.
func (w *PrunerWatermark) NextChunk(size uint64) (from, to uint64, ok bool) {
	if w.PrunerHi >= w.ReaderLo {
		return 0, 0, false
	}
	from = w.PrunerHi
	to = from + size
	if to > w.ReaderLo {
		to = w.ReaderLo
	}
	w.PrunerHi = to
	return from, to, true
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidewater-io/tidewater/internal/pipeline"
	"github.com/tidewater-io/tidewater/internal/rowstore"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

// checkpointDoc is one line of the NDJSON checkpoint feed.
type checkpointDoc struct {
	Checkpoint  uint64          `json:"checkpoint"`
	Epoch       uint64          `json:"epoch"`
	TxHi        uint64          `json:"txHi"`
	TimestampMs uint64          `json:"timestampMs"`
	Rows        []checkpointRow `json:"rows"`
}

type checkpointRow struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// feedReader parses the checkpoint feed and turns each checkpoint into
// commit batches. With batchRows > 0 a checkpoint's rows are split into
// several batches, each carrying a partial watermark part; the aggregator
// only advances once it has seen all of them.
type feedReader struct {
	scanner   *bufio.Scanner
	batchRows int
	line      int
}

func newFeedReader(r io.Reader, batchRows int) *feedReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &feedReader{scanner: scanner, batchRows: batchRows}
}

// Next returns the batches for the next checkpoint in the feed, or io.EOF
// when the feed is exhausted. Blank lines are skipped.
func (f *feedReader) Next() ([]pipeline.BatchedRows[rowstore.Row], error) {
	for f.scanner.Scan() {
		f.line++
		data := f.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var doc checkpointDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("feed: line %d: %w", f.line, err)
		}
		return f.split(doc), nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, fmt.Errorf("feed: read: %w", err)
	}
	return nil, io.EOF
}

func (f *feedReader) split(doc checkpointDoc) []pipeline.BatchedRows[rowstore.Row] {
	wm := watermark.CommitterWatermark{
		EpochHiInclusive:       doc.Epoch,
		CheckpointHiInclusive:  doc.Checkpoint,
		TxHi:                   doc.TxHi,
		TimestampMsHiInclusive: doc.TimestampMs,
	}
	total := uint64(len(doc.Rows))

	rows := make([]rowstore.Row, len(doc.Rows))
	for i, r := range doc.Rows {
		rows[i] = rowstore.Row{
			Checkpoint:  doc.Checkpoint,
			ID:          r.ID,
			TimestampMs: doc.TimestampMs,
			Payload:     r.Payload,
		}
	}

	size := f.batchRows
	if size <= 0 || size >= len(rows) {
		// One batch covers the whole checkpoint. Checkpoints without rows
		// still produce a batch so the watermark advances past them.
		part := watermark.Part{Watermark: wm, BatchRows: total, TotalRows: total}
		return []pipeline.BatchedRows[rowstore.Row]{
			pipeline.NewBatch(rows, []watermark.Part{part}),
		}
	}

	var batches []pipeline.BatchedRows[rowstore.Row]
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		part := watermark.Part{
			Watermark: wm,
			BatchRows: uint64(end - start),
			TotalRows: total,
		}
		batches = append(batches, pipeline.NewBatch(rows[start:end], []watermark.Part{part}))
	}
	return batches
}

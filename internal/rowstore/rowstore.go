// Package rowstore provides the reference pipeline handler: checkpoint rows
// stored in the SQLite store with optionally compressed payloads.
package rowstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tidewater-io/tidewater/internal/codec"
	"github.com/tidewater-io/tidewater/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rows (
	pipeline     TEXT NOT NULL,
	checkpoint   INTEGER NOT NULL,
	row_id       TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	compression  TEXT NOT NULL,
	payload      BLOB,
	PRIMARY KEY (pipeline, checkpoint, row_id)
);
CREATE INDEX IF NOT EXISTS rows_by_checkpoint ON rows (pipeline, checkpoint);
`

// rawConn is what the handler needs from a store connection. The sqlite
// connection provides it directly; wrappers such as the instrumented store
// forward it.
type rawConn interface {
	Raw() *sql.Conn
}

func sqlFrom(conn store.Connection) (*sql.Conn, error) {
	rc, ok := conn.(rawConn)
	if !ok {
		return nil, fmt.Errorf("rowstore: handler requires a SQL-backed connection, got %T", conn)
	}
	raw := rc.Raw()
	if raw == nil {
		return nil, fmt.Errorf("rowstore: store connection %T has no SQL handle", conn)
	}
	return raw, nil
}

// Row is one indexed row derived from a checkpoint.
type Row struct {
	Checkpoint  uint64 `json:"checkpoint"`
	ID          string `json:"id"`
	TimestampMs uint64 `json:"timestampMs"`
	Payload     []byte `json:"payload"`
}

// Handler implements pipeline.Handler for Row against the SQLite store.
//
// Commit is idempotent (INSERT OR IGNORE on the primary key), which makes it
// safe to repeat for a batch that failed mid-write. Prune deletes by
// checkpoint range and relies on the pruner never repeating a range.
type Handler struct {
	name        string
	compression codec.Type
}

// NewHandler creates a handler for the named pipeline. Payloads are
// compressed with the given codec before storage.
func NewHandler(name string, compression codec.Type) *Handler {
	return &Handler{name: name, compression: compression}
}

// EnsureSchema creates the row table if needed.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("rowstore: init schema: %w", err)
	}
	return nil
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) Commit(ctx context.Context, conn store.Connection, values []Row) (int64, error) {
	raw, err := sqlFrom(conn)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, row := range values {
		payload, err := codec.Compress(h.compression, row.Payload)
		if err != nil {
			return affected, fmt.Errorf("rowstore: compress row %s: %w", row.ID, err)
		}
		result, err := raw.ExecContext(ctx, `
			INSERT OR IGNORE INTO rows (pipeline, checkpoint, row_id, timestamp_ms, compression, payload)
			VALUES (?, ?, ?, ?, ?, ?)`,
			h.name, int64(row.Checkpoint), row.ID, int64(row.TimestampMs),
			string(h.compression), payload)
		if err != nil {
			return affected, fmt.Errorf("rowstore: insert row %s: %w", row.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return affected, fmt.Errorf("rowstore: insert row %s: %w", row.ID, err)
		}
		affected += n
	}
	return affected, nil
}

func (h *Handler) Prune(ctx context.Context, conn store.Connection, from, to uint64) (int64, error) {
	raw, err := sqlFrom(conn)
	if err != nil {
		return 0, err
	}

	result, err := raw.ExecContext(ctx, `
		DELETE FROM rows WHERE pipeline = ? AND checkpoint >= ? AND checkpoint < ?`,
		h.name, int64(from), int64(to))
	if err != nil {
		return 0, fmt.Errorf("rowstore: prune [%d, %d): %w", from, to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rowstore: prune [%d, %d): %w", from, to, err)
	}
	return affected, nil
}

// Rows reads back the stored rows for a checkpoint range, decompressing
// payloads. Mainly used by tests and inspection tooling.
func Rows(ctx context.Context, db *sql.DB, pipeline string, from, to uint64) ([]Row, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT checkpoint, row_id, timestamp_ms, compression, payload
		FROM rows WHERE pipeline = ? AND checkpoint >= ? AND checkpoint < ?
		ORDER BY checkpoint, row_id`,
		pipeline, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("rowstore: query rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var checkpoint, timestampMs int64
		var compression string
		var payload []byte
		if err := rows.Scan(&checkpoint, &r.ID, &timestampMs, &compression, &payload); err != nil {
			return nil, fmt.Errorf("rowstore: scan row: %w", err)
		}
		decompressed, err := codec.Decompress(codec.Type(compression), payload)
		if err != nil {
			return nil, fmt.Errorf("rowstore: decompress row %s: %w", r.ID, err)
		}
		r.Checkpoint = uint64(checkpoint)
		r.TimestampMs = uint64(timestampMs)
		r.Payload = decompressed
		out = append(out, r)
	}
	return out, rows.Err()
}

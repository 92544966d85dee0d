// Package sqlite implements the store interfaces on SQLite.
//
// One database file holds the watermark table for every pipeline sharing the
// store. Handlers that need row storage create their own tables through the
// connection's DB handle.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tidewater-io/tidewater/internal/store"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

const schema = `
CREATE TABLE IF NOT EXISTS watermarks (
	pipeline            TEXT PRIMARY KEY,
	epoch_hi            INTEGER NOT NULL DEFAULT 0,
	checkpoint_hi       INTEGER,
	tx_hi               INTEGER NOT NULL DEFAULT 0,
	timestamp_ms_hi     INTEGER NOT NULL DEFAULT 0,
	reader_lo           INTEGER,
	reader_lo_set_at_ms INTEGER,
	pruner_hi           INTEGER NOT NULL DEFAULT 0
);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB

	// now is swappable so tests can control the safety-delay clock.
	now func() time.Time
}

// Open opens (creating if necessary) a SQLite store at path.
func Open(path string) (*Store, error) {
	// WAL keeps readers from blocking the committer's writes; the busy
	// timeout covers the committer and pruner sharing one file.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock replaces the clock used for reader_lo timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying database handle so handlers can manage their own
// row tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Connect leases a connection. database/sql pools connections internally;
// Release returns the lease.
func (s *Store) Connect(ctx context.Context) (store.Connection, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}
	return &Conn{conn: conn, store: s}, nil
}

// Conn is a leased SQLite connection.
type Conn struct {
	conn  *sql.Conn
	store *Store
}

// Raw exposes the leased connection for handler row operations.
func (c *Conn) Raw() *sql.Conn {
	return c.conn
}

func (c *Conn) CommitterWatermark(ctx context.Context, pipeline string) (*watermark.CommitterWatermark, error) {
	row := c.conn.QueryRowContext(ctx, `
		SELECT epoch_hi, checkpoint_hi, tx_hi, timestamp_ms_hi
		FROM watermarks WHERE pipeline = ?`, pipeline)

	var epochHi, txHi, timestampHi int64
	var checkpointHi sql.NullInt64
	if err := row.Scan(&epochHi, &checkpointHi, &txHi, &timestampHi); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: read committer watermark: %w", err)
	}
	if !checkpointHi.Valid {
		return nil, nil
	}
	return &watermark.CommitterWatermark{
		EpochHiInclusive:       uint64(epochHi),
		CheckpointHiInclusive:  uint64(checkpointHi.Int64),
		TxHi:                   uint64(txHi),
		TimestampMsHiInclusive: uint64(timestampHi),
	}, nil
}

func (c *Conn) SetCommitterWatermark(ctx context.Context, pipeline string, wm watermark.CommitterWatermark) (bool, error) {
	result, err := c.conn.ExecContext(ctx, `
		INSERT INTO watermarks (pipeline, epoch_hi, checkpoint_hi, tx_hi, timestamp_ms_hi)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (pipeline) DO UPDATE SET
			epoch_hi = excluded.epoch_hi,
			checkpoint_hi = excluded.checkpoint_hi,
			tx_hi = excluded.tx_hi,
			timestamp_ms_hi = excluded.timestamp_ms_hi
		WHERE excluded.checkpoint_hi > COALESCE(watermarks.checkpoint_hi, -1)`,
		pipeline, int64(wm.EpochHiInclusive), int64(wm.CheckpointHiInclusive),
		int64(wm.TxHi), int64(wm.TimestampMsHiInclusive))
	if err != nil {
		return false, fmt.Errorf("sqlite: set committer watermark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: set committer watermark: %w", err)
	}
	return affected > 0, nil
}

func (c *Conn) SetReaderWatermark(ctx context.Context, pipeline string, readerLo uint64) (bool, error) {
	nowMs := c.store.now().UnixMilli()
	result, err := c.conn.ExecContext(ctx, `
		INSERT INTO watermarks (pipeline, reader_lo, reader_lo_set_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (pipeline) DO UPDATE SET
			reader_lo = excluded.reader_lo,
			reader_lo_set_at_ms = excluded.reader_lo_set_at_ms
		WHERE excluded.reader_lo > COALESCE(watermarks.reader_lo, -1)`,
		pipeline, int64(readerLo), nowMs)
	if err != nil {
		return false, fmt.Errorf("sqlite: set reader watermark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: set reader watermark: %w", err)
	}
	return affected > 0, nil
}

func (c *Conn) PrunerWatermark(ctx context.Context, pipeline string, delay time.Duration) (*watermark.PrunerWatermark, error) {
	row := c.conn.QueryRowContext(ctx, `
		SELECT pruner_hi, reader_lo, reader_lo_set_at_ms
		FROM watermarks WHERE pipeline = ?`, pipeline)

	var prunerHi int64
	var readerLo, setAtMs sql.NullInt64
	if err := row.Scan(&prunerHi, &readerLo, &setAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: read pruner watermark: %w", err)
	}
	if !readerLo.Valid {
		return nil, nil
	}

	elapsedMs := c.store.now().UnixMilli() - setAtMs.Int64
	return &watermark.PrunerWatermark{
		PrunerHi:  uint64(prunerHi),
		ReaderLo:  uint64(readerLo.Int64),
		WaitForMs: delay.Milliseconds() - elapsedMs,
	}, nil
}

func (c *Conn) SetPrunerWatermark(ctx context.Context, pipeline string, prunerHi uint64) (bool, error) {
	result, err := c.conn.ExecContext(ctx, `
		UPDATE watermarks SET pruner_hi = ?
		WHERE pipeline = ? AND pruner_hi < ?`,
		int64(prunerHi), pipeline, int64(prunerHi))
	if err != nil {
		return false, fmt.Errorf("sqlite: set pruner watermark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: set pruner watermark: %w", err)
	}
	return affected > 0, nil
}

func (c *Conn) Release() error {
	return c.conn.Close()
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidewater-io/tidewater/internal/watermark"
)

// MetricsRecorder is the interface for recording store operation metrics.
// This keeps the store package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordConnect(durationSeconds float64, success bool)
	RecordOp(op string, durationSeconds float64, success bool)
}

// InstrumentedStore wraps a Store and records metrics for connection
// acquisition and every watermark operation on the connections it hands out.
// If metrics is nil, operations pass through directly.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) Connect(ctx context.Context) (Connection, error) {
	start := time.Now()
	conn, err := s.store.Connect(ctx)
	if s.metrics != nil {
		s.metrics.RecordConnect(time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		return nil, err
	}
	return &instrumentedConn{conn: conn, metrics: s.metrics}, nil
}

type instrumentedConn struct {
	conn    Connection
	metrics MetricsRecorder
}

func (c *instrumentedConn) record(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordOp(op, time.Since(start).Seconds(), err == nil)
	}
}

func (c *instrumentedConn) CommitterWatermark(ctx context.Context, pipeline string) (*watermark.CommitterWatermark, error) {
	start := time.Now()
	wm, err := c.conn.CommitterWatermark(ctx, pipeline)
	c.record("committer_watermark", start, err)
	return wm, err
}

func (c *instrumentedConn) SetCommitterWatermark(ctx context.Context, pipeline string, wm watermark.CommitterWatermark) (bool, error) {
	start := time.Now()
	ok, err := c.conn.SetCommitterWatermark(ctx, pipeline, wm)
	c.record("set_committer_watermark", start, err)
	return ok, err
}

func (c *instrumentedConn) SetReaderWatermark(ctx context.Context, pipeline string, readerLo uint64) (bool, error) {
	start := time.Now()
	ok, err := c.conn.SetReaderWatermark(ctx, pipeline, readerLo)
	c.record("set_reader_watermark", start, err)
	return ok, err
}

func (c *instrumentedConn) PrunerWatermark(ctx context.Context, pipeline string, delay time.Duration) (*watermark.PrunerWatermark, error) {
	start := time.Now()
	wm, err := c.conn.PrunerWatermark(ctx, pipeline, delay)
	c.record("pruner_watermark", start, err)
	return wm, err
}

func (c *instrumentedConn) SetPrunerWatermark(ctx context.Context, pipeline string, prunerHi uint64) (bool, error) {
	start := time.Now()
	ok, err := c.conn.SetPrunerWatermark(ctx, pipeline, prunerHi)
	c.record("set_pruner_watermark", start, err)
	return ok, err
}

// Raw exposes the wrapped connection's SQL handle when it has one, so
// SQL-backed handlers keep working behind the instrumentation. Returns nil
// for connections without one.
func (c *instrumentedConn) Raw() *sql.Conn {
	if rc, ok := c.conn.(interface{ Raw() *sql.Conn }); ok {
		return rc.Raw()
	}
	return nil
}

func (c *instrumentedConn) Release() error {
	return c.conn.Release()
}

package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-io/tidewater/internal/watermark"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitterWatermarkRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()

	wm, err := conn.CommitterWatermark(ctx, "events")
	require.NoError(t, err)
	assert.Nil(t, wm)

	set := watermark.CommitterWatermark{
		EpochHiInclusive:       3,
		CheckpointHiInclusive:  120,
		TxHi:                   99000,
		TimestampMsHiInclusive: 1700000000000,
	}
	ok, err := conn.SetCommitterWatermark(ctx, "events", set)
	require.NoError(t, err)
	assert.True(t, ok)

	wm, err = conn.CommitterWatermark(ctx, "events")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, set, *wm)
}

func TestCommitterWatermarkOnlyAdvances(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.SetCommitterWatermark(ctx, "events", watermark.CommitterWatermark{CheckpointHiInclusive: 10})
	require.NoError(t, err)

	ok, err := conn.SetCommitterWatermark(ctx, "events", watermark.CommitterWatermark{CheckpointHiInclusive: 7})
	require.NoError(t, err)
	assert.False(t, ok, "regressing write must be ignored")

	wm, err := conn.CommitterWatermark(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), wm.CheckpointHiInclusive)
}

func TestPrunerWatermarkDelayAccounting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now()
	now := base
	var mu sync.Mutex
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()

	// No reader_lo yet: no pruner watermark.
	wm, err := conn.PrunerWatermark(ctx, "events", 2*time.Second)
	require.NoError(t, err)
	assert.Nil(t, wm)

	ok, err := conn.SetReaderWatermark(ctx, "events", 50)
	require.NoError(t, err)
	assert.True(t, ok)

	wm, err = conn.PrunerWatermark(ctx, "events", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, uint64(50), wm.ReaderLo)
	assert.Equal(t, uint64(0), wm.PrunerHi)
	assert.InDelta(t, 2000, wm.WaitForMs, 50)

	mu.Lock()
	now = base.Add(3 * time.Second)
	mu.Unlock()

	wm, err = conn.PrunerWatermark(ctx, "events", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.LessOrEqual(t, wm.WaitForMs, int64(0))
}

func TestReaderWatermarkOnlyAdvances(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.SetReaderWatermark(ctx, "events", 50)
	require.NoError(t, err)

	ok, err := conn.SetReaderWatermark(ctx, "events", 40)
	require.NoError(t, err)
	assert.False(t, ok)

	wm, err := conn.PrunerWatermark(ctx, "events", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), wm.ReaderLo)
}

func TestPrunerWatermarkPersistence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.SetReaderWatermark(ctx, "events", 100)
	require.NoError(t, err)

	ok, err := conn.SetPrunerWatermark(ctx, "events", 30)
	require.NoError(t, err)
	assert.True(t, ok)

	// Not an advance: ignored.
	ok, err = conn.SetPrunerWatermark(ctx, "events", 30)
	require.NoError(t, err)
	assert.False(t, ok)

	wm, err := conn.PrunerWatermark(ctx, "events", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), wm.PrunerHi)
}

func TestPipelinesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.SetCommitterWatermark(ctx, "events", watermark.CommitterWatermark{CheckpointHiInclusive: 10})
	require.NoError(t, err)

	wm, err := conn.CommitterWatermark(ctx, "balances")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

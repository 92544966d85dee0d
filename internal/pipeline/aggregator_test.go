package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-io/tidewater/internal/store"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

func part(checkpoint, batchRows, totalRows uint64) watermark.Part {
	return watermark.Part{
		Watermark: watermark.CommitterWatermark{
			CheckpointHiInclusive:  checkpoint,
			TxHi:                   checkpoint * 10,
			TimestampMsHiInclusive: checkpoint * 1000,
		},
		BatchRows: batchRows,
		TotalRows: totalRows,
	}
}

// runAggregator feeds the messages through an aggregator and waits for it to
// drain the channel.
func runAggregator(t *testing.T, s *store.MockStore, cfg AggregatorConfig, messages [][]watermark.Part) {
	t.Helper()

	in := make(chan []watermark.Part, len(messages))
	for _, m := range messages {
		in <- m
	}
	close(in)

	done := make(chan error, 1)
	go func() {
		done <- NewAggregator("events", s, cfg, in, nil, nil).Run(context.Background())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("aggregator did not drain")
	}
}

func persistedCheckpoint(t *testing.T, s *store.MockStore) (uint64, bool) {
	t.Helper()
	wm, has := s.CommitterWatermark("events")
	return wm.CheckpointHiInclusive, has
}

func TestAggregatorAdvancesContiguousPrefix(t *testing.T) {
	s := store.NewMockStore()
	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(0, 3, 3)},
		{part(1, 2, 2), part(2, 1, 1)},
	})

	cp, has := persistedCheckpoint(t, s)
	require.True(t, has)
	assert.Equal(t, uint64(2), cp)
}

func TestAggregatorWaitsForPartialCoverage(t *testing.T) {
	s := store.NewMockStore()
	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(0, 4, 10)},
	})

	_, has := persistedCheckpoint(t, s)
	assert.False(t, has, "watermark advanced on partial checkpoint coverage")

	// The remaining parts complete the checkpoint.
	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(0, 4, 10)},
		{part(0, 6, 10)},
	})
	cp, has := persistedCheckpoint(t, s)
	require.True(t, has)
	assert.Equal(t, uint64(0), cp)
}

func TestAggregatorReordersCompletions(t *testing.T) {
	s := store.NewMockStore()
	// Checkpoint 1 completes before checkpoint 0: no advance until 0 lands.
	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(1, 2, 2)},
		{part(0, 1, 1)},
	})

	cp, has := persistedCheckpoint(t, s)
	require.True(t, has)
	assert.Equal(t, uint64(1), cp)
}

func TestAggregatorHaltsOnGap(t *testing.T) {
	s := store.NewMockStore()
	// Checkpoint 0 commits, then checkpoint 10 directly; 1-9 never arrive.
	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(0, 1, 1)},
		{part(10, 1, 1)},
	})

	cp, has := persistedCheckpoint(t, s)
	require.True(t, has)
	assert.Equal(t, uint64(0), cp, "watermark must halt at the gap, not skip it")
}

func TestAggregatorResumesFromPersistedWatermark(t *testing.T) {
	s := store.NewMockStore()

	ctx := context.Background()
	conn, err := s.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.SetCommitterWatermark(ctx, "events", watermark.CommitterWatermark{CheckpointHiInclusive: 5})
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(6, 1, 1)},
	})

	cp, has := persistedCheckpoint(t, s)
	require.True(t, has)
	assert.Equal(t, uint64(6), cp)
}

func TestAggregatorRetriesFailedPersist(t *testing.T) {
	s := store.NewMockStore()
	s.FailOp("SetCommitterWatermark", 1)

	runAggregator(t, s, AggregatorConfig{}, [][]watermark.Part{
		{part(0, 1, 1)}, // persist fails, watermark stays dirty
		{part(1, 1, 1)}, // next message retries the persist
	})

	cp, has := persistedCheckpoint(t, s)
	require.True(t, has)
	assert.Equal(t, uint64(1), cp)
}

func TestNewBatchAssignsID(t *testing.T) {
	b := NewBatch([]int{1, 2, 3}, []watermark.Part{part(0, 3, 3)})
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", b.BatchID.String())
	assert.Equal(t, 3, b.Len())
}

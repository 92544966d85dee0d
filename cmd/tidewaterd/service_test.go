package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-io/tidewater/internal/config"
	"github.com/tidewater-io/tidewater/internal/rowstore"
	"github.com/tidewater-io/tidewater/internal/store/sqlite"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

func testConfig(t *testing.T, pipelines ...string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "tidewater.db")
	cfg.Observability.MetricsAddr = ""
	for _, name := range pipelines {
		cfg.Pipelines = append(cfg.Pipelines, config.PipelineConfig{
			Name:      name,
			Committer: config.DefaultCommitter(),
			Pruner:    config.DefaultPruner(),
		})
	}
	return cfg
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceOptions{})
	require.Error(t, err)

	_, err = NewService(ServiceOptions{Config: config.Default()})
	require.Error(t, err)

	cfg := testConfig(t, "events")
	cfg.Store.Compression = "brotli"
	_, err = NewService(ServiceOptions{Config: cfg})
	require.Error(t, err)
}

func TestServiceCommitsFeedEndToEnd(t *testing.T) {
	cfg := testConfig(t, "events")

	feed := strings.NewReader(`
{"checkpoint":0,"epoch":1,"txHi":10,"timestampMs":1000,"rows":[{"id":"a","payload":"b25l"},{"id":"b","payload":"dHdv"}]}
{"checkpoint":1,"epoch":1,"txHi":20,"timestampMs":2000,"rows":[{"id":"c","payload":"dGhyZWU="}]}
{"checkpoint":2,"epoch":1,"txHi":30,"timestampMs":3000,"rows":[]}
`)

	service, err := NewService(ServiceOptions{
		Config:    cfg,
		Feed:      feed,
		BatchRows: 1,
		Registry:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	// The feed drains quickly; wait for the watermark to reach the last
	// checkpoint before shutting down.
	db, err := sqlite.Open(cfg.Store.Path)
	require.NoError(t, err)
	defer db.Close()

	deadline := time.Now().Add(10 * time.Second)
	for {
		// Reads may fail until the service has created the schema.
		wm := func() *watermark.CommitterWatermark {
			conn, err := db.Connect(ctx)
			if err != nil {
				return nil
			}
			defer conn.Release()
			wm, err := conn.CommitterWatermark(ctx, "events")
			if err != nil {
				return nil
			}
			return wm
		}()
		if wm != nil && wm.CheckpointHiInclusive == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watermark did not reach checkpoint 2, got %+v", wm)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	rows, err := rowstore.Rows(context.Background(), db.DB(), "events", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []byte("one"), rows[0].Payload)
	assert.Equal(t, []byte("three"), rows[2].Payload)
}

func TestServiceFansOutToAllPipelines(t *testing.T) {
	cfg := testConfig(t, "events", "objects")

	feed := strings.NewReader(
		`{"checkpoint":0,"epoch":1,"txHi":1,"timestampMs":1000,"rows":[{"id":"a","payload":"eA=="}]}` + "\n")

	service, err := NewService(ServiceOptions{
		Config:   cfg,
		Feed:     feed,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	db, err := sqlite.Open(cfg.Store.Path)
	require.NoError(t, err)
	defer db.Close()

	deadline := time.Now().Add(10 * time.Second)
	for {
		events, _ := rowstore.Rows(ctx, db.DB(), "events", 0, 10)
		objects, _ := rowstore.Rows(ctx, db.DB(), "objects", 0, 10)
		if len(events) == 1 && len(objects) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rows not committed to both pipelines (events=%d objects=%d)",
				len(events), len(objects))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Path != "tidewater.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.Observability.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/tidewater/state.db
  compression: snappy
observability:
  logLevel: debug
pipelines:
  - name: events
    committer:
      writeConcurrency: 8
    pruner:
      intervalMs: 1000
      delayMs: 2000
      retention: 100000
      maxChunkSize: 500
      pruneConcurrency: 4
  - name: balances
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Store.Path != "/var/lib/tidewater/state.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Store.Compression != "snappy" {
		t.Errorf("compression = %q", cfg.Store.Compression)
	}
	if len(cfg.Pipelines) != 2 {
		t.Fatalf("pipelines = %d, want 2", len(cfg.Pipelines))
	}

	events := cfg.Pipelines[0]
	if events.Committer.WriteConcurrency != 8 {
		t.Errorf("writeConcurrency = %d", events.Committer.WriteConcurrency)
	}
	if events.Pruner.PruneConcurrency != 4 {
		t.Errorf("pruneConcurrency = %d", events.Pruner.PruneConcurrency)
	}

	// Unset pipeline options fall back to defaults.
	balances := cfg.Pipelines[1]
	if balances.Committer.WriteConcurrency != DefaultCommitter().WriteConcurrency {
		t.Errorf("default writeConcurrency = %d", balances.Committer.WriteConcurrency)
	}
	if balances.Pruner.MaxChunkSize != DefaultPruner().MaxChunkSize {
		t.Errorf("default maxChunkSize = %d", balances.Pruner.MaxChunkSize)
	}
	// Retention deliberately has no default: zero disables pruning-driven
	// reader watermark advancement.
	if balances.Pruner.Retention != 0 {
		t.Errorf("retention = %d, want 0", balances.Pruner.Retention)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIDEWATER_STORE_PATH", "/tmp/env.db")
	t.Setenv("TIDEWATER_LOG_FORMAT", "text")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Path != "/tmp/env.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Observability.LogFormat != "text" {
		t.Errorf("log format = %q", cfg.Observability.LogFormat)
	}
}

func TestValidateRejectsDuplicatePipelines(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - name: events
  - name: events
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duplicate pipeline error")
	}
}

func TestValidateRejectsUnnamedPipeline(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - committer:
      writeConcurrency: 2
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unnamed pipeline error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Package config provides configuration loading and validation for
// Tidewater. Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a Tidewater daemon.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Pipelines     []PipelineConfig    `yaml:"pipelines"`
}

type StoreConfig struct {
	Path        string `yaml:"path" env:"TIDEWATER_STORE_PATH"`
	Compression string `yaml:"compression" env:"TIDEWATER_STORE_COMPRESSION"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"TIDEWATER_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"TIDEWATER_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"TIDEWATER_LOG_FORMAT"`
}

type PipelineConfig struct {
	Name      string          `yaml:"name"`
	Committer CommitterConfig `yaml:"committer"`
	Pruner    PrunerConfig    `yaml:"pruner"`
}

type CommitterConfig struct {
	WriteConcurrency int  `yaml:"writeConcurrency"`
	SkipWatermark    bool `yaml:"skipWatermark"`
}

type PrunerConfig struct {
	IntervalMs       int64  `yaml:"intervalMs"`
	DelayMs          int64  `yaml:"delayMs"`
	Retention        uint64 `yaml:"retention"`
	MaxChunkSize     uint64 `yaml:"maxChunkSize"`
	PruneConcurrency int64  `yaml:"pruneConcurrency"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:        "tidewater.db",
			Compression: "zstd",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9184",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// DefaultCommitter returns the default committer options.
func DefaultCommitter() CommitterConfig {
	return CommitterConfig{
		WriteConcurrency: 5,
	}
}

// DefaultPruner returns the default pruner options.
func DefaultPruner() PrunerConfig {
	return PrunerConfig{
		IntervalMs:       300000, // 5 minutes
		DelayMs:          120000, // 2 minutes
		Retention:        4000000,
		MaxChunkSize:     2000,
		PruneConcurrency: 1,
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates the result. An empty path returns the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TIDEWATER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TIDEWATER_STORE_COMPRESSION"); v != "" {
		c.Store.Compression = v
	}
	if v := os.Getenv("TIDEWATER_METRICS_ADDR"); v != "" {
		c.Observability.MetricsAddr = v
	}
	if v := os.Getenv("TIDEWATER_LOG_LEVEL"); v != "" {
		c.Observability.LogLevel = v
	}
	if v := os.Getenv("TIDEWATER_LOG_FORMAT"); v != "" {
		c.Observability.LogFormat = v
	}
	if v := os.Getenv("TIDEWATER_WRITE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			for i := range c.Pipelines {
				c.Pipelines[i].Committer.WriteConcurrency = n
			}
		}
	}
}

// applyDefaults fills zero-valued pipeline options.
func (c *Config) applyDefaults() {
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if p.Committer.WriteConcurrency <= 0 {
			p.Committer.WriteConcurrency = DefaultCommitter().WriteConcurrency
		}
		d := DefaultPruner()
		if p.Pruner.IntervalMs <= 0 {
			p.Pruner.IntervalMs = d.IntervalMs
		}
		if p.Pruner.DelayMs <= 0 {
			p.Pruner.DelayMs = d.DelayMs
		}
		if p.Pruner.MaxChunkSize == 0 {
			p.Pruner.MaxChunkSize = d.MaxChunkSize
		}
		if p.Pruner.PruneConcurrency <= 0 {
			p.Pruner.PruneConcurrency = d.PruneConcurrency
		}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path must not be empty")
	}

	seen := make(map[string]bool, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("config: pipeline name must not be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate pipeline %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

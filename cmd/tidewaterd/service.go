package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tidewater-io/tidewater/internal/codec"
	"github.com/tidewater-io/tidewater/internal/committer"
	"github.com/tidewater-io/tidewater/internal/config"
	"github.com/tidewater-io/tidewater/internal/logging"
	"github.com/tidewater-io/tidewater/internal/metrics"
	"github.com/tidewater-io/tidewater/internal/pipeline"
	"github.com/tidewater-io/tidewater/internal/pruner"
	"github.com/tidewater-io/tidewater/internal/rowstore"
	"github.com/tidewater-io/tidewater/internal/store"
	"github.com/tidewater-io/tidewater/internal/store/sqlite"
	"github.com/tidewater-io/tidewater/internal/watermark"
)

const channelDepth = 64

// ServiceOptions contains the configuration for creating a service.
type ServiceOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	Feed      io.Reader
	BatchRows int
	Version   string

	// Registry receives the service's metrics. Nil means the process-wide
	// default registry.
	Registry *prometheus.Registry
}

// Service runs the configured pipelines against one shared store: a
// committer, a watermark aggregator, and a pruner per pipeline, plus the
// feed fan-out and the metrics endpoint.
type Service struct {
	opts   ServiceOptions
	logger *logging.Logger

	db          *sqlite.Store
	store       store.Store
	compression codec.Type

	committerMetrics *metrics.CommitterMetrics
	prunerMetrics    *metrics.PrunerMetrics
}

// NewService creates a Service but does not start it.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Config == nil {
		return nil, errors.New("service: configuration is required")
	}
	if len(opts.Config.Pipelines) == 0 {
		return nil, errors.New("service: at least one pipeline must be configured")
	}

	compression, err := codec.Parse(opts.Config.Store.Compression)
	if err != nil {
		return nil, err
	}

	return &Service{
		opts:        opts,
		logger:      opts.Logger,
		compression: compression,
	}, nil
}

// Run starts everything and blocks until the context is cancelled or a
// pipeline fails fatally. The feed draining to completion is not a shutdown:
// pruners keep working until the signal arrives.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.opts.Config

	s.logger.Infof("starting tidewater", map[string]any{
		"version":   s.opts.Version,
		"store":     cfg.Store.Path,
		"pipelines": len(cfg.Pipelines),
	})

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := rowstore.EnsureSchema(db.DB()); err != nil {
		return err
	}
	s.db = db

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if s.opts.Registry != nil {
		reg = s.opts.Registry
	}
	storeMetrics := metrics.NewStoreMetricsWithRegistry(reg)
	s.store = store.NewInstrumentedStore(db, storeMetrics)
	s.committerMetrics = metrics.NewCommitterMetricsWithRegistry(reg)
	s.prunerMetrics = metrics.NewPrunerMetricsWithRegistry(reg)

	group, gctx := errgroup.WithContext(ctx)

	if cfg.Observability.MetricsAddr != "" {
		s.serveMetrics(gctx, group, cfg.Observability.MetricsAddr)
	}

	inputs := make([]chan pipeline.BatchedRows[rowstore.Row], len(cfg.Pipelines))
	for i, pc := range cfg.Pipelines {
		inputs[i] = make(chan pipeline.BatchedRows[rowstore.Row], channelDepth)
		s.runPipeline(gctx, group, pc, inputs[i])
	}

	group.Go(func() error {
		return s.fanOut(gctx, inputs)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("tidewater stopped")
	return nil
}

// runPipeline wires one pipeline's tasks into the group. The parts channel
// is closed once the committer drains, which lets the aggregator finish
// after the feed ends.
func (s *Service) runPipeline(
	ctx context.Context,
	group *errgroup.Group,
	pc config.PipelineConfig,
	in <-chan pipeline.BatchedRows[rowstore.Row],
) {
	handler := rowstore.NewHandler(pc.Name, s.compression)
	parts := make(chan []watermark.Part, channelDepth)

	comm := committer.New(handler, s.store, committer.Config{
		WriteConcurrency: pc.Committer.WriteConcurrency,
		SkipWatermark:    pc.Committer.SkipWatermark,
	}, in, parts, s.committerMetrics, s.logger)

	agg := pipeline.NewAggregator(pc.Name, s.store, pipeline.AggregatorConfig{},
		parts, s.committerMetrics, s.logger)

	pr := pruner.New(handler, s.store, pruner.Config{
		Interval:         time.Duration(pc.Pruner.IntervalMs) * time.Millisecond,
		Delay:            time.Duration(pc.Pruner.DelayMs) * time.Millisecond,
		Retention:        pc.Pruner.Retention,
		MaxChunkSize:     pc.Pruner.MaxChunkSize,
		PruneConcurrency: pc.Pruner.PruneConcurrency,
	}, s.prunerMetrics, s.logger)

	group.Go(func() error {
		defer close(parts)
		return comm.Run(ctx)
	})
	group.Go(func() error {
		return agg.Run(ctx)
	})
	group.Go(func() error {
		return pr.Run(ctx)
	})
}

// fanOut reads the checkpoint feed and delivers each batch to every
// pipeline. Input channels are closed at feed EOF so committers can drain.
func (s *Service) fanOut(ctx context.Context, inputs []chan pipeline.BatchedRows[rowstore.Row]) error {
	defer func() {
		for _, in := range inputs {
			close(in)
		}
	}()

	feed := newFeedReader(s.opts.Feed, s.opts.BatchRows)
	for {
		batches, err := feed.Next()
		if errors.Is(err, io.EOF) {
			s.logger.Info("checkpoint feed drained")
			return nil
		}
		if err != nil {
			return err
		}
		for _, batch := range batches {
			for _, in := range inputs {
				select {
				case in <- batch:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Service) serveMetrics(ctx context.Context, group *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	if s.opts.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	server := &http.Server{Addr: addr, Handler: mux}

	group.Go(func() error {
		s.logger.Infof("metrics endpoint listening", map[string]any{"addr": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tidewater-io/tidewater/internal/config"
	"github.com/tidewater-io/tidewater/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Handle version flag before subcommand parsing
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("tidewaterd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "run":
		runDaemon(os.Args[2:])
	case "version":
		fmt.Printf("tidewaterd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: tidewaterd <command> [options]

Commands:
  run         Start the indexing pipelines
  version     Print version information

Run 'tidewaterd <command> --help' for more information on a command.`)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	storePath := fs.String("store", "", "Override store database path")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9184)")
	feedPath := fs.String("feed", "-", "Checkpoint feed: path to an NDJSON file, or - for stdin")
	batchRows := fs.Int("batch-rows", 0, "Split each checkpoint into batches of at most this many rows (0 = one batch per checkpoint)")

	fs.Usage = func() {
		fmt.Println(`Usage: tidewaterd run [options]

Start the configured indexing pipelines, reading checkpoints from the feed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	var feed io.ReadCloser
	if *feedPath == "-" {
		feed = os.Stdin
	} else {
		feed, err = os.Open(*feedPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open feed: %v\n", err)
			os.Exit(1)
		}
		defer feed.Close()
	}

	service, err := NewService(ServiceOptions{
		Config:    cfg,
		Logger:    logger,
		Feed:      feed,
		BatchRows: *batchRows,
		Version:   version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create service: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx); err != nil {
		logger.Errorf("service exited with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// Fraudgraph - Graph-based unsupervised fraud detection.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/fraudgraph/internal/api"
	"github.com/opensource-finance/fraudgraph/internal/bus"
	"github.com/opensource-finance/fraudgraph/internal/cache"
	"github.com/opensource-finance/fraudgraph/internal/config"
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/ingest"
	"github.com/opensource-finance/fraudgraph/internal/metrics"
	"github.com/opensource-finance/fraudgraph/internal/pipeline"
	"github.com/opensource-finance/fraudgraph/internal/store"
	"github.com/opensource-finance/fraudgraph/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type options struct {
	configPath   string
	load         string
	serve        bool
	percentile   float64
	mode         string
	skipBasic    bool
	evaluateOnly bool
	cleanup      bool
	weights      string
	batchSize    int
	report       string
	scoresCSV    string
	accountsCSV  string

	percentileSet bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("fraudgraph", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.load, "load", "", "CSV file of transfers to load before running")
	fs.BoolVar(&o.serve, "serve", false, "serve the HTTP API and run worker instead of a single run")
	fs.Float64Var(&o.percentile, "percentile", 0.99, "percentile cutoff for baseline flags, in [0,1]")
	fs.StringVar(&o.mode, "mode", "", "refiner filter mode: precision, recall or balanced")
	fs.BoolVar(&o.skipBasic, "skip-basic", false, "reuse the stored anomaly_score instead of rescoring")
	fs.BoolVar(&o.evaluateOnly, "evaluate-only", false, "only evaluate the stored flags")
	fs.BoolVar(&o.cleanup, "cleanup", false, "remove every derived property after the run")
	fs.StringVar(&o.weights, "weights", "", "JSON file of feature weights")
	fs.IntVar(&o.batchSize, "batch-size", 0, "rows per batched write")
	fs.StringVar(&o.report, "report", "", "JSON report target: file path or s3://bucket/key")
	fs.StringVar(&o.scoresCSV, "export-scores", "", "CSV export of transfer scores")
	fs.StringVar(&o.accountsCSV, "export-accounts", "", "CSV export of top accounts")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "percentile" {
			o.percentileSet = true
		}
	})
	if o.percentileSet && (o.percentile < 0 || o.percentile > 1) {
		return nil, &domain.ConfigError{Field: "percentile", Reason: fmt.Sprintf("must be within [0,1], got %v", o.percentile)}
	}
	if o.mode != "" {
		if _, err := domain.ParseFilterMode(o.mode); err != nil {
			return nil, err
		}
	}
	if o.batchSize < 0 {
		return nil, &domain.ConfigError{Field: "batch-size", Reason: "must be positive"}
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		slog.Error("fraudgraph failed", "error", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, opts); err != nil {
		return err
	}

	setupLogging(cfg.Logging)
	slog.Info("starting fraudgraph",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"percentile", cfg.Pipeline.Percentile,
		"mode", cfg.Pipeline.Refiner.Mode,
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	if opts.load != "" {
		if err := loadFile(ctx, cfg, st, opts.load); err != nil {
			return err
		}
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New(cfg.Metrics.Namespace)
	}

	if opts.serve {
		return serve(ctx, cfg, st, reg)
	}

	p, err := pipeline.New(cfg.Pipeline, st,
		pipeline.WithLogger(slog.Default()),
		pipeline.WithMetrics(reg),
		pipeline.WithReport(cfg.Report),
	)
	if err != nil {
		return err
	}

	report, err := p.Run(ctx, pipeline.RunOptions{
		SkipBasic:    opts.skipBasic,
		EvaluateOnly: opts.evaluateOnly,
		Cleanup:      opts.cleanup,
	})
	if err != nil {
		return err
	}
	printSummary(report)
	return nil
}

// applyFlags layers command-line overrides on the loaded configuration.
func applyFlags(cfg *domain.Config, opts *options) error {
	if opts.percentileSet {
		cfg.Pipeline.Percentile = opts.percentile
	}
	if opts.mode != "" {
		mode, _ := domain.ParseFilterMode(opts.mode)
		if mode != cfg.Pipeline.Refiner.Mode {
			cfg.Pipeline.Refiner.Mode = mode
			cfg.Pipeline.Refiner.FilterRules = nil
		}
	}
	if opts.weights != "" {
		w, err := config.LoadWeights(opts.weights)
		if err != nil {
			return err
		}
		cfg.Pipeline.Weights = w
	}
	if opts.batchSize > 0 {
		cfg.Pipeline.BatchSize = opts.batchSize
	}
	if opts.report != "" {
		cfg.Report.Path = opts.report
	}
	if opts.scoresCSV != "" {
		cfg.Report.ScoresCSV = opts.scoresCSV
	}
	if opts.accountsCSV != "" {
		cfg.Report.AccountsCSV = opts.accountsCSV
	}
	return config.Validate(cfg)
}

func setupLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadFile(ctx context.Context, cfg *domain.Config, st *store.SQLStore, path string) error {
	var copier ingest.Copier
	if cfg.Store.Driver == "postgres" {
		pg, err := ingest.NewPGCopier(ctx, store.PostgresDSN(cfg.Store))
		if err != nil {
			return fmt.Errorf("initialize bulk loader: %w", err)
		}
		defer pg.Close()
		copier = pg
	}

	loader := ingest.NewLoader(st, copier, cfg.Pipeline.BatchSize, slog.Default())
	stats, err := loader.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	slog.Info("load completed",
		"rows", stats.Rows,
		"accounts", stats.Accounts,
		"fraud", stats.Fraud,
	)
	return nil
}

func serve(ctx context.Context, cfg *domain.Config, st *store.SQLStore, reg *metrics.Registry) error {
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	p, err := pipeline.New(cfg.Pipeline, st,
		pipeline.WithLogger(slog.Default()),
		pipeline.WithBus(busImpl),
		pipeline.WithMetrics(reg),
		pipeline.WithReport(cfg.Report),
	)
	if err != nil {
		return err
	}

	runWorker := worker.NewWorker(busImpl, p, cacheImpl, slog.Default())
	if err := runWorker.Start(worker.Config{}); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, st, cacheImpl, busImpl, p, reg, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fraudgraph is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop the worker first so no run starts during shutdown
	if err := runWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudgraph shutdown complete")
	return serveErr
}

func printSummary(r *domain.Report) {
	m := r.Final
	fmt.Println()
	fmt.Printf("  Run:        %s\n", r.RunID)
	fmt.Printf("  Percentile: %.4f\n", r.Percentile)
	if r.Mode != "" {
		fmt.Printf("  Mode:       %s\n", r.Mode)
	}
	fmt.Println()
	fmt.Println("                    Predicted")
	fmt.Println("                 Fraud    Legit")
	fmt.Printf("  Actual Fraud  %7d  %7d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("  Actual Legit  %7d  %7d\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println()
	fmt.Printf("  Precision: %6.2f%%\n", m.Precision*100)
	fmt.Printf("  Recall:    %6.2f%%\n", m.Recall*100)
	fmt.Printf("  F1:        %6.2f%%\n", m.F1*100)
	fmt.Printf("  Accuracy:  %6.2f%%\n", m.Accuracy*100)
	if b := r.Baseline; b != nil {
		fmt.Printf("  Baseline:  precision %.2f%%, recall %.2f%%\n", b.Precision*100, b.Recall*100)
	}
	if len(r.Tiers) > 0 {
		fmt.Println()
		fmt.Println("  Tier        Flagged   Precision")
		for _, t := range r.Tiers {
			fmt.Printf("  %-10s  %7d   %6.2f%%\n", t.Name, t.Flagged, t.Precision*100)
		}
	}
	fmt.Println()
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FRAUDGRAPH - graph-based fraud detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Profile:  %s\n", cfg.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /stats                     - Store counts")
	fmt.Println("    GET  /transfers/flagged?limit=N - Highest scoring flagged transfers")
	fmt.Println("    GET  /accounts/top?limit=N      - Accounts by anomaly score")
	fmt.Println("    GET  /report                    - Last run report")
	fmt.Println("    POST /runs                      - Queue a pipeline run")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}

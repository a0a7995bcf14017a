// Benchmark tool for repeat-run stability of the fraudgraph pipeline.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/paysim.csv
//
// This tool:
//   1. Loads a labelled transfer CSV into a scratch SQLite store
//   2. Runs the full pipeline, captures every flag, cleans up, and runs again
//   3. Verifies that flags, scores and metrics are identical across runs
//   4. Prints the confusion matrix, detection metrics and phase timings
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/ingest"
	"github.com/opensource-finance/fraudgraph/internal/pipeline"
	"github.com/opensource-finance/fraudgraph/internal/store"
)

// snapshot is the per-transfer state compared across runs.
type snapshot map[int64][2]float64

// runResult is one pipeline pass.
type runResult struct {
	report   *domain.Report
	flags    snapshot
	duration time.Duration
}

func main() {
	csvPath := flag.String("csv", "", "Path to transfer CSV file (generic or PaySim columns)")
	dbPath := flag.String("db", "", "SQLite file to use (default: temporary)")
	runs := flag.Int("runs", 2, "Number of pipeline runs, with cleanup in between")
	percentile := flag.Float64("percentile", 0.99, "Percentile cutoff for baseline flags")
	mode := flag.String("mode", "balanced", "Refiner filter mode: precision, recall or balanced")
	batchSize := flag.Int("batch-size", 5000, "Rows per batched write")
	verbose := flag.Bool("verbose", false, "Log pipeline phases")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transfers.csv [-runs 2]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *runs < 2 {
		*runs = 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	filterMode, err := domain.ParseFilterMode(*mode)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("===============================================================")
	fmt.Println("          FRAUDGRAPH BENCHMARK - repeat-run stability")
	fmt.Println("===============================================================")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Runs:        %d\n", *runs)
	fmt.Printf("Percentile:  %.4f\n", *percentile)
	fmt.Printf("Mode:        %s\n", filterMode)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Println()

	path := *dbPath
	if path == "" {
		dir, err := os.MkdirTemp("", "fraudgraph-bench-*")
		if err != nil {
			fmt.Printf("ERROR: failed to create scratch dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "bench.db")
	}

	if err := run(context.Background(), *csvPath, path, *runs, *percentile, filterMode, *batchSize, logger); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, csvPath, dbPath string, runs int, percentile float64, mode domain.FilterMode, batchSize int, logger *slog.Logger) error {
	st, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	fmt.Printf("Loading %s...\n", csvPath)
	loadStart := time.Now()
	stats, err := ingest.NewLoader(st, nil, batchSize, logger).LoadFile(ctx, csvPath)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	fmt.Printf("  Loaded %d transfers, %d accounts in %v\n", stats.Rows, stats.Accounts, time.Since(loadStart).Round(time.Millisecond))
	if stats.Rows > 0 {
		fmt.Printf("  - Fraud:     %d (%.2f%%)\n", stats.Fraud, 100*float64(stats.Fraud)/float64(stats.Rows))
		fmt.Printf("  - Non-fraud: %d\n", stats.Rows-stats.Fraud)
	}

	cfg := domain.DefaultPipelineConfig()
	cfg.Percentile = percentile
	cfg.Refiner.Mode = mode
	cfg.BatchSize = batchSize
	p, err := pipeline.New(cfg, st, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	results := make([]runResult, 0, runs)
	for i := 0; i < runs; i++ {
		if i > 0 {
			res, err := p.Cleanup(ctx)
			if err != nil {
				return fmt.Errorf("cleanup before run %d: %w", i+1, err)
			}
			fmt.Printf("  Cleanup removed %d account and %d transfer properties\n", res.AccountProperties, res.TransferProperties)
		}

		fmt.Printf("\nRun %d/%d...\n", i+1, runs)
		start := time.Now()
		report, err := p.Run(ctx, pipeline.RunOptions{RunID: fmt.Sprintf("bench-%d", i+1)})
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		duration := time.Since(start)

		flags, err := capture(ctx, st)
		if err != nil {
			return err
		}
		results = append(results, runResult{report: report, flags: flags, duration: duration})
		fmt.Printf("  Completed in %v\n", duration.Round(time.Millisecond))
	}

	mismatches := compare(results)
	printResults(results, mismatches)
	if mismatches > 0 {
		return fmt.Errorf("%d differences between runs", mismatches)
	}
	return nil
}

// capture reads the flag and anomaly score of every transfer.
func capture(ctx context.Context, st *store.SQLStore) (snapshot, error) {
	snap := make(snapshot)
	err := st.TransferScores(ctx, []string{domain.PropFlagged, domain.PropAnomalyScore}, nil, func(ts domain.TransferScore) error {
		snap[ts.ID] = [2]float64{ts.Props[domain.PropFlagged], ts.Props[domain.PropAnomalyScore]}
		return nil
	})
	return snap, err
}

// compare counts transfers and metrics that differ from the first run.
func compare(results []runResult) int {
	base := results[0]
	mismatches := 0
	for _, r := range results[1:] {
		if len(r.flags) != len(base.flags) {
			mismatches++
		}
		for id, v := range base.flags {
			if r.flags[id] != v {
				mismatches++
			}
		}
		if r.report.Final != base.report.Final {
			mismatches++
		}
	}
	return mismatches
}

func printResults(results []runResult, mismatches int) {
	last := results[len(results)-1]
	m := last.report.Final

	fmt.Println("\n===============================================================")
	fmt.Println("                      BENCHMARK RESULTS")
	fmt.Println("===============================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Transfers:  %d\n", m.Total)
	fmt.Printf("   Total Fraud:      %d\n", m.TruePositives+m.FalseNegatives)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.FalsePositives+m.TrueNegatives)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FLAGGED     CLEAR")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", m.Precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", m.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", m.F1)
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy)
	if b := last.report.Baseline; b != nil {
		fmt.Printf("   Baseline:   precision %.4f, recall %.4f, F1 %.4f\n", b.Precision, b.Recall, b.F1)
	}

	if len(last.report.Tiers) > 0 {
		fmt.Printf("\nCONFIDENCE TIERS\n")
		for _, t := range last.report.Tiers {
			fmt.Printf("   %-10s  %8d flagged  precision %.4f\n", t.Name, t.Flagged, t.Precision)
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	for i, r := range results {
		fmt.Printf("   Run %d:            %v\n", i+1, r.duration.Round(time.Millisecond))
	}
	fmt.Println("   Phases (last run):")
	for _, ph := range last.report.Phases {
		if ph.Skipped {
			fmt.Printf("     %-10s  skipped\n", ph.Phase)
			continue
		}
		fmt.Printf("     %-10s  %8d ms  %10d rows\n", ph.Phase, ph.DurationMs, ph.Rows)
	}

	fmt.Printf("\nSTABILITY\n")
	if mismatches == 0 {
		fmt.Printf("   OK: %d runs produced identical flags, scores and metrics\n", len(results))
	} else {
		fmt.Printf("   FAIL: %d differences between runs\n", mismatches)
	}
	fmt.Println()
}

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"percentile", []string{"--percentile", "0.95"}, false},
		{"percentile out of range", []string{"--percentile", "1.2"}, true},
		{"mode", []string{"--mode", "recall"}, false},
		{"unknown mode", []string{"--mode", "fast"}, true},
		{"negative batch", []string{"--batch-size", "-5"}, true},
		{"unknown flag", []string{"--workers", "4"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}

	opts, _ := parseFlags(nil)
	if opts.percentileSet {
		t.Error("default percentile should not count as an override")
	}
}

func TestApplyFlags(t *testing.T) {
	dir := t.TempDir()
	weightsPath := filepath.Join(dir, "weights.json")
	weights := `{"degScore":0.5,"maxAmountRatio":0.2,"hubScore":0.1,"normCommunitySize":0.1,"tempBurst":0.1}`
	if err := os.WriteFile(weightsPath, []byte(weights), 0o600); err != nil {
		t.Fatalf("failed to write weights: %v", err)
	}

	opts, err := parseFlags([]string{
		"--percentile", "0.9",
		"--mode", "precision",
		"--weights", weightsPath,
		"--batch-size", "250",
		"--report", "s3://bucket/run.json",
		"--export-scores", filepath.Join(dir, "scores.csv"),
	})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	cfg := domain.DefaultConfig()
	cfg.Pipeline.Refiner.FilterRules = []domain.FilterRule{{ID: "custom", Expression: "amount < 1.0", Reason: "tiny"}}
	if err := applyFlags(cfg, opts); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}

	if cfg.Pipeline.Percentile != 0.9 {
		t.Errorf("percentile = %v", cfg.Pipeline.Percentile)
	}
	if cfg.Pipeline.Refiner.Mode != domain.ModePrecision || cfg.Pipeline.Refiner.FilterRules != nil {
		t.Errorf("mode override should reset filter rules: %+v", cfg.Pipeline.Refiner)
	}
	if cfg.Pipeline.Weights.DegScore != 0.5 || cfg.Pipeline.Weights.PRScore != 0 {
		t.Errorf("weights not applied: %+v", cfg.Pipeline.Weights)
	}
	if cfg.Pipeline.BatchSize != 250 || cfg.Report.Path != "s3://bucket/run.json" || cfg.Report.ScoresCSV == "" {
		t.Errorf("overrides not applied: batch %d report %+v", cfg.Pipeline.BatchSize, cfg.Report)
	}

	t.Run("BadWeights", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		os.WriteFile(bad, []byte(`{"degScore":0.5,"velocity":0.5}`), 0o600)
		opts, _ := parseFlags([]string{"--weights", bad})
		err := applyFlags(domain.DefaultConfig(), opts)
		if !errors.Is(err, domain.ErrUnknownWeight) {
			t.Errorf("expected ErrUnknownWeight, got %v", err)
		}
	})
}

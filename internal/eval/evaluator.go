package eval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Store is the read access the evaluator needs.
type Store interface {
	Labels(ctx context.Context) (map[int64]bool, error)
	TransferScores(ctx context.Context, numNames, textNames []string, fn func(domain.TransferScore) error) error
	AccountProperties(ctx context.Context, names ...string) (map[string]map[string]float64, error)
}

// Evaluator builds the evaluation report from stored flags and labels.
type Evaluator struct {
	store  Store
	logger *slog.Logger
}

// New creates an evaluator.
func New(store Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, logger: logger}
}

// Evaluate reads flags, tiers and rules for every transfer and compares them
// with the labels. An empty store yields a report of zeros.
func (e *Evaluator) Evaluate(ctx context.Context) (*domain.Report, error) {
	labels, err := e.store.Labels(ctx)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	flagged := make(map[int64]bool, len(labels))
	baseline := make(map[int64]bool, len(labels))
	tiers := make(map[int64]string)
	rules := make(map[int64]string)
	senders := make(map[int64]string, len(labels))
	hasBaseline := false

	err = e.store.TransferScores(ctx,
		[]string{domain.PropFlagged, domain.PropBaselineFlagged},
		[]string{domain.PropConfidenceTier, domain.PropDetectionRule},
		func(ts domain.TransferScore) error {
			senders[ts.ID] = ts.SenderID
			flagged[ts.ID] = ts.Props[domain.PropFlagged] == 1
			if v, ok := ts.Props[domain.PropBaselineFlagged]; ok {
				hasBaseline = true
				baseline[ts.ID] = v == 1
			}
			if tier := ts.Text[domain.PropConfidenceTier]; tier != "" {
				tiers[ts.ID] = tier
			}
			if rule := ts.Text[domain.PropDetectionRule]; rule != "" {
				rules[ts.ID] = rule
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}

	report := &domain.Report{
		GeneratedAt: time.Now().UTC(),
		Final:       Confusion(labels, flagged),
		Tiers:       Breakdown(labels, flagged, tiers, domain.Tiers),
		Rules:       Breakdown(labels, flagged, rules, nil),
	}
	if hasBaseline {
		m := Confusion(labels, baseline)
		report.Baseline = &m
	}

	names := make([]string, len(domain.AllFeatures))
	for i, f := range domain.AllFeatures {
		names[i] = string(f)
	}
	props, err := e.store.AccountProperties(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	report.FeatureImportance = FeatureImportance(props, senders, labels)

	if report.Final.Total == 0 {
		e.logger.Warn("evaluation over empty graph")
	}
	e.logger.Info("evaluation completed",
		"tp", report.Final.TruePositives,
		"fp", report.Final.FalsePositives,
		"fn", report.Final.FalseNegatives,
		"tn", report.Final.TrueNegatives,
		"precision", report.Final.Precision,
		"recall", report.Final.Recall,
		"f1", report.Final.F1,
	)
	return report, nil
}

// FeatureImportance correlates each sender feature with the transfer label,
// strongest first. Accounts without a stored feature contribute 0.
func FeatureImportance(props map[string]map[string]float64, senders map[int64]string, labels map[int64]bool) []domain.FeatureImportance {
	ids := make([]int64, 0, len(senders))
	for id := range senders {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	y := make([]float64, len(ids))
	for i, id := range ids {
		if labels[id] {
			y[i] = 1
		}
	}

	out := make([]domain.FeatureImportance, 0, len(domain.AllFeatures))
	x := make([]float64, len(ids))
	for _, f := range domain.AllFeatures {
		for i, id := range ids {
			x[i] = props[senders[id]][string(f)]
		}
		out = append(out, domain.FeatureImportance{Feature: string(f), Correlation: Pearson(x, y)})
	}

	slices.SortStableFunc(out, func(a, b domain.FeatureImportance) int {
		return cmp.Compare(math.Abs(b.Correlation), math.Abs(a.Correlation))
	})
	return out
}

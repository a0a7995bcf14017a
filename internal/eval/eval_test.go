package eval

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/store"
)

// scenario builds 100 transfers, 10 fraudulent, with 8 flagged of which 6
// are fraud.
func scenario() (labels, flagged map[int64]bool) {
	labels = make(map[int64]bool)
	flagged = make(map[int64]bool)
	for id := int64(1); id <= 100; id++ {
		labels[id] = id <= 10
	}
	for _, id := range []int64{1, 2, 3, 4, 5, 6, 11, 12} {
		flagged[id] = true
	}
	return labels, flagged
}

func TestConfusionScenario(t *testing.T) {
	labels, flagged := scenario()
	m := Confusion(labels, flagged)

	if m.TruePositives != 6 || m.FalsePositives != 2 || m.FalseNegatives != 4 || m.TrueNegatives != 88 {
		t.Fatalf("unexpected confusion matrix %+v", m)
	}
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"precision", m.Precision, 0.75},
		{"recall", m.Recall, 0.60},
		{"f1", m.F1, 2.0 / 3.0},
		{"accuracy", m.Accuracy, 0.94},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestConfusionZeroDenominators(t *testing.T) {
	tests := []struct {
		name    string
		labels  map[int64]bool
		flagged map[int64]bool
	}{
		{"empty", map[int64]bool{}, nil},
		{"nothing flagged no fraud", map[int64]bool{1: false, 2: false}, nil},
		{"nothing flagged with fraud", map[int64]bool{1: true, 2: false}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Confusion(tt.labels, tt.flagged)
			if m.Precision != 0 || m.F1 != 0 {
				t.Errorf("expected zero precision and F1, got %+v", m)
			}
			if math.IsNaN(m.Recall) || math.IsNaN(m.Accuracy) {
				t.Errorf("ratios must not be NaN: %+v", m)
			}
		})
	}
}

func TestConfusionCountIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("outcome counts sum to total", prop.ForAll(
		func(fraud, flags []bool) bool {
			labels := make(map[int64]bool, len(fraud))
			flagged := make(map[int64]bool)
			for i, f := range fraud {
				labels[int64(i)] = f
				if i < len(flags) && flags[i] {
					flagged[int64(i)] = true
				}
			}
			m := Confusion(labels, flagged)
			if m.TruePositives+m.FalsePositives+m.FalseNegatives+m.TrueNegatives != m.Total {
				return false
			}
			if m.Total != int64(len(fraud)) {
				return false
			}
			for _, v := range []float64{m.Precision, m.Recall, m.F1, m.Accuracy} {
				if v < 0 || v > 1 || math.IsNaN(v) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestBreakdown(t *testing.T) {
	labels, flagged := scenario()
	tiers := map[int64]string{
		1: domain.TierHigh, 2: domain.TierHigh, 11: domain.TierHigh,
		3: domain.TierVeryHigh, 4: domain.TierVeryHigh,
		5: "custom", 6: "custom", 12: "custom",
		50: domain.TierLow, // not flagged
	}

	got := Breakdown(labels, flagged, tiers, domain.Tiers)
	want := []domain.Breakdown{
		{Name: domain.TierVeryHigh, Flagged: 2, TruePositives: 2, Precision: 1},
		{Name: domain.TierHigh, Flagged: 3, TruePositives: 2, FalsePositives: 1, Precision: 2.0 / 3.0},
		{Name: "custom", Flagged: 3, TruePositives: 2, FalsePositives: 1, Precision: 2.0 / 3.0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d groups, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Name != w.Name || g.Flagged != w.Flagged || g.TruePositives != w.TruePositives ||
			g.FalsePositives != w.FalsePositives || math.Abs(g.Precision-w.Precision) > 1e-9 {
			t.Errorf("group %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestPearson(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
		want float64
	}{
		{"perfect", []float64{1, 2, 3}, []float64{0, 0.5, 1}, 1},
		{"inverse", []float64{1, 2, 3}, []float64{1, 0, -1}, -1},
		{"zero variance x", []float64{2, 2, 2}, []float64{0, 1, 0}, 0},
		{"zero variance y", []float64{1, 2, 3}, []float64{1, 1, 1}, 0},
		{"single sample", []float64{1}, []float64{1}, 0},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pearson(tt.x, tt.y); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Pearson = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeatureImportance(t *testing.T) {
	props := map[string]map[string]float64{
		"bad":  {string(domain.FeatureDegree): 1, string(domain.FeaturePageRank): 0.5},
		"good": {string(domain.FeaturePageRank): 0.5},
	}
	senders := map[int64]string{1: "bad", 2: "bad", 3: "good", 4: "good"}
	labels := map[int64]bool{1: true, 2: true}

	got := FeatureImportance(props, senders, labels)
	if len(got) != len(domain.AllFeatures) {
		t.Fatalf("expected every feature, got %d", len(got))
	}
	if got[0].Feature != string(domain.FeatureDegree) || math.Abs(got[0].Correlation-1) > 1e-9 {
		t.Errorf("degree should rank first with correlation 1, got %+v", got[0])
	}
	for _, fi := range got[1:] {
		if fi.Correlation != 0 {
			t.Errorf("constant feature %s should correlate 0, got %v", fi.Feature, fi.Correlation)
		}
	}
}

func TestEvaluatorScenario(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "eval.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	records := make([]domain.TransferRecord, 100)
	accounts := make([]string, 0, 101)
	accounts = append(accounts, "sink")
	for i := range records {
		id := int64(i + 1)
		sender := fmt.Sprintf("acct-%d", id)
		accounts = append(accounts, sender)
		records[i] = domain.TransferRecord{
			Transfer: domain.Transfer{ID: id, SenderID: sender, ReceiverID: "sink", Amount: 100, Step: i},
			Fraud:    id <= 10,
		}
	}
	if err := s.InsertAccounts(ctx, accounts, 50); err != nil {
		t.Fatalf("InsertAccounts failed: %v", err)
	}
	if err := s.InsertTransfers(ctx, records, 50); err != nil {
		t.Fatalf("InsertTransfers failed: %v", err)
	}

	_, flagged := scenario()
	var values []store.TransferValue
	for id := int64(1); id <= 100; id++ {
		values = append(values,
			store.BoolValue(id, domain.PropFlagged, flagged[id]),
			store.BoolValue(id, domain.PropBaselineFlagged, id <= 10),
		)
		if flagged[id] {
			values = append(values,
				store.TextValue(id, domain.PropConfidenceTier, domain.TierVeryHigh),
				store.TextValue(id, domain.PropDetectionRule, "percentile_high"),
			)
		}
	}
	if err := s.WriteTransferProperties(ctx, values, 50); err != nil {
		t.Fatalf("WriteTransferProperties failed: %v", err)
	}

	report, err := New(s, nil).Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Final.TruePositives != 6 || report.Final.FalsePositives != 2 || report.Final.Total != 100 {
		t.Errorf("unexpected final metrics %+v", report.Final)
	}
	if report.Baseline == nil || report.Baseline.Recall != 1 || report.Baseline.Precision != 1 {
		t.Errorf("unexpected baseline metrics %+v", report.Baseline)
	}
	if len(report.Tiers) != 1 || report.Tiers[0].Flagged != 8 || report.Tiers[0].Precision != 0.75 {
		t.Errorf("unexpected tier breakdown %+v", report.Tiers)
	}
	if len(report.Rules) != 1 || report.Rules[0].Name != "percentile_high" {
		t.Errorf("unexpected rule breakdown %+v", report.Rules)
	}
	if len(report.FeatureImportance) != len(domain.AllFeatures) {
		t.Errorf("expected importance for every feature, got %d", len(report.FeatureImportance))
	}
}

func TestEvaluatorEmptyStore(t *testing.T) {
	s, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "empty.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	report, err := New(s, nil).Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Final.Total != 0 || report.Final.Precision != 0 || report.Baseline != nil {
		t.Errorf("expected zero report, got %+v", report)
	}
}

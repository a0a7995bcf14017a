package domain

import (
	"time"
)

// Confidence tiers assigned by the refiner.
const (
	TierVeryHigh = "very_high"
	TierHigh     = "high"
	TierMedium   = "medium"
	TierLow      = "low"
)

// Tiers lists confidence tiers from strongest to weakest.
var Tiers = []string{TierVeryHigh, TierHigh, TierMedium, TierLow}

// Tier maps a confidence value to its tier name. Confidence below the low
// threshold has no tier.
func (t TierThresholds) Tier(confidence float64) string {
	switch {
	case confidence >= t.VeryHigh:
		return TierVeryHigh
	case confidence >= t.High:
		return TierHigh
	case confidence >= t.Medium:
		return TierMedium
	case confidence >= t.Low:
		return TierLow
	default:
		return ""
	}
}

// Metrics is a confusion matrix with derived rates.
type Metrics struct {
	TruePositives  int64   `json:"tp"`
	FalsePositives int64   `json:"fp"`
	FalseNegatives int64   `json:"fn"`
	TrueNegatives  int64   `json:"tn"`
	Total          int64   `json:"total"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Accuracy       float64 `json:"accuracy"`
}

// Breakdown reports precision for one tier or detection rule.
type Breakdown struct {
	Name           string  `json:"name"`
	Flagged        int64   `json:"flagged"`
	TruePositives  int64   `json:"tp"`
	FalsePositives int64   `json:"fp"`
	Precision      float64 `json:"precision"`
}

// FeatureImportance is the Pearson correlation between a normalised sender
// feature and the transfer fraud label.
type FeatureImportance struct {
	Feature     string  `json:"feature"`
	Correlation float64 `json:"correlation"`
}

// Report is the serialised evaluation output of a run.
type Report struct {
	RunID       string    `json:"runId"`
	GeneratedAt time.Time `json:"generatedAt"`
	Percentile  float64   `json:"percentile"`
	Mode        string    `json:"mode,omitempty"`

	Baseline *Metrics `json:"baseline,omitempty"`
	Final    Metrics  `json:"final"`

	Tiers []Breakdown `json:"tiers"`
	Rules []Breakdown `json:"rules"`

	FeatureImportance []FeatureImportance `json:"featureImportance"`
	Filtered          map[string]int64    `json:"filtered,omitempty"`

	Phases []PhaseTiming `json:"phases,omitempty"`
}

// PhaseTiming records how long a pipeline phase took.
type PhaseTiming struct {
	Phase      string `json:"phase"`
	Rows       int64  `json:"rows"`
	DurationMs int64  `json:"durationMs"`
	Skipped    bool   `json:"skipped,omitempty"`
}

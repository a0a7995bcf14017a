package patterns

import (
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/scoring"
)

// Signals are the sender-level inputs to hybrid fusion.
type Signals struct {
	Pattern   float64
	Cycling   float64
	Burst     float64
	TempBurst float64
	Split     float64
	Merge     float64

	Advanced    float64
	HasAdvanced bool
}

// Structuring is the stronger of the split and merge signals.
func (s Signals) Structuring() float64 {
	return max(s.Split, s.Merge)
}

// Fusion combines baseline, advanced and pattern scores into hybrid_score.
type Fusion struct {
	cfg domain.HybridConfig
}

// NewFusion creates a hybrid fusion with the given bonus thresholds.
func NewFusion(cfg domain.HybridConfig) *Fusion {
	return &Fusion{cfg: cfg}
}

// Fuse returns the pre-bonus blend and the final hybrid score capped at 1.
func (f *Fusion) Fuse(anomaly float64, hasAnomaly bool, s Signals) (enhanced, hybrid float64) {
	switch {
	case hasAnomaly && s.HasAdvanced:
		enhanced = 0.3*anomaly + 0.4*s.Advanced + 0.3*s.Pattern
	case hasAnomaly:
		enhanced = 0.6*anomaly + 0.4*s.Pattern
	case s.HasAdvanced:
		enhanced = 0.7*s.Advanced + 0.3*s.Pattern
	default:
		enhanced = s.Pattern
	}

	hybrid = enhanced + f.Bonus(s)
	return scoring.Clamp01(enhanced), scoring.Clamp01(hybrid)
}

// Bonus sums the fixed increments earned by strong sender signals.
func (f *Fusion) Bonus(s Signals) float64 {
	var bonus float64
	if s.Cycling >= f.cfg.CycleThreshold {
		bonus += f.cfg.CycleBonus
	}
	if s.Pattern >= f.cfg.PatternThreshold {
		bonus += f.cfg.PatternBonus
	}
	if s.Burst >= f.cfg.BurstThreshold || s.TempBurst >= f.cfg.TempBurstThreshold {
		bonus += f.cfg.TemporalBonus
	}
	if s.Structuring() >= f.cfg.StructuringThreshold {
		bonus += f.cfg.StructuringBonus
	}
	return bonus
}

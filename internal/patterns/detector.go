package patterns

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/scoring"
)

// Combination weights for advancedPatternScore. The mule-chain detector is
// not part of the combination; it feeds the hybrid bonuses and the refiner.
const (
	weightBurst       = 0.15
	weightNewAccount  = 0.20
	weightPassThrough = 0.20
	weightSplit       = 0.15
	weightMerge       = 0.15
	weightCycling     = 0.15
)

// Result holds every detector's per-account scores and the combined,
// normalised pattern score.
type Result struct {
	Burst       Scores
	NewAccount  Scores
	PassThrough Scores
	Split       Scores
	Merge       Scores
	Cycling     Scores
	MuleChain   Scores
	Pattern     Scores
}

// Property returns the detector scores keyed by account property name.
func (r *Result) Property(name string) Scores {
	switch name {
	case domain.PropBurstScore:
		return r.Burst
	case domain.PropNewAccountScore:
		return r.NewAccount
	case domain.PropPassthroughScore:
		return r.PassThrough
	case domain.PropSplitScore:
		return r.Split
	case domain.PropMergeScore:
		return r.Merge
	case domain.PropCyclingScore:
		return r.Cycling
	case domain.PropMuleChainScore:
		return r.MuleChain
	case domain.PropAdvancedPatternScore:
		return r.Pattern
	default:
		return nil
	}
}

// Detector runs the enabled detectors over a transfer snapshot.
type Detector struct {
	cfg       domain.PatternConfig
	maxCycles int
	logger    *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(cfg domain.PatternConfig, maxCycles int, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, maxCycles: maxCycles, logger: logger}
}

// Detect runs each enabled detector and combines the results. Disabled
// detectors contribute empty score maps.
func (d *Detector) Detect(ctx context.Context, accounts []string, transfers []domain.Transfer) (*Result, error) {
	idx := newFlowIndex(transfers)
	res := &Result{
		Burst:       Scores{},
		NewAccount:  Scores{},
		PassThrough: Scores{},
		Split:       Scores{},
		Merge:       Scores{},
		Cycling:     Scores{},
		MuleChain:   Scores{},
	}

	steps := []struct {
		name    string
		enabled bool
		run     func()
	}{
		{"burst", d.cfg.Burst, func() { res.Burst = burst(idx) }},
		{"new_account", d.cfg.NewAccount, func() { res.NewAccount = newAccount(idx) }},
		{"pass_through", d.cfg.PassThrough, func() { res.PassThrough = passThrough(idx) }},
		{"split_merge", d.cfg.SplitMerge, func() { res.Split, res.Merge = splitMerge(idx) }},
		{"institutional_cycling", d.cfg.Cycling, func() { res.Cycling = institutionalCycling(idx, d.maxCycles) }},
		{"mule_chain", d.cfg.MuleChain, func() { res.MuleChain = muleChain(idx) }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !step.enabled {
			d.logger.Debug("detector disabled", "detector", step.name)
			continue
		}
		start := time.Now()
		step.run()
		d.logger.Debug("detector completed", "detector", step.name, "duration_ms", time.Since(start).Milliseconds())
	}

	res.Pattern = Combine(accounts, res)
	d.logger.Info("pattern detection completed",
		"accounts", len(accounts),
		"burst", len(res.Burst),
		"new_account", len(res.NewAccount),
		"pass_through", len(res.PassThrough),
		"split", len(res.Split),
		"merge", len(res.Merge),
		"cycling", len(res.Cycling),
		"mule_chain", len(res.MuleChain),
	)
	return res, nil
}

// Combine weights the detector scores per account and min-max normalises the
// result across all accounts.
func Combine(accounts []string, r *Result) Scores {
	raw := make([]float64, len(accounts))
	for i, id := range accounts {
		raw[i] = weightBurst*r.Burst[id] +
			weightNewAccount*r.NewAccount[id] +
			weightPassThrough*r.PassThrough[id] +
			weightSplit*r.Split[id] +
			weightMerge*r.Merge[id] +
			weightCycling*r.Cycling[id]
	}
	norm := scoring.MinMax(raw)
	out := make(Scores, len(accounts))
	for i, id := range accounts {
		out[id] = norm[i]
	}
	return out
}

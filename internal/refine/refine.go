// Package refine assigns confidence to transfers from ensemble thresholds
// over the hybrid score and drops weak flags with CEL filter rules.
package refine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/rules"
	"github.com/opensource-finance/fraudgraph/internal/scoring"
)

// Detection rule tags written to detection_rule.
const (
	RuleCyclePercentile    = "cycle_percentile"
	RulePercentileHigh     = "percentile_high"
	RuleDestinationPattern = "destination_pattern"
	RuleStructuring        = "structuring"
	RuleMultiSignal        = "multi_signal"
	RuleSupportedSignal    = "supported_signal"
	RuleRelationship       = "relationship"
)

// Pass A confidences.
const (
	confCyclePercentile    = 0.97
	confPercentileHigh     = 0.95
	confDestinationPattern = 0.90
	confStructuring        = 0.90
	confSupported          = 0.75
)

// AccountSignals are the account-level facts the refiner reads.
type AccountSignals struct {
	Pattern           float64
	Cycling           float64
	Structuring       float64
	Burst             float64
	TempBurst         float64
	NormCommunitySize float64
	CommunitySize     int
	Hub               float64
	MoneyFlow         float64
	DegScore          float64
	StdTimeBetweenTx  float64
	OutCount          int
}

// Candidate is one transfer with its hybrid score and endpoint signals.
type Candidate struct {
	domain.Transfer
	Hybrid   float64
	Sender   AccountSignals
	Receiver AccountSignals
}

// Decision is the refiner's verdict for one transfer.
type Decision struct {
	TransferID   int64
	Flagged      bool
	Confidence   float64
	Tier         string
	Reason       string
	Rule         string
	FilterReason string
}

// Thresholds are the ensemble cutoffs computed over hybrid_score.
type Thresholds struct {
	High         float64 `json:"high"`
	Recall       float64 `json:"recall"`
	Statistical  float64 `json:"statistical"`
	ZScore       float64 `json:"zScore"`
	Absolute     float64 `json:"absolute"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"stdDev"`
	Median       float64 `json:"median"`
	MedianAmount float64 `json:"medianAmount"`
}

// Result is the outcome of a refinement run.
type Result struct {
	Thresholds Thresholds
	Decisions  []Decision
	PassA      int
	PassB      int
	PassC      int
	Filtered   map[string]int64
}

// Flagged counts transfers still flagged after filtering.
func (r *Result) Flagged() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Flagged {
			n++
		}
	}
	return n
}

// Refiner runs passes A, B and C followed by the mode's filter rules.
type Refiner struct {
	cfg       domain.RefinerConfig
	batchSize int
	engine    *rules.Engine
	logger    *slog.Logger
}

// NewRefiner compiles the filter rules for the configured mode. Configured
// rules replace the built-in ones.
func NewRefiner(cfg domain.RefinerConfig, batchSize int, logger *slog.Logger) (*Refiner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 5000
	}

	engine, err := rules.NewEngine(0)
	if err != nil {
		return nil, err
	}
	filterRules := cfg.FilterRules
	if len(filterRules) == 0 {
		filterRules = rules.BuiltinRules(cfg.Mode)
	}
	if err := engine.LoadRules(filterRules); err != nil {
		return nil, &domain.ConfigError{Field: "refiner.filterRules", Reason: err.Error()}
	}

	loaded := engine.GetLoadedRules()
	ids := make([]string, len(loaded))
	for i, rule := range loaded {
		ids[i] = rule.ID
	}
	logger.Debug("filter rules loaded", "mode", cfg.Mode, "count", engine.RulesCount(), "rules", ids)

	return &Refiner{cfg: cfg, batchSize: batchSize, engine: engine, logger: logger}, nil
}

// Close releases the rule engine.
func (r *Refiner) Close() error {
	return r.engine.Close()
}

// ComputeThresholds derives the ensemble cutoffs from the candidate scores.
func (r *Refiner) ComputeThresholds(cands []Candidate) Thresholds {
	scores := make([]float64, len(cands))
	amounts := make([]float64, len(cands))
	for i, c := range cands {
		scores[i] = c.Hybrid
		amounts[i] = c.Amount
	}

	summary := scoring.Summarize(scores)
	q := scoring.Quantiles(scores, r.cfg.HighPercentile, r.cfg.RecallPercentile)
	medianAmount, _ := scoring.Percentile(amounts, 0.5)

	return Thresholds{
		High:         q[0],
		Recall:       q[1],
		Statistical:  summary.Mean + r.cfg.StdDevK*summary.StdDev,
		ZScore:       summary.Mean + r.cfg.ZScoreK*summary.StdDev,
		Absolute:     r.cfg.AbsoluteThreshold,
		Mean:         summary.Mean,
		StdDev:       summary.StdDev,
		Median:       summary.Median,
		MedianAmount: medianAmount,
	}
}

// Refine decides every candidate. The returned decisions cover every input
// in order, so flagged stays a total function over transfers.
func (r *Refiner) Refine(ctx context.Context, cands []Candidate) (*Result, error) {
	res := &Result{
		Decisions: make([]Decision, len(cands)),
		Filtered:  make(map[string]int64),
	}
	for i, c := range cands {
		res.Decisions[i] = Decision{TransferID: c.ID}
	}
	if len(cands) == 0 {
		return res, nil
	}

	th := r.ComputeThresholds(cands)
	res.Thresholds = th
	r.logger.Info("refiner thresholds",
		"high", th.High,
		"recall", th.Recall,
		"statistical", th.Statistical,
		"z_score", th.ZScore,
		"median", th.Median,
	)

	res.PassA = r.passA(cands, th, res.Decisions)

	passB, err := r.passB(ctx, cands, th, res.Decisions)
	if err != nil {
		return nil, err
	}
	res.PassB = passB

	res.PassC = r.passC(cands, th, res.Decisions)

	if err := r.filter(ctx, cands, th, res); err != nil {
		return nil, err
	}

	for i := range res.Decisions {
		if d := &res.Decisions[i]; d.Flagged && d.Confidence > 0 {
			d.Tier = r.cfg.Tiers.Tier(d.Confidence)
		}
	}

	r.logger.Info("refinement completed",
		"pass_a", res.PassA,
		"pass_b", res.PassB,
		"pass_c", res.PassC,
		"filtered", sumCounts(res.Filtered),
		"flagged", res.Flagged(),
	)
	return res, nil
}

// passA marks high-confidence transfers. The first matching condition sets
// the reason.
func (r *Refiner) passA(cands []Candidate, th Thresholds, decisions []Decision) int {
	n := 0
	for i, c := range cands {
		s := c.Hybrid
		var conf float64
		var rule, reason string
		switch {
		case s >= th.High && c.Sender.Cycling >= r.cfg.CycleThreshold && s >= th.Recall:
			conf, rule, reason = confCyclePercentile, RuleCyclePercentile, "cycle percentile"
		case s >= th.High:
			conf, rule, reason = confPercentileHigh, RulePercentileHigh, "percentile high"
		case c.Receiver.Pattern >= r.cfg.DestinationPatternThreshold && s >= th.Recall:
			conf, rule, reason = confDestinationPattern, RuleDestinationPattern, "destination pattern"
		case c.Sender.Structuring >= r.cfg.StructuringThreshold && s >= th.ZScore:
			conf, rule, reason = confStructuring, RuleStructuring, "structuring"
		default:
			continue
		}
		decisions[i] = Decision{TransferID: c.ID, Flagged: true, Confidence: conf, Rule: rule, Reason: reason}
		n++
	}
	return n
}

// passB scores unflagged transfers by signal points, batch by batch.
func (r *Refiner) passB(ctx context.Context, cands []Candidate, th Thresholds, decisions []Decision) (int, error) {
	n := 0
	for cursor := 0; cursor < len(cands); cursor += r.batchSize {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		end := min(cursor+r.batchSize, len(cands))
		for i := cursor; i < end; i++ {
			if decisions[i].Flagged {
				continue
			}
			c := cands[i]
			points := r.Points(c, th)
			switch {
			case points >= r.cfg.MultiSignalPoints:
				conf := math.Min(0.95, 0.85+0.02*float64(points-r.cfg.MultiSignalPoints))
				decisions[i] = Decision{
					TransferID: c.ID, Flagged: true, Confidence: conf,
					Rule: RuleMultiSignal, Reason: fmt.Sprintf("multi-signal (%d points)", points),
				}
			case points >= r.cfg.SupportSignalPoints && c.Hybrid >= th.Absolute:
				decisions[i] = Decision{
					TransferID: c.ID, Flagged: true, Confidence: confSupported,
					Rule: RuleSupportedSignal, Reason: fmt.Sprintf("supported signals (%d points)", points),
				}
			default:
				continue
			}
			n++
		}
		r.logger.Debug("pass B progress", "cursor", end, "total", len(cands), "flagged", n)
	}
	return n, nil
}

// Points sums the per-signal evidence for a transfer.
func (r *Refiner) Points(c Candidate, th Thresholds) int {
	points := 0
	switch {
	case c.Hybrid >= th.High:
		points += 3
	case c.Hybrid >= th.Statistical:
		points += 2
	case c.Hybrid >= th.Recall:
		points++
	}

	points += tiered(c.Sender.Pattern, 0.7, 0.4)
	points += tiered(c.Sender.Cycling, 0.8, 0.5)
	points += tiered(max(c.Sender.Burst, c.Sender.TempBurst), 0.8, 0.5)
	points += tiered(c.Sender.Hub, 0.8, 0.5)
	points += tiered(c.Sender.MoneyFlow, 0.8, 0.5)

	if c.Sender.CommunitySize >= 3 {
		switch {
		case c.Sender.NormCommunitySize <= 0.1:
			points += 2
		case c.Sender.NormCommunitySize <= 0.3:
			points++
		}
	}
	return points
}

func tiered(v, strong, weak float64) int {
	switch {
	case v >= strong:
		return 2
	case v >= weak:
		return 1
	default:
		return 0
	}
}

// passC extends flags from high-confidence pass A seeds to nearby transfers
// sharing an endpoint.
func (r *Refiner) passC(cands []Candidate, th Thresholds, decisions []Decision) int {
	if th.Recall <= 0 {
		return 0
	}

	byAccount := make(map[string][]int)
	for i, c := range cands {
		byAccount[c.SenderID] = append(byAccount[c.SenderID], i)
		if c.ReceiverID != c.SenderID {
			byAccount[c.ReceiverID] = append(byAccount[c.ReceiverID], i)
		}
	}

	type expansion struct {
		conf float64
		seed int64
	}
	found := make(map[int]expansion)

	for i, seed := range cands {
		d := decisions[i]
		if !d.Flagged || !isPassA(d.Rule) || d.Confidence < r.cfg.ExpansionMinConfidence {
			continue
		}
		for _, account := range []string{seed.SenderID, seed.ReceiverID} {
			for _, j := range byAccount[account] {
				if j == i || decisions[j].Flagged {
					continue
				}
				c := cands[j]
				if abs(c.Step-seed.Step) > r.cfg.ExpansionStepWindow || c.Hybrid < th.Median {
					continue
				}
				conf := r.cfg.ExpansionFactor * (c.Hybrid / th.Recall)
				if conf < r.cfg.ExpansionFloor {
					continue
				}
				conf = math.Min(conf, r.cfg.ExpansionCap)
				if prev, ok := found[j]; !ok || conf > prev.conf || (conf == prev.conf && seed.ID < prev.seed) {
					found[j] = expansion{conf: conf, seed: seed.ID}
				}
			}
		}
	}

	for j, e := range found {
		decisions[j] = Decision{
			TransferID: cands[j].ID, Flagged: true, Confidence: e.conf,
			Rule: RuleRelationship, Reason: fmt.Sprintf("related to transfer %d", e.seed),
		}
	}
	return len(found)
}

func isPassA(rule string) bool {
	switch rule {
	case RuleCyclePercentile, RulePercentileHigh, RuleDestinationPattern, RuleStructuring:
		return true
	}
	return false
}

// filter applies the CEL rules to every flagged transfer.
func (r *Refiner) filter(ctx context.Context, cands []Candidate, th Thresholds, res *Result) error {
	var inputs []rules.Input
	var positions []int
	for i, d := range res.Decisions {
		if !d.Flagged {
			continue
		}
		c := cands[i]
		inputs = append(inputs, rules.Input{
			TransferID:       c.ID,
			Amount:           c.Amount,
			Confidence:       d.Confidence,
			HybridScore:      c.Hybrid,
			MedianScore:      th.Median,
			MedianAmount:     th.MedianAmount,
			DegScore:         c.Sender.DegScore,
			PatternScore:     c.Sender.Pattern,
			StdTimeBetweenTx: c.Sender.StdTimeBetweenTx,
			OutCount:         int64(c.Sender.OutCount),
			Step:             int64(c.Step),
		})
		positions = append(positions, i)
	}
	if len(inputs) == 0 {
		return nil
	}

	matches, err := r.engine.EvaluateAll(ctx, inputs)
	if err != nil {
		return err
	}
	for k, m := range matches {
		if m.Err != nil {
			return fmt.Errorf("filter transfer %d: %w", m.TransferID, m.Err)
		}
		if !m.Matched {
			continue
		}
		d := &res.Decisions[positions[k]]
		d.Flagged = false
		d.Confidence = 0
		d.Reason = ""
		d.Rule = ""
		d.FilterReason = m.Reason
		res.Filtered[m.RuleID]++
	}
	return nil
}

func sumCounts(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

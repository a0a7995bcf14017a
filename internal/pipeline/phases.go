package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/eval"
	"github.com/opensource-finance/fraudgraph/internal/features"
	"github.com/opensource-finance/fraudgraph/internal/graph"
	"github.com/opensource-finance/fraudgraph/internal/patterns"
	"github.com/opensource-finance/fraudgraph/internal/refine"
	"github.com/opensource-finance/fraudgraph/internal/report"
	"github.com/opensource-finance/fraudgraph/internal/scoring"
	"github.com/opensource-finance/fraudgraph/internal/store"
)

// run carries the in-memory state of one pass between phases.
type run struct {
	id     string
	opts   RunOptions
	cfg    domain.PipelineConfig
	logger *slog.Logger

	natural, undirected *graph.Graph
	accounts            []string
	transfers           []domain.Transfer

	table    *features.Table
	scores   map[string]float64
	advanced map[string]float64
	anomaly  map[int64]float64
	flags    scoring.FlagResult
	patterns *patterns.Result
	hybrid   []float64
	refined  *refine.Result

	report  *domain.Report
	timings []domain.PhaseTiming
}

// refinerProperties are rewritten by every refine phase.
var refinerProperties = []string{
	domain.PropConfidence,
	domain.PropConfidenceTier,
	domain.PropFlagReason,
	domain.PropDetectionRule,
	domain.PropFilterReason,
}

// project builds the analytics projections and loads the transfer snapshot.
// Reusing stored scores needs no projections.
func (p *Pipeline) project(ctx context.Context, r *run) (int64, error) {
	if r.opts.SkipBasic {
		if err := p.store.StreamAccounts(ctx, func(id string) error {
			r.accounts = append(r.accounts, id)
			return nil
		}); err != nil {
			return 0, err
		}
	} else {
		natural, err := p.store.Project(ctx, projectionNatural, graph.Natural)
		if err != nil {
			return 0, err
		}
		undirected, err := p.store.Project(ctx, projectionUndirected, graph.Undirected)
		if err != nil {
			return 0, err
		}
		r.natural, r.undirected = natural, undirected
		r.accounts = natural.Nodes()
	}

	if err := p.store.StreamTransfers(ctx, func(t domain.Transfer) error {
		r.transfers = append(r.transfers, t)
		return nil
	}); err != nil {
		return 0, err
	}
	if len(r.transfers) == 0 {
		r.logger.Warn("nothing to score", "error", domain.ErrEmptyGraph, "accounts", len(r.accounts))
	}
	return int64(len(r.transfers)), nil
}

// features extracts the account feature table, or reloads the stored one
// when basic analysis is skipped.
func (p *Pipeline) features(ctx context.Context, r *run) (int64, error) {
	if r.opts.SkipBasic {
		return p.reloadFeatures(ctx, r)
	}
	t, err := features.NewExtractor(r.cfg.Features, r.logger).Extract(ctx, r.natural, r.undirected)
	if err != nil {
		return 0, err
	}
	r.table = t
	return int64(t.Len()), nil
}

func (p *Pipeline) reloadFeatures(ctx context.Context, r *run) (int64, error) {
	if len(r.transfers) > 0 {
		ok, err := p.store.HasTransferProperty(ctx, domain.PropAnomalyScore)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: run the basic analysis before skipping it", domain.ErrMissingScores)
		}
	}

	names := make([]string, 0, len(domain.AllFeatures)+5)
	for _, f := range domain.AllFeatures {
		names = append(names, string(f))
	}
	names = append(names,
		domain.PropCommunityID,
		domain.PropCommunitySize,
		domain.PropOutCount,
		domain.PropAnomalyScore,
		domain.PropAdvancedAnomaly,
	)
	props, err := p.store.AccountProperties(ctx, names...)
	if err != nil {
		return 0, err
	}

	r.table = features.FromProperties(r.accounts, props)
	r.scores = make(map[string]float64, len(props))
	for id, values := range props {
		if v, ok := values[domain.PropAnomalyScore]; ok {
			r.scores[id] = v
		}
		if v, ok := values[domain.PropAdvancedAnomaly]; ok {
			if r.advanced == nil {
				r.advanced = make(map[string]float64)
			}
			r.advanced[id] = v
		}
	}
	r.logger.Info("reusing stored features", "accounts", len(props))
	return int64(len(props)), nil
}

// normalize rescales the features and writes them to the accounts.
func (p *Pipeline) normalize(ctx context.Context, r *run) (int64, error) {
	scoring.Normalize(r.table)

	var values []store.AccountValue
	for i, id := range r.table.Accounts {
		for name, v := range r.table.Row(i) {
			values = append(values, store.AccountValue{AccountID: id, Name: name, Value: v})
		}
	}
	if err := p.store.WriteAccountProperties(ctx, values, r.cfg.BatchSize); err != nil {
		return 0, err
	}
	return int64(len(values)), nil
}

// score computes the baseline account score and propagates it to every
// outgoing transfer.
func (p *Pipeline) score(ctx context.Context, r *run) (int64, error) {
	scorer, err := scoring.NewScorer(r.cfg.Weights)
	if err != nil {
		return 0, err
	}
	base := scorer.Score(r.table)

	values := make([]store.AccountValue, 0, 2*len(base))
	r.scores = make(map[string]float64, len(base))
	for i, id := range r.table.Accounts {
		r.scores[id] = base[i]
		values = append(values, store.AccountValue{AccountID: id, Name: domain.PropAnomalyScore, Value: base[i]})
	}

	if r.cfg.AdvancedWeights != nil {
		advScorer, err := scoring.NewScorer(*r.cfg.AdvancedWeights)
		if err != nil {
			return 0, err
		}
		adv := advScorer.Score(r.table)
		r.advanced = make(map[string]float64, len(adv))
		for i, id := range r.table.Accounts {
			r.advanced[id] = adv[i]
			values = append(values, store.AccountValue{AccountID: id, Name: domain.PropAdvancedAnomaly, Value: adv[i]})
		}
	} else if _, err := p.store.DeleteAccountProperties(ctx, domain.PropAdvancedAnomaly); err != nil {
		return 0, err
	}

	if err := p.store.WriteAccountProperties(ctx, values, r.cfg.BatchSize); err != nil {
		return 0, err
	}
	return p.store.PropagateToTransfers(ctx, domain.PropAnomalyScore)
}

// flag applies the percentile cutoff to the stored transfer scores. It
// writes both flagged and baseline_flagged so the refiner can rewrite the
// former.
func (p *Pipeline) flag(ctx context.Context, r *run) (int64, error) {
	r.anomaly = make(map[int64]float64, len(r.transfers))
	if err := p.store.TransferScores(ctx, []string{domain.PropAnomalyScore}, nil, func(ts domain.TransferScore) error {
		if v, ok := ts.Props[domain.PropAnomalyScore]; ok {
			r.anomaly[ts.ID] = v
		}
		return nil
	}); err != nil {
		return 0, err
	}
	if missing := len(r.transfers) - len(r.anomaly); missing > 0 {
		r.logger.Warn("transfers without anomaly score count as 0", "missing", missing)
	}

	scores := make([]float64, len(r.transfers))
	for i, t := range r.transfers {
		scores[i] = r.anomaly[t.ID]
	}
	r.flags = scoring.Flag(scores, r.cfg.Percentile)

	values := make([]store.TransferValue, 0, 2*len(r.transfers))
	for i, t := range r.transfers {
		flagged := r.flags.Flagged[i]
		values = append(values,
			store.BoolValue(t.ID, domain.PropFlagged, flagged),
			store.BoolValue(t.ID, domain.PropBaselineFlagged, flagged),
		)
	}
	if err := p.store.WriteTransferProperties(ctx, values, r.cfg.BatchSize); err != nil {
		return 0, err
	}

	suspicious := make([]store.AccountValue, 0, len(r.accounts))
	for _, id := range r.accounts {
		v := 0.0
		if r.flags.Above(r.scores[id]) {
			v = 1
		}
		suspicious = append(suspicious, store.AccountValue{AccountID: id, Name: domain.PropSuspicious, Value: v})
	}
	if err := p.store.WriteAccountProperties(ctx, suspicious, r.cfg.BatchSize); err != nil {
		return 0, err
	}

	r.logger.Info("baseline flags applied",
		"percentile", r.cfg.Percentile,
		"threshold", r.flags.Threshold,
		"flagged", r.flags.Count,
		"transfers", len(r.transfers),
	)
	return int64(r.flags.Count), nil
}

// patterns runs the detectors and stores every sub-score, defaulting to 0
// for accounts a detector did not match.
func (p *Pipeline) patterns(ctx context.Context, r *run) (int64, error) {
	props := append(append([]string{}, domain.DetectorProperties...), domain.PropAdvancedPatternScore)
	if !r.cfg.Patterns.Enabled {
		r.patterns = nil
		removed, err := p.store.DeleteAccountProperties(ctx, props...)
		if err != nil {
			return 0, err
		}
		if _, err := p.store.DeleteTransferProperties(ctx, domain.PropAdvancedPatternScore); err != nil {
			return 0, err
		}
		r.logger.Info("pattern detection disabled", "removed", removed)
		return 0, nil
	}

	det := patterns.NewDetector(r.cfg.Patterns, r.cfg.Features.MaxCycles, r.logger)
	res, err := det.Detect(ctx, r.accounts, r.transfers)
	if err != nil {
		return 0, err
	}
	r.patterns = res

	values := make([]store.AccountValue, 0, len(props)*len(r.accounts))
	for _, id := range r.accounts {
		for _, name := range props {
			values = append(values, store.AccountValue{AccountID: id, Name: name, Value: res.Property(name)[id]})
		}
	}
	if err := p.store.WriteAccountProperties(ctx, values, r.cfg.BatchSize); err != nil {
		return 0, err
	}
	if _, err := p.store.PropagateToTransfers(ctx, domain.PropAdvancedPatternScore); err != nil {
		return 0, err
	}

	var matched int64
	for _, id := range r.accounts {
		for _, name := range domain.DetectorProperties {
			if res.Property(name)[id] > 0 {
				matched++
				break
			}
		}
	}
	return matched, nil
}

// signals collects the sender-level inputs to hybrid fusion.
func (r *run) signals(id string) patterns.Signals {
	s := patterns.Signals{TempBurst: r.table.Get(id, domain.FeatureTempBurst)}
	if r.patterns != nil {
		s.Pattern = r.patterns.Pattern[id]
		s.Cycling = r.patterns.Cycling[id]
		s.Burst = r.patterns.Burst[id]
		s.Split = r.patterns.Split[id]
		s.Merge = r.patterns.Merge[id]
	}
	if v, ok := r.advanced[id]; ok {
		s.Advanced, s.HasAdvanced = v, true
	}
	return s
}

// hybrid fuses baseline, advanced and pattern scores per transfer.
func (p *Pipeline) hybrid(ctx context.Context, r *run) (int64, error) {
	fusion := patterns.NewFusion(r.cfg.Hybrid)
	r.hybrid = make([]float64, len(r.transfers))

	values := make([]store.TransferValue, 0, 2*len(r.transfers))
	for i, t := range r.transfers {
		anomaly, ok := r.anomaly[t.ID]
		enhanced, hybrid := fusion.Fuse(anomaly, ok, r.signals(t.SenderID))
		r.hybrid[i] = hybrid
		values = append(values,
			store.NumValue(t.ID, domain.PropEnhancedHybridScore, enhanced),
			store.NumValue(t.ID, domain.PropHybridScore, hybrid),
		)
	}
	if err := p.store.WriteTransferProperties(ctx, values, r.cfg.BatchSize); err != nil {
		return 0, err
	}
	return int64(len(r.transfers)), nil
}

// accountSignals collects the account facts the refiner reads.
func (r *run) accountSignals(id string) refine.AccountSignals {
	s := refine.AccountSignals{
		TempBurst:         r.table.Get(id, domain.FeatureTempBurst),
		NormCommunitySize: r.table.Get(id, domain.FeatureNormCommunitySize),
		Hub:               r.table.Get(id, domain.FeatureHub),
		DegScore:          r.table.Get(id, domain.FeatureDegree),
		StdTimeBetweenTx:  r.table.Get(id, domain.FeatureStdTimeBetweenTx),
	}
	if i, ok := r.table.Index(id); ok {
		s.CommunitySize = r.table.CommunitySize[i]
		s.OutCount = r.table.OutCount[i]
	}
	if r.patterns != nil {
		s.Pattern = r.patterns.Pattern[id]
		s.Cycling = r.patterns.Cycling[id]
		s.Structuring = max(r.patterns.Split[id], r.patterns.Merge[id])
		s.Burst = r.patterns.Burst[id]
		s.MoneyFlow = max(r.patterns.PassThrough[id], r.patterns.MuleChain[id])
	}
	return s
}

// refine assigns confidence and rewrites flagged for every transfer. With
// the refiner disabled the baseline flags stand.
func (p *Pipeline) refine(ctx context.Context, r *run) (int64, error) {
	if _, err := p.store.DeleteTransferProperties(ctx, refinerProperties...); err != nil {
		return 0, err
	}
	if !r.cfg.Refiner.Enabled {
		r.logger.Info("refiner disabled, keeping baseline flags", "flagged", r.flags.Count)
		return int64(r.flags.Count), nil
	}

	refiner, err := refine.NewRefiner(r.cfg.Refiner, r.cfg.BatchSize, r.logger)
	if err != nil {
		return 0, err
	}
	defer refiner.Close()

	signals := make(map[string]refine.AccountSignals)
	lookup := func(id string) refine.AccountSignals {
		s, ok := signals[id]
		if !ok {
			s = r.accountSignals(id)
			signals[id] = s
		}
		return s
	}

	cands := make([]refine.Candidate, len(r.transfers))
	for i, t := range r.transfers {
		cands[i] = refine.Candidate{
			Transfer: t,
			Hybrid:   r.hybrid[i],
			Sender:   lookup(t.SenderID),
			Receiver: lookup(t.ReceiverID),
		}
	}

	res, err := refiner.Refine(ctx, cands)
	if err != nil {
		return 0, err
	}
	r.refined = res

	values := make([]store.TransferValue, 0, 2*len(res.Decisions))
	for _, d := range res.Decisions {
		values = append(values, store.BoolValue(d.TransferID, domain.PropFlagged, d.Flagged))
		if d.Confidence > 0 {
			values = append(values,
				store.NumValue(d.TransferID, domain.PropConfidence, d.Confidence),
				store.TextValue(d.TransferID, domain.PropFlagReason, d.Reason),
				store.TextValue(d.TransferID, domain.PropDetectionRule, d.Rule),
			)
		}
		if d.Tier != "" {
			values = append(values, store.TextValue(d.TransferID, domain.PropConfidenceTier, d.Tier))
		}
		if d.FilterReason != "" {
			values = append(values, store.TextValue(d.TransferID, domain.PropFilterReason, d.FilterReason))
		}
	}
	if err := p.store.WriteTransferProperties(ctx, values, r.cfg.BatchSize); err != nil {
		return 0, err
	}
	return int64(res.Flagged()), nil
}

// evaluate compares the stored flags with the labels.
func (p *Pipeline) evaluate(ctx context.Context, r *run) (int64, error) {
	if r.opts.EvaluateOnly {
		ok, err := p.store.HasTransferProperty(ctx, domain.PropFlagged)
		if err != nil {
			return 0, err
		}
		if !ok {
			labels, err := p.store.Labels(ctx)
			if err != nil {
				return 0, err
			}
			if len(labels) > 0 {
				return 0, fmt.Errorf("%w: no flags to evaluate", domain.ErrMissingScores)
			}
		}
	}

	rep, err := eval.New(p.store, r.logger).Evaluate(ctx)
	if err != nil {
		return 0, err
	}
	rep.RunID = r.id
	rep.Percentile = r.cfg.Percentile
	if r.cfg.Refiner.Enabled {
		rep.Mode = string(r.cfg.Refiner.Mode)
	}
	if r.refined != nil && len(r.refined.Filtered) > 0 {
		rep.Filtered = r.refined.Filtered
	}
	rep.Phases = r.timings
	r.report = rep
	return rep.Final.Total, nil
}

// writeReport stores the JSON report and the configured CSV exports.
func (p *Pipeline) writeReport(ctx context.Context, r *run) (int64, error) {
	var rows int64
	if target := p.output.Path; target != "" {
		sink, err := report.NewSink(ctx, target, p.output)
		if err != nil {
			return 0, err
		}
		if err := report.WriteReport(ctx, sink, r.report); err != nil {
			return 0, err
		}
		r.logger.Info("report written", "location", sink.Location())
		rows++
	}
	if target := p.output.ScoresCSV; target != "" {
		sink, err := report.NewSink(ctx, target, p.output)
		if err != nil {
			return 0, err
		}
		n, err := report.ExportScores(ctx, p.store, sink)
		if err != nil {
			return 0, err
		}
		r.logger.Info("scores exported", "location", sink.Location(), "rows", n)
		rows += n
	}
	if target := p.output.AccountsCSV; target != "" {
		sink, err := report.NewSink(ctx, target, p.output)
		if err != nil {
			return 0, err
		}
		n, err := report.ExportAccounts(ctx, p.store, p.output.TopN, sink)
		if err != nil {
			return 0, err
		}
		r.logger.Info("suspicious accounts exported", "location", sink.Location(), "rows", n)
		rows += int64(n)
	}
	return rows, nil
}

// cleanup drops the run's projections and, when asked, every derived
// property.
func (p *Pipeline) cleanup(ctx context.Context, r *run) (int64, error) {
	if !r.opts.Cleanup {
		p.dropProjections()
		return 0, nil
	}
	res, err := p.store.Cleanup(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info("derived properties removed",
		"account_properties", res.AccountProperties,
		"transfer_properties", res.TransferProperties,
		"projections", res.Projections,
	)
	return res.AccountProperties + res.TransferProperties, nil
}

// Cleanup removes every derived property and projection outside of a run.
func (p *Pipeline) Cleanup(ctx context.Context) (store.CleanupResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return store.CleanupResult{}, domain.ErrRunInProgress
	}
	defer p.running.Store(false)

	res, err := p.store.Cleanup(ctx)
	if err != nil {
		return res, &domain.PhaseError{Phase: PhaseCleanup, Err: err}
	}
	p.logger.Info("derived properties removed",
		"account_properties", res.AccountProperties,
		"transfer_properties", res.TransferProperties,
		"projections", res.Projections,
	)
	return res, nil
}

// Package pipeline orchestrates a scoring run over the graph store: feature
// extraction, baseline scoring and flagging, pattern detection, hybrid
// fusion, confidence refinement, evaluation and cleanup.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudgraph/internal/bus"
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/graph"
	"github.com/opensource-finance/fraudgraph/internal/metrics"
	"github.com/opensource-finance/fraudgraph/internal/refine"
	"github.com/opensource-finance/fraudgraph/internal/scoring"
	"github.com/opensource-finance/fraudgraph/internal/store"
)

// Phase names, in execution order.
const (
	PhaseProject   = "project"
	PhaseFeatures  = "features"
	PhaseNormalize = "normalize"
	PhaseScore     = "score"
	PhaseFlag      = "flag"
	PhasePatterns  = "patterns"
	PhaseHybrid    = "hybrid"
	PhaseRefine    = "refine"
	PhaseEvaluate  = "evaluate"
	PhaseReport    = "report"
	PhaseCleanup   = "cleanup"
)

// Phase event statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Projection names registered in the store catalog during a run.
const (
	projectionNatural    = "fraudgraph-natural"
	projectionUndirected = "fraudgraph-undirected"
)

var tracer = otel.Tracer("fraudgraph-pipeline")

// Store is the graph store access a run needs.
type Store interface {
	Project(ctx context.Context, name string, orientation graph.Orientation) (*graph.Graph, error)
	DropProjection(name string) bool
	StreamAccounts(ctx context.Context, fn func(id string) error) error
	StreamTransfers(ctx context.Context, fn func(domain.Transfer) error) error

	WriteAccountProperties(ctx context.Context, values []store.AccountValue, batchSize int) error
	WriteTransferProperties(ctx context.Context, values []store.TransferValue, batchSize int) error
	DeleteAccountProperties(ctx context.Context, names ...string) (int64, error)
	DeleteTransferProperties(ctx context.Context, names ...string) (int64, error)
	PropagateToTransfers(ctx context.Context, name string) (int64, error)

	AccountProperties(ctx context.Context, names ...string) (map[string]map[string]float64, error)
	TransferScores(ctx context.Context, numNames, textNames []string, fn func(domain.TransferScore) error) error
	HasTransferProperty(ctx context.Context, name string) (bool, error)
	Labels(ctx context.Context) (map[int64]bool, error)
	TopAccounts(ctx context.Context, limit int, suspiciousOnly bool) ([]domain.RankedAccount, error)

	Cleanup(ctx context.Context) (store.CleanupResult, error)
}

// RunOptions selects what a single run does. Zero values use the pipeline
// configuration.
type RunOptions struct {
	RunID string

	// Percentile overrides the configured baseline cutoff when set.
	Percentile *float64
	// Mode overrides the configured refiner filter mode when set.
	Mode domain.FilterMode

	// SkipBasic reuses the stored features and anomaly_score.
	SkipBasic bool
	// EvaluateOnly re-evaluates the stored flags.
	EvaluateOnly bool
	// Cleanup removes every derived property after evaluation.
	Cleanup bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithBus publishes phase events on the given bus.
func WithBus(b domain.EventBus) Option {
	return func(p *Pipeline) { p.bus = b }
}

// WithMetrics records phase and run metrics.
func WithMetrics(m *metrics.Registry) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithReport writes the JSON report and CSV exports after each run.
func WithReport(cfg domain.ReportConfig) Option {
	return func(p *Pipeline) { p.output = cfg }
}

// Pipeline runs scoring passes against one store. Only one run may be active
// at a time.
type Pipeline struct {
	cfg     domain.PipelineConfig
	store   Store
	bus     domain.EventBus
	metrics *metrics.Registry
	output  domain.ReportConfig
	logger  *slog.Logger

	running atomic.Bool
	last    atomic.Pointer[domain.Report]
}

// New validates the configuration and creates a pipeline.
func New(cfg domain.PipelineConfig, st Store, opts ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", domain.ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = domain.DefaultPipelineConfig().BatchSize
	}
	if _, err := scoring.NewScorer(cfg.Weights); err != nil {
		return nil, err
	}
	if cfg.AdvancedWeights != nil {
		if _, err := scoring.NewScorer(*cfg.AdvancedWeights); err != nil {
			return nil, err
		}
	}
	if cfg.Refiner.Enabled {
		r, err := refine.NewRefiner(cfg.Refiner, cfg.BatchSize, nil)
		if err != nil {
			return nil, err
		}
		r.Close()
	}

	p := &Pipeline{cfg: cfg, store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() domain.PipelineConfig { return p.cfg }

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool { return p.running.Load() }

// LastReport returns the report of the most recent successful run.
func (p *Pipeline) LastReport() *domain.Report { return p.last.Load() }

// Run executes one pass. It returns ErrRunInProgress when another run holds
// the pipeline. Any phase failure aborts the run and is returned as a
// *domain.PhaseError; derived properties written so far stay for cleanup.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*domain.Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, domain.ErrRunInProgress
	}
	defer p.running.Store(false)

	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	cfg, err := p.runConfig(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", opts.RunID),
		attribute.Float64("percentile", cfg.Percentile),
		attribute.String("mode", string(cfg.Refiner.Mode)),
		attribute.Bool("skip_basic", opts.SkipBasic),
		attribute.Bool("evaluate_only", opts.EvaluateOnly),
	))
	defer span.End()

	r := &run{
		id:     opts.RunID,
		opts:   opts,
		cfg:    cfg,
		logger: p.logger.With("run_id", opts.RunID),
	}
	r.logger.Info("pipeline run started",
		"percentile", cfg.Percentile,
		"mode", cfg.Refiner.Mode,
		"skip_basic", opts.SkipBasic,
		"evaluate_only", opts.EvaluateOnly,
		"cleanup", opts.Cleanup,
	)
	start := time.Now()

	report, err := p.execute(ctx, r)
	p.metrics.ObserveRun(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("pipeline run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	p.metrics.ObserveReport(report)
	p.last.Store(report)
	r.logger.Info("pipeline run completed",
		"flagged", report.Final.TruePositives+report.Final.FalsePositives,
		"precision", report.Final.Precision,
		"recall", report.Final.Recall,
		"f1", report.Final.F1,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// runConfig applies the run overrides to a copy of the configuration.
func (p *Pipeline) runConfig(opts RunOptions) (domain.PipelineConfig, error) {
	cfg := p.cfg
	if opts.Percentile != nil {
		if v := *opts.Percentile; v < 0 || v > 1 {
			return cfg, &domain.ConfigError{Field: "percentile", Reason: fmt.Sprintf("must be within [0,1], got %v", v)}
		}
		cfg.Percentile = *opts.Percentile
	}
	if opts.Mode != "" {
		mode, err := domain.ParseFilterMode(string(opts.Mode))
		if err != nil {
			return cfg, err
		}
		if mode != cfg.Refiner.Mode {
			cfg.Refiner.Mode = mode
			// Configured filter rules belong to the configured mode.
			cfg.Refiner.FilterRules = nil
		}
	}
	return cfg, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*domain.Report, error) {
	type step struct {
		name string
		skip bool
		fn   func(context.Context, *run) (int64, error)
	}

	evalOnly := r.opts.EvaluateOnly
	basic := !evalOnly && !r.opts.SkipBasic
	steps := []step{
		{PhaseProject, evalOnly, p.project},
		{PhaseFeatures, evalOnly, p.features},
		{PhaseNormalize, !basic, p.normalize},
		{PhaseScore, !basic, p.score},
		{PhaseFlag, evalOnly, p.flag},
		{PhasePatterns, evalOnly, p.patterns},
		{PhaseHybrid, evalOnly, p.hybrid},
		{PhaseRefine, evalOnly, p.refine},
		{PhaseEvaluate, false, p.evaluate},
		{PhaseReport, !p.hasReportTargets(), p.writeReport},
		{PhaseCleanup, false, p.cleanup},
	}

	for _, s := range steps {
		if s.skip {
			p.skipPhase(ctx, r, s.name)
			continue
		}
		if err := p.runPhase(ctx, r, s.name, s.fn); err != nil {
			// Projections are temporary even when the run aborts.
			p.dropProjections()
			return nil, err
		}
	}
	return r.report, nil
}

// runPhase wraps one phase with a span, logs, metrics and bus events.
func (p *Pipeline) runPhase(ctx context.Context, r *run, name string, fn func(context.Context, *run) (int64, error)) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(attribute.String("phase", name)))
	defer span.End()

	r.logger.Info("phase started", "phase", name)
	p.publishPhase(ctx, domain.PhaseEvent{RunID: r.id, Phase: name, Status: StatusStarted})

	start := time.Now()
	rows, err := fn(ctx, r)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("phase failed", "phase", name, "error", err, "duration_ms", elapsed.Milliseconds())
		p.publishPhase(ctx, domain.PhaseEvent{
			RunID: r.id, Phase: name, Status: StatusFailed,
			DurationMs: elapsed.Milliseconds(), Error: err.Error(),
		})
		return &domain.PhaseError{Phase: name, Err: err}
	}

	span.SetAttributes(attribute.Int64("rows", rows))
	p.metrics.ObservePhase(name, rows, elapsed)
	r.timings = append(r.timings, domain.PhaseTiming{Phase: name, Rows: rows, DurationMs: elapsed.Milliseconds()})
	if r.report != nil {
		r.report.Phases = r.timings
	}

	r.logger.Info("phase completed", "phase", name, "rows", rows, "duration_ms", elapsed.Milliseconds())
	p.publishPhase(ctx, domain.PhaseEvent{
		RunID: r.id, Phase: name, Status: StatusCompleted,
		Rows: rows, DurationMs: elapsed.Milliseconds(),
	})
	return nil
}

func (p *Pipeline) skipPhase(ctx context.Context, r *run, name string) {
	r.logger.Debug("phase skipped", "phase", name)
	r.timings = append(r.timings, domain.PhaseTiming{Phase: name, Skipped: true})
	if r.report != nil {
		r.report.Phases = r.timings
	}
	p.publishPhase(ctx, domain.PhaseEvent{RunID: r.id, Phase: name, Status: StatusSkipped})
}

func (p *Pipeline) publishPhase(ctx context.Context, ev domain.PhaseEvent) {
	if p.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, p.bus, domain.TopicRunPhase, ev); err != nil {
		p.logger.Warn("failed to publish phase event", "phase", ev.Phase, "status", ev.Status, "error", err)
	}
}

func (p *Pipeline) dropProjections() {
	p.store.DropProjection(projectionNatural)
	p.store.DropProjection(projectionUndirected)
}

func (p *Pipeline) hasReportTargets() bool {
	return p.output.Path != "" || p.output.ScoresCSV != "" || p.output.AccountsCSV != ""
}

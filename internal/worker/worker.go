// Package worker executes pipeline runs requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/fraudgraph/internal/bus"
	"github.com/opensource-finance/fraudgraph/internal/cache"
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/pipeline"
)

// ErrStopped is returned for requests that arrive after Stop.
var ErrStopped = errors.New("worker stopped")

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*domain.Report, error)
}

// Worker consumes run requests and publishes their outcome.
type Worker struct {
	bus    domain.EventBus
	runner Runner
	cache  domain.Cache
	logger *slog.Logger

	timeout       time.Duration
	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// RunTimeout bounds a single run. Zero means no limit.
	RunTimeout time.Duration
}

// NewWorker creates a worker. The cache may be nil; when set, its read-model
// generation is bumped after every finished run.
func NewWorker(b domain.EventBus, runner Runner, c domain.Cache, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    b,
		runner: runner,
		cache:  c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to run requests.
func (w *Worker) Start(cfg Config) error {
	w.timeout = cfg.RunTimeout

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleRequest)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicRunRequested)
	return nil
}

// Options converts a bus request into pipeline options. A zero percentile
// keeps the configured default.
func Options(req domain.RunRequest) pipeline.RunOptions {
	opts := pipeline.RunOptions{
		RunID:        req.RunID,
		Mode:         domain.FilterMode(req.Mode),
		SkipBasic:    req.SkipBasic,
		EvaluateOnly: req.Evaluate,
	}
	if req.Percentile != 0 {
		p := req.Percentile
		opts.Percentile = &p
	}
	return opts
}

// begin registers an in-flight request unless the worker is stopping.
func (w *Worker) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.wg.Add(1)
	return true
}

func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	if !w.begin() {
		w.logger.Warn("run request dropped", "message_id", msg.ID, "error", ErrStopped)
		return ErrStopped
	}
	defer w.wg.Done()

	var req domain.RunRequest
	if err := bus.Decode(msg, &req); err != nil {
		w.logger.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.RunID == "" {
		req.RunID = msg.ID
	}

	runCtx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	w.logger.Debug("processing run request", "run_id", req.RunID)

	report, err := w.runner.Run(runCtx, Options(req))
	result := domain.RunResult{RunID: req.RunID, Status: "completed", Report: report}
	topic := domain.TopicRunCompleted
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		topic = domain.TopicRunFailed
	}

	// A rejected request left the store untouched.
	if w.cache != nil && !errors.Is(err, domain.ErrRunInProgress) {
		if gen, cerr := cache.Invalidate(ctx, w.cache); cerr != nil {
			w.logger.Warn("failed to invalidate read models", "run_id", req.RunID, "error", cerr)
		} else {
			w.logger.Debug("read models invalidated", "generation", gen)
		}
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		w.logger.Error("failed to encode run result", "run_id", req.RunID, "error", merr)
		result = domain.RunResult{
			RunID:  req.RunID,
			Status: "failed",
			Error:  fmt.Sprintf("encode run result: %v", merr),
		}
		topic = domain.TopicRunFailed
		if payload, merr = json.Marshal(result); merr != nil {
			return merr
		}
	}
	if perr := w.bus.Publish(ctx, topic, payload); perr != nil {
		w.logger.Error("failed to publish run result",
			"run_id", req.RunID,
			"error", perr,
		)
	}
	if msg.Metadata["reply_to"] != "" {
		if rerr := bus.Reply(ctx, w.bus, msg, payload); rerr != nil {
			w.logger.Error("failed to reply to run request",
				"run_id", req.RunID,
				"error", rerr,
			)
		}
	}

	if err != nil {
		w.logger.Error("run failed",
			"run_id", req.RunID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
	w.logger.Info("run processed",
		"run_id", req.RunID,
		"flagged", report.Final.TruePositives+report.Final.FalsePositives,
		"precision", report.Final.Precision,
		"recall", report.Final.Recall,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for an in-flight run to return.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.stopped = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

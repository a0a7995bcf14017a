package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fraudgraph/internal/bus"
	"github.com/opensource-finance/fraudgraph/internal/cache"
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/pipeline"
	"github.com/opensource-finance/fraudgraph/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls  []pipeline.RunOptions
	err    error
	report *domain.Report
}

func (f *fakeRunner) Run(ctx context.Context, opts pipeline.RunOptions) (*domain.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &domain.Report{RunID: opts.RunID, Final: domain.Metrics{Total: 10, TruePositives: 2}}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// collect subscribes to a topic and returns a channel of decoded results.
func collect(t *testing.T, b domain.EventBus, topic string) <-chan domain.RunResult {
	t.Helper()
	out := make(chan domain.RunResult, 10)
	_, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		var res domain.RunResult
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			return err
		}
		out <- res
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return out
}

func receive(t *testing.T, ch <-chan domain.RunResult) domain.RunResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for run result")
		return domain.RunResult{}
	}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &fakeRunner{}, nil, nil)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicRunRequested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("CompletedRunInvalidatesCache", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		readModels := cache.NewLRUCache(10)
		runner := &fakeRunner{}

		w := NewWorker(eventBus, runner, readModels, nil)
		if err := w.Start(Config{RunTimeout: time.Minute}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()
		completed := collect(t, eventBus, domain.TopicRunCompleted)

		if err := bus.PublishJSON(context.Background(), eventBus, domain.TopicRunRequested, domain.RunRequest{
			RunID: "run-42", Percentile: 0.95, Mode: "precision", SkipBasic: true,
		}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		res := receive(t, completed)
		if res.RunID != "run-42" || res.Status != "completed" || res.Report == nil {
			t.Errorf("unexpected result %+v", res)
		}

		runner.mu.Lock()
		opts := runner.calls[0]
		runner.mu.Unlock()
		if opts.Percentile == nil || *opts.Percentile != 0.95 || opts.Mode != domain.ModePrecision || !opts.SkipBasic {
			t.Errorf("request not mapped to options: %+v", opts)
		}

		if gen, _ := cache.Generation(context.Background(), readModels); gen != 1 {
			t.Errorf("expected generation 1 after run, got %d", gen)
		}
	})

	t.Run("FailedRun", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		readModels := cache.NewLRUCache(10)

		w := NewWorker(eventBus, &fakeRunner{err: domain.ErrRunInProgress}, readModels, nil)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()
		failed := collect(t, eventBus, domain.TopicRunFailed)

		_ = bus.PublishJSON(context.Background(), eventBus, domain.TopicRunRequested, domain.RunRequest{RunID: "busy"})

		res := receive(t, failed)
		if res.Status != "failed" || res.Error == "" {
			t.Errorf("unexpected result %+v", res)
		}
		if gen, _ := cache.Generation(context.Background(), readModels); gen != 0 {
			t.Errorf("rejected run should not invalidate, generation %d", gen)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &fakeRunner{}, nil, nil)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		payload, _ := json.Marshal(domain.RunRequest{RunID: "sync"})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reply, err := eventBus.Request(ctx, domain.TopicRunRequested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var res domain.RunResult
		if err := json.Unmarshal(reply, &res); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if res.RunID != "sync" || res.Status != "completed" {
			t.Errorf("unexpected reply %+v", res)
		}
	})

	t.Run("MalformedRequest", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		runner := &fakeRunner{}

		w := NewWorker(eventBus, runner, nil, nil)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		_ = eventBus.Publish(context.Background(), domain.TopicRunRequested, []byte("{not json"))
		time.Sleep(50 * time.Millisecond)

		if runner.count() != 0 {
			t.Error("malformed request should not start a run")
		}
	})
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name string
		req  domain.RunRequest
		pct  *float64
	}{
		{"default percentile", domain.RunRequest{RunID: "a"}, nil},
		{"override percentile", domain.RunRequest{RunID: "b", Percentile: 0.9}, ptr(0.9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options(tt.req)
			if opts.RunID != tt.req.RunID {
				t.Errorf("RunID = %q", opts.RunID)
			}
			switch {
			case tt.pct == nil && opts.Percentile != nil:
				t.Errorf("expected no override, got %v", *opts.Percentile)
			case tt.pct != nil && (opts.Percentile == nil || *opts.Percentile != *tt.pct):
				t.Errorf("expected %v override, got %v", *tt.pct, opts.Percentile)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestWorkerWithPipeline(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "worker.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.InsertAccounts(ctx, []string{"A", "B", "C"}, 10); err != nil {
		t.Fatalf("InsertAccounts failed: %v", err)
	}
	err = s.InsertTransfers(ctx, []domain.TransferRecord{
		{Transfer: domain.Transfer{ID: 1, SenderID: "A", ReceiverID: "B", Amount: 500, Step: 1}, Fraud: true},
		{Transfer: domain.Transfer{ID: 2, SenderID: "B", ReceiverID: "C", Amount: 480, Step: 2}},
		{Transfer: domain.Transfer{ID: 3, SenderID: "C", ReceiverID: "A", Amount: 20, Step: 9}},
	}, 10)
	if err != nil {
		t.Fatalf("InsertTransfers failed: %v", err)
	}

	p, err := pipeline.New(domain.DefaultPipelineConfig(), s)
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	w := NewWorker(eventBus, p, nil, nil)
	if err := w.Start(Config{RunTimeout: time.Minute}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := collect(t, eventBus, domain.TopicRunCompleted)

	_ = bus.PublishJSON(ctx, eventBus, domain.TopicRunRequested, domain.RunRequest{RunID: "real"})

	res := receive(t, completed)
	if res.Report == nil || res.Report.Final.Total != 3 {
		t.Fatalf("unexpected report %+v", res.Report)
	}
	if p.LastReport() == nil || p.LastReport().RunID != "real" {
		t.Error("pipeline should keep the last report")
	}
	if p.Running() {
		t.Error("pipeline should be idle after the run")
	}
}

func TestWorkerUnencodableReport(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	runner := &fakeRunner{report: &domain.Report{RunID: "nan", Final: domain.Metrics{Precision: math.NaN()}}}
	w := NewWorker(eventBus, runner, nil, nil)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()
	failed := collect(t, eventBus, domain.TopicRunFailed)

	_ = bus.PublishJSON(context.Background(), eventBus, domain.TopicRunRequested, domain.RunRequest{RunID: "nan"})

	res := receive(t, failed)
	if res.RunID != "nan" || res.Status != "failed" || res.Report != nil || !strings.Contains(res.Error, "encode run result") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestWorkerRequestAfterStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	runner := &fakeRunner{}
	w := NewWorker(eventBus, runner, nil, nil)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	payload, _ := json.Marshal(domain.RunRequest{RunID: "late"})
	err := w.handleRequest(context.Background(), &domain.Message{ID: "m1", Topic: domain.TopicRunRequested, Payload: payload})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if runner.count() != 0 {
		t.Errorf("runner called %d times after stop", runner.count())
	}

	// Stop stays safe to call again with nothing in flight.
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/opensource-finance/fraudgraph/internal/bus"
	"github.com/opensource-finance/fraudgraph/internal/cache"
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/metrics"
)

type fakeStore struct {
	counts     atomic.Int64
	pingErr    error
	transfers  []domain.RankedTransfer
	accounts   []domain.RankedAccount
	lastLimit  atomic.Int64
	suspicious atomic.Bool
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) Counts(ctx context.Context) (domain.Counts, error) {
	f.counts.Add(1)
	return domain.Counts{Accounts: 4, Transfers: 6, Flagged: int64(len(f.transfers))}, nil
}

func (f *fakeStore) TopTransfers(ctx context.Context, limit int, flaggedOnly bool) ([]domain.RankedTransfer, error) {
	f.lastLimit.Store(int64(limit))
	return f.transfers, nil
}

func (f *fakeStore) TopAccounts(ctx context.Context, limit int, suspiciousOnly bool) ([]domain.RankedAccount, error) {
	f.lastLimit.Store(int64(limit))
	f.suspicious.Store(suspiciousOnly)
	return f.accounts, nil
}

type fakeRuns struct {
	running bool
	report  *domain.Report
}

func (f *fakeRuns) Running() bool               { return f.running }
func (f *fakeRuns) LastReport() *domain.Report { return f.report }

func newFakeStore() *fakeStore {
	return &fakeStore{
		transfers: []domain.RankedTransfer{
			{ID: 1, SenderID: "A", ReceiverID: "B", Amount: 900, Score: 0.9, Flagged: true, Confidence: 0.8},
			{ID: 4, SenderID: "C", ReceiverID: "D", Amount: 50, Score: 0.7, Flagged: true},
		},
		accounts: []domain.RankedAccount{
			{ID: "A", AnomalyScore: 0.9, Suspicious: true},
			{ID: "C", AnomalyScore: 0.4},
		},
	}
}

func createTestServer(st ReadModel, c domain.Cache, b domain.EventBus, runs RunState) *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, st, c, b, runs, metrics.New("test"), "test-v1")
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		server := createTestServer(newFakeStore(), cache.NewLRUCache(10), nil, nil)
		rr := get(server, "/health")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("DegradedStore", func(t *testing.T) {
		st := newFakeStore()
		st.pingErr = domain.ErrStoreUnavailable
		server := createTestServer(st, nil, nil, nil)

		var resp map[string]string
		json.Unmarshal(get(server, "/health").Body.Bytes(), &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected degraded, got %q", resp["status"])
		}
		if rr := get(server, "/ready"); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503 from /ready, got %d", rr.Code)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		server := createTestServer(newFakeStore(), nil, nil, nil)
		if rr := get(server, "/ready"); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestReadModels(t *testing.T) {
	t.Run("StatsCachedUntilInvalidated", func(t *testing.T) {
		st := newFakeStore()
		readModels := cache.NewLRUCache(100)
		server := createTestServer(st, readModels, nil, &fakeRuns{running: true})

		for i := 0; i < 3; i++ {
			rr := get(server, "/stats")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp StatsResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.Transfers != 6 || !resp.Running {
				t.Errorf("unexpected stats %+v", resp)
			}
		}
		if n := st.counts.Load(); n != 1 {
			t.Errorf("expected one store read, got %d", n)
		}

		if _, err := cache.Invalidate(context.Background(), readModels); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		get(server, "/stats")
		if n := st.counts.Load(); n != 2 {
			t.Errorf("expected reload after invalidation, got %d reads", n)
		}
	})

	t.Run("TwoPhaseCache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		readModels, err := cache.NewTwoPhaseCache(domain.CacheConfig{RedisAddr: mr.Addr(), LocalMaxSize: 10, LocalTTL: time.Minute})
		if err != nil {
			t.Fatalf("NewTwoPhaseCache failed: %v", err)
		}
		defer readModels.Close()

		st := newFakeStore()
		server := createTestServer(st, readModels, nil, nil)
		get(server, "/stats")

		if !mr.Exists("fraudgraph:v0:stats") {
			t.Errorf("expected versioned key in redis, have %v", mr.Keys())
		}
	})

	t.Run("NoCache", func(t *testing.T) {
		st := newFakeStore()
		server := createTestServer(st, nil, nil, nil)
		get(server, "/stats")
		get(server, "/stats")
		if n := st.counts.Load(); n != 2 {
			t.Errorf("expected a store read per request, got %d", n)
		}
	})

	t.Run("FlaggedTransfers", func(t *testing.T) {
		st := newFakeStore()
		server := createTestServer(st, cache.NewLRUCache(10), nil, nil)

		rr := get(server, "/transfers/flagged?limit=5")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp struct {
			Transfers []domain.RankedTransfer `json:"transfers"`
			Count     int                     `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 || resp.Transfers[0].ID != 1 {
			t.Errorf("unexpected transfers %+v", resp)
		}
		if st.lastLimit.Load() != 5 {
			t.Errorf("limit not passed through, got %d", st.lastLimit.Load())
		}
	})

	t.Run("TopAccounts", func(t *testing.T) {
		st := newFakeStore()
		server := createTestServer(st, nil, nil, nil)

		rr := get(server, "/accounts/top?suspicious=true&limit=999999")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !st.suspicious.Load() {
			t.Error("expected suspicious filter")
		}
		if st.lastLimit.Load() != maxLimit {
			t.Errorf("expected limit capped at %d, got %d", maxLimit, st.lastLimit.Load())
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		server := createTestServer(newFakeStore(), nil, nil, nil)
		for _, path := range []string{"/transfers/flagged?limit=abc", "/accounts/top?limit=-1"} {
			if rr := get(server, path); rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", path, rr.Code)
			}
		}
	})

	t.Run("Report", func(t *testing.T) {
		runs := &fakeRuns{}
		server := createTestServer(newFakeStore(), nil, nil, runs)

		if rr := get(server, "/report"); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 before any run, got %d", rr.Code)
		}

		runs.report = &domain.Report{RunID: "r1", Final: domain.Metrics{Precision: 0.5}}
		rr := get(server, "/report")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var report domain.Report
		json.Unmarshal(rr.Body.Bytes(), &report)
		if report.RunID != "r1" || report.Final.Precision != 0.5 {
			t.Errorf("unexpected report %+v", report)
		}
	})
}

func TestStartRun(t *testing.T) {
	post := func(s *Server, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("Accepted", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		var mu sync.Mutex
		var got []domain.RunRequest
		_, _ = eventBus.Subscribe(context.Background(), domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
			var req domain.RunRequest
			if err := bus.Decode(msg, &req); err != nil {
				return err
			}
			mu.Lock()
			got = append(got, req)
			mu.Unlock()
			return nil
		})

		server := createTestServer(newFakeStore(), nil, eventBus, &fakeRuns{})
		rr := post(server, `{"percentile":0.95,"mode":"recall"}`)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp RunResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.RunID == "" || resp.Status != "accepted" {
			t.Errorf("unexpected response %+v", resp)
		}

		deadline := time.Now().Add(time.Second)
		for {
			mu.Lock()
			n := len(got)
			mu.Unlock()
			if n == 1 || time.Now().After(deadline) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(got) != 1 || got[0].RunID != resp.RunID || got[0].Percentile != 0.95 || got[0].Mode != "recall" {
			t.Errorf("unexpected published request %+v", got)
		}
	})

	t.Run("EmptyBody", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()
		server := createTestServer(newFakeStore(), nil, eventBus, &fakeRuns{})
		if rr := post(server, ""); rr.Code != http.StatusAccepted {
			t.Errorf("expected 202, got %d", rr.Code)
		}
	})

	t.Run("Conflict", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()
		server := createTestServer(newFakeStore(), nil, eventBus, &fakeRuns{running: true})
		if rr := post(server, `{}`); rr.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rr.Code)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()
		server := createTestServer(newFakeStore(), nil, eventBus, &fakeRuns{})

		tests := []struct {
			name string
			body string
		}{
			{"malformed", `{"percentile":`},
			{"percentile above one", `{"percentile":1.5}`},
			{"negative percentile", `{"percentile":-0.1}`},
			{"unknown mode", `{"mode":"aggressive"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rr := post(server, tt.body); rr.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rr.Code)
				}
			})
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		server := createTestServer(newFakeStore(), nil, nil, &fakeRuns{})
		if rr := post(server, `{}`); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server := createTestServer(newFakeStore(), nil, nil, nil)
	get(server, "/stats")

	rr := get(server, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `test_http_requests_total{route="/stats",status="200"} 1`) {
		t.Errorf("expected request counter in exposition:\n%s", rr.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrRunInProgress, http.StatusConflict},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeError(rr, tt.err)
		if rr.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, rr.Code)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RequestIDPropagated", func(t *testing.T) {
		server := createTestServer(newFakeStore(), nil, nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") != "req-123" {
			t.Errorf("expected request id echoed, got %q", rr.Header().Get("X-Request-ID"))
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		server := createTestServer(newFakeStore(), nil, nil, nil)
		req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("expected origin echoed")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

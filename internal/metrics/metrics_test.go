package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

func TestObservePhase(t *testing.T) {
	r := New("test")
	r.ObservePhase("features", 10, time.Second)
	r.ObservePhase("features", 5, time.Second)
	r.ObservePhase("cleanup", 0, time.Millisecond)

	if got := testutil.ToFloat64(r.PhaseRows.WithLabelValues("features")); got != 15 {
		t.Errorf("features rows = %v, want 15", got)
	}
	if got := testutil.CollectAndCount(r.PhaseDuration); got != 2 {
		t.Errorf("expected 2 phase series, got %d", got)
	}
}

func TestObserveRunAndReport(t *testing.T) {
	r := New("")
	r.ObserveRun(nil)
	r.ObserveRun(errors.New("boom"))
	r.ObserveRun(nil)

	if got := testutil.ToFloat64(r.Runs.WithLabelValues("success")); got != 2 {
		t.Errorf("success runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.Runs.WithLabelValues("failure")); got != 1 {
		t.Errorf("failure runs = %v, want 1", got)
	}

	r.ObserveReport(&domain.Report{Final: domain.Metrics{TruePositives: 6, FalsePositives: 2, Precision: 0.75, Recall: 0.6}})
	if got := testutil.ToFloat64(r.Flagged); got != 8 {
		t.Errorf("flagged = %v, want 8", got)
	}
	if got := testutil.ToFloat64(r.Precision); got != 0.75 {
		t.Errorf("precision = %v, want 0.75", got)
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.ObservePhase("features", 1, time.Second)
	r.ObserveRun(nil)
	r.ObserveReport(&domain.Report{})
	r.ObserveRequest("/stats", 200, time.Millisecond)
}

func TestObserveRequest(t *testing.T) {
	r := New("test")
	r.ObserveRequest("/stats", http.StatusOK, 5*time.Millisecond)
	r.ObserveRequest("/stats", http.StatusOK, 5*time.Millisecond)
	r.ObserveRequest("/runs", http.StatusConflict, time.Millisecond)

	if got := testutil.ToFloat64(r.HTTPRequests.WithLabelValues("/stats", "200")); got != 2 {
		t.Errorf("stats requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.HTTPRequests.WithLabelValues("/runs", "409")); got != 1 {
		t.Errorf("conflicting runs = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	r := New("fraudgraph")
	r.ObserveRun(nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fraudgraph_runs_total") {
		t.Error("expected runs counter in exposition")
	}
}

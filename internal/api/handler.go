package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudgraph/internal/bus"
	"github.com/opensource-finance/fraudgraph/internal/cache"
	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// ReadModel is the store surface the API reads from.
type ReadModel interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (domain.Counts, error)
	TopTransfers(ctx context.Context, limit int, flaggedOnly bool) ([]domain.RankedTransfer, error)
	TopAccounts(ctx context.Context, limit int, suspiciousOnly bool) ([]domain.RankedAccount, error)
}

// RunState exposes the pipeline's run status.
type RunState interface {
	Running() bool
	LastReport() *domain.Report
}

const (
	defaultLimit = 100
	maxLimit     = 10000

	// DefaultCacheTTL bounds how long a summary survives without a run.
	DefaultCacheTTL = 5 * time.Minute
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store    ReadModel
	cache    domain.Cache
	bus      domain.EventBus
	runs     RunState
	version  string
	cacheTTL time.Duration
}

// NewHandler creates a new API handler. The cache, bus and run state may be
// nil; the endpoints that need them then report the dependency as missing.
func NewHandler(store ReadModel, c domain.Cache, b domain.EventBus, runs RunState, version string) *Handler {
	return &Handler{
		store:    store,
		cache:    c,
		bus:      b,
		runs:     runs,
		version:  version,
		cacheTTL: DefaultCacheTTL,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the store accepts queries.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	domain.Counts
	Running bool `json:"running"`
}

// Stats returns store counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var counts domain.Counts
	err := h.cached(r.Context(), "stats", &counts, func(ctx context.Context) (any, error) {
		return h.store.Counts(ctx)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := StatsResponse{Counts: counts}
	if h.runs != nil {
		resp.Running = h.runs.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FlaggedTransfers returns the highest scoring flagged transfers.
func (h *Handler) FlaggedTransfers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var transfers []domain.RankedTransfer
	err = h.cached(r.Context(), fmt.Sprintf("transfers:flagged:%d", limit), &transfers, func(ctx context.Context) (any, error) {
		return h.store.TopTransfers(ctx, limit, true)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transfers": transfers,
		"count":     len(transfers),
	})
}

// TopAccounts returns accounts ranked by anomaly score.
func (h *Handler) TopAccounts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	suspicious := r.URL.Query().Get("suspicious") == "true"

	var accounts []domain.RankedAccount
	key := fmt.Sprintf("accounts:top:%d:%t", limit, suspicious)
	err = h.cached(r.Context(), key, &accounts, func(ctx context.Context) (any, error) {
		return h.store.TopAccounts(ctx, limit, suspicious)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// Report returns the report of the last completed run.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	var report *domain.Report
	if h.runs != nil {
		report = h.runs.LastReport()
	}
	if report == nil {
		writeError(w, fmt.Errorf("%w: no completed run", domain.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunResponse is the response for POST /runs.
type RunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// StartRun queues a pipeline run on the event bus.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	if h.runs != nil && h.runs.Running() {
		writeError(w, domain.ErrRunInProgress)
		return
	}

	var req domain.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Percentile < 0 || req.Percentile > 1 {
		writeError(w, fmt.Errorf("%w: percentile must be within [0,1]", domain.ErrInvalidInput))
		return
	}
	if req.Mode != "" {
		if _, err := domain.ParseFilterMode(req.Mode); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
			return
		}
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicRunRequested, req); err != nil {
		slog.Error("failed to publish run request", "run_id", req.RunID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue run",
		})
		return
	}

	slog.Info("run queued", "run_id", req.RunID, "trace_id", GetTraceID(r.Context()))
	writeJSON(w, http.StatusAccepted, RunResponse{RunID: req.RunID, Status: "accepted"})
}

// cached serves v from the read-model cache, falling back to load and
// storing its result under the current generation. Cache failures degrade to
// a direct load.
func (h *Handler) cached(ctx context.Context, name string, v any, load func(context.Context) (any, error)) error {
	if h.store == nil {
		return domain.ErrStoreUnavailable
	}

	var key string
	if h.cache != nil {
		var err error
		if key, err = cache.VersionedKey(ctx, h.cache, name); err != nil {
			slog.Warn("cache generation unavailable", "key", name, "error", err)
			key = ""
		}
	}
	if key != "" {
		if ok, err := cache.GetJSON(ctx, h.cache, key, v); err == nil && ok {
			return nil
		}
	}

	fresh, err := load(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if key != "" {
		if err := cache.SetJSON(ctx, h.cache, key, fresh, h.cacheTTL); err != nil {
			slog.Warn("failed to cache read model", "key", key, "error", err)
		}
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput)
	}
	return min(n, maxLimit), nil
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Package metrics exposes pipeline metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Registry holds all pipeline metrics.
type Registry struct {
	PhaseDuration *prometheus.HistogramVec
	PhaseRows     *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	Flagged       prometheus.Gauge
	Precision     prometheus.Gauge
	Recall        prometheus.Gauge
	F1            prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a registry whose metric names carry the namespace.
func New(namespace string) *Registry {
	if namespace == "" {
		namespace = "fraudgraph"
	}
	r := &Registry{registry: prometheus.NewRegistry()}
	factory := promauto.With(r.registry)

	r.PhaseDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Pipeline phase duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"phase"},
	)
	r.PhaseRows = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_rows_total",
			Help:      "Rows affected by pipeline phases",
		},
		[]string{"phase"},
	)
	r.Runs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)
	r.Flagged = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "flagged_transfers",
		Help:      "Transfers flagged by the last run",
	})
	r.Precision = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_precision",
		Help:      "Precision of the last evaluated run",
	})
	r.Recall = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_recall",
		Help:      "Recall of the last evaluated run",
	})
	r.F1 = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_f1",
		Help:      "F1 score of the last evaluated run",
	})
	r.HTTPRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status",
		},
		[]string{"route", "status"},
	)
	r.HTTPDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	return r
}

// ObserveRequest records one served API request.
func (r *Registry) ObserveRequest(route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObservePhase records one completed phase.
func (r *Registry) ObservePhase(phase string, rows int64, d time.Duration) {
	if r == nil {
		return
	}
	r.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	if rows > 0 {
		r.PhaseRows.WithLabelValues(phase).Add(float64(rows))
	}
}

// ObserveRun counts a finished run.
func (r *Registry) ObserveRun(err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.Runs.WithLabelValues(outcome).Inc()
}

// ObserveReport publishes the final metrics of a run.
func (r *Registry) ObserveReport(report *domain.Report) {
	if r == nil || report == nil {
		return
	}
	r.Flagged.Set(float64(report.Final.TruePositives + report.Final.FalsePositives))
	r.Precision.Set(report.Final.Precision)
	r.Recall.Set(report.Final.Recall)
	r.F1.Set(report.Final.F1)
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

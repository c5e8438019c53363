// Package metrics exposes Prometheus instrumentation for the recompute
// pipeline. Collectors are registered on the default registry and served
// by Handler on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecomputeRuns counts recompute batches by trigger and final status.
	RecomputeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_recompute_runs_total",
		Help: "Recompute batches by trigger (manual, periodic, debounced) and status.",
	}, []string{"trigger", "status"})

	// SnapshotRows counts snapshot writes by operation.
	SnapshotRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_snapshot_rows_total",
		Help: "Forecast snapshot rows written, by operation (inserted, updated).",
	}, []string{"op"})

	// SnapshotRowErrors counts per-row snapshot write failures. These never
	// abort a batch; they are reported back to the caller.
	SnapshotRowErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_snapshot_row_errors_total",
		Help: "Forecast snapshot rows that failed to persist.",
	})

	// RecomputeDuration observes wall time of recompute batches.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "margin_recompute_duration_seconds",
		Help:    "Duration of recompute batches.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// ObserveRun records the outcome of one recompute batch.
func ObserveRun(trigger, status string, took time.Duration) {
	RecomputeRuns.WithLabelValues(trigger, status).Inc()
	RecomputeDuration.Observe(took.Seconds())
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// shared/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest metrics
var (
	ActionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_actions_accepted_total",
		Help: "Game actions accepted and appended to the event log",
	}, []string{"action"})

	ActionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_actions_rejected_total",
		Help: "Game actions rejected at the ingest boundary",
	}, []string{"reason"})

	PublishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_actions_publish_retries_total",
		Help: "Event log append attempts that failed and were retried",
	})

	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_actions_publish_duration_seconds",
		Help:    "Time until the event log acknowledged an append, retries included",
		Buckets: prometheus.DefBuckets,
	})
)

// Projector metrics
var (
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_records_processed_total",
		Help: "Event log records applied to a projection",
	}, []string{"projection"})

	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_records_skipped_total",
		Help: "Event log records skipped, by reason (malformed, offset, duplicate)",
	}, []string{"projection", "reason"})

	ApplyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_apply_failures_total",
		Help: "Projection store writes that failed and will be retried",
	}, []string{"projection"})

	ProjectionLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "projector_lag_seconds",
		Help: "Age of the last applied action when it was applied",
	}, []string{"projection", "partition"})

	ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "projector_active_workers",
		Help: "Partition workers currently running on this instance",
	}, []string{"projection"})

	SnapshotsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_leaderboard_snapshots_archived_total",
		Help: "Leaderboard snapshots written to the archive",
	})
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package observability holds the Prometheus collectors for the sync engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Change kinds reported by reconcile and import.
const (
	ChangeAdded   = "added"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

var (
	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runhub",
		Subsystem: "sync",
		Name:      "reconcile_duration_seconds",
		Help:      "Wall-clock time of reconcile invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	changesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runhub",
		Subsystem: "sync",
		Name:      "changes_total",
		Help:      "Mirror changes applied, labeled by kind.",
	}, []string{"kind"})

	importedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runhub",
		Subsystem: "sync",
		Name:      "import_inserted_total",
		Help:      "Activities inserted by the bulk importer.",
	})

	recordErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runhub",
		Subsystem: "sync",
		Name:      "record_errors_total",
		Help:      "Per-record write failures absorbed during reconcile.",
	})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runhub",
		Subsystem: "sync",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync.",
	})

	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runhub",
		Subsystem: "strava",
		Name:      "requests_total",
		Help:      "Requests sent to the Strava API, labeled by status code or error.",
	}, []string{"status"})

	breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runhub",
		Subsystem: "strava",
		Name:      "circuit_breaker_state",
		Help:      "Strava circuit breaker state: 0 closed, 1 half-open, 2 open.",
	})
)

func init() {
	prometheus.MustRegister(reconcileDuration, changesCounter, importedCounter, recordErrorCounter, lastSyncGauge, upstreamRequests, breakerState)
}

// ObserveReconcile records the duration of a reconcile call.
func ObserveReconcile(d time.Duration) {
	reconcileDuration.Observe(d.Seconds())
}

// RecordChanges adds n to the counter for kind.
func RecordChanges(kind string, n int) {
	if n <= 0 {
		return
	}
	changesCounter.WithLabelValues(kind).Add(float64(n))
}

// RecordImported counts activities inserted by the importer.
func RecordImported(n int) {
	if n <= 0 {
		return
	}
	importedCounter.Add(float64(n))
}

// RecordRecordError counts one absorbed per-record failure.
func RecordRecordError() {
	recordErrorCounter.Inc()
}

// RecordSyncCompleted updates the sync watermark gauge.
func RecordSyncCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}

// RecordUpstreamRequest counts one Strava call by outcome label.
func RecordUpstreamRequest(status string) {
	upstreamRequests.WithLabelValues(status).Inc()
}

// SetBreakerState publishes the numeric circuit breaker state.
func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}

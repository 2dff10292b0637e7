// Package metrics exposes the Prometheus instrumentation surface for the
// collab runtime: persistence throughput, sync backpressure, and broadcast
// fan-out, scraped by collabd's /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Persistence (update log + snapshot engine, spec §4.2).
	UpdateLogWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_update_log_writes_total",
			Help: "Total number of CRDT update rows appended to the update log.",
		},
		[]string{"collab_type"},
	)

	UpdateLogBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_update_log_bytes_total",
			Help: "Total bytes of encoded CRDT updates appended to the update log.",
		},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_snapshots_total",
			Help: "Total number of snapshot compactions performed, by outcome.",
		},
		[]string{"outcome"}, // ok, skipped, failed
	)

	SnapshotBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collab_snapshot_bytes",
			Help:    "Size in bytes of merged snapshot payloads.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	SnapshotCompactDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collab_snapshot_compact_duration_seconds",
			Help:    "Time taken to merge updates into a snapshot.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Collab runtime (transactions, spec §4.3).
	TransactionCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collab_transaction_commit_duration_seconds",
			Help:    "Time taken to commit a write transaction, plugin hooks included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collab_type"},
	)

	PluginHookErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_plugin_hook_errors_total",
			Help: "Total number of plugin hook errors surfaced on the error channel.",
		},
		[]string{"plugin", "hook"},
	)

	// Sync layer (sink + broadcast, spec §4.8/§4.9).
	SinkQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collab_sink_queue_depth",
			Help: "Current number of frames queued per connection sink.",
		},
		[]string{"connection"},
	)

	SinkDroppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_sink_dropped_frames_total",
			Help: "Total number of frames dropped for exceeding the retry horizon.",
		},
		[]string{"connection"},
	)

	SinkCoalescedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_sink_coalesced_frames_total",
			Help: "Total number of update frames merged by the coalescing window.",
		},
	)

	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_reconnect_attempts_total",
			Help: "Total number of sync connection reconnect attempts.",
		},
	)

	BroadcastFanout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_broadcast_fanout_total",
			Help: "Total number of updates fanned out to subscribers by the broadcast group.",
		},
		[]string{"object_id"},
	)

	AwarenessPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collab_awareness_peers",
			Help: "Current number of live awareness peers per document.",
		},
		[]string{"object_id"},
	)
)

func init() {
	prometheus.MustRegister(
		UpdateLogWrites,
		UpdateLogBytes,
		SnapshotsTotal,
		SnapshotBytes,
		SnapshotCompactDuration,
		TransactionCommitDuration,
		PluginHookErrors,
		SinkQueueDepth,
		SinkDroppedFrames,
		SinkCoalescedFrames,
		ReconnectAttempts,
		BroadcastFanout,
		AwarenessPeers,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

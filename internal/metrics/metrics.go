// Package metrics declares the Prometheus collectors the daemon exposes,
// one small set per component rather than a single catch-all registry,
// the same per-subsystem split as datx/metrics.go, datx/downloader/metrics.go
// and datx/fetcher/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide collector registry. A dedicated registry
// (rather than the global default) keeps test runs hermetic.
var Registry = prometheus.NewRegistry()

var (
	PresignAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "presign_pool",
		Name:      "available",
		Help:      "Number of presign entries currently available for lease.",
	})
	PresignLeased = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "presign_pool",
		Name:      "leased",
		Help:      "Number of presign entries currently leased.",
	})
	PresignConsumed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "presign_pool",
		Name:      "consumed",
		Help:      "Number of presign entries consumed (terminal).",
	})
	PresignReplenishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rebornd",
		Subsystem: "presign_pool",
		Name:      "replenish_failures_total",
		Help:      "Replenishment units that failed before completion.",
	})

	SequencerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "sequencer",
		Name:      "queue_depth",
		Help:      "Number of tasks waiting for the sequencer's single worker.",
	})
	SequencerTaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rebornd",
		Subsystem: "sequencer",
		Name:      "task_duration_seconds",
		Help:      "Wall-clock duration of sequencer tasks.",
	})

	EventPollerCursor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "event_poller",
		Name:      "cursor_event_seq",
		Help:      "Last persisted event sequence per stream.",
	}, []string{"stream"})
	EventPollerLagSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "event_poller",
		Name:      "last_poll_age_seconds",
		Help:      "Seconds since this stream last completed a poll cycle.",
	}, []string{"stream"})

	AttestationsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rebornd",
		Subsystem: "attestation_ingester",
		Name:      "processed_total",
		Help:      "Attestations processed, by emitter label and outcome.",
	}, []string{"emitter", "outcome"})

	SessionsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rebornd",
		Subsystem: "session",
		Name:      "count_by_status",
		Help:      "Number of sessions currently in each status.",
	}, []string{"status"})

	MintRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rebornd",
		Subsystem: "mint_submitter",
		Name:      "retries_total",
		Help:      "Mint submission retry attempts.",
	}, []string{"outcome"})

	SigningCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rebornd",
		Subsystem: "signing_orchestrator",
		Name:      "completed_total",
		Help:      "SignPending jobs processed, by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		PresignAvailable,
		PresignLeased,
		PresignConsumed,
		PresignReplenishFailures,
		SequencerQueueDepth,
		SequencerTaskDuration,
		EventPollerCursor,
		EventPollerLagSeconds,
		AttestationsProcessed,
		SessionsByStatus,
		MintRetries,
		SigningCompleted,
	)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived tracks inbound webhook calls by result
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_webhooks_total",
			Help: "Total number of download webhooks received",
		},
		[]string{"result"},
	)

	// JobOutcomes tracks orchestrator attempt outcomes
	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_job_outcomes_total",
			Help: "Total number of download attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Classifications tracks classified failures per category
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_failures_classified_total",
			Help: "Total number of failures by error category",
		},
		[]string{"category", "retryable"},
	)

	// Alerts tracks failures that were routed to a human
	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_alerts_total",
			Help: "Total number of operator alerts raised",
		},
		[]string{"category"},
	)

	// TransferBytes tracks stored bytes
	TransferBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediadownloader_transfer_bytes_total",
			Help: "Total number of bytes stored",
		},
	)

	// MessagesProcessed tracks queue messages by queue and result
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_messages_processed_total",
			Help: "Total number of queue messages processed",
		},
		[]string{"queue", "result"},
	)

	// HandlerLatency tracks per-message handler latency
	HandlerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediadownloader_handler_latency_seconds",
			Help:    "Queue handler latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// QueueDepth tracks visible plus in-flight messages per queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediadownloader_queue_depth",
			Help: "Number of messages held by the queue",
		},
		[]string{"queue"},
	)

	// DeadLettered tracks messages moved to the dead letter set
	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_dead_lettered_total",
			Help: "Total number of messages moved to the dead letter queue",
		},
		[]string{"queue"},
	)

	// Deliveries tracks push deliveries per result
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_push_deliveries_total",
			Help: "Total number of push deliveries by kind and result",
		},
		[]string{"kind", "result"},
	)

	// DeviceCleanups tracks detached unregistered-device cleanups
	DeviceCleanups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_device_cleanups_total",
			Help: "Total number of unregistered device cleanups",
		},
		[]string{"result"},
	)

	// IdempotencyResults tracks guard decisions
	IdempotencyResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadownloader_idempotency_total",
			Help: "Idempotency guard decisions (executed, replayed, fail_open, in_flight)",
		},
		[]string{"result"},
	)

	// JobsPruned tracks terminal jobs removed by retention
	JobsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediadownloader_jobs_pruned_total",
			Help: "Total number of terminal jobs deleted by retention",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediadownloader_db_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool size",
		},
	)
)

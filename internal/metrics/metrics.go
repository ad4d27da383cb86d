package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook request metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_webhooks_total",
			Help: "Total number of webhook requests received",
		},
		[]string{"status"},
	)

	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_webhook_duration_seconds",
			Help:    "Duration of webhook request processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SignatureFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_signature_failures_total",
			Help: "Total number of rejected webhook signatures",
		},
		[]string{"reason"},
	)

	// Event processing metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_total",
			Help: "Total number of webhook events processed",
		},
		[]string{"type", "outcome"},
	)

	RedeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_redeliveries_total",
			Help: "Total number of events flagged as redeliveries by the platform",
		},
	)

	DedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_dedup_hits_total",
			Help: "Total number of events skipped as already processed",
		},
	)

	// Storage metrics
	StorageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_storage_duration_seconds",
			Help:    "Duration of message storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StorageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_storage_errors_total",
			Help: "Total number of message storage failures",
		},
	)

	PartitionsProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_partitions_provisioned_total",
			Help: "Total number of monthly partitions created on demand",
		},
	)

	// Normalization metrics
	NormalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_normalization_duration_seconds",
			Help:    "Duration of message content normalization in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Media fetch metrics
	MediaFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_media_fetch_duration_seconds",
			Help:    "Duration of platform media downloads in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MediaFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_media_fetch_errors_total",
			Help: "Total number of failed platform media downloads",
		},
	)

	// Collaborator metrics
	CollaboratorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_collaborator_errors_total",
			Help: "Total number of best-effort collaborator call failures",
		},
		[]string{"collaborator"},
	)

	ResponderDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_responder_dispatches_total",
			Help: "Total number of auto-responder invocations",
		},
		[]string{"outcome"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_rate_limit_hits_total",
			Help: "Total number of webhook requests over the rate limit",
		},
	)
)

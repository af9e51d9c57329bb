package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exposed on /metrics alongside the default collectors
var (
	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Payment intents created, by provider and outcome",
	}, []string{"provider", "outcome"})

	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_captures_total",
		Help: "Capture operations, by provider and outcome",
	}, []string{"provider", "outcome"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunds_total",
		Help: "Refund operations, by provider and outcome",
	}, []string{"provider", "outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook deliveries, by provider and result",
	}, []string{"provider", "result"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_provider_errors_total",
		Help: "Provider call failures, by provider and error kind",
	}, []string{"provider", "kind"})

	ReconciliationDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_drift_total",
		Help: "Intents corrected by the reconciliation sweep, by provider",
	}, []string{"provider"})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_invariant_violations_total",
		Help: "Operations halted by a ledger or amount invariant breach",
	})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_call_duration_seconds",
		Help:    "Outbound provider call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
)

// Webhook result label values
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookStale     = "stale"
	WebhookUnmatched = "unmatched"
	WebhookRejected  = "rejected"
)

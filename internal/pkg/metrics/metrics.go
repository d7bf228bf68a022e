package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts reconciled provider events by type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrfox",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Provider webhook events by event type and reconciliation outcome.",
	}, []string{"type", "outcome"})

	// ProviderRequestsTotal counts payment provider API calls.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrfox",
		Subsystem: "billing",
		Name:      "provider_requests_total",
		Help:      "Payment provider API requests by operation and result.",
	}, []string{"op", "result"})

	// DeadLetterTotal counts dead-letter queue transitions.
	DeadLetterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrfox",
		Subsystem: "billing",
		Name:      "deadletter_total",
		Help:      "Webhook dead-letter entries by result (queued, replayed, requeued, exhausted).",
	}, []string{"result"})
)

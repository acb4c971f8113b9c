package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_requests_total",
		Help: "Webhook requests by provider and response status code.",
	}, []string{"provider", "code"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_webhook_duration_seconds",
		Help:    "Webhook handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	SignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_signature_failures_total",
		Help: "Webhooks rejected because the signature did not verify.",
	}, []string{"provider"})

	LedgerCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_ledger_credits_total",
		Help: "Balance credits applied to the ledger.",
	}, []string{"provider"})

	LedgerDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_ledger_duplicates_total",
		Help: "Replayed events that did not change a balance.",
	}, []string{"provider"})

	CreditedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_ledger_credited_amount_total",
		Help: "Sum of credited amounts, by provider and currency.",
	}, []string{"provider", "currency"})

	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outbox_dispatched_total",
		Help: "Outbox events handed to Kafka, by result.",
	}, []string{"result"})
)

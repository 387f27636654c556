package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_messages_sent_total",
			Help: "Total outbound messages accepted by the provider",
		},
	)

	MessageFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_message_failures_total",
			Help: "Total outbound messages that failed",
		},
	)

	DispatchPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_passes_total",
			Help: "Total dispatch passes executed",
		},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total scheduled jobs marked completed",
		},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total webhook events ingested, by kind",
		},
		[]string{"kind"},
	)

	PaymentVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Total payment hash verifications, by outcome",
		},
		[]string{"outcome"},
	)
)

func Init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessageFailures)
	prometheus.MustRegister(DispatchPasses)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(PaymentVerifications)
}

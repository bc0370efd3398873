package webhooks

import "github.com/prometheus/client_golang/prometheus"

// Delivery outcomes used as the "outcome" label.
const (
	OutcomeDelivered    = "delivered"
	OutcomeTerminal     = "terminal"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRedelivered  = "redelivered"
	OutcomeDropped      = "dropped"
)

var (
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ucp_webhook_deliveries_total",
			Help: "Webhook deliveries by event and final outcome.",
		},
		[]string{"event", "outcome"},
	)

	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ucp_webhook_attempt_duration_seconds",
			Help:    "Duration of single webhook HTTP attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	deadLetters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ucp_webhook_dead_letters",
			Help: "Dead-letter records waiting for the sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveries, attemptDuration, deadLetters)
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentVerifyRequests,
		WebhookEventsTotal,
		ProcessorCallDuration,
	)
}

var (
	// Count of signature checks grouped by channel and result.
	// channel: direct|webhook
	// result: ok|fail
	PaymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_payment_verify_total",
			Help: "Payment signature verifications by channel and result.",
		},
		[]string{"channel", "result"},
	)

	// Webhook deliveries by event and outcome.
	// result: applied|duplicate|ignored|rejected|error
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_webhook_events_total",
			Help: "Processor webhook deliveries by event and result.",
		},
		[]string{"event", "result"},
	)

	// Latency of outbound processor calls grouped by operation and result.
	ProcessorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paywall_processor_call_duration_seconds",
			Help:    "Duration of outbound payment processor calls in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op", "result"},
	)
)

func IncVerify(channel string, ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	PaymentVerifyRequests.WithLabelValues(norm(channel), result).Inc()
}

func IncWebhookEvent(event, result string) {
	WebhookEventsTotal.WithLabelValues(norm(event), norm(result)).Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		accessDecisionsTotal,
		selfHealedExpiriesTotal,
		rateLimitRejectionsTotal,
	)
}

var (
	// kind: none|one_time|subscription
	accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_access_decisions_total",
			Help: "Access Resolver decisions by kind.",
		},
		[]string{"kind"},
	)

	selfHealedExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paywall_access_self_healed_expiries_total",
			Help: "Stale grants expired on the read path.",
		},
	)

	rateLimitRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paywall_rate_limit_rejections_total",
			Help: "Reveal requests rejected by the rate limiter.",
		},
	)
)

func IncAccessDecision(kind string) {
	accessDecisionsTotal.WithLabelValues(norm(kind)).Inc()
}

func IncSelfHealedExpiry() {
	selfHealedExpiriesTotal.Inc()
}

func IncRateLimitRejection() {
	rateLimitRejectionsTotal.Inc()
}

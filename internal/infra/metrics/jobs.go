package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobRunsTotal, purchasesExpiredTotal, subscriptionsExpiredTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_job_runs_total",
			Help: "Background job passes, labeled by job and result.",
		},
		[]string{"job", "result"}, // job: sweeper|reconciler, result: ok|error|skipped
	)

	purchasesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paywall_sweeper_purchases_expired_total",
			Help: "Purchases expired by the sweeper.",
		},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paywall_sweeper_subscriptions_expired_total",
			Help: "Subscriptions expired by the sweeper.",
		},
	)
)

func IncJobRun(job, result string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
}

func AddPurchasesExpired(n int) {
	purchasesExpiredTotal.Add(float64(n))
}

func AddSubscriptionsExpired(n int) {
	subscriptionsExpiredTotal.Add(float64(n))
}

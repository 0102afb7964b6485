package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		purchaseTransitionsTotal,
		grantsIssuedTotal,
		ledgerConflictsTotal,
	)
}

var (
	// to: pending|completed|failed|expired
	purchaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_purchase_transitions_total",
			Help: "Purchase ledger transitions by target status.",
		},
		[]string{"to"},
	)

	grantsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_grants_issued_total",
			Help: "Purchases created, by payment method.",
		},
		[]string{"method"},
	)

	ledgerConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywall_ledger_conflicts_total",
			Help: "Conflicts raised by the ledger (security relevant).",
		},
		[]string{"op"},
	)
)

func IncPurchaseTransition(to string) {
	purchaseTransitionsTotal.WithLabelValues(norm(to)).Inc()
}

func IncGrantIssued(method string) {
	grantsIssuedTotal.WithLabelValues(norm(method)).Inc()
}

func IncLedgerConflict(op string) {
	ledgerConflictsTotal.WithLabelValues(norm(op)).Inc()
}

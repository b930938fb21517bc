package metrics

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for ledger operations.
type Metrics struct {
	Operations           *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	AmountAllocated      *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec
	VersionConflicts     prometheus.Counter
	NotificationFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_operations_total",
			Help: "Ledger operations by name and outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loanledger_operation_duration_seconds",
			Help:    "Time spent in ledger operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		AmountAllocated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_amount_allocated_total",
			Help: "Money allocated by payments and settlements, by component",
		}, []string{"component"}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_status_transitions_total",
			Help: "Ledger status transitions by target status",
		}, []string{"status"}),
		VersionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "loanledger_version_conflicts_total",
			Help: "Updates rejected because the ledger changed concurrently",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "loanledger_notification_failures_total",
			Help: "Best-effort notifications that could not be delivered",
		}),
	}
}

// ObserveOperation records an operation's outcome (ok or its error kind) and duration.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveTransaction adds a transaction's components to the allocation counters.
func (m *Metrics) ObserveTransaction(txn models.PaymentTransaction) {
	m.AmountAllocated.WithLabelValues("principal").Add(txn.PrincipalComponent.InexactFloat64())
	m.AmountAllocated.WithLabelValues("interest").Add(txn.InterestComponent.InexactFloat64())
	m.AmountAllocated.WithLabelValues("penalty").Add(txn.PenaltyComponent.InexactFloat64())
	m.AmountAllocated.WithLabelValues("fee").Add(txn.FeeComponent.InexactFloat64())
	m.AmountAllocated.WithLabelValues("unallocated").Add(txn.UnallocatedAmount.InexactFloat64())
}

// ObserveStatus counts a transition into status.
func (m *Metrics) ObserveStatus(status models.LedgerStatus) {
	m.StatusTransitions.WithLabelValues(string(status)).Inc()
}

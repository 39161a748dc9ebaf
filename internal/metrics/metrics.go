package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_transitions_total",
			Help: "Applied order and payment status transitions",
		},
		[]string{"resource", "to"},
	)

	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_sweep_runs_total",
			Help: "Scheduler runs by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	SweepOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_sweep_orders_total",
			Help: "Orders visited by sweeps, by result",
		},
		[]string{"sweep", "result"},
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_sweep_duration_seconds",
			Help:    "Duration of one scheduler run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_notifications_total",
			Help: "Persisted notification records by type",
		},
		[]string{"type"},
	)

	NonFatalErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_nonfatal_errors_total",
			Help: "Failures that were logged and swallowed",
		},
		[]string{"component"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(SweepRunsTotal)
	prometheus.MustRegister(SweepOrdersTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NonFatalErrorsTotal)
}

package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "staysettle",
		Subsystem: "reconciliation",
		Name:      "mismatches",
		Help:      "Number of holds that disagreed with the ledger in the last reconciliation run.",
	})

	reconcileChecked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "staysettle",
		Subsystem: "reconciliation",
		Name:      "holds_checked",
		Help:      "Number of holds inspected in the last reconciliation run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "staysettle",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "staysettle",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation runs aborted by a store error.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileMismatches,
		reconcileChecked,
		reconcileDuration,
		reconcileErrors,
	)
}

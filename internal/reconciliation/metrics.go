package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	driftedScopes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "customsdesk",
		Subsystem: "reconciliation",
		Name:      "drifted_scopes",
		Help:      "Scopes whose balance hint disagreed with the ledger in the last run.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "customsdesk",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "customsdesk",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Failed reconciliation runs.",
	})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "customsdesk",
		Subsystem: "reconciliation",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run.",
	})
)

func init() {
	prometheus.MustRegister(driftedScopes, runDuration, runErrors, lastSuccess)
}

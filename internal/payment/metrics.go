package payment

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/customsdesk/internal/ledger"
)

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "customsdesk",
			Subsystem: "payment",
			Name:      "attempts_total",
			Help:      "Credit payment attempts by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "customsdesk",
			Subsystem: "payment",
			Name:      "duration_seconds",
			Help:      "Credit payment duration in seconds by scope.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"scope"},
	)

	debitedCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "customsdesk",
			Subsystem: "payment",
			Name:      "credits_debited_total",
			Help:      "Credits debited by committed payments, by scope.",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, duration, debitedCredits)
}

// outcome maps an error to a low-cardinality metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPricing):
		return "invalid_pricing"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrRateUnavailable):
		return "rate_unavailable"
	}
	return "unexpected"
}

func observePayment(scope ledger.ScopeType, err error, elapsed time.Duration) {
	attemptsTotal.WithLabelValues(string(scope), outcome(err)).Inc()
	duration.WithLabelValues(string(scope)).Observe(elapsed.Seconds())
}

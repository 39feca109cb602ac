package fx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var lookupDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "customsdesk",
	Subsystem: "fx",
	Name:      "lookup_duration_seconds",
	Help:      "FX rate lookups against the publisher by outcome.",
	Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(lookupDuration)
}

func observeLookup(outcome string, start time.Time) {
	lookupDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

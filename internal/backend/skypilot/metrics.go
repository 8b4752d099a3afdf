package skypilot

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for launch outcomes.
const (
	launchOK     = "ok"
	launchFailed = "failed"
)

var (
	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicing_skypilot_launches_total",
			Help: "Total number of sky serve up invocations, by outcome.",
		},
		[]string{"status"},
	)

	launchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "servicing_skypilot_launch_seconds",
			Help:    "Duration from sky serve up to endpoint discovery, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(launchesTotal)
	prometheus.MustRegister(launchDuration)

	launchesTotal.WithLabelValues(launchOK)
	launchesTotal.WithLabelValues(launchFailed)
}

package backend

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for readiness poll outcomes.
const (
	pollNotReady = "not_ready"
	pollReady    = "ready"
	pollError    = "error"
	pollGone     = "gone"
)

var (
	readinessPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicing_readiness_polls_total",
			Help: "Total number of readiness probe attempts, by outcome.",
		},
		[]string{"result"},
	)

	readyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "servicing_skypilot_ready_seconds",
			Help:    "Duration from watch start to the first ready probe, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(readinessPolls)
	prometheus.MustRegister(readyDuration)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, r := range []string{pollNotReady, pollReady, pollError, pollGone} {
		readinessPolls.WithLabelValues(r)
	}
}

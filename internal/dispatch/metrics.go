package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicing_operations_total",
			Help: "Total number of caller-facing lifecycle operations, by outcome.",
		},
		[]string{"op", "outcome"},
	)

	servicesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "servicing_services",
			Help: "Number of services currently registered in the cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(servicesGauge)
}

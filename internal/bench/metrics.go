package bench

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whetstone_forward_duration_seconds",
		Help:    "Time spent in one timed forward pass",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"kind"})

	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whetstone_iterations_total",
		Help: "Total number of timed benchmark iterations",
	}, []string{"kind"})
)

package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whetstone_device_allocs_total",
		Help: "Total number of device buffer allocations",
	})

	freesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whetstone_device_frees_total",
		Help: "Total number of device buffer releases",
	})

	buffersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whetstone_device_buffers_live",
		Help: "Current number of live device buffers",
	})

	elemsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whetstone_device_elements_live",
		Help: "Current number of live device-resident float32 elements",
	})
)

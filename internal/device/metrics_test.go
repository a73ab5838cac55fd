package device

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestRegistry_Metrics(t *testing.T) {
	rt := NewCPURuntime(0)
	reg := NewRegistry(rt)

	// Metrics are process-global, so track deltas.
	startAllocs := getMetricValue(allocsTotal)
	startFrees := getMetricValue(freesTotal)
	startLive := getMetricValue(buffersLive)
	startElems := getMetricValue(elemsLive)

	h, err := reg.CreateBuffer(64)
	if err != nil {
		t.Fatal(err)
	}

	if d := getMetricValue(allocsTotal) - startAllocs; d != 1 {
		t.Errorf("allocs delta %v, want 1", d)
	}
	if d := getMetricValue(buffersLive) - startLive; d != 1 {
		t.Errorf("live delta %v, want 1", d)
	}
	if d := getMetricValue(elemsLive) - startElems; d != 64 {
		t.Errorf("elems delta %v, want 64", d)
	}

	if err := reg.ReleaseBuffer(h); err != nil {
		t.Fatal(err)
	}

	if d := getMetricValue(freesTotal) - startFrees; d != 1 {
		t.Errorf("frees delta %v, want 1", d)
	}
	if d := getMetricValue(buffersLive) - startLive; d != 0 {
		t.Errorf("live delta %v after release, want 0", d)
	}
	if d := getMetricValue(elemsLive) - startElems; d != 0 {
		t.Errorf("elems delta %v after release, want 0", d)
	}
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFactoryIsolatesRegistries(t *testing.T) {
	opts := prometheus.CounterOpts{Namespace: Namespace, Name: "test_total", Help: "test"}

	// Two nil-registry factories must not collide on the same name
	a := Factory(nil).NewCounter(opts)
	b := Factory(nil).NewCounter(opts)

	a.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a))
	assert.Equal(t, float64(0), testutil.ToFloat64(b))
}

func TestReaders(t *testing.T) {
	f := Factory(prometheus.NewRegistry())

	c := f.NewCounter(prometheus.CounterOpts{Name: "c_total", Help: "c"})
	c.Add(3)
	assert.Equal(t, float64(3), CounterValue(c))

	g := f.NewGauge(prometheus.GaugeOpts{Name: "g", Help: "g"})
	g.Set(0.75)
	assert.Equal(t, 0.75, GaugeValue(g))

	h := f.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h", Buckets: LatencyBuckets})
	assert.Equal(t, float64(0), HistogramMean(h))
	h.Observe(1)
	h.Observe(3)
	assert.Equal(t, float64(2), HistogramMean(h))
}

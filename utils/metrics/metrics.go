// Package metrics holds the Prometheus plumbing shared by the engine components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Namespace prefixes every engine metric
const Namespace = "arbengine"

// Factory returns a promauto factory registering on reg. A nil reg gets a private
// registry so that independent instances never collide.
func Factory(reg prometheus.Registerer) promauto.Factory {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return promauto.With(reg)
}

// CounterValue reads the current value of a counter
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

// GaugeValue reads the current value of a gauge
func GaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}

// HistogramMean returns the mean of all observations, or 0 before the first one
func HistogramMean(h prometheus.Histogram) float64 {
	m := &dto.Metric{}
	if err := h.Write(m); err != nil || m.Histogram == nil {
		return 0
	}
	count := m.Histogram.GetSampleCount()
	if count == 0 {
		return 0
	}
	return m.Histogram.GetSampleSum() / float64(count)
}

// LatencyBuckets spans 1ms to ~16s
var LatencyBuckets = prometheus.ExponentialBuckets(0.001, 2, 15)

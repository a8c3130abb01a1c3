// Package monitoring owns the execution statistics of the engine. The Aggregator is
// the only writer; every reader gets a copy.
package monitoring

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/events"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Alert kinds
const (
	AlertLowAccuracy   = "low_accuracy"
	AlertHighLatency   = "high_latency"
	AlertNotableProfit = "notable_profit"
)

// ExecutionMetrics describes one finished execution attempt
type ExecutionMetrics struct {
	BundleID string
	Route    string
	Status   types.BundleStatus
	Success  bool
	GasUsed  uint64
	// ExpectedProfit is the net profit predicted before submission
	ExpectedProfit *big.Int
	// RealizedProfit is net of gas; negative values are losses
	RealizedProfit *big.Int
	// Slippage is the relative shortfall of realized against expected output
	Slippage float64
	Latency  time.Duration
	At       time.Time
}

// AggregatedMetrics are the lifetime counters
type AggregatedMetrics struct {
	TotalExecutions     uint64
	Successful          uint64
	Failed              uint64
	Pending             uint64
	ConsecutiveFailures uint64
	CumulativeGasUsed   uint64
	AverageSlippage     float64
	TotalProfit         *big.Int
	TotalLoss           *big.Int
	NetProfit           *big.Int
	SuccessRate         float64
	LastExecution       time.Time
}

// PerformanceAnalysis describes the recent history window
type PerformanceAnalysis struct {
	Samples        int
	Accuracy       float64
	AverageLatency time.Duration
	P95Latency     time.Duration
	AverageGasUsed uint64
	AverageProfit  *big.Int
	BestProfit     *big.Int
	WorstProfit    *big.Int
	// Trend compares the success rate of the newer half of the window with the older half
	Trend string
}

// Trend values
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

type Aggregator struct {
	mu      sync.RWMutex
	stats   AggregatedMetrics
	history []ExecutionMetrics
	next    int
	filled  int

	alerts        config.AlertConfig
	accuracyAlarm bool
	breaker       *CircuitBreaker
	events        events.Publisher
	logger        *zap.Logger

	metrics struct {
		executions *prometheus.CounterVec
		gasUsed    prometheus.Counter
		netProfit  prometheus.Gauge
		alerts     *prometheus.CounterVec
		latency    prometheus.Histogram
	}
}

// NewAggregator creates an aggregator keeping historySize recent executions. breaker
// and pub may be nil.
func NewAggregator(historySize int, alerts config.AlertConfig, breaker *CircuitBreaker, pub events.Publisher,
	reg prometheus.Registerer, logger *zap.Logger) *Aggregator {
	if historySize <= 0 {
		historySize = 1000
	}
	if pub == nil {
		pub = events.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Aggregator{
		history: make([]ExecutionMetrics, historySize),
		alerts:  alerts,
		breaker: breaker,
		events:  pub,
		logger:  logger,
	}
	a.stats.TotalProfit = new(big.Int)
	a.stats.TotalLoss = new(big.Int)
	a.stats.NetProfit = new(big.Int)

	f := metrics.Factory(reg)
	a.metrics.executions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executions",
		Name:      "total",
		Help:      "Recorded executions by status",
	}, []string{"status"})
	a.metrics.gasUsed = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executions",
		Name:      "gas_used_total",
		Help:      "Cumulative gas used",
	})
	a.metrics.netProfit = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executions",
		Name:      "net_profit_ether",
		Help:      "Realized profit minus losses",
	})
	a.metrics.alerts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executions",
		Name:      "alerts_total",
		Help:      "Alerts raised by kind",
	}, []string{"kind"})
	a.metrics.latency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executions",
		Name:      "latency_seconds",
		Help:      "End-to-end execution latency",
		Buckets:   metrics.LatencyBuckets,
	})

	return a
}

// NewAggregatorFromConfig builds an aggregator from cfg
func NewAggregatorFromConfig(cfg *config.Config, breaker *CircuitBreaker, pub events.Publisher,
	reg prometheus.Registerer, logger *zap.Logger) *Aggregator {
	return NewAggregator(cfg.HistorySize, cfg.Alerts, breaker, pub, reg, logger)
}

// RecordExecution folds m into the statistics and returns the alerts it raised. Each
// call counts once; identical calls are not deduplicated.
func (a *Aggregator) RecordExecution(m ExecutionMetrics) []types.Alert {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	m.ExpectedProfit = umath.Clone(m.ExpectedProfit)
	m.RealizedProfit = umath.Clone(m.RealizedProfit)

	a.mu.Lock()
	s := &a.stats
	s.TotalExecutions++
	switch {
	case m.Success:
		s.Successful++
		s.ConsecutiveFailures = 0
	case m.Status == types.BundlePending:
		s.Pending++
		s.ConsecutiveFailures++
	default:
		s.Failed++
		s.ConsecutiveFailures++
	}
	s.CumulativeGasUsed += m.GasUsed
	s.AverageSlippage += (m.Slippage - s.AverageSlippage) / float64(s.TotalExecutions)
	if m.RealizedProfit.Sign() >= 0 {
		s.TotalProfit.Add(s.TotalProfit, m.RealizedProfit)
	} else {
		s.TotalLoss.Sub(s.TotalLoss, m.RealizedProfit)
	}
	s.NetProfit.Sub(s.TotalProfit, s.TotalLoss)
	s.SuccessRate = float64(s.Successful) / float64(s.TotalExecutions)
	s.LastExecution = m.At

	a.history[a.next] = m
	a.next = (a.next + 1) % len(a.history)
	if a.filled < len(a.history) {
		a.filled++
	}

	alerts := a.checkAlerts(m)
	net := umath.Clone(s.NetProfit)
	a.mu.Unlock()

	status := string(m.Status)
	if status == "" {
		status = "unknown"
	}
	a.metrics.executions.WithLabelValues(status).Inc()
	a.metrics.gasUsed.Add(float64(m.GasUsed))
	a.metrics.latency.Observe(m.Latency.Seconds())
	eth, _ := umath.ToDecimal(net, 18).Float64()
	a.metrics.netProfit.Set(eth)

	if a.breaker != nil {
		if m.Success {
			a.breaker.RecordSuccess()
		} else {
			a.breaker.RecordError(fmt.Errorf("execution %s ended %s", m.Route, status))
		}
	}

	for _, alert := range alerts {
		a.metrics.alerts.WithLabelValues(alert.Kind).Inc()
		a.events.Publish(events.Event{Kind: events.KindAlert, Time: alert.RaisedAt, Payload: alert})
		a.logger.Info("Alert raised",
			zap.String("kind", alert.Kind),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message))
	}
	return alerts
}

// checkAlerts must be called with a.mu held
func (a *Aggregator) checkAlerts(m ExecutionMetrics) []types.Alert {
	var alerts []types.Alert

	if a.filled >= a.alerts.MinSamples && a.alerts.MinAccuracy > 0 {
		accuracy := a.accuracyLocked()
		switch {
		case accuracy < a.alerts.MinAccuracy && !a.accuracyAlarm:
			a.accuracyAlarm = true
			alerts = append(alerts, types.Alert{
				Kind:           AlertLowAccuracy,
				Severity:       types.SeverityHigh,
				Message:        fmt.Sprintf("route accuracy %.2f below %.2f over %d executions", accuracy, a.alerts.MinAccuracy, a.filled),
				ActionRequired: true,
				Value:          accuracy,
				Threshold:      a.alerts.MinAccuracy,
				RaisedAt:       m.At,
			})
		case accuracy >= a.alerts.MinAccuracy:
			a.accuracyAlarm = false
		}
	}

	if limit := a.alerts.MaxLatency.D(); limit > 0 && m.Latency > limit {
		alerts = append(alerts, types.Alert{
			Kind:           AlertHighLatency,
			Severity:       types.SeverityMedium,
			Message:        fmt.Sprintf("execution took %s, above %s", m.Latency, limit),
			ActionRequired: true,
			Value:          m.Latency.Seconds(),
			Threshold:      limit.Seconds(),
			RaisedAt:       m.At,
		})
	}

	if notable := a.alerts.NotableProfit.Int(); notable.Sign() > 0 && m.RealizedProfit.Cmp(notable) > 0 {
		value, _ := umath.ToDecimal(m.RealizedProfit, 18).Float64()
		threshold, _ := umath.ToDecimal(notable, 18).Float64()
		alerts = append(alerts, types.Alert{
			Kind:      AlertNotableProfit,
			Severity:  types.SeverityInfo,
			Message:   fmt.Sprintf("realized %s ether on %s", umath.FormatEther(m.RealizedProfit), m.Route),
			Value:     value,
			Threshold: threshold,
			RaisedAt:  m.At,
		})
	}

	return alerts
}

func (a *Aggregator) accuracyLocked() float64 {
	if a.filled == 0 {
		return 0
	}
	ok := 0
	for _, m := range a.recentLocked() {
		if m.Success {
			ok++
		}
	}
	return float64(ok) / float64(a.filled)
}

// recentLocked returns the history window oldest first
func (a *Aggregator) recentLocked() []ExecutionMetrics {
	out := make([]ExecutionMetrics, 0, a.filled)
	start := 0
	if a.filled == len(a.history) {
		start = a.next
	}
	for i := 0; i < a.filled; i++ {
		out = append(out, a.history[(start+i)%len(a.history)])
	}
	return out
}

// GetAggregatedMetrics returns a copy of the lifetime counters
func (a *Aggregator) GetAggregatedMetrics() AggregatedMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.stats
	out.TotalProfit = umath.Clone(a.stats.TotalProfit)
	out.TotalLoss = umath.Clone(a.stats.TotalLoss)
	out.NetProfit = umath.Clone(a.stats.NetProfit)
	return out
}

// History returns the recent executions, oldest first
func (a *Aggregator) History() []ExecutionMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.recentLocked()
}

// GetPerformanceAnalysis summarises the recent history window
func (a *Aggregator) GetPerformanceAnalysis() PerformanceAnalysis {
	a.mu.RLock()
	recent := a.recentLocked()
	a.mu.RUnlock()

	pa := PerformanceAnalysis{
		Samples:       len(recent),
		AverageProfit: new(big.Int),
		BestProfit:    new(big.Int),
		WorstProfit:   new(big.Int),
		Trend:         TrendStable,
	}
	if len(recent) == 0 {
		return pa
	}

	var (
		ok        int
		totalLat  time.Duration
		totalGas  uint64
		sum       = new(big.Int)
		latencies = make([]time.Duration, 0, len(recent))
	)
	for i, m := range recent {
		if m.Success {
			ok++
		}
		totalLat += m.Latency
		totalGas += m.GasUsed
		latencies = append(latencies, m.Latency)
		sum.Add(sum, m.RealizedProfit)
		if i == 0 || m.RealizedProfit.Cmp(pa.BestProfit) > 0 {
			pa.BestProfit = umath.Clone(m.RealizedProfit)
		}
		if i == 0 || m.RealizedProfit.Cmp(pa.WorstProfit) < 0 {
			pa.WorstProfit = umath.Clone(m.RealizedProfit)
		}
	}

	n := len(recent)
	pa.Accuracy = float64(ok) / float64(n)
	pa.AverageLatency = totalLat / time.Duration(n)
	pa.AverageGasUsed = totalGas / uint64(n)
	pa.AverageProfit = sum.Quo(sum, big.NewInt(int64(n)))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := (n*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	pa.P95Latency = latencies[idx]

	if n >= 4 {
		older, newer := successRate(recent[:n/2]), successRate(recent[n/2:])
		switch {
		case newer-older > 0.1:
			pa.Trend = TrendImproving
		case older-newer > 0.1:
			pa.Trend = TrendDegrading
		}
	}
	return pa
}

func successRate(ms []ExecutionMetrics) float64 {
	if len(ms) == 0 {
		return 0
	}
	ok := 0
	for _, m := range ms {
		if m.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(ms))
}

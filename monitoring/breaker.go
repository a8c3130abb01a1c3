package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// CircuitBreaker halts new executions after a run of failures or when the recent
// failure rate is too high. It closes again once the cooldown has passed.
type CircuitBreaker struct {
	cfg    config.CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	consecutive int
	window      []bool
	next        int
	filled      int
	tripped     bool
	lastTripped time.Time

	metrics struct {
		tripCount prometheus.Counter
		errors    prometheus.Counter
		open      prometheus.Gauge
	}
}

func NewCircuitBreaker(cfg config.CircuitBreakerConfig, reg prometheus.Registerer, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.Window
	if size <= 0 {
		size = 1
	}
	cb := &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		window: make([]bool, size),
	}

	f := metrics.Factory(reg)
	cb.metrics.tripCount = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "circuit_breaker",
		Name:      "trips_total",
		Help:      "Total number of circuit breaker trips",
	})
	cb.metrics.errors = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "circuit_breaker",
		Name:      "errors_total",
		Help:      "Total number of failures recorded by the circuit breaker",
	})
	cb.metrics.open = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "circuit_breaker",
		Name:      "open",
		Help:      "1 while the breaker halts executions",
	})

	return cb
}

// RecordSuccess resets the consecutive failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive = 0
	cb.push(false)
}

// RecordError counts a failure and reports whether the breaker tripped because of it
func (cb *CircuitBreaker) RecordError(err error) bool {
	if !cb.cfg.Enabled {
		return false
	}
	cb.metrics.errors.Inc()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive++
	cb.push(true)

	if cb.tripped {
		return false
	}

	switch {
	case cb.consecutive >= cb.cfg.ErrorThreshold:
		cb.trip("consecutive failures", err)
		return true
	case cb.filled == len(cb.window) && cb.failureRate() > cb.cfg.MaxFailureRate:
		cb.trip("failure rate", err)
		return true
	}
	return false
}

func (cb *CircuitBreaker) push(failed bool) {
	cb.window[cb.next] = failed
	cb.next = (cb.next + 1) % len(cb.window)
	if cb.filled < len(cb.window) {
		cb.filled++
	}
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.filled == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < cb.filled; i++ {
		if cb.window[i] {
			failed++
		}
	}
	return float64(failed) / float64(cb.filled)
}

func (cb *CircuitBreaker) trip(cause string, err error) {
	cb.tripped = true
	cb.lastTripped = cb.now()
	cb.metrics.tripCount.Inc()
	cb.metrics.open.Set(1)

	fields := []zap.Field{
		zap.String("cause", cause),
		zap.Int("consecutive_failures", cb.consecutive),
		zap.Float64("failure_rate", cb.failureRate()),
		zap.Duration("cooldown", cb.cfg.CooldownPeriod.D()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	cb.logger.Warn("Circuit breaker tripped", fields...)
}

// IsHealthy reports whether executions may proceed. A tripped breaker resets here once
// its cooldown has elapsed.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return true
	}
	if cb.now().Sub(cb.lastTripped) < cb.cfg.CooldownPeriod.D() {
		return false
	}

	cb.tripped = false
	cb.consecutive = 0
	cb.filled = 0
	cb.next = 0
	cb.metrics.open.Set(0)
	cb.logger.Info("Circuit breaker reset",
		zap.Duration("cooldown_period", cb.cfg.CooldownPeriod.D()))
	return true
}

// Status returns the consecutive failure count and recent failure rate
func (cb *CircuitBreaker) Status() (consecutive int, failureRate float64, tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutive, cb.failureRate(), cb.tripped
}

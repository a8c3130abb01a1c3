package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/liquidity"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Reading is one observation of the environment the engine trades in
type Reading struct {
	NodeLatency       time.Duration
	NodeErr           error
	MempoolCongestion float64
	LiquidityDepth    *big.Int
}

// HealthProbe observes the node and the markets
type HealthProbe interface {
	Probe(ctx context.Context) Reading
}

// HealthMetrics is computed on demand from the execution statistics and a probe reading
type HealthMetrics struct {
	SuccessRate         float64
	ConsecutiveFailures uint64
	LiquidityDepth      *big.Int
	NodeLatency         time.Duration
	MempoolCongestion   float64
	Halted              bool
	Reasons             []string
}

// Health combines the lifetime statistics with a probe reading. probe may be nil.
func (a *Aggregator) Health(ctx context.Context, probe HealthProbe) HealthMetrics {
	stats := a.GetAggregatedMetrics()
	h := HealthMetrics{
		SuccessRate:         stats.SuccessRate,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		LiquidityDepth:      new(big.Int),
	}

	if a.breaker != nil && !a.breaker.IsHealthy() {
		h.Halted = true
		h.Reasons = append(h.Reasons, "circuit breaker open")
	}

	if probe == nil {
		return h
	}
	r := probe.Probe(ctx)
	h.NodeLatency = r.NodeLatency
	h.MempoolCongestion = r.MempoolCongestion
	h.LiquidityDepth = umath.Clone(r.LiquidityDepth)

	if r.NodeErr != nil {
		h.Halted = true
		h.Reasons = append(h.Reasons, fmt.Sprintf("node unreachable: %v", r.NodeErr))
	}
	if r.LiquidityDepth != nil && r.LiquidityDepth.Sign() == 0 {
		h.Halted = true
		h.Reasons = append(h.Reasons, "no liquidity for base token")
	}
	return h
}

// NodeProbe reads node latency and pending block utilization from a chain provider
// and base token depth from the current liquidity view. It also samples runtime
// gauges on every probe.
type NodeProbe struct {
	provider  chain.Provider
	liquidity *liquidity.Provider
	baseToken common.Address
	logger    *zap.Logger

	metrics struct {
		nodeLatency prometheus.Histogram
		congestion  prometheus.Gauge
		goroutines  prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
	}
}

// NewNodeProbe creates a probe. liq may be nil, in which case depth is not reported.
func NewNodeProbe(provider chain.Provider, liq *liquidity.Provider, baseToken common.Address,
	reg prometheus.Registerer, logger *zap.Logger) *NodeProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &NodeProbe{
		provider:  provider,
		liquidity: liq,
		baseToken: baseToken,
		logger:    logger,
	}

	f := metrics.Factory(reg)
	p.metrics.nodeLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "health",
		Name:      "node_latency_seconds",
		Help:      "Latency of block number reads",
		Buckets:   metrics.LatencyBuckets,
	})
	p.metrics.congestion = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "health",
		Name:      "mempool_congestion_percent",
		Help:      "Gas used by the pending block as a percentage of its limit",
	})
	p.metrics.goroutines = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "health",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
	p.metrics.heapAlloc = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "health",
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	p.metrics.gcPause = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "health",
		Name:      "gc_pause_seconds",
		Help:      "Most recent GC pause",
	})

	return p
}

func (p *NodeProbe) Probe(ctx context.Context) Reading {
	var r Reading

	start := time.Now()
	_, err := p.provider.GetBlockNumber(ctx)
	r.NodeLatency = time.Since(start)
	p.metrics.nodeLatency.Observe(r.NodeLatency.Seconds())
	if err != nil {
		r.NodeErr = err
		p.logger.Warn("Node health check failed", zap.Error(err))
	}

	pending, err := p.provider.GetBlock(ctx, rpc.PendingBlockNumber, false)
	switch {
	case err == nil:
		r.MempoolCongestion = pending.Utilization()
		p.metrics.congestion.Set(r.MempoolCongestion)
	case !errors.Is(err, ethereum.NotFound):
		p.logger.Debug("Pending block read failed", zap.Error(err))
	}

	if p.liquidity != nil {
		if view := p.liquidity.Current(); view != nil {
			r.LiquidityDepth = view.Depth(p.baseToken)
		}
	}

	p.sampleRuntime()
	return r
}

func (p *NodeProbe) sampleRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	p.metrics.heapAlloc.Set(float64(ms.HeapAlloc))
	p.metrics.gcPause.Set(float64(ms.PauseNs[(ms.NumGC+255)%256]) / float64(time.Second))
}

// Package liquidity keeps the engine's view of exchange liquidity. Refresh is the only
// writer; readers get immutable snapshots tagged with a generation number.
package liquidity

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// View is one generation of snapshots. It is never modified after publication.
type View struct {
	Generation uint64
	Snapshots  map[types.ExchangeID]*types.LiquiditySnapshot
	CapturedAt time.Time
}

// Depth sums the reserves of token across all pools in the view
func (v *View) Depth(token common.Address) *big.Int {
	total := new(big.Int)
	if v == nil {
		return total
	}
	for _, s := range v.Snapshots {
		for _, p := range s.Pairs {
			switch token {
			case p.TokenA:
				total.Add(total, p.ReserveA)
			case p.TokenB:
				total.Add(total, p.ReserveB)
			}
		}
	}
	return total
}

type Provider struct {
	handlers map[types.ExchangeID]dex.Handler
	order    []types.ExchangeID
	logger   *zap.Logger
	now      func() time.Time

	refreshMu  sync.Mutex
	generation uint64
	current    atomic.Pointer[View]

	metrics struct {
		refreshes       prometheus.Counter
		handlerFailures *prometheus.CounterVec
		refreshLatency  prometheus.Histogram
		pools           prometheus.Gauge
	}
}

func NewProvider(handlers []dex.Handler, reg prometheus.Registerer, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		handlers: make(map[types.ExchangeID]dex.Handler, len(handlers)),
		logger:   logger,
		now:      time.Now,
	}
	for _, h := range handlers {
		p.handlers[h.ID()] = h
		p.order = append(p.order, h.ID())
	}

	f := metrics.Factory(reg)
	p.metrics.refreshes = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "liquidity",
		Name:      "refreshes_total",
		Help:      "Completed liquidity refreshes",
	})
	p.metrics.handlerFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "liquidity",
		Name:      "handler_failures_total",
		Help:      "Liquidity reads that failed, per exchange",
	}, []string{"exchange"})
	p.metrics.refreshLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "liquidity",
		Name:      "refresh_seconds",
		Help:      "Duration of a full liquidity refresh",
		Buckets:   metrics.LatencyBuckets,
	})
	p.metrics.pools = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "liquidity",
		Name:      "pools",
		Help:      "Pools in the current snapshot",
	})
	return p
}

type fetchResult struct {
	id    types.ExchangeID
	pairs []types.PairLiquidity
	err   error
}

// Refresh reads every handler concurrently and publishes a new view built from the
// handlers that answered. It fails only when none did.
func (p *Provider) Refresh(ctx context.Context) (*View, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	start := p.now()
	results := make(chan fetchResult, len(p.handlers))

	var wg sync.WaitGroup
	for _, id := range p.order {
		wg.Add(1)
		go func(h dex.Handler) {
			defer wg.Done()
			pairs, err := h.GetLiquidity(ctx)
			results <- fetchResult{id: h.ID(), pairs: pairs, err: err}
		}(p.handlers[id])
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	snapshots := make(map[types.ExchangeID]*types.LiquiditySnapshot, len(p.handlers))
	pools := 0
	for res := range results {
		if res.err != nil {
			p.metrics.handlerFailures.WithLabelValues(string(res.id)).Inc()
			p.logger.Warn("Failed to fetch liquidity, skipping exchange",
				zap.String("exchange", string(res.id)),
				zap.Error(res.err))
			continue
		}
		h := p.handlers[res.id]
		snapshots[res.id] = &types.LiquiditySnapshot{
			ExchangeID: res.id,
			Router:     h.Router(),
			Pairs:      res.pairs,
			CapturedAt: p.now(),
			Confidence: h.GetSuccessRate(),
		}
		pools += len(res.pairs)
	}

	if len(snapshots) == 0 && len(p.handlers) > 0 {
		return nil, fmt.Errorf("failed to fetch liquidity from any of %d exchanges", len(p.handlers))
	}

	p.generation++
	view := &View{
		Generation: p.generation,
		Snapshots:  snapshots,
		CapturedAt: start,
	}
	p.current.Store(view)

	p.metrics.refreshes.Inc()
	p.metrics.pools.Set(float64(pools))
	p.metrics.refreshLatency.Observe(p.now().Sub(start).Seconds())
	p.logger.Debug("Liquidity refreshed",
		zap.Uint64("generation", view.Generation),
		zap.Int("exchanges", len(snapshots)),
		zap.Int("pools", pools))

	return view, nil
}

// Current returns the latest published view, or nil before the first refresh
func (p *Provider) Current() *View {
	return p.current.Load()
}

// IsCurrent reports whether generation is still the latest published one
func (p *Provider) IsCurrent(generation uint64) bool {
	v := p.current.Load()
	return v != nil && v.Generation == generation
}

// Handler returns the handler for an exchange
func (p *Provider) Handler(id types.ExchangeID) (dex.Handler, bool) {
	h, ok := p.handlers[id]
	return h, ok
}

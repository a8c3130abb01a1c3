// Package routing discovers multi-hop arbitrage cycles across exchange snapshots.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// ErrNoExchanges is returned when fewer than two exchanges have liquidity
var ErrNoExchanges = errors.New("not enough exchanges with liquidity")

const (
	permCacheSize   = 64
	maxPermutations = 20_000
)

// Constraints bound one FindRoutes call
type Constraints struct {
	MinProfit   *big.Int
	MaxSlippage float64
	MaxHops     int
	Timeout     time.Duration
	// GasPrice prices EstimatedGasCost; nil leaves routes unpriced and the evaluator
	// rejects them
	GasPrice *big.Int
}

// Options are the finder's deployment settings
type Options struct {
	BaseToken          common.Address
	TradeAmount        *big.Int
	MaxConcurrent      int
	SlippageCap        float64
	DecayStep          float64
	DefaultReliability float64
	Reliability        map[types.ExchangeID]float64
}

// OptionsFromConfig extracts finder options from the engine configuration
func OptionsFromConfig(cfg *config.Config) Options {
	rel := make(map[types.ExchangeID]float64)
	for id, r := range cfg.ReliabilityMap() {
		rel[types.ExchangeID(id)] = r
	}
	return Options{
		BaseToken:          cfg.BaseTokenAddress(),
		TradeAmount:        cfg.TradeAmount.Int(),
		MaxConcurrent:      cfg.MaxConcurrent,
		SlippageCap:        cfg.SlippageCap,
		DecayStep:          cfg.DecayStep,
		DefaultReliability: cfg.DefaultReliability,
		Reliability:        rel,
	}
}

// ConstraintsFromConfig builds the per-cycle constraints from configuration
func ConstraintsFromConfig(cfg *config.Config, gasPrice *big.Int) Constraints {
	return Constraints{
		MinProfit:   cfg.MinProfitThreshold.Int(),
		MaxSlippage: cfg.MaxSlippage,
		MaxHops:     cfg.MaxHops,
		Timeout:     cfg.RouteTimeout.D(),
		GasPrice:    gasPrice,
	}
}

type Finder struct {
	opts   Options
	capPPM int64
	perms  *permutationCache
	logger *zap.Logger

	metrics struct {
		candidates prometheus.Counter
		routes     prometheus.Counter
		timeouts   prometheus.Counter
		duration   prometheus.Histogram
	}
}

func NewFinder(opts Options, reg prometheus.Registerer, logger *zap.Logger) (*Finder, error) {
	if opts.TradeAmount == nil || opts.TradeAmount.Sign() <= 0 {
		return nil, fmt.Errorf("trade amount must be positive")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	perms, err := newPermutationCache(permCacheSize, maxPermutations)
	if err != nil {
		return nil, fmt.Errorf("failed to create permutation cache: %w", err)
	}

	f := &Finder{
		opts:   opts,
		capPPM: umath.FloatToPPM(opts.SlippageCap),
		perms:  perms,
		logger: logger,
	}

	fac := metrics.Factory(reg)
	f.metrics.candidates = fac.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "routing",
		Name:      "candidates_total",
		Help:      "Exchange sequences evaluated",
	})
	f.metrics.routes = fac.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "routing",
		Name:      "routes_total",
		Help:      "Profitable cycles found",
	})
	f.metrics.timeouts = fac.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "routing",
		Name:      "timeouts_total",
		Help:      "Searches cut short by the route timeout",
	})
	f.metrics.duration = fac.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "routing",
		Name:      "search_seconds",
		Help:      "Duration of one route search",
		Buckets:   metrics.LatencyBuckets,
	})
	return f, nil
}

// FindRoutes enumerates exchange sequences of length 2..MaxHops and returns every
// closing cycle from the base token whose expected profit reaches MinProfit, best
// first. When Timeout expires it returns what was completed.
func (f *Finder) FindRoutes(ctx context.Context, snapshots map[types.ExchangeID]*types.LiquiditySnapshot, c Constraints) ([]*types.Route, error) {
	ids := make([]types.ExchangeID, 0, len(snapshots))
	for id, s := range snapshots {
		if s != nil && len(s.Pairs) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return nil, ErrNoExchanges
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start := time.Now()
	defer func() { f.metrics.duration.Observe(time.Since(start).Seconds()) }()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	candidates := f.candidates(ids, c.MaxHops)
	s := f.newSearch(snapshots, c)

	var (
		routes   []*types.Route
		timedOut bool
	)
	chunk := f.opts.MaxConcurrent

dispatch:
	for begin := 0; begin < len(candidates); begin += chunk {
		if ctx.Err() != nil {
			timedOut = true
			break
		}
		end := begin + chunk
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[begin:end]

		out := make(chan []*types.Route, len(batch))
		var wg sync.WaitGroup
		for _, cand := range batch {
			wg.Add(1)
			go func(cand []types.ExchangeID) {
				defer wg.Done()
				out <- s.evaluate(ctx, cand)
			}(cand)
		}
		go func() {
			wg.Wait()
			close(out)
		}()

		for {
			select {
			case rs, ok := <-out:
				if !ok {
					continue dispatch
				}
				f.metrics.candidates.Inc()
				routes = append(routes, rs...)
			case <-ctx.Done():
				timedOut = true
				break dispatch
			}
		}
	}

	if timedOut {
		f.metrics.timeouts.Inc()
		f.logger.Debug("Route search timed out, returning partial result",
			zap.Int("routes", len(routes)),
			zap.Int("candidates", len(candidates)))
	}

	SortRoutes(routes)
	f.metrics.routes.Add(float64(len(routes)))
	return routes, nil
}

// SortRoutes orders routes by expected profit, then confidence, both descending.
func SortRoutes(routes []*types.Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if cmp := routes[i].ExpectedProfit.Cmp(routes[j].ExpectedProfit); cmp != 0 {
			return cmp > 0
		}
		return routes[i].Confidence > routes[j].Confidence
	})
}

func (f *Finder) candidates(ids []types.ExchangeID, maxHops int) [][]types.ExchangeID {
	if maxHops > len(ids) {
		maxHops = len(ids)
	}
	var out [][]types.ExchangeID
	for k := 2; k <= maxHops; k++ {
		perms, truncated := f.perms.get(len(ids), k)
		if truncated {
			f.logger.Warn("Permutation count capped",
				zap.Int("exchanges", len(ids)),
				zap.Int("hops", k),
				zap.Int("limit", maxPermutations))
		}
		for _, perm := range perms {
			cand := make([]types.ExchangeID, k)
			for i, idx := range perm {
				cand[i] = ids[idx]
			}
			out = append(out, cand)
		}
	}
	return out
}

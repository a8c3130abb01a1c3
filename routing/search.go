package routing

import (
	"context"
	stdmath "math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// search is the read-only state shared by the goroutines of one FindRoutes call
type search struct {
	f          *Finder
	snapshots  map[types.ExchangeID]*types.LiquiditySnapshot
	c          Constraints
	minProfit  *big.Int
	target     *big.Int
	maxSlipPPM int64
}

func (f *Finder) newSearch(snapshots map[types.ExchangeID]*types.LiquiditySnapshot, c Constraints) *search {
	minProfit := umath.Clone(c.MinProfit)
	maxSlip := int64(stdmath.MaxInt64)
	if c.MaxSlippage > 0 {
		maxSlip = umath.FloatToPPM(c.MaxSlippage)
	}
	return &search{
		f:          f,
		snapshots:  snapshots,
		c:          c,
		minProfit:  minProfit,
		target:     new(big.Int).Add(f.opts.TradeAmount, minProfit),
		maxSlipPPM: maxSlip,
	}
}

// partial is a cycle under construction. Slices are copied on extension so sibling
// branches never share backing arrays.
type partial struct {
	tokens     []common.Address
	pools      []common.Address
	outputs    []*big.Int
	amount     *big.Int
	slipPPM    int64
	confidence float64
}

func (p partial) extend(next, pool common.Address, out *big.Int, slip int64, conf float64) partial {
	return partial{
		tokens:     append(append(make([]common.Address, 0, len(p.tokens)+1), p.tokens...), next),
		pools:      append(append(make([]common.Address, 0, len(p.pools)+1), p.pools...), pool),
		outputs:    append(append(make([]*big.Int, 0, len(p.outputs)+1), p.outputs...), out),
		amount:     out,
		slipPPM:    slip,
		confidence: conf,
	}
}

func (s *search) evaluate(ctx context.Context, cand []types.ExchangeID) []*types.Route {
	var routes []*types.Route
	start := partial{
		tokens:     []common.Address{s.f.opts.BaseToken},
		amount:     s.f.opts.TradeAmount,
		confidence: 1,
	}
	s.walk(ctx, cand, start, &routes)
	return routes
}

func (s *search) walk(ctx context.Context, cand []types.ExchangeID, p partial, routes *[]*types.Route) {
	if ctx.Err() != nil {
		return
	}
	hop := len(p.tokens) - 1
	snap := s.snapshots[cand[hop]]
	cur := p.tokens[hop]
	last := hop == len(cand)-1
	base := s.f.opts.BaseToken

	var nexts []common.Address
	if last {
		nexts = []common.Address{base}
	} else {
		for _, t := range snap.TokensFrom(cur) {
			if t == base || contains(p.tokens, t) {
				continue
			}
			nexts = append(nexts, t)
		}
	}

	for _, next := range nexts {
		pool, ok := snap.Lookup(cur, next)
		if !ok {
			continue
		}
		rin, rout, _ := pool.Oriented(cur, next)
		if rin == nil || rout == nil || rin.Sign() <= 0 || rout.Sign() <= 0 {
			continue
		}
		// not enough depth for the trade
		if rin.Cmp(p.amount) < 0 {
			continue
		}
		// the final hop cannot beat its spot rate, so a cycle whose spot return misses
		// the target is dead
		if last && umath.MulDiv(p.amount, rout, rin).Cmp(s.target) < 0 {
			continue
		}

		out, slip := HopOutput(p.amount, rin, rout, pool.FeeBps, s.f.capPPM)
		totalSlip := p.slipPPM + slip
		if totalSlip > s.maxSlipPPM || out.Sign() <= 0 {
			continue
		}

		penalty := 1 - float64(umath.RatioPPM(p.amount, rin))/umath.PPM
		conf := p.confidence * penalty * positionDecay(hop, s.f.opts.DecayStep)
		np := p.extend(next, pool.Pool, out, totalSlip, conf)

		if last {
			if r := s.finish(cand, np); r != nil {
				*routes = append(*routes, r)
			}
			continue
		}
		s.walk(ctx, cand, np, routes)
	}
}

func (s *search) finish(cand []types.ExchangeID, p partial) *types.Route {
	amountIn := s.f.opts.TradeAmount
	profit := new(big.Int).Sub(p.amount, amountIn)
	if profit.Sign() <= 0 || profit.Cmp(s.minProfit) < 0 {
		return nil
	}

	hops := len(cand)
	gasUnits := gas.EstimateArbitrageGas(hops)
	var gasCost *big.Int
	if s.c.GasPrice != nil {
		gasCost = new(big.Int).Mul(s.c.GasPrice, new(big.Int).SetUint64(gasUnits))
	}

	minOut := umath.Clone(p.amount)
	if s.maxSlipPPM < umath.PPM {
		minOut = umath.MulPPM(p.amount, umath.PPM-s.maxSlipPPM)
	}

	exchanges := make([]types.ExchangeID, hops)
	copy(exchanges, cand)

	return &types.Route{
		Tokens:           p.tokens,
		Exchanges:        exchanges,
		Pools:            p.pools,
		HopOutputs:       p.outputs,
		AmountIn:         umath.Clone(amountIn),
		ExpectedOutput:   p.amount,
		MinOutput:        minOut,
		ExpectedProfit:   profit,
		EstimatedGas:     gasUnits,
		EstimatedGasCost: gasCost,
		PriceImpact:      float64(p.slipPPM) / umath.PPM,
		Confidence:       clamp01(p.confidence * s.routeReliability(cand)),
	}
}

// routeReliability is the factor of the least reliable exchange on the route. It is
// applied once per route, not once per hop.
func (s *search) routeReliability(cand []types.ExchangeID) float64 {
	r := 1.0
	for _, id := range cand {
		if f := s.reliability(id); f < r {
			r = f
		}
	}
	return r
}

func (s *search) reliability(id types.ExchangeID) float64 {
	if r, ok := s.f.opts.Reliability[id]; ok && r > 0 {
		return r
	}
	if s.f.opts.DefaultReliability > 0 {
		return s.f.opts.DefaultReliability
	}
	return 1
}

func contains(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

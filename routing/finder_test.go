package routing

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

var (
	tokenX = testutils.TokenX
	tokenY = testutils.TokenY
	tokenZ = testutils.TokenZ
)

// units returns n whole tokens with 18 decimals, n may be fractional to 3 places
func units(n float64) *big.Int {
	milli := big.NewInt(int64(n * 1000))
	return new(big.Int).Mul(milli, big.NewInt(1e15))
}

func snapshot(id types.ExchangeID, pairs ...types.PairLiquidity) *types.LiquiditySnapshot {
	for i := range pairs {
		pairs[i].FeeBps = 30
		pairs[i].Pool = common.BytesToAddress([]byte(string(id) + string(rune('0'+i))))
	}
	return &types.LiquiditySnapshot{ExchangeID: id, Pairs: pairs, CapturedAt: time.Now(), Confidence: 1}
}

func pair(a, b common.Address, ra, rb float64) types.PairLiquidity {
	return types.PairLiquidity{TokenA: a, TokenB: b, ReserveA: units(ra), ReserveB: units(rb)}
}

func newFinder(t *testing.T, trade float64, reliability float64) *Finder {
	f, err := NewFinder(Options{
		BaseToken:          tokenX,
		TradeAmount:        units(trade),
		MaxConcurrent:      50,
		SlippageCap:        0.5,
		DecayStep:          0.05,
		DefaultReliability: reliability,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return f
}

func constraints() Constraints {
	return Constraints{
		MinProfit:   testutils.Ether(1).Div(testutils.Ether(1), big.NewInt(100)), // 0.01
		MaxSlippage: 0.02,
		MaxHops:     3,
		Timeout:     2 * time.Second,
		GasPrice:    testutils.Gwei(50),
	}
}

func TestUniformPricesYieldNoRoutes(t *testing.T) {
	f := newFinder(t, 1000, 0.99)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 1_000_000, 1_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 1_000_000, 1_000_000)),
		"dex_c": snapshot("dex_c", pair(tokenX, tokenY, 1_000_000, 1_000_000)),
	}

	routes, err := f.FindRoutes(context.Background(), snaps, constraints())
	require.NoError(t, err)
	assert.Empty(t, routes)
	// 6 two-hop and 6 three-hop sequences
	assert.Equal(t, float64(12), testutil.ToFloat64(f.metrics.candidates))
}

func TestFivePercentDivergence(t *testing.T) {
	f := newFinder(t, 100_000, 0.99)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 100_000_000, 100_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 100_000_000, 105_000_000)),
	}

	routes, err := f.FindRoutes(context.Background(), snaps, constraints())
	require.NoError(t, err)
	require.Len(t, routes, 1)

	r := routes[0]
	assert.Equal(t, []types.ExchangeID{"dex_b", "dex_a"}, r.Exchanges)
	assert.Equal(t, []common.Address{tokenX, tokenY, tokenX}, r.Tokens)
	assert.True(t, r.IsClosed())
	assert.Len(t, r.Pools, 2)
	assert.Len(t, r.HopOutputs, 2)

	assert.True(t, r.ExpectedProfit.Cmp(units(4_300)) > 0, "profit %s", r.ExpectedProfit)
	assert.True(t, r.ExpectedProfit.Cmp(units(4_400)) < 0, "profit %s", r.ExpectedProfit)
	assert.Equal(t, uint64(325_000), r.EstimatedGas)
	assert.Equal(t, new(big.Int).Mul(testutils.Gwei(50), big.NewInt(325_000)), r.EstimatedGasCost)
	// two near-1 liquidity penalties, a 0.95 second-hop decay and 0.99 reliability once
	assert.InDelta(t, 0.999*0.999*0.95*0.99, r.Confidence, 0.001)
	assert.True(t, r.MinOutput.Cmp(r.ExpectedOutput) < 0)
}

func TestTriangularRouteDecaysThirdHop(t *testing.T) {
	f := newFinder(t, 100_000, 0.99)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 100_000_000, 100_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenY, tokenZ, 100_000_000, 100_000_000)),
		"dex_c": snapshot("dex_c", pair(tokenZ, tokenX, 100_000_000, 110_000_000)),
	}

	routes, err := f.FindRoutes(context.Background(), snaps, constraints())
	require.NoError(t, err)
	require.Len(t, routes, 1)

	r := routes[0]
	assert.Equal(t, []types.ExchangeID{"dex_a", "dex_b", "dex_c"}, r.Exchanges)
	assert.Equal(t, []common.Address{tokenX, tokenY, tokenZ, tokenX}, r.Tokens)
	// three near-1 liquidity penalties, 0.95 and 0.90 decay on the later hops, 0.99 reliability
	assert.InDelta(t, 0.999*0.999*0.999*0.95*0.90*0.99, r.Confidence, 0.001)
}

func TestWeakestExchangeSetsReliability(t *testing.T) {
	f, err := NewFinder(Options{
		BaseToken:          tokenX,
		TradeAmount:        units(100_000),
		MaxConcurrent:      50,
		SlippageCap:        0.5,
		DecayStep:          0.05,
		DefaultReliability: 0.90,
		Reliability:        map[types.ExchangeID]float64{"dex_b": 0.80},
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 100_000_000, 100_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 100_000_000, 105_000_000)),
	}

	routes, err := f.FindRoutes(context.Background(), snaps, constraints())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	// 0.80 once, not 0.80*0.90
	assert.InDelta(t, 0.999*0.999*0.95*0.80, routes[0].Confidence, 0.001)
}

func TestPositionDecay(t *testing.T) {
	assert.Equal(t, 1.0, positionDecay(0, 0.05))
	assert.InDelta(t, 0.95, positionDecay(1, 0.05), 1e-9)
	assert.InDelta(t, 0.90, positionDecay(2, 0.05), 1e-9)
	assert.Equal(t, 0.0, positionDecay(30, 0.05))
}

func TestInsufficientLiquidityRejectsHop(t *testing.T) {
	f := newFinder(t, 100_000, 0.99)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 100_000_000, 100_000_000)),
		// shallower than the trade on the input side
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 50_000, 52_500)),
	}

	routes, err := f.FindRoutes(context.Background(), snaps, constraints())
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestMaxSlippagePrunes(t *testing.T) {
	f := newFinder(t, 100_000, 0.99)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 1_000_000, 1_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 1_000_000, 1_500_000)),
	}

	c := constraints()
	routes, err := f.FindRoutes(context.Background(), snaps, c)
	require.NoError(t, err)
	assert.Empty(t, routes)

	c.MaxSlippage = 0.05
	routes, err = f.FindRoutes(context.Background(), snaps, c)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Greater(t, routes[0].PriceImpact, 0.02)
	assert.LessOrEqual(t, routes[0].PriceImpact, 0.05)
}

func TestConfidenceStaysBounded(t *testing.T) {
	f, err := NewFinder(Options{
		BaseToken:     tokenX,
		TradeAmount:   units(100),
		SlippageCap:   0.5,
		DecayStep:     0.05,
		Reliability:   map[types.ExchangeID]float64{"dex_a": 7, "dex_b": 3},
		MaxConcurrent: 1,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 1_000_000, 1_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 1_000_000, 1_200_000)),
	}
	routes, err := f.FindRoutes(context.Background(), snaps, constraints())
	require.NoError(t, err)
	require.NotEmpty(t, routes)
	for _, r := range routes {
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		assert.True(t, r.IsClosed())
	}
}

func TestCancelledSearchReturnsPartialResult(t *testing.T) {
	f := newFinder(t, 1000, 0.99)
	snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 1_000_000, 1_000_000)),
		"dex_b": snapshot("dex_b", pair(tokenX, tokenY, 1_000_000, 1_100_000)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	routes, err := f.FindRoutes(ctx, snaps, constraints())
	require.NoError(t, err)
	assert.Empty(t, routes)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.timeouts))
}

func TestNeedsTwoExchanges(t *testing.T) {
	f := newFinder(t, 1000, 0.99)
	_, err := f.FindRoutes(context.Background(), map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": snapshot("dex_a", pair(tokenX, tokenY, 1, 1)),
	}, constraints())
	assert.True(t, errors.Is(err, ErrNoExchanges))
}

func TestSortRoutesBreaksTiesOnConfidence(t *testing.T) {
	a := &types.Route{ExpectedProfit: big.NewInt(10), Confidence: 0.96}
	b := &types.Route{ExpectedProfit: big.NewInt(10), Confidence: 0.99}
	c := &types.Route{ExpectedProfit: big.NewInt(20), Confidence: 0.50}
	routes := []*types.Route{a, b, c}

	SortRoutes(routes)
	assert.Equal(t, []*types.Route{c, b, a}, routes)
}

func TestHopOutput(t *testing.T) {
	out, slip := HopOutput(units(100), units(1000), units(1000), 30, 500_000)
	// ratio 0.1 -> 1% slippage, 0.3% fee
	assert.Equal(t, int64(10_000), slip)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(98_703), big.NewInt(1e15)), out)

	_, slip = HopOutput(units(1000), units(1000), units(1000), 0, 200_000)
	assert.Equal(t, int64(200_000), slip)
}

func TestPermutationCache(t *testing.T) {
	c, err := newPermutationCache(4, 100)
	require.NoError(t, err)

	perms, truncated := c.get(3, 2)
	assert.False(t, truncated)
	assert.Len(t, perms, 6)

	again, _ := c.get(3, 2)
	assert.Equal(t, &perms[0][0], &again[0][0], "second call must hit the cache")

	capped, err := newPermutationCache(4, 5)
	require.NoError(t, err)
	perms, truncated = capped.get(4, 3)
	assert.True(t, truncated)
	assert.Len(t, perms, 5)
}

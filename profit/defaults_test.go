package profit

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/routing"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

func defaultSnapshot(id types.ExchangeID, a, b common.Address, ra, rb int64) *types.LiquiditySnapshot {
	return &types.LiquiditySnapshot{
		ExchangeID: id,
		Pairs: []types.PairLiquidity{{
			TokenA:   a,
			TokenB:   b,
			ReserveA: testutils.Ether(ra),
			ReserveB: testutils.Ether(rb),
			FeeBps:   30,
			Pool:     common.BytesToAddress([]byte(id)),
		}},
		CapturedAt: time.Now(),
		Confidence: 1,
	}
}

// The shipped defaults must admit the plain divergence cases, otherwise a freshly
// configured engine never trades.
func TestDefaultConfigAdmitsDivergence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseToken = testutils.TokenX.Hex()
	cfg.TradeAmount = config.MustAmount("100000 ether")
	logger := zaptest.NewLogger(t)

	finder, err := routing.NewFinder(routing.OptionsFromConfig(cfg), nil, logger)
	require.NoError(t, err)
	e := NewEvaluatorFromConfig(cfg, nil, logger)
	constraints := routing.ConstraintsFromConfig(cfg, testutils.Gwei(50))

	t.Run("two hops at 5%", func(t *testing.T) {
		snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
			"dex_a": defaultSnapshot("dex_a", testutils.TokenX, testutils.TokenY, 100_000_000, 100_000_000),
			"dex_b": defaultSnapshot("dex_b", testutils.TokenX, testutils.TokenY, 100_000_000, 105_000_000),
		}
		routes, err := finder.FindRoutes(context.Background(), snaps, constraints)
		require.NoError(t, err)
		require.NotEmpty(t, routes)

		r := routes[0]
		assert.Equal(t, []types.ExchangeID{"dex_b", "dex_a"}, r.Exchanges)
		d := e.Evaluate(r)
		assert.True(t, d.Profitable, "%s confidence %.4f", d, r.Confidence)
	})

	t.Run("three hops at 10%", func(t *testing.T) {
		snaps := map[types.ExchangeID]*types.LiquiditySnapshot{
			"dex_a": defaultSnapshot("dex_a", testutils.TokenX, testutils.TokenY, 100_000_000, 100_000_000),
			"dex_b": defaultSnapshot("dex_b", testutils.TokenY, testutils.TokenZ, 100_000_000, 100_000_000),
			"dex_c": defaultSnapshot("dex_c", testutils.TokenZ, testutils.TokenX, 100_000_000, 110_000_000),
		}
		routes, err := finder.FindRoutes(context.Background(), snaps, constraints)
		require.NoError(t, err)
		require.NotEmpty(t, routes)

		r := routes[0]
		assert.Equal(t, 3, r.Hops())
		d := e.Evaluate(r)
		assert.True(t, d.Profitable, "%s confidence %.4f", d, r.Confidence)
	})
}

package dex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/dex/sushiswap"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

func pairCfg() []config.PairConfig {
	return []config.PairConfig{{
		TokenA:   testutils.TokenX.Hex(),
		TokenB:   testutils.TokenY.Hex(),
		ReserveA: config.MustAmount("1000 ether"),
		ReserveB: config.MustAmount("2000 ether"),
	}}
}

func TestNewHandlerVariants(t *testing.T) {
	p := testutils.NewMockProvider()
	log := zaptest.NewLogger(t)

	h, err := NewHandler(config.ExchangeConfig{ID: "s", Kind: config.KindStatic, FeeBps: 30, Pairs: pairCfg()}, 0.9, p, log)
	require.NoError(t, err)
	assert.IsType(t, &StaticHandler{}, h)
	assert.Equal(t, 0.9, h.GetSuccessRate())

	h, err = NewHandler(config.ExchangeConfig{ID: "u", Kind: config.KindUniswapV2, Reliability: 0.99, Pairs: pairCfg()}, 0.9, p, log)
	require.NoError(t, err)
	assert.IsType(t, &uniswap.Handler{}, h)
	assert.Equal(t, uniswap.MainnetRouter, h.Router())
	assert.Equal(t, 0.99, h.GetSuccessRate())

	h, err = NewHandler(config.ExchangeConfig{ID: "sushi", Kind: config.KindSushiswap, Pairs: pairCfg()}, 0.9, p, log)
	require.NoError(t, err)
	assert.Equal(t, sushiswap.MainnetRouter, h.Router())

	_, err = NewHandler(config.ExchangeConfig{ID: "c", Kind: "curve"}, 0.9, p, log)
	assert.Error(t, err)
}

func TestStaticHandler(t *testing.T) {
	h := NewStaticHandler("s", testutils.RouterA, 30, 0.95, []types.PairLiquidity{{
		TokenA: testutils.TokenX, TokenB: testutils.TokenY,
		ReserveA: testutils.Ether(10), ReserveB: testutils.Ether(20),
	}})

	pairs, err := h.GetLiquidity(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(30), pairs[0].FeeBps)
	assert.NotEqual(t, [20]byte{}, [20]byte(pairs[0].Pool))

	pl, err := h.GetSpecificPairLiquidity(context.Background(), testutils.TokenY, testutils.TokenX)
	require.NoError(t, err)
	assert.Equal(t, testutils.Ether(20), pl.ReserveB)

	_, err = h.GetSpecificPairLiquidity(context.Background(), testutils.TokenX, testutils.TokenZ)
	assert.Error(t, err)

	res, err := h.ExecuteTrade(context.Background(), types.TradeRequest{
		TokenIn: testutils.TokenX, TokenOut: testutils.TokenY, AmountIn: testutils.Ether(1),
	})
	require.NoError(t, err)
	assert.Equal(t, testutils.RouterA, res.To)
	assert.NotNil(t, res.ExpectedOut)
}

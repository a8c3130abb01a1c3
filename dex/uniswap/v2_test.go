package uniswap

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	v2 "github.com/michaelpento.lv/arbengine/dex/v2"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

func reservesReturning(t *testing.T, r0, r1 *big.Int) func(context.Context, ethereum.CallMsg) ([]byte, error) {
	return func(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
		return v2.PairABI.Methods["getReserves"].Outputs.Pack(r0, r1, uint32(0))
	}
}

func newTestHandler(t *testing.T, p *testutils.MockProvider) *Handler {
	return New(Options{
		ID:          "uni",
		FeeBps:      30,
		Reliability: 0.99,
		Pairs:       [][2]common.Address{{testutils.TokenY, testutils.TokenX}},
	}, p, zaptest.NewLogger(t))
}

func TestGetLiquidity(t *testing.T) {
	p := testutils.NewMockProvider()
	p.CallFn = reservesReturning(t, testutils.Ether(100), testutils.Ether(250))
	h := newTestHandler(t, p)

	pairs, err := h.GetLiquidity(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	pl := pairs[0]
	// reserves come back in sorted token order
	assert.Equal(t, testutils.TokenX, pl.TokenA)
	assert.Equal(t, testutils.Ether(100), pl.ReserveA)
	assert.Equal(t, testutils.Ether(250), pl.ReserveB)
	assert.Equal(t, int64(30), pl.FeeBps)
	assert.Equal(t, v2.PairFor(MainnetFactory, MainnetInitCode, testutils.TokenX, testutils.TokenY), pl.Pool)

	require.NotEmpty(t, p.Calls)
	assert.Equal(t, pl.Pool, *p.Calls[0].To)
}

func TestGetLiquidityFailsWhenNoPairReadable(t *testing.T) {
	p := testutils.NewMockProvider()
	p.CallFn = func(context.Context, ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	h := newTestHandler(t, p)

	_, err := h.GetLiquidity(context.Background())
	assert.Error(t, err)
}

func TestExecuteTradeQuotes(t *testing.T) {
	p := testutils.NewMockProvider()
	p.CallFn = reservesReturning(t, testutils.Ether(100), testutils.Ether(100))
	h := newTestHandler(t, p)

	res, err := h.ExecuteTrade(context.Background(), types.TradeRequest{
		TokenIn:  testutils.TokenX,
		TokenOut: testutils.TokenY,
		AmountIn: testutils.Ether(1),
	})
	require.NoError(t, err)
	assert.Equal(t, MainnetRouter, res.To)
	assert.Equal(t, v2.SwapSelector(), res.Data[:4])
	require.NotNil(t, res.ExpectedOut)
	assert.Equal(t, v2.GetAmountOut(testutils.Ether(1), testutils.Ether(100), testutils.Ether(100), 30), res.ExpectedOut)
}

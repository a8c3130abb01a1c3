package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenX = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenY = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenZ = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func TestPairOriented(t *testing.T) {
	p := PairLiquidity{TokenA: tokenX, TokenB: tokenY, ReserveA: big.NewInt(10), ReserveB: big.NewInt(20)}

	rin, rout, ok := p.Oriented(tokenY, tokenX)
	require.True(t, ok)
	assert.Equal(t, int64(20), rin.Int64())
	assert.Equal(t, int64(10), rout.Int64())

	_, _, ok = p.Oriented(tokenX, tokenZ)
	assert.False(t, ok)
}

func TestSnapshotLookupPrefersDeepestPool(t *testing.T) {
	s := &LiquiditySnapshot{Pairs: []PairLiquidity{
		{Pool: common.HexToAddress("0xaa"), TokenA: tokenX, TokenB: tokenY, ReserveA: big.NewInt(5), ReserveB: big.NewInt(5)},
		{Pool: common.HexToAddress("0xbb"), TokenA: tokenY, TokenB: tokenX, ReserveA: big.NewInt(50), ReserveB: big.NewInt(70)},
	}}

	p, ok := s.Lookup(tokenX, tokenY)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0xbb"), p.Pool)
	assert.ElementsMatch(t, []common.Address{tokenY}, s.TokensFrom(tokenX))
}

func TestValidateSteps(t *testing.T) {
	good := []TradeStep{
		{TokenIn: tokenX, TokenOut: tokenY},
		{TokenIn: tokenY, TokenOut: tokenZ},
		{TokenIn: tokenZ, TokenOut: tokenX},
	}
	require.NoError(t, ValidateSteps(good, true))

	broken := []TradeStep{
		{TokenIn: tokenX, TokenOut: tokenY},
		{TokenIn: tokenZ, TokenOut: tokenX},
	}
	assert.Error(t, ValidateSteps(broken, false))

	open := good[:2]
	assert.NoError(t, ValidateSteps(open, false))
	assert.Error(t, ValidateSteps(open, true))

	assert.Error(t, ValidateSteps(nil, false))
}

func TestExecutionRouteValidatesBackups(t *testing.T) {
	er := &ExecutionRoute{
		FlashLoanAmount: big.NewInt(1),
		Steps: []TradeStep{
			{TokenIn: tokenX, TokenOut: tokenY},
			{TokenIn: tokenY, TokenOut: tokenX},
		},
		BackupRoutes: [][]TradeStep{{
			{TokenIn: tokenX, TokenOut: tokenY},
		}},
	}
	err := er.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup route 0")
}

func TestRouteFingerprint(t *testing.T) {
	a := &Route{Tokens: []common.Address{tokenX, tokenY, tokenX}, Exchanges: []ExchangeID{"a", "b"}}
	b := &Route{Tokens: []common.Address{tokenX, tokenY, tokenX}, Exchanges: []ExchangeID{"b", "a"}}
	c := &Route{Tokens: []common.Address{tokenX, tokenY, tokenX}, Exchanges: []ExchangeID{"a", "b"}}

	assert.True(t, a.IsClosed())
	assert.Equal(t, a.Fingerprint(), c.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, 2, a.Hops())
}

func TestFailedSimulationIsZeroed(t *testing.T) {
	sim := FailedSimulation("execution reverted")
	assert.False(t, sim.Success)
	assert.Zero(t, sim.GasUsed)
	assert.Equal(t, 0, sim.Profit.Sign())
	assert.Equal(t, "execution reverted", sim.RevertReason)
}

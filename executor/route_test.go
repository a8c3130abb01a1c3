package executor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

var (
	poolA = common.HexToAddress("0xaa01")
	poolB = common.HexToAddress("0xbb01")
	poolC = common.HexToAddress("0xcc01")
)

func snapshots() map[types.ExchangeID]*types.LiquiditySnapshot {
	return map[types.ExchangeID]*types.LiquiditySnapshot{
		"dex_a": {ExchangeID: "dex_a", Router: testutils.RouterA},
		"dex_b": {ExchangeID: "dex_b", Router: testutils.RouterB},
		"dex_c": {ExchangeID: "dex_c", Router: testutils.RouterC},
	}
}

func twoHop(first, second types.ExchangeID, pools []common.Address, out *big.Int) *types.Route {
	return &types.Route{
		Tokens:         []common.Address{testutils.TokenX, testutils.TokenY, testutils.TokenX},
		Exchanges:      []types.ExchangeID{first, second},
		Pools:          pools,
		HopOutputs:     []*big.Int{testutils.Ether(2), out},
		AmountIn:       testutils.Ether(1),
		ExpectedOutput: out,
		MinOutput:      new(big.Int).Div(new(big.Int).Mul(out, big.NewInt(98)), big.NewInt(100)),
		ExpectedProfit: new(big.Int).Sub(out, testutils.Ether(1)),
	}
}

func TestSteps(t *testing.T) {
	out := new(big.Int).Div(testutils.Ether(11), big.NewInt(10))
	r := twoHop("dex_b", "dex_a", []common.Address{poolB, poolA}, out)

	steps, err := Steps(r, snapshots(), 0.01)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, types.ExchangeID("dex_b"), steps[0].Exchange)
	assert.Equal(t, testutils.RouterB, steps[0].Router)
	assert.Equal(t, poolB, steps[0].Pool)
	assert.Equal(t, testutils.TokenX, steps[0].TokenIn)
	assert.Equal(t, testutils.TokenY, steps[0].TokenOut)
	assert.Equal(t, testutils.Ether(1), steps[0].Amount)
	// 2 ether less 1%
	assert.Equal(t, big.NewInt(1_980_000_000_000_000_000), steps[0].MinReturn)

	assert.Equal(t, testutils.RouterA, steps[1].Router)
	assert.Equal(t, testutils.Ether(2), steps[1].Amount)
	assert.Equal(t, r.MinOutput, steps[1].MinReturn)

	assert.NoError(t, types.ValidateSteps(steps, true))

	t.Run("steps do not alias the route", func(t *testing.T) {
		steps[1].Amount.SetInt64(0)
		assert.Equal(t, testutils.Ether(2), r.HopOutputs[0])
	})
}

func TestStepsRejectsBadRoutes(t *testing.T) {
	out := testutils.Ether(2)

	_, err := Steps(&types.Route{}, snapshots(), 0.01)
	assert.Error(t, err)

	r := twoHop("dex_b", "dex_a", nil, out)
	r.HopOutputs = r.HopOutputs[:1]
	_, err = Steps(r, snapshots(), 0.01)
	assert.Error(t, err)

	r = twoHop("dex_b", "dex_unknown", nil, out)
	_, err = Steps(r, snapshots(), 0.01)
	assert.ErrorContains(t, err, "dex_unknown")
}

func TestRefineCollectsBackups(t *testing.T) {
	primary := twoHop("dex_b", "dex_a", []common.Address{poolB, poolA}, testutils.Ether(3))
	viaC := twoHop("dex_c", "dex_a", []common.Address{poolC, poolA}, testutils.Ether(2))
	viaBC := twoHop("dex_b", "dex_c", []common.Address{poolB, poolC}, new(big.Int).Div(testutils.Ether(3), big.NewInt(2)))
	otherPath := &types.Route{
		Tokens:     []common.Address{testutils.TokenX, testutils.TokenZ, testutils.TokenX},
		Exchanges:  []types.ExchangeID{"dex_a", "dex_c"},
		HopOutputs: []*big.Int{testutils.Ether(1), testutils.Ether(2)},
		AmountIn:   testutils.Ether(1),
	}
	candidates := []*types.Route{primary, viaC, otherPath, viaBC}

	er, err := Refine(primary, candidates, snapshots(), 0.01, 3, nil)
	require.NoError(t, err)
	assert.Same(t, primary, er.Route)
	assert.Nil(t, er.FlashLoanAmount)
	require.Len(t, er.BackupRoutes, 2)
	assert.Equal(t, types.ExchangeID("dex_c"), er.BackupRoutes[0][0].Exchange)
	assert.Equal(t, types.ExchangeID("dex_c"), er.BackupRoutes[1][1].Exchange)
	assert.Equal(t, []*types.Route{viaC, viaBC}, er.Backups)

	t.Run("bounded", func(t *testing.T) {
		er, err := Refine(primary, candidates, snapshots(), 0.01, 1, nil)
		require.NoError(t, err)
		assert.Len(t, er.BackupRoutes, 1)
	})

	t.Run("flash loan", func(t *testing.T) {
		er, err := Refine(primary, nil, snapshots(), 0.01, 3, primary.AmountIn)
		require.NoError(t, err)
		assert.Equal(t, testutils.Ether(1), er.FlashLoanAmount)
		assert.Empty(t, er.BackupRoutes)
	})
}

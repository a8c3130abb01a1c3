package profit

import (
	"math/big"

	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// Score weights
const (
	ProfitWeight      = 0.5
	GasWeight         = 0.3
	CompetitionWeight = 0.2
)

// DefaultBlockGasLimit is used when the block gas limit is unknown
const DefaultBlockGasLimit = 30_000_000

// ScoreInput carries what a bundle score is computed from
type ScoreInput struct {
	ExpectedProfit *big.Int
	GasCost        *big.Int
	GasUsed        uint64
	BlockGasLimit  uint64
	// NetworkUtilization is recent block fullness in percent
	NetworkUtilization float64
}

// ScoreBundle computes the relative ranking score of a bundle. It is not an admission
// gate.
//
//	profitScore      = profit / (profit + gasCost)
//	gasScore         = 1 - gasUsed/blockGasLimit
//	competitionScore = 1 - utilization/100
func ScoreBundle(in ScoreInput) types.BundleStats {
	profit := umath.Clone(in.ExpectedProfit)
	gasCost := umath.Clone(in.GasCost)

	profitScore := 0.0
	if profit.Sign() > 0 {
		profitScore = umath.Ratio(profit, new(big.Int).Add(profit, gasCost))
	}

	limit := in.BlockGasLimit
	if limit == 0 {
		limit = DefaultBlockGasLimit
	}
	gasScore := 1 - float64(in.GasUsed)/float64(limit)

	util := in.NetworkUtilization
	competitionScore := 1 - util/100

	score := clamp01(profitScore)*ProfitWeight +
		clamp01(gasScore)*GasWeight +
		clamp01(competitionScore)*CompetitionWeight

	return types.BundleStats{
		ExpectedProfit:      profit,
		GasUsed:             in.GasUsed,
		BundleScore:         score,
		CompetitionEstimate: clamp01(util / 100),
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

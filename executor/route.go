package executor

import (
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// Steps turns a route into trade steps. Each step spends the expected output of the
// previous one and demands that output less maxSlippage; the last step demands the
// route's MinOutput.
func Steps(r *types.Route, snapshots map[types.ExchangeID]*types.LiquiditySnapshot, maxSlippage float64) ([]types.TradeStep, error) {
	if r == nil || r.Hops() == 0 {
		return nil, fmt.Errorf("route has no hops")
	}
	if len(r.Tokens) != r.Hops()+1 || len(r.HopOutputs) != r.Hops() {
		return nil, fmt.Errorf("route shape mismatch: %d tokens, %d outputs for %d hops",
			len(r.Tokens), len(r.HopOutputs), r.Hops())
	}

	keep := umath.PPM - umath.FloatToPPM(maxSlippage)
	if keep < 0 {
		keep = 0
	}

	steps := make([]types.TradeStep, r.Hops())
	amount := umath.Clone(r.AmountIn)
	for i, ex := range r.Exchanges {
		snap, ok := snapshots[ex]
		if !ok {
			return nil, fmt.Errorf("hop %d: no snapshot for %s", i, ex)
		}
		step := types.TradeStep{
			Exchange:  ex,
			Router:    snap.Router,
			TokenIn:   r.Tokens[i],
			TokenOut:  r.Tokens[i+1],
			Amount:    amount,
			MinReturn: umath.MulPPM(r.HopOutputs[i], keep),
		}
		if i < len(r.Pools) {
			step.Pool = r.Pools[i]
		}
		steps[i] = step
		amount = umath.Clone(r.HopOutputs[i])
	}
	if r.MinOutput != nil {
		steps[len(steps)-1].MinReturn = umath.Clone(r.MinOutput)
	}
	return steps, nil
}

// Refine builds the execution route for primary. Backups are the other candidates that
// walk the same token path through different exchanges, in the order given, at most
// maxBackups of them. loanAmount may be nil when no flash loan funds the route.
func Refine(primary *types.Route, candidates []*types.Route, snapshots map[types.ExchangeID]*types.LiquiditySnapshot,
	maxSlippage float64, maxBackups int, loanAmount *big.Int) (*types.ExecutionRoute, error) {
	steps, err := Steps(primary, snapshots, maxSlippage)
	if err != nil {
		return nil, err
	}

	er := &types.ExecutionRoute{Route: primary, Steps: steps}
	if umath.IsPositive(loanAmount) {
		er.FlashLoanAmount = umath.Clone(loanAmount)
	}

	fp := primary.Fingerprint()
	for _, c := range candidates {
		if len(er.BackupRoutes) >= maxBackups {
			break
		}
		if c == primary || c.Fingerprint() == fp || !sameTokens(c, primary) {
			continue
		}
		backup, err := Steps(c, snapshots, maxSlippage)
		if err != nil {
			continue
		}
		er.BackupRoutes = append(er.BackupRoutes, backup)
		er.Backups = append(er.Backups, c)
	}

	if err := er.Validate(); err != nil {
		return nil, err
	}
	return er, nil
}

func sameTokens(a, b *types.Route) bool {
	if len(a.Tokens) != len(b.Tokens) {
		return false
	}
	for i := range a.Tokens {
		if a.Tokens[i] != b.Tokens[i] {
			return false
		}
	}
	return true
}

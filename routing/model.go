package routing

import (
	stdmath "math"
	"math/big"

	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// HopOutput applies the finder's pricing model to one swap:
//
//	out = amount * reserveOut/reserveIn * (1 - fee) * (1 - slippage)
//	slippage = min((amount/reserveIn)^2, cap)
//
// Slippage is returned in parts per million. The caller must have checked that
// reserveIn covers amount.
func HopOutput(amount, reserveIn, reserveOut *big.Int, feeBps, capPPM int64) (*big.Int, int64) {
	ratio := umath.RatioPPM(amount, reserveIn)
	slip := ratio * ratio / umath.PPM
	if slip > capPPM {
		slip = capPPM
	}

	out := umath.MulDiv(amount, reserveOut, reserveIn)
	out = umath.MulBps(out, umath.BpsDenominator-feeBps)
	out = umath.MulPPM(out, umath.PPM-slip)
	return out, slip
}

// positionDecay is the confidence factor for the hop at index: 1 - index*step, never
// below zero.
func positionDecay(index int, step float64) float64 {
	d := 1 - float64(index)*step
	if d < 0 {
		return 0
	}
	return d
}

func clamp01(f float64) float64 {
	switch {
	case stdmath.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

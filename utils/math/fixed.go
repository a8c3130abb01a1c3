// Package math provides fixed-point helpers for on-chain amounts.
//
// Settlement values are *big.Int in token base units. Ratios such as fees, buffers and
// multipliers are carried as basis points (1/10000) or parts-per-million so that no float
// rounding leaks into amounts that are compared against thresholds or sent on chain.
package math

import (
	"fmt"
	stdmath "math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// BpsDenominator is the scale of basis-point ratios.
	BpsDenominator = 10_000
	// PPM is the scale of parts-per-million ratios.
	PPM = 1_000_000
)

var (
	bigBps = big.NewInt(BpsDenominator)
	bigPPM = big.NewInt(PPM)
)

// Clone copies x, mapping nil to zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsPositive reports whether x is non-nil and greater than zero
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// FloatToBps converts a ratio such as 1.1 into basis points (11000), rounding to nearest.
func FloatToBps(f float64) int64 {
	return int64(stdmath.Round(f * BpsDenominator))
}

// FloatToPPM converts a ratio into parts-per-million, rounding to nearest.
func FloatToPPM(f float64) int64 {
	return int64(stdmath.Round(f * PPM))
}

// MulBps returns floor(x * bps / 10000).
func MulBps(x *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(bps))
	return out.Quo(out, bigBps)
}

// MulBpsCeil returns ceil(x * bps / 10000) for non-negative x.
func MulBpsCeil(x *big.Int, bps int64) *big.Int {
	num := new(big.Int).Mul(x, big.NewInt(bps))
	q, r := new(big.Int).QuoRem(num, bigBps, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MulPPM returns floor(x * ppm / 1e6).
func MulPPM(x *big.Int, ppm int64) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(ppm))
	return out.Quo(out, bigPPM)
}

// MulDiv returns floor(x * num / den). den must be non-zero.
func MulDiv(x, num, den *big.Int) *big.Int {
	out := new(big.Int).Mul(x, num)
	return out.Quo(out, den)
}

// RatioPPM returns floor(x * 1e6 / y), or 0 when y is zero.
func RatioPPM(x, y *big.Int) int64 {
	if y == nil || y.Sign() == 0 || x == nil {
		return 0
	}
	out := new(big.Int).Mul(x, bigPPM)
	out.Quo(out, y)
	if !out.IsInt64() {
		return stdmath.MaxInt64
	}
	return out.Int64()
}

// Ratio returns x/y as a float for scoring and display. It returns 0 when y is zero.
func Ratio(x, y *big.Int) float64 {
	if y == nil || y.Sign() == 0 || x == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x), new(big.Float).SetInt(y)).Float64()
	return f
}

// CalculateFlashLoanFee returns the fee owed on amount at feeBps, rounded up so the
// repayment is never short.
func CalculateFlashLoanFee(amount *big.Int, feeBps int64) *big.Int {
	if amount == nil || feeBps <= 0 {
		return new(big.Int)
	}
	return MulBpsCeil(amount, feeBps)
}

// ToDecimal converts a base-unit amount into a decimal with the given token decimals.
// Display only.
func ToDecimal(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// FormatUnits renders amount with the given decimals, trimmed of trailing zeros.
func FormatUnits(amount *big.Int, decimals int32) string {
	return ToDecimal(amount, decimals).String()
}

// FormatEther renders a wei amount in ether.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, 18)
}

var unitExponents = map[string]int32{
	"wei":   0,
	"gwei":  9,
	"ether": 18,
	"eth":   18,
}

// ParseAmount parses "1000", "0.01 ether" or "50 gwei" into base units. A bare number is
// taken as base units. Fractional base units are rejected.
func ParseAmount(s string) (*big.Int, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	exp := int32(0)
	if len(fields) == 2 {
		e, ok := unitExponents[strings.ToLower(fields[1])]
		if !ok {
			return nil, fmt.Errorf("unknown unit %q", fields[1])
		}
		exp = e
	}

	scaled := value.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has fractional base units", s)
	}
	return scaled.BigInt(), nil
}

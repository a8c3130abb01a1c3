// Package v2 holds the constant-product pool math, ABIs and shared handler plumbing used
// by every Uniswap V2 style exchange.
package v2

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const feeDenominator = 10_000

// GetAmountOut returns the output of swapping amountIn through a constant-product pool
// charging feeBps. With feeBps = 30 this is the router's 997/1000 formula.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-feeBps))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator)),
		amountInWithFee,
	)
	return numerator.Div(numerator, denominator)
}

// GetAmountIn returns the input needed to receive amountOut. It returns nil when the
// pool cannot provide amountOut.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil
	}
	numerator := new(big.Int).Mul(
		new(big.Int).Mul(reserveIn, amountOut),
		big.NewInt(feeDenominator),
	)
	denominator := new(big.Int).Mul(
		new(big.Int).Sub(reserveOut, amountOut),
		big.NewInt(feeDenominator-feeBps),
	)
	return numerator.Div(numerator, denominator).Add(numerator, big.NewInt(1))
}

// SortTokens orders two tokens the way V2 factories do
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if tokenA.Hex() > tokenB.Hex() {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// PairFor computes the CREATE2 address of the pair for two tokens.
func PairFor(factory common.Address, initCodeHash []byte, tokenA, tokenB common.Address) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256([]byte{0xff}, factory.Bytes(), salt, initCodeHash))
}

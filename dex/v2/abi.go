package v2

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerABIJson = `[{
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "amountOutMin", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "swapExactTokensForTokens",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "view",
	"type": "function"
}]`

const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "token0",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "token1",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}]`

var (
	RouterABI abi.ABI
	PairABI   abi.ABI
)

func init() {
	var err error
	if RouterABI, err = abi.JSON(strings.NewReader(routerABIJson)); err != nil {
		panic(fmt.Sprintf("failed to parse router ABI: %v", err))
	}
	if PairABI, err = abi.JSON(strings.NewReader(pairABIJson)); err != nil {
		panic(fmt.Sprintf("failed to parse pair ABI: %v", err))
	}
}

// SwapSelector is the 4-byte selector of swapExactTokensForTokens
func SwapSelector() []byte {
	return RouterABI.Methods["swapExactTokensForTokens"].ID
}

// PackSwap encodes swapExactTokensForTokens calldata
func PackSwap(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline uint64) ([]byte, error) {
	data, err := RouterABI.Pack("swapExactTokensForTokens",
		amountIn, amountOutMin, path, to, new(big.Int).SetUint64(deadline))
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap: %w", err)
	}
	return data, nil
}

// UnpackAmounts decodes the uint256[] returned by swap and getAmountsOut calls
func UnpackAmounts(method string, data []byte) ([]*big.Int, error) {
	out, err := RouterABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", method, len(out))
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return amounts, nil
}

// PackAmounts encodes amounts as a swap return value. Used by simulators and tests.
func PackAmounts(amounts []*big.Int) ([]byte, error) {
	return RouterABI.Methods["swapExactTokensForTokens"].Outputs.Pack(amounts)
}

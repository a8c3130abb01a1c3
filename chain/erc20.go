package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJson = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// ERC20ABI covers the token calls the engine makes
var ERC20ABI abi.ABI

func init() {
	var err error
	if ERC20ABI, err = abi.JSON(strings.NewReader(erc20ABIJson)); err != nil {
		panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
	}
}

// PackTransfer encodes transfer(to, value)
func PackTransfer(to common.Address, value *big.Int) ([]byte, error) {
	data, err := ERC20ABI.Pack("transfer", to, value)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return data, nil
}

// TokenBalance reads balanceOf(holder) on token
func TokenBalance(ctx context.Context, p Provider, token, holder common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	out, err := p.Call(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s: %w", holder.Hex(), err)
	}
	values, err := ERC20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

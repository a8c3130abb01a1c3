package uniswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	v2 "github.com/michaelpento.lv/arbengine/dex/v2"
)

// Pair reads a V2 pair contract
type Pair struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewPair binds the pair at address for reading through caller
func NewPair(address common.Address, caller bind.ContractCaller) *Pair {
	return &Pair{
		contract: bind.NewBoundContract(address, v2.PairABI, caller, nil, nil),
		address:  address,
	}
}

// Address returns the pair contract address
func (p *Pair) Address() common.Address {
	return p.address
}

// GetReserves returns the current reserves of the pair in token0/token1 order
func (p *Pair) GetReserves(ctx context.Context) (reserve0 *big.Int, reserve1 *big.Int, err error) {
	var out []interface{}
	err = p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get reserves: %w", err)
	}
	if len(out) < 2 {
		return nil, nil, fmt.Errorf("unexpected getReserves result length %d", len(out))
	}

	reserve0, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse reserve0")
	}
	reserve1, ok = out[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse reserve1")
	}

	return reserve0, reserve1, nil
}

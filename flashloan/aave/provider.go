// Package aave quotes flash loans from an Aave V2 lending pool.
package aave

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

const (
	// LendingPool is the mainnet Aave V2 pool
	LendingPool = "0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9"
	// FeeBps is the flash loan premium (0.09%)
	FeeBps = 9
)

const lendingPoolABIJson = `[
	{
		"inputs": [
			{"internalType": "address", "name": "receiverAddress", "type": "address"},
			{"internalType": "address[]", "name": "assets", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "uint256[]", "name": "modes", "type": "uint256[]"},
			{"internalType": "address", "name": "onBehalfOf", "type": "address"},
			{"internalType": "bytes", "name": "params", "type": "bytes"},
			{"internalType": "uint16", "name": "referralCode", "type": "uint16"}
		],
		"name": "flashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "asset", "type": "address"}
		],
		"name": "getReserveData",
		"outputs": [
			{"internalType": "uint256", "name": "availableLiquidity", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// PoolABI is the subset of the lending pool the provider calls
var PoolABI abi.ABI

func init() {
	var err error
	if PoolABI, err = abi.JSON(strings.NewReader(lendingPoolABIJson)); err != nil {
		panic(fmt.Sprintf("failed to parse lending pool ABI: %v", err))
	}
}

// Provider implements flashloan.Provider for Aave
type Provider struct {
	name    string
	pool    common.Address
	maxLoan *big.Int
	client  chain.Provider
	logger  *zap.Logger
}

// NewProvider creates an Aave provider. A zero pool address selects mainnet; a nil or
// zero maxLoan leaves the pool's liquidity as the only cap.
func NewProvider(name string, pool common.Address, maxLoan *big.Int, client chain.Provider, logger *zap.Logger) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("chain provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "aave"
	}
	if pool == (common.Address{}) {
		pool = common.HexToAddress(LendingPool)
	}
	return &Provider{
		name:    name,
		pool:    pool,
		maxLoan: umath.Clone(maxLoan),
		client:  client,
		logger:  logger,
	}, nil
}

func (p *Provider) Name() string { return p.name }

// Fee returns the premium on amount, rounded up
func (p *Provider) Fee(amount *big.Int) *big.Int {
	return umath.CalculateFlashLoanFee(amount, FeeBps)
}

// GetFlashloan builds flashLoan calldata for a single asset in no-debt mode.
func (p *Provider) GetFlashloan(ctx context.Context, token common.Address, amount *big.Int, opts types.LoanOptions) (*types.FlashLoan, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid loan amount")
	}
	if opts.Receiver == (common.Address{}) {
		return nil, fmt.Errorf("flash loan receiver is required")
	}

	limit, err := p.GetMaxLoanAmount(ctx, token)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(limit) > 0 {
		return nil, fmt.Errorf("loan amount %s exceeds maximum %s", amount.String(), limit.String())
	}

	data, err := PoolABI.Pack("flashLoan",
		opts.Receiver,
		[]common.Address{token},
		[]*big.Int{amount},
		[]*big.Int{common.Big0},
		opts.Receiver,
		opts.Params,
		uint16(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack flash loan data: %w", err)
	}

	loan := &types.FlashLoan{
		Provider: p.name,
		Lender:   p.pool,
		Token:    token,
		Amount:   umath.Clone(amount),
		Fee:      p.Fee(amount),
		Calldata: data,
	}
	p.logger.Debug("Quoted Aave flash loan",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", loan.Fee.String()))
	return loan, nil
}

// RepayFlashloan reports whether proceeds cover principal plus premium
func (p *Provider) RepayFlashloan(_ context.Context, loan *types.FlashLoan, proceeds *big.Int) (bool, error) {
	if loan == nil {
		return false, fmt.Errorf("loan cannot be nil")
	}
	if loan.Provider != p.name {
		return false, fmt.Errorf("loan was issued by %q, not %q", loan.Provider, p.name)
	}
	return loan.Covers(proceeds), nil
}

// GetMaxLoanAmount returns the pool's available liquidity, capped by the configured max
func (p *Provider) GetMaxLoanAmount(ctx context.Context, token common.Address) (*big.Int, error) {
	liquidity, err := p.GetPoolLiquidity(ctx, token)
	if err != nil {
		return nil, err
	}
	if umath.IsPositive(p.maxLoan) && liquidity.Cmp(p.maxLoan) > 0 {
		return umath.Clone(p.maxLoan), nil
	}
	return liquidity, nil
}

// GetPoolLiquidity reads the reserve's available liquidity
func (p *Provider) GetPoolLiquidity(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := PoolABI.Pack("getReserveData", token)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getReserveData: %w", err)
	}

	out, err := p.client.Call(ctx, ethereum.CallMsg{To: &p.pool, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to get reserve data: %w", err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short reserve data: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

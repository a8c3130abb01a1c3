// Package balancer quotes fee-free flash loans from the Balancer vault.
package balancer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

const (
	// Mainnet addresses
	VaultAddress = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
)

// Vault ABI
var vaultABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[
	{
		"inputs": [
			{"internalType": "contract IFlashLoanRecipient", "name": "recipient", "type": "address"},
			{"internalType": "contract IERC20[]", "name": "tokens", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "bytes", "name": "userData", "type": "bytes"}
		],
		"name": "flashLoan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`))
	if err != nil {
		panic(fmt.Sprintf("failed to parse vault ABI: %v", err))
	}
	return parsed
}()

// Provider implements flashloan.Provider for Balancer
type Provider struct {
	name    string
	vault   common.Address
	maxLoan *big.Int
	client  chain.Provider
	logger  *zap.Logger
}

// NewProvider creates a new Balancer flash loan provider
func NewProvider(name string, vault common.Address, maxLoan *big.Int, client chain.Provider, logger *zap.Logger) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("chain provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "balancer"
	}
	if vault == (common.Address{}) {
		vault = common.HexToAddress(VaultAddress)
	}
	return &Provider{
		name:    name,
		vault:   vault,
		maxLoan: umath.Clone(maxLoan),
		client:  client,
		logger:  logger,
	}, nil
}

func (p *Provider) Name() string { return p.name }

// Fee is always zero on Balancer
func (p *Provider) Fee(*big.Int) *big.Int {
	return new(big.Int)
}

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
		return nil, fmt.Errorf("loan amount %s exceeds vault balance %s", amount.String(), limit.String())
	}

	data, err := vaultABI.Pack("flashLoan", opts.Receiver, []common.Address{token}, []*big.Int{amount}, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to pack flash loan data: %w", err)
	}

	p.logger.Debug("Quoted Balancer flash loan",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()))

	return &types.FlashLoan{
		Provider: p.name,
		Lender:   p.vault,
		Token:    token,
		Amount:   umath.Clone(amount),
		Fee:      new(big.Int),
		Calldata: data,
	}, nil
}

func (p *Provider) RepayFlashloan(_ context.Context, loan *types.FlashLoan, proceeds *big.Int) (bool, error) {
	if loan == nil {
		return false, fmt.Errorf("loan cannot be nil")
	}
	return loan.Covers(proceeds), nil
}

// GetMaxLoanAmount is the vault's token balance, capped by the configured max
func (p *Provider) GetMaxLoanAmount(ctx context.Context, token common.Address) (*big.Int, error) {
	balance, err := chain.TokenBalance(ctx, p.client, token, p.vault)
	if err != nil {
		return nil, fmt.Errorf("failed to get vault liquidity: %w", err)
	}
	if umath.IsPositive(p.maxLoan) && balance.Cmp(p.maxLoan) > 0 {
		return umath.Clone(p.maxLoan), nil
	}
	return balance, nil
}

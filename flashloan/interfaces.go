// Package flashloan selects and quotes flash loans across lenders.
package flashloan

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/types"
)

var (
	// ErrNoProvider is returned when no lender can serve a loan
	ErrNoProvider = errors.New("no flash loan provider available")
	// ErrInsufficientLiquidity is returned when a lender cannot lend the amount asked
	ErrInsufficientLiquidity = errors.New("insufficient flash loan liquidity")
)

// Provider is a single flash loan lender
type Provider interface {
	Name() string

	// Fee is the premium charged on amount
	Fee(amount *big.Int) *big.Int

	// GetFlashloan quotes a loan of amount and prepares the call that requests it
	GetFlashloan(ctx context.Context, token common.Address, amount *big.Int, opts types.LoanOptions) (*types.FlashLoan, error)

	// RepayFlashloan reports whether proceeds settle the loan
	RepayFlashloan(ctx context.Context, loan *types.FlashLoan, proceeds *big.Int) (bool, error)

	GetMaxLoanAmount(ctx context.Context, token common.Address) (*big.Int, error)
}

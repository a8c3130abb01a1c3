// Package dex unifies exchange access behind one Handler interface. The concrete
// variant for each configured exchange is chosen once, in NewHandler.
package dex

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/types"
)

// Handler is the capability set every exchange provides
type Handler interface {
	ID() types.ExchangeID
	Router() common.Address

	// GetLiquidity returns every pool the handler watches
	GetLiquidity(ctx context.Context) ([]types.PairLiquidity, error)

	// GetSpecificPairLiquidity returns the pool trading tokenIn for tokenOut
	GetSpecificPairLiquidity(ctx context.Context, tokenIn, tokenOut common.Address) (*types.PairLiquidity, error)

	// ExecuteTrade prepares the unsigned call that performs req
	ExecuteTrade(ctx context.Context, req types.TradeRequest) (*types.TradeResult, error)

	GetSuccessRate() float64
	UpdateStats(stats types.TradeStats)
}

package v2

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/arbengine/types"
)

// Base carries what every V2 style handler shares: identity, the router, the pool fee
// and the running trade statistics.
type Base struct {
	id          types.ExchangeID
	router      common.Address
	feeBps      int64
	reliability float64

	mu        sync.RWMutex
	attempts  uint64
	successes uint64
}

func NewBase(id types.ExchangeID, router common.Address, feeBps int64, reliability float64) *Base {
	return &Base{id: id, router: router, feeBps: feeBps, reliability: reliability}
}

func (b *Base) ID() types.ExchangeID { return b.id }

func (b *Base) Router() common.Address { return b.router }

// FeeBps returns the pool fee in basis points
func (b *Base) FeeBps() int64 { return b.feeBps }

// GetSuccessRate returns the observed success rate, or the configured reliability until
// the first trade is reported.
func (b *Base) GetSuccessRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.attempts == 0 {
		return b.reliability
	}
	return float64(b.successes) / float64(b.attempts)
}

func (b *Base) UpdateStats(stats types.TradeStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if stats.Success {
		b.successes++
	}
}

// BuildTrade packs a single-hop router swap. quote may be nil.
func (b *Base) BuildTrade(_ context.Context, req types.TradeRequest, quote *types.PairLiquidity) (*types.TradeResult, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("trade amount must be positive")
	}
	if req.TokenIn == req.TokenOut {
		return nil, fmt.Errorf("trade must change token")
	}
	minOut := req.MinAmountOut
	if minOut == nil {
		minOut = common.Big0
	}

	data, err := PackSwap(req.AmountIn, minOut, []common.Address{req.TokenIn, req.TokenOut}, req.Recipient, req.Deadline)
	if err != nil {
		return nil, err
	}

	res := &types.TradeResult{To: b.router, Data: data}
	if quote != nil {
		if rin, rout, ok := quote.Oriented(req.TokenIn, req.TokenOut); ok {
			res.ExpectedOut = GetAmountOut(req.AmountIn, rin, rout, quote.FeeBps)
		}
	}
	return res, nil
}

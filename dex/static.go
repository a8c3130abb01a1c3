package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	v2 "github.com/michaelpento.lv/arbengine/dex/v2"
	"github.com/michaelpento.lv/arbengine/types"
)

// StaticHandler serves fixed reserves. It backs dry runs and tests.
type StaticHandler struct {
	*v2.Base
	pairs []types.PairLiquidity
}

func NewStaticHandler(id types.ExchangeID, router common.Address, feeBps int64, reliability float64, pairs []types.PairLiquidity) *StaticHandler {
	owned := make([]types.PairLiquidity, len(pairs))
	for i, p := range pairs {
		p.FeeBps = feeBps
		if p.Pool == (common.Address{}) {
			p.Pool = v2.PairFor(router, nil, p.TokenA, p.TokenB)
		}
		owned[i] = p
	}
	return &StaticHandler{
		Base:  v2.NewBase(id, router, feeBps, reliability),
		pairs: owned,
	}
}

func (h *StaticHandler) GetLiquidity(ctx context.Context) ([]types.PairLiquidity, error) {
	out := make([]types.PairLiquidity, len(h.pairs))
	copy(out, h.pairs)
	return out, nil
}

func (h *StaticHandler) GetSpecificPairLiquidity(ctx context.Context, tokenIn, tokenOut common.Address) (*types.PairLiquidity, error) {
	for _, p := range h.pairs {
		if _, _, ok := p.Oriented(tokenIn, tokenOut); ok {
			pl := p
			return &pl, nil
		}
	}
	return nil, fmt.Errorf("no pool for %s -> %s on %s", tokenIn.Hex(), tokenOut.Hex(), h.ID())
}

func (h *StaticHandler) ExecuteTrade(ctx context.Context, req types.TradeRequest) (*types.TradeResult, error) {
	quote, err := h.GetSpecificPairLiquidity(ctx, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, err
	}
	return h.BuildTrade(ctx, req, quote)
}

package uniswap

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	v2 "github.com/michaelpento.lv/arbengine/dex/v2"
	"github.com/michaelpento.lv/arbengine/types"
)

// Contract addresses
var (
	MainnetRouter   = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	MainnetFactory  = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	MainnetInitCode = common.FromHex("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
)

// Options configures a V2 handler
type Options struct {
	ID          types.ExchangeID
	Router      common.Address
	Factory     common.Address
	InitCode    []byte
	FeeBps      int64
	Reliability float64
	Pairs       [][2]common.Address
}

// Handler serves a Uniswap V2 style exchange by reading pair reserves on chain
type Handler struct {
	*v2.Base
	caller   *chain.ContractCaller
	factory  common.Address
	initCode []byte
	pairs    [][2]common.Address
	logger   *zap.Logger

	mu        sync.Mutex
	contracts map[common.Address]*Pair
}

// New creates a handler. Zero router, factory or init code fall back to Uniswap mainnet.
func New(opts Options, provider chain.Provider, logger *zap.Logger) *Handler {
	if opts.Router == (common.Address{}) {
		opts.Router = MainnetRouter
	}
	if opts.Factory == (common.Address{}) {
		opts.Factory = MainnetFactory
	}
	if len(opts.InitCode) == 0 {
		opts.InitCode = MainnetInitCode
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Base:      v2.NewBase(opts.ID, opts.Router, opts.FeeBps, opts.Reliability),
		caller:    chain.NewContractCaller(provider),
		factory:   opts.Factory,
		initCode:  opts.InitCode,
		pairs:     opts.Pairs,
		logger:    logger.With(zap.String("exchange", string(opts.ID))),
		contracts: make(map[common.Address]*Pair),
	}
}

// GetLiquidity reads every configured pair. A pair that fails to read is skipped;
// the call only fails when no pair could be read.
func (h *Handler) GetLiquidity(ctx context.Context) ([]types.PairLiquidity, error) {
	out := make([]types.PairLiquidity, 0, len(h.pairs))
	var lastErr error
	for _, p := range h.pairs {
		pl, err := h.readPair(ctx, p[0], p[1])
		if err != nil {
			h.logger.Warn("Failed to read pair",
				zap.String("token_a", p[0].Hex()),
				zap.String("token_b", p[1].Hex()),
				zap.Error(err))
			lastErr = err
			continue
		}
		out = append(out, *pl)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("failed to read any pair: %w", lastErr)
	}
	return out, nil
}

func (h *Handler) GetSpecificPairLiquidity(ctx context.Context, tokenIn, tokenOut common.Address) (*types.PairLiquidity, error) {
	return h.readPair(ctx, tokenIn, tokenOut)
}

// ExecuteTrade prepares the router call for req, quoting from fresh reserves when they
// can be read.
func (h *Handler) ExecuteTrade(ctx context.Context, req types.TradeRequest) (*types.TradeResult, error) {
	quote, err := h.readPair(ctx, req.TokenIn, req.TokenOut)
	if err != nil {
		h.logger.Debug("Trading without quote", zap.Error(err))
		quote = nil
	}
	return h.BuildTrade(ctx, req, quote)
}

func (h *Handler) readPair(ctx context.Context, tokenA, tokenB common.Address) (*types.PairLiquidity, error) {
	pair := h.getPair(tokenA, tokenB)
	reserve0, reserve1, err := pair.GetReserves(ctx)
	if err != nil {
		return nil, err
	}

	token0, token1 := v2.SortTokens(tokenA, tokenB)
	return &types.PairLiquidity{
		Pool:     pair.Address(),
		TokenA:   token0,
		TokenB:   token1,
		ReserveA: reserve0,
		ReserveB: reserve1,
		FeeBps:   h.FeeBps(),
	}, nil
}

// getPair returns the pair contract for two tokens
func (h *Handler) getPair(tokenA, tokenB common.Address) *Pair {
	addr := v2.PairFor(h.factory, h.initCode, tokenA, tokenB)

	h.mu.Lock()
	defer h.mu.Unlock()
	if pair, ok := h.contracts[addr]; ok {
		return pair
	}
	pair := NewPair(addr, h.caller)
	h.contracts[addr] = pair
	return pair
}

package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/dex/sushiswap"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
	"github.com/michaelpento.lv/arbengine/types"
)

// NewHandler builds the handler variant named by cfg.Kind.
func NewHandler(cfg config.ExchangeConfig, defaultReliability float64, provider chain.Provider, logger *zap.Logger) (Handler, error) {
	reliability := cfg.Reliability
	if reliability <= 0 {
		reliability = defaultReliability
	}
	id := types.ExchangeID(cfg.ID)

	switch cfg.Kind {
	case config.KindUniswapV2, config.KindSushiswap:
		opts := uniswap.Options{
			ID:          id,
			Router:      common.HexToAddress(cfg.Router),
			Factory:     common.HexToAddress(cfg.Factory),
			InitCode:    common.FromHex(cfg.InitCodeHash),
			FeeBps:      cfg.FeeBps,
			Reliability: reliability,
		}
		for _, p := range cfg.Pairs {
			opts.Pairs = append(opts.Pairs, [2]common.Address{
				common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB),
			})
		}
		if cfg.Kind == config.KindSushiswap {
			return sushiswap.New(opts, provider, logger), nil
		}
		return uniswap.New(opts, provider, logger), nil

	case config.KindStatic:
		pairs := make([]types.PairLiquidity, 0, len(cfg.Pairs))
		for _, p := range cfg.Pairs {
			pairs = append(pairs, types.PairLiquidity{
				TokenA:   common.HexToAddress(p.TokenA),
				TokenB:   common.HexToAddress(p.TokenB),
				ReserveA: p.ReserveA.Int(),
				ReserveB: p.ReserveB.Int(),
			})
		}
		return NewStaticHandler(id, common.HexToAddress(cfg.Router), cfg.FeeBps, reliability, pairs), nil
	}

	return nil, fmt.Errorf("unknown exchange kind %q", cfg.Kind)
}

// NewHandlers builds one handler per configured exchange
func NewHandlers(cfg *config.Config, provider chain.Provider, logger *zap.Logger) ([]Handler, error) {
	handlers := make([]Handler, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		h, err := NewHandler(ex, cfg.DefaultReliability, provider, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create handler %q: %w", ex.ID, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

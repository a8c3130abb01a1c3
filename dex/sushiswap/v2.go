package sushiswap

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/dex/uniswap"
)

// Contract addresses
var (
	MainnetFactory  = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	MainnetRouter   = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
	MainnetInitCode = common.FromHex("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303")
)

// New creates a Sushiswap handler. Sushiswap is a V2 fork so it shares the Uniswap
// handler with its own factory, router and pair init code.
func New(opts uniswap.Options, provider chain.Provider, logger *zap.Logger) *uniswap.Handler {
	if opts.Router == (common.Address{}) {
		opts.Router = MainnetRouter
	}
	if opts.Factory == (common.Address{}) {
		opts.Factory = MainnetFactory
	}
	if len(opts.InitCode) == 0 {
		opts.InitCode = MainnetInitCode
	}
	return uniswap.New(opts, provider, logger)
}

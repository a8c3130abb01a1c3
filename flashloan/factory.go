package flashloan

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/flashloan/aave"
	"github.com/michaelpento.lv/arbengine/flashloan/balancer"
)

// NewProvider builds the lender named by cfg.Kind
func NewProvider(cfg config.FlashLoanProviderConfig, client chain.Provider, logger *zap.Logger) (Provider, error) {
	addr := common.HexToAddress(cfg.Address)
	switch cfg.Kind {
	case config.LoanAave:
		return aave.NewProvider(cfg.Name, addr, cfg.MaxLoan.Int(), client, logger)
	case config.LoanBalancer:
		return balancer.NewProvider(cfg.Name, addr, cfg.MaxLoan.Int(), client, logger)
	}
	return nil, fmt.Errorf("unknown flash loan kind %q", cfg.Kind)
}

// NewProviders builds every configured lender. Disabled flash loans yield none.
func NewProviders(cfg config.FlashLoanConfig, client chain.Provider, logger *zap.Logger) ([]Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, client, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create flash loan provider %q: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

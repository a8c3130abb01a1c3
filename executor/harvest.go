package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/events"
	"github.com/michaelpento.lv/arbengine/gas"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Split is how one realized profit was divided
type Split struct {
	Realized *big.Int
	ToVault  *big.Int
	Retained *big.Int
	TxHash   common.Hash
}

// Harvester sends a share of every realized profit to the vault and keeps the rest as
// operating capital
type Harvester struct {
	vault    common.Address
	token    common.Address
	shareBps int64
	provider chain.Provider
	signer   chain.Signer
	nonces   *chain.NonceManager
	gas      *gas.Optimizer
	events   events.Publisher
	logger   *zap.Logger

	metrics struct {
		toVault  prometheus.Counter
		retained prometheus.Counter
		failures prometheus.Counter
	}
}

// NewHarvester creates a harvester paying share (0..1) of profits in token to vault. A
// zero vault or share retains everything. nonces is shared with the bundle builder.
func NewHarvester(vault, token common.Address, share float64, provider chain.Provider, signer chain.Signer,
	nonces *chain.NonceManager, optimizer *gas.Optimizer, pub events.Publisher, reg prometheus.Registerer,
	logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nonces == nil {
		nonces = chain.NewNonceManager(provider, signer.Address(), logger)
	}
	if pub == nil {
		pub = events.Nop()
	}
	shareBps := umath.FloatToBps(share)
	switch {
	case shareBps < 0:
		shareBps = 0
	case shareBps > umath.BpsDenominator:
		shareBps = umath.BpsDenominator
	}

	h := &Harvester{
		vault:    vault,
		token:    token,
		shareBps: shareBps,
		provider: provider,
		signer:   signer,
		nonces:   nonces,
		gas:      optimizer,
		events:   pub,
		logger:   logger,
	}

	f := metrics.Factory(reg)
	h.metrics.toVault = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "harvest",
		Name:      "vault_ether_total",
		Help:      "Profit sent to the vault",
	})
	h.metrics.retained = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "harvest",
		Name:      "retained_ether_total",
		Help:      "Profit kept as operating capital",
	})
	h.metrics.failures = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "harvest",
		Name:      "failures_total",
		Help:      "Vault transfers that could not be sent",
	})
	return h
}

// Divide computes the split of realized without sending anything
func (h *Harvester) Divide(realized *big.Int) Split {
	s := Split{Realized: umath.Clone(realized), ToVault: new(big.Int), Retained: umath.Clone(realized)}
	if !umath.IsPositive(realized) || h.shareBps == 0 || h.vault == (common.Address{}) {
		return s
	}
	s.ToVault = umath.MulBps(realized, h.shareBps)
	s.Retained = new(big.Int).Sub(realized, s.ToVault)
	return s
}

// Harvest divides realized, transfers the vault share and publishes a profit event.
// When the transfer cannot be sent the whole amount counts as retained and the error
// is returned.
func (h *Harvester) Harvest(ctx context.Context, bundleID string, realized *big.Int) (Split, error) {
	s := h.Divide(realized)

	var err error
	if s.ToVault.Sign() > 0 {
		s.TxHash, err = h.transfer(ctx, s.ToVault)
		if err != nil {
			h.metrics.failures.Inc()
			h.logger.Error("Vault transfer failed",
				zap.String("bundle_id", bundleID),
				zap.String("amount", s.ToVault.String()),
				zap.Error(err))
			s.ToVault = new(big.Int)
			s.Retained = umath.Clone(s.Realized)
		}
	}

	vaultEth, _ := umath.ToDecimal(s.ToVault, 18).Float64()
	h.metrics.toVault.Add(vaultEth)
	if s.Retained.Sign() > 0 {
		retainedEth, _ := umath.ToDecimal(s.Retained, 18).Float64()
		h.metrics.retained.Add(retainedEth)
	}

	h.events.Publish(events.Event{Kind: events.KindProfit, Payload: events.Profit{
		BundleID: bundleID,
		Realized: s.Realized,
		ToVault:  s.ToVault,
		Retained: s.Retained,
		TxHash:   s.TxHash,
	}})
	h.logger.Info("Profit harvested",
		zap.String("bundle_id", bundleID),
		zap.String("realized", umath.FormatEther(s.Realized)),
		zap.String("to_vault", umath.FormatEther(s.ToVault)),
		zap.String("retained", umath.FormatEther(s.Retained)))
	return s, err
}

func (h *Harvester) transfer(ctx context.Context, amount *big.Int) (common.Hash, error) {
	data, err := chain.PackTransfer(h.vault, amount)
	if err != nil {
		return common.Hash{}, err
	}

	from := h.signer.Address()
	token := h.token
	used, err := h.provider.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &token, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate vault transfer: %w", err)
	}
	strategy, err := h.gas.OptimizeGasPrice(ctx, gas.Request{SimulatedGasUsed: &used})
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := h.nonces.Reserve(ctx, 1)
	if err != nil {
		return common.Hash{}, err
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Gas:      strategy.Limit,
		GasPrice: strategy.Price,
		Data:     data,
	})
	raw, err := h.signer.SignTransaction(tx)
	if err != nil {
		h.nonces.Release(nonce, 1, 0)
		return common.Hash{}, fmt.Errorf("failed to sign vault transfer: %w", err)
	}
	hash, err := h.provider.BroadcastTransaction(ctx, raw)
	if err != nil {
		h.nonces.Release(nonce, 1, 0)
		return common.Hash{}, fmt.Errorf("failed to broadcast vault transfer: %w", err)
	}
	return hash, nil
}

package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// ErrFeeData wraps every failure to obtain a usable network fee
var ErrFeeData = errors.New("fee data unavailable")

const (
	// BaseGas is the intrinsic cost of a transaction
	BaseGas = uint64(21000)
	// PerHopGas approximates one DEX hop: storage reads, token transfers and the swap
	PerHopGas = uint64(152000)
)

// EstimateArbitrageGas estimates gas for an arbitrage with numHops swaps
func EstimateArbitrageGas(numHops int) uint64 {
	if numHops <= 0 {
		return 0
	}
	return BaseGas + PerHopGas*uint64(numHops)
}

// FeeSource supplies current network fees
type FeeSource interface {
	GetFeeData(ctx context.Context) (*chain.FeeData, error)
}

// Request describes the transaction being priced. SimulatedGasUsed takes precedence
// over GasLimit when set.
type Request struct {
	GasLimit         uint64
	SimulatedGasUsed *uint64
}

// Strategy is the price and limit to send with
type Strategy struct {
	Price  *big.Int
	TipCap *big.Int
	Limit  uint64
}

// Cost is the maximum fee the strategy can spend
func (s *Strategy) Cost() *big.Int {
	return new(big.Int).Mul(s.Price, new(big.Int).SetUint64(s.Limit))
}

type Optimizer struct {
	source        FeeSource
	multiplierBps int64
	maxGasPrice   *big.Int
	logger        *zap.Logger

	metrics struct {
		price    prometheus.Gauge
		failures prometheus.Counter
		capped   prometheus.Counter
	}
}

// NewOptimizer creates an optimizer. multiplier scales the gas limit (1.1 = +10%);
// maxGasPrice caps every returned price.
func NewOptimizer(source FeeSource, multiplier float64, maxGasPrice *big.Int, reg prometheus.Registerer, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Optimizer{
		source:        source,
		multiplierBps: umath.FloatToBps(multiplier),
		maxGasPrice:   umath.Clone(maxGasPrice),
		logger:        logger,
	}

	f := metrics.Factory(reg)
	o.metrics.price = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "gas",
		Name:      "price_gwei",
		Help:      "Last gas price chosen",
	})
	o.metrics.failures = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "gas",
		Name:      "fee_data_failures_total",
		Help:      "Failed fee data reads",
	})
	o.metrics.capped = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "gas",
		Name:      "capped_total",
		Help:      "Prices clamped to the configured maximum",
	})
	return o
}

// OptimizeGasPrice prices req from current fee data. A failed or empty fee read is
// returned as ErrFeeData; the price is never defaulted.
func (o *Optimizer) OptimizeGasPrice(ctx context.Context, req Request) (*Strategy, error) {
	fd, err := o.source.GetFeeData(ctx)
	if err != nil {
		o.metrics.failures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrFeeData, err)
	}
	if fd == nil || fd.GasPrice == nil || fd.GasPrice.Sign() <= 0 {
		o.metrics.failures.Inc()
		return nil, fmt.Errorf("%w: node returned no gas price", ErrFeeData)
	}

	used := req.GasLimit
	if req.SimulatedGasUsed != nil {
		used = *req.SimulatedGasUsed
	}
	limit := umath.MulBpsCeil(new(big.Int).SetUint64(used), o.multiplierBps)

	s := &Strategy{
		Price:  o.capPrice(umath.Clone(fd.GasPrice)),
		TipCap: umath.Clone(fd.TipCap),
		Limit:  limit.Uint64(),
	}
	if s.TipCap.Cmp(s.Price) > 0 {
		s.TipCap = umath.Clone(s.Price)
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(s.Price), big.NewFloat(1e9)).Float64()
	o.metrics.price.Set(gwei)
	return s, nil
}

// Bump returns a copy of s with its price raised by fraction (0.2 = +20%), still
// subject to the maximum gas price.
func (o *Optimizer) Bump(s *Strategy, fraction float64) *Strategy {
	bps := umath.BpsDenominator + umath.FloatToBps(fraction)
	return &Strategy{
		Price:  o.capPrice(umath.MulBpsCeil(s.Price, bps)),
		TipCap: umath.MulBpsCeil(umath.Clone(s.TipCap), bps),
		Limit:  s.Limit,
	}
}

func (o *Optimizer) capPrice(price *big.Int) *big.Int {
	if o.maxGasPrice != nil && o.maxGasPrice.Sign() > 0 && price.Cmp(o.maxGasPrice) > 0 {
		o.metrics.capped.Inc()
		o.logger.Warn("Gas price above maximum, capping",
			zap.String("price", price.String()),
			zap.String("max", o.maxGasPrice.String()))
		return umath.Clone(o.maxGasPrice)
	}
	return price
}

// Package profit decides whether a route is worth executing and ranks bundles.
package profit

import (
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Rejection reasons
const (
	ReasonBelowThreshold = "below_min_profit"
	ReasonLowConfidence  = "low_confidence"
	ReasonGasExceeds     = "gas_exceeds_profit"
	ReasonEmptyRoute     = "empty_route"
	ReasonUnpriced       = "unpriced_gas"
)

// Decision is the outcome of evaluating one route
type Decision struct {
	Profitable bool
	// NetProfit is the expected profit less the unbuffered gas cost
	NetProfit *big.Int
	Reasons   []string
}

// Evaluator applies the admission gates. Every gate is hard: one failure rejects.
type Evaluator struct {
	minProfit     *big.Int
	minConfidence float64
	gasBufferBps  int64
	logger        *zap.Logger

	metrics struct {
		accepted prometheus.Counter
		rejected *prometheus.CounterVec
	}
}

func NewEvaluator(minProfit *big.Int, minConfidence, gasBuffer float64, reg prometheus.Registerer, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		minProfit:     umath.Clone(minProfit),
		minConfidence: minConfidence,
		gasBufferBps:  umath.FloatToBps(gasBuffer),
		logger:        logger,
	}

	f := metrics.Factory(reg)
	e.metrics.accepted = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "profit",
		Name:      "accepted_total",
		Help:      "Routes that passed every gate",
	})
	e.metrics.rejected = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "profit",
		Name:      "rejected_total",
		Help:      "Routes rejected, by first failing gate",
	}, []string{"reason"})
	return e
}

// NewEvaluatorFromConfig builds an evaluator from the engine configuration
func NewEvaluatorFromConfig(cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) *Evaluator {
	return NewEvaluator(cfg.MinProfitThreshold.Int(), cfg.MinConfidence, cfg.GasBuffer, reg, logger)
}

// GasCost returns the route's gas cost in wei, or nil when the route was found without
// a gas price
func GasCost(r *types.Route) *big.Int {
	if r.EstimatedGasCost == nil {
		return nil
	}
	return umath.Clone(r.EstimatedGasCost)
}

// IsProfitable reports whether r passes all three gates:
// expected profit above the threshold, confidence above the minimum and buffered gas
// cost strictly below expected profit.
func (e *Evaluator) IsProfitable(r *types.Route) bool {
	return e.Evaluate(r).Profitable
}

// Evaluate runs the gates and reports every one that failed
func (e *Evaluator) Evaluate(r *types.Route) Decision {
	if r == nil || r.Hops() == 0 || r.ExpectedProfit == nil {
		e.metrics.rejected.WithLabelValues(ReasonEmptyRoute).Inc()
		return Decision{NetProfit: new(big.Int), Reasons: []string{ReasonEmptyRoute}}
	}

	cost := GasCost(r)
	if cost == nil {
		e.metrics.rejected.WithLabelValues(ReasonUnpriced).Inc()
		e.logger.Debug("Route rejected", zap.Stringer("route", r), zap.String("reason", ReasonUnpriced))
		return Decision{NetProfit: new(big.Int), Reasons: []string{ReasonUnpriced}}
	}
	d := Decision{NetProfit: new(big.Int).Sub(r.ExpectedProfit, cost)}

	if r.ExpectedProfit.Cmp(e.minProfit) <= 0 {
		d.Reasons = append(d.Reasons, ReasonBelowThreshold)
	}
	if !(r.Confidence > e.minConfidence) {
		d.Reasons = append(d.Reasons, ReasonLowConfidence)
	}
	if umath.MulBps(cost, e.gasBufferBps).Cmp(r.ExpectedProfit) >= 0 {
		d.Reasons = append(d.Reasons, ReasonGasExceeds)
	}

	d.Profitable = len(d.Reasons) == 0
	if d.Profitable {
		e.metrics.accepted.Inc()
	} else {
		e.metrics.rejected.WithLabelValues(d.Reasons[0]).Inc()
		e.logger.Debug("Route rejected",
			zap.Stringer("route", r),
			zap.String("expected_profit", r.ExpectedProfit.String()),
			zap.Float64("confidence", r.Confidence),
			zap.Strings("reasons", d.Reasons))
	}
	return d
}

// Filter keeps the routes that pass, preserving order
func (e *Evaluator) Filter(routes []*types.Route) []*types.Route {
	out := make([]*types.Route, 0, len(routes))
	for _, r := range routes {
		if e.IsProfitable(r) {
			out = append(out, r)
		}
	}
	return out
}

// MinProfit returns the configured threshold
func (e *Evaluator) MinProfit() *big.Int {
	return umath.Clone(e.minProfit)
}

func (d Decision) String() string {
	if d.Profitable {
		return fmt.Sprintf("profitable net=%s", d.NetProfit)
	}
	return fmt.Sprintf("rejected %v", d.Reasons)
}

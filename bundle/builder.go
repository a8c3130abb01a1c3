// Package bundle turns execution routes into signed transaction bundles. Every attempt
// is checked for frontrunning, simulated against current state and only then
// broadcast.
//
// Transactions of a bundle are broadcast one after another with sequential nonces.
// Plain JSON-RPC offers no atomic inclusion, so a bundle may land partially; callers
// treat such outcomes as pending and reconcile them.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/dex"
	v2 "github.com/michaelpento.lv/arbengine/dex/v2"
	"github.com/michaelpento.lv/arbengine/events"
	"github.com/michaelpento.lv/arbengine/flashloan"
	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/profit"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Options configure a Builder
type Options struct {
	MinProfit          *big.Int
	MaxBundleSize      int
	FrontrunProtection bool
	// Timeout bounds inclusion monitoring and sets the swap deadline
	Timeout       time.Duration
	PollInterval  time.Duration
	GasMultiplier float64
	// LoanReceiver executes the swaps when a flash loan funds the route
	LoanReceiver common.Address
}

// OptionsFromConfig maps the engine configuration onto builder options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinProfit:          cfg.MinProfitThreshold.Int(),
		MaxBundleSize:      cfg.MaxBundleSize,
		FrontrunProtection: cfg.FrontrunProtection,
		Timeout:            cfg.BundleTimeout.D(),
		PollInterval:       cfg.PollInterval.D(),
		GasMultiplier:      cfg.GasMultiplier,
		LoanReceiver:       common.HexToAddress(cfg.FlashLoan.Receiver),
	}
}

// Builder assembles, simulates and submits bundles
type Builder struct {
	opts     Options
	gasBps   int64
	provider chain.Provider
	signer   chain.Signer
	nonces   *chain.NonceManager
	handlers map[types.ExchangeID]dex.Handler
	loans    *flashloan.Manager
	events   events.Publisher
	logger   *zap.Logger
	now      func() time.Time

	metrics struct {
		attempts    *prometheus.CounterVec
		frontrun    prometheus.Counter
		simulations *prometheus.CounterVec
		submitted   prometheus.Counter
		outcomes    *prometheus.CounterVec
		simLatency  prometheus.Histogram
	}
}

// NewBuilder creates a builder. loans may be nil when flash loans are disabled. nonces
// must be shared with every other sender using signer; nil gives the builder its own.
func NewBuilder(opts Options, provider chain.Provider, signer chain.Signer, nonces *chain.NonceManager,
	handlers []dex.Handler, loans *flashloan.Manager, pub events.Publisher, reg prometheus.Registerer,
	logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nonces == nil {
		nonces = chain.NewNonceManager(provider, signer.Address(), logger)
	}
	if pub == nil {
		pub = events.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasMultiplier <= 0 {
		opts.GasMultiplier = 1
	}

	b := &Builder{
		opts:     opts,
		gasBps:   umath.FloatToBps(opts.GasMultiplier),
		provider: provider,
		signer:   signer,
		nonces:   nonces,
		handlers: make(map[types.ExchangeID]dex.Handler, len(handlers)),
		loans:    loans,
		events:   pub,
		logger:   logger,
		now:      time.Now,
	}
	for _, h := range handlers {
		b.handlers[h.ID()] = h
	}

	f := metrics.Factory(reg)
	b.metrics.attempts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bundle",
		Name:      "attempts_total",
		Help:      "Bundle attempts by final state",
	}, []string{"state"})
	b.metrics.frontrun = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bundle",
		Name:      "frontrun_rejections_total",
		Help:      "Attempts aborted for frontrunning risk",
	})
	b.metrics.simulations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bundle",
		Name:      "simulations_total",
		Help:      "Bundle simulations by result",
	}, []string{"result"})
	b.metrics.submitted = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bundle",
		Name:      "submitted_total",
		Help:      "Bundles broadcast",
	})
	b.metrics.outcomes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bundle",
		Name:      "outcomes_total",
		Help:      "Monitored bundle outcomes by status",
	}, []string{"status"})
	b.metrics.simLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "bundle",
		Name:      "simulation_seconds",
		Help:      "Time spent simulating a bundle",
		Buckets:   metrics.LatencyBuckets,
	})

	return b
}

// Draft prepares an attempt for steps, which are either route.Steps or one of its
// backups. The gas strategy prices simulation and submission.
func (b *Builder) Draft(ctx context.Context, route *types.ExecutionRoute, steps []types.TradeStep, strategy *gas.Strategy) (*Attempt, error) {
	if route == nil {
		return nil, fmt.Errorf("route cannot be nil")
	}
	if strategy == nil || strategy.Price == nil {
		return nil, fmt.Errorf("gas strategy is required")
	}
	if b.opts.MaxBundleSize > 0 && len(steps) > b.opts.MaxBundleSize {
		return nil, fmt.Errorf("%w: %d steps, limit %d", ErrBundleTooLarge, len(steps), b.opts.MaxBundleSize)
	}

	useLoan := umath.IsPositive(route.FlashLoanAmount)
	if err := types.ValidateSteps(steps, useLoan); err != nil {
		return nil, fmt.Errorf("invalid steps: %w", err)
	}

	recipient := b.signer.Address()
	if useLoan {
		if b.loans == nil {
			return nil, fmt.Errorf("%w: flash loans are disabled", flashloan.ErrNoProvider)
		}
		recipient = b.opts.LoanReceiver
	}

	a := &Attempt{
		State:     StateDraft,
		Route:     route,
		Steps:     steps,
		Gas:       strategy,
		Sender:    recipient,
		CreatedAt: b.now(),
	}

	deadline := uint64(b.now().Add(b.opts.Timeout).Unix())
	for i, step := range steps {
		h, ok := b.handlers[step.Exchange]
		if !ok {
			return nil, fmt.Errorf("step %d: unknown exchange %q", i, step.Exchange)
		}
		res, err := h.ExecuteTrade(ctx, types.TradeRequest{
			TokenIn:      step.TokenIn,
			TokenOut:     step.TokenOut,
			AmountIn:     step.Amount,
			MinAmountOut: step.MinReturn,
			Recipient:    recipient,
			Deadline:     deadline,
		})
		if err != nil {
			return nil, fmt.Errorf("step %d: failed to build trade on %s: %w", i, step.Exchange, err)
		}
		a.Calls = append(a.Calls, Call{
			Step:        step,
			To:          res.To,
			Data:        res.Data,
			ExpectedOut: res.ExpectedOut,
		})
	}

	if useLoan {
		targets := make([]common.Address, len(a.Calls))
		calls := make([][]byte, len(a.Calls))
		for i, c := range a.Calls {
			targets[i], calls[i] = c.To, c.Data
		}
		params, err := flashloan.EncodeSteps(targets, calls)
		if err != nil {
			return nil, err
		}
		loan, err := b.loans.Borrow(ctx, steps[0].TokenIn, route.FlashLoanAmount, types.LoanOptions{
			Receiver: b.opts.LoanReceiver,
			Params:   params,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to arrange flash loan: %w", err)
		}
		a.Loan = loan
	}

	return a, nil
}

// CheckFrontrun looks for pending transactions hitting the same contract and method as
// any of our calls with a higher gas price. A hit rejects the attempt with
// ErrFrontrunRisk. With frontrun protection off the check always passes.
func (b *Builder) CheckFrontrun(ctx context.Context, a *Attempt) error {
	if a.State == StateRejected || a.State == StateSubmitted {
		return fmt.Errorf("%w: cannot check a %s attempt", ErrInvalidState, a.State)
	}
	if !b.opts.FrontrunProtection {
		b.markChecked(a)
		return nil
	}

	pending, err := b.provider.GetBlock(ctx, rpc.PendingBlockNumber, true)
	switch {
	case errors.Is(err, ethereum.NotFound):
		pending = nil
	case err != nil:
		a.reject("pending transactions unavailable")
		b.metrics.attempts.WithLabelValues(string(StateRejected)).Inc()
		return fmt.Errorf("failed to read pending transactions: %w", err)
	}

	if pending != nil {
		for _, tx := range pending.Transactions {
			if target, ok := b.competes(a, tx); ok {
				reason := fmt.Sprintf("pending tx %s calls %s with gas price %s above ours %s",
					tx.Hash().Hex(), target.Hex(), tx.GasPrice().String(), a.Gas.Price.String())
				a.reject(reason)
				b.metrics.frontrun.Inc()
				b.metrics.attempts.WithLabelValues(string(StateRejected)).Inc()
				b.events.Publish(events.Event{
					Kind:    events.KindProtection,
					Payload: events.Protection{Route: a.Label(), Reason: reason},
				})
				b.logger.Warn("Frontrunning risk detected", zap.String("reason", reason))
				return fmt.Errorf("%w: %s", ErrFrontrunRisk, reason)
			}
		}
	}

	b.markChecked(a)
	return nil
}

func (b *Builder) markChecked(a *Attempt) {
	if a.State == StateDraft {
		b.advance(a, StateFrontrunChecked)
	}
}

func (b *Builder) competes(a *Attempt, tx *ethtypes.Transaction) (common.Address, bool) {
	to := tx.To()
	if to == nil || len(tx.Data()) < 4 || tx.GasPrice().Cmp(a.Gas.Price) <= 0 {
		return common.Address{}, false
	}
	for _, h := range a.Hashes {
		if h == tx.Hash() {
			return common.Address{}, false
		}
	}
	selector := tx.Data()[:4]
	for _, c := range a.Calls {
		if c.To == *to && len(c.Data) >= 4 && bytes.Equal(c.Data[:4], selector) {
			return c.To, true
		}
	}
	if a.Loan != nil && a.Loan.Lender == *to && len(a.Loan.Calldata) >= 4 && bytes.Equal(a.Loan.Calldata[:4], selector) {
		return a.Loan.Lender, true
	}
	return common.Address{}, false
}

// SimulateBundle runs every call read-only against current state. A failing step
// yields a zeroed, unsuccessful simulation rather than an error so that the caller can
// move on to a backup route. Errors are returned only for frontrunning risk and misuse.
func (b *Builder) SimulateBundle(ctx context.Context, a *Attempt) (*types.BundleSimulation, error) {
	if a.State == StateDraft {
		if err := b.CheckFrontrun(ctx, a); err != nil {
			return nil, err
		}
	}
	if a.State != StateFrontrunChecked {
		return nil, fmt.Errorf("%w: cannot simulate a %s attempt", ErrInvalidState, a.State)
	}

	start := time.Now()
	defer func() { b.metrics.simLatency.Observe(time.Since(start).Seconds()) }()

	var (
		total    uint64
		realized *big.Int
		used     = make([]uint64, len(a.Calls))
	)
	for i, c := range a.Calls {
		to := c.To
		msg := ethereum.CallMsg{
			From:     a.Sender,
			To:       &to,
			GasPrice: a.Gas.Price,
			Data:     c.Data,
		}

		gasUsed, err := b.provider.EstimateGas(ctx, msg)
		if err != nil {
			return b.failSimulation(a, fmt.Sprintf("step %d on %s: %v", i, c.Step.Exchange, err)), nil
		}
		msg.Gas = gasUsed

		out, err := b.provider.Call(ctx, msg)
		if err != nil {
			return b.failSimulation(a, fmt.Sprintf("step %d on %s: %v", i, c.Step.Exchange, err)), nil
		}
		amounts, err := v2.UnpackAmounts("swapExactTokensForTokens", out)
		if err != nil || len(amounts) == 0 {
			return b.failSimulation(a, fmt.Sprintf("step %d on %s: undecodable output", i, c.Step.Exchange)), nil
		}

		got := amounts[len(amounts)-1]
		if c.Step.MinReturn != nil && got.Cmp(c.Step.MinReturn) < 0 {
			return b.failSimulation(a, fmt.Sprintf("step %d on %s: returned %s below minimum %s",
				i, c.Step.Exchange, got.String(), c.Step.MinReturn.String())), nil
		}

		used[i] = gasUsed
		total += gasUsed
		realized = got
	}

	gasCost := new(big.Int).Mul(a.Gas.Price, new(big.Int).SetUint64(total))
	fee := new(big.Int)
	if a.Loan != nil {
		fee = umath.Clone(a.Loan.Fee)
		ok, err := b.loans.Repay(ctx, a.Loan, realized)
		if err != nil {
			return b.failSimulation(a, fmt.Sprintf("flash loan: %v", err)), nil
		}
		if !ok {
			return b.failSimulation(a, fmt.Sprintf("flash loan repayment shortfall: have %s, owe %s",
				realized.String(), a.Loan.Repayment().String())), nil
		}
	}

	net := new(big.Int).Sub(realized, a.AmountIn())
	net.Sub(net, fee)
	net.Sub(net, gasCost)

	for i := range a.Calls {
		a.Calls[i].GasUsed = used[i]
	}
	sim := &types.BundleSimulation{Success: true, GasUsed: total, Profit: net}
	a.Simulation = sim
	a.Realized = umath.Clone(realized)
	b.advance(a, StateSimulated)
	b.metrics.simulations.WithLabelValues("success").Inc()

	b.logger.Debug("Bundle simulated",
		zap.String("route", a.Label()),
		zap.Uint64("gas_used", total),
		zap.String("profit", net.String()))
	return sim, nil
}

func (b *Builder) failSimulation(a *Attempt, reason string) *types.BundleSimulation {
	sim := types.FailedSimulation(reason)
	a.Simulation = sim
	a.reject(reason)
	b.metrics.simulations.WithLabelValues("revert").Inc()
	b.metrics.attempts.WithLabelValues(string(StateRejected)).Inc()
	b.events.Publish(events.Event{
		Kind:    events.KindRevert,
		Payload: events.Revert{Route: a.Label(), Reason: reason},
	})
	b.logger.Info("Bundle simulation failed", zap.String("route", a.Label()), zap.String("reason", reason))
	return sim
}

// SubmitBundle signs and broadcasts a simulated attempt. It refuses unsuccessful or
// insufficiently profitable simulations and repeats the frontrun check right before
// the first broadcast.
func (b *Builder) SubmitBundle(ctx context.Context, a *Attempt) ([]common.Hash, error) {
	if a.State != StateSimulated || a.Simulation == nil {
		return nil, fmt.Errorf("%w: cannot submit a %s attempt", ErrInvalidState, a.State)
	}
	if !a.Simulation.Success {
		a.reject(a.Simulation.RevertReason)
		return nil, fmt.Errorf("%w: %s", ErrSimulationFailed, a.Simulation.RevertReason)
	}
	if a.Simulation.Profit.Cmp(umath.Clone(b.opts.MinProfit)) < 0 {
		reason := fmt.Sprintf("profit %s below minimum %s", a.Simulation.Profit.String(), umath.Clone(b.opts.MinProfit).String())
		a.reject(reason)
		b.metrics.attempts.WithLabelValues(string(StateRejected)).Inc()
		return nil, fmt.Errorf("%w: %s", ErrBelowThreshold, reason)
	}
	if b.opts.FrontrunProtection {
		if err := b.CheckFrontrun(ctx, a); err != nil {
			return nil, err
		}
	}

	head, err := b.provider.GetBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	count := b.txCount(a)
	nonce, err := b.nonces.Reserve(ctx, count)
	if err != nil {
		return nil, err
	}

	txs := b.transactions(a, nonce)
	hashes := make([]common.Hash, 0, len(txs))
	for i, tx := range txs {
		raw, err := b.signer.SignTransaction(tx)
		if err == nil {
			var hash common.Hash
			hash, err = b.provider.BroadcastTransaction(ctx, raw)
			if err == nil {
				hashes = append(hashes, hash)
				continue
			}
		}

		b.nonces.Release(nonce, count, len(hashes))
		if len(hashes) == 0 {
			a.reject(err.Error())
			b.metrics.attempts.WithLabelValues(string(StateRejected)).Inc()
			return nil, fmt.Errorf("failed to broadcast bundle: %w", err)
		}
		b.markSubmitted(a, hashes, head+1)
		return hashes, fmt.Errorf("%w: sent %d of %d: %v", ErrPartialBroadcast, i, len(txs), err)
	}

	b.markSubmitted(a, hashes, head+1)
	b.logger.Info("Bundle submitted",
		zap.String("bundle", a.ID),
		zap.String("route", a.Label()),
		zap.Int("transactions", len(hashes)),
		zap.Uint64("target_block", a.TargetBlock))
	return hashes, nil
}

func (b *Builder) markSubmitted(a *Attempt, hashes []common.Hash, target uint64) {
	a.Hashes = hashes
	a.TargetBlock = target
	a.ID = types.BundleKey(hashes, target)
	b.advance(a, StateSubmitted)
	b.metrics.submitted.Inc()
}

func (b *Builder) txCount(a *Attempt) int {
	if a.Loan != nil {
		return 1
	}
	return len(a.Calls)
}

// transactions builds the unsigned bundle starting at nonce. A loan-funded attempt is
// one call to the lender; otherwise each step is its own transaction.
func (b *Builder) transactions(a *Attempt, nonce uint64) []*ethtypes.Transaction {
	if a.Loan != nil {
		lender := a.Loan.Lender
		return []*ethtypes.Transaction{ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &lender,
			Gas:      b.gasLimit(a.Simulation.GasUsed),
			GasPrice: a.Gas.Price,
			Data:     a.Loan.Calldata,
		})}
	}

	txs := make([]*ethtypes.Transaction, 0, len(a.Calls))
	for i, c := range a.Calls {
		to := c.To
		txs = append(txs, ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce + uint64(i),
			To:       &to,
			Gas:      b.gasLimit(c.GasUsed),
			GasPrice: a.Gas.Price,
			Data:     c.Data,
		}))
	}
	return txs
}

func (b *Builder) gasLimit(used uint64) uint64 {
	return umath.MulBpsCeil(new(big.Int).SetUint64(used), b.gasBps).Uint64()
}

// Stats scores a simulated attempt against the latest block
func (b *Builder) Stats(ctx context.Context, a *Attempt) types.BundleStats {
	in := profit.ScoreInput{ExpectedProfit: new(big.Int)}
	if a.Simulation != nil {
		in.ExpectedProfit = a.Simulation.Profit
		in.GasUsed = a.Simulation.GasUsed
		if a.Gas != nil && a.Gas.Price != nil {
			in.GasCost = new(big.Int).Mul(a.Gas.Price, new(big.Int).SetUint64(a.Simulation.GasUsed))
		}
	}

	latest, err := b.provider.GetBlock(ctx, rpc.LatestBlockNumber, false)
	if err != nil {
		b.logger.Debug("Latest block unavailable for scoring", zap.Error(err))
	} else {
		in.BlockGasLimit = latest.GasLimit
		in.NetworkUtilization = latest.Utilization()
	}
	return profit.ScoreBundle(in)
}

func (b *Builder) advance(a *Attempt, s State) {
	a.State = s
	if s == StateSubmitted {
		b.metrics.attempts.WithLabelValues(string(s)).Inc()
	}
}

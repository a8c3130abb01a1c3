// Package executor drives the arbitrage loop: refresh liquidity, find and gate
// routes, then build, simulate, submit and monitor bundles, falling back to backup
// routes when a simulation fails.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/arbengine/bundle"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/events"
	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/journal"
	"github.com/michaelpento.lv/arbengine/liquidity"
	"github.com/michaelpento.lv/arbengine/monitoring"
	"github.com/michaelpento.lv/arbengine/profit"
	"github.com/michaelpento.lv/arbengine/routing"
	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

var (
	ErrAlreadyRunning = errors.New("coordinator already running")
	ErrStaleSnapshot  = errors.New("liquidity snapshot superseded")
)

const (
	cooldownEntries = 1024
	// DefaultMaxBackups bounds the backup routes tried after a failed primary
	DefaultMaxBackups = 3
)

// Journal records bundles whose outcome is unknown
type Journal interface {
	RecordPending(ctx context.Context, e journal.Entry) error
}

// Options configure a Coordinator
type Options struct {
	ConcurrentRoutes int
	BackupGasBump    float64
	MaxBackups       int
	CycleInterval    time.Duration
	FailureBackoff   time.Duration
	RouteCooldown    time.Duration
	MaxSlippage      float64
	// Constraints are applied to every route search; GasPrice is filled per cycle
	Constraints routing.Constraints
	// UseFlashLoans funds every route with a flash loan of its input amount
	UseFlashLoans bool
}

// OptionsFromConfig maps the engine configuration onto coordinator options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConcurrentRoutes: cfg.ConcurrentRoutes,
		BackupGasBump:    cfg.BackupGasBump,
		MaxBackups:       DefaultMaxBackups,
		CycleInterval:    cfg.CycleInterval.D(),
		FailureBackoff:   cfg.FailureBackoff.D(),
		RouteCooldown:    cfg.RouteCooldown.D(),
		MaxSlippage:      cfg.MaxSlippage,
		Constraints:      routing.ConstraintsFromConfig(cfg, nil),
		UseFlashLoans:    cfg.FlashLoan.Enabled,
	}
}

// Deps are the components a Coordinator drives. Breaker, Harvester, Journal and
// Events may be nil.
type Deps struct {
	Liquidity  *liquidity.Provider
	Finder     *routing.Finder
	Evaluator  *profit.Evaluator
	Gas        *gas.Optimizer
	Builder    *bundle.Builder
	Aggregator *monitoring.Aggregator
	Breaker    *monitoring.CircuitBreaker
	Harvester  *Harvester
	Journal    Journal
	Events     events.Publisher
}

// CycleReport summarises one pass of the loop
type CycleReport struct {
	Skipped    string
	Found      int
	Profitable int
	Attempted  int
	Included   int
	Pending    int
	Failed     int
	Err        error
}

// failed reports whether the cycle should be followed by the failure backoff
func (r CycleReport) failed() bool {
	return r.Err != nil || (r.Attempted > 0 && r.Included == 0)
}

// Outcome is the result of one route including its backups
type Outcome struct {
	Status     types.BundleStatus
	BundleID   string
	Backup     int
	Attempts   int
	Simulation *types.BundleSimulation
	Harvest    *Split
	Err        error
}

type Coordinator struct {
	opts Options
	deps Deps

	running  atomic.Bool
	health   atomic.Pointer[monitoring.HealthMetrics]
	wake     chan struct{}
	cooldown *lru.Cache
	logger   *zap.Logger
	now      func() time.Time

	metrics struct {
		cycles       *prometheus.CounterVec
		outcomes     *prometheus.CounterVec
		backups      prometheus.Counter
		cooldowns    prometheus.Counter
		cycleLatency prometheus.Histogram
		running      prometheus.Gauge
	}
}

func NewCoordinator(opts Options, deps Deps, reg prometheus.Registerer, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Liquidity == nil || deps.Finder == nil || deps.Evaluator == nil || deps.Gas == nil ||
		deps.Builder == nil || deps.Aggregator == nil {
		return nil, fmt.Errorf("coordinator is missing a required component")
	}
	if deps.Events == nil {
		deps.Events = events.Nop()
	}
	if opts.ConcurrentRoutes <= 0 {
		opts.ConcurrentRoutes = 1
	}
	if opts.MaxBackups < 0 {
		opts.MaxBackups = 0
	}

	cache, err := lru.New(cooldownEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create cooldown cache: %w", err)
	}

	c := &Coordinator{
		opts:     opts,
		deps:     deps,
		wake:     make(chan struct{}, 1),
		cooldown: cache,
		logger:   logger,
		now:      time.Now,
	}

	f := metrics.Factory(reg)
	c.metrics.cycles = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "cycles_total",
		Help:      "Loop iterations by result",
	}, []string{"result"})
	c.metrics.outcomes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "route_outcomes_total",
		Help:      "Route executions by final status",
	}, []string{"status"})
	c.metrics.backups = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "backup_attempts_total",
		Help:      "Backup routes tried after a failed primary",
	})
	c.metrics.cooldowns = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "cooldown_skips_total",
		Help:      "Profitable routes skipped while cooling down",
	})
	c.metrics.cycleLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "cycle_seconds",
		Help:      "Duration of one loop iteration",
		Buckets:   metrics.LatencyBuckets,
	})
	c.metrics.running = f.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "running",
		Help:      "1 while the loop is running",
	})

	return c, nil
}

// Run loops until Stop is called or ctx is cancelled. A failing cycle never ends the
// loop; it only lengthens the pause before the next one.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.metrics.running.Set(1)
	defer c.metrics.running.Set(0)
	defer c.running.Store(false)

	c.logger.Info("Coordinator started",
		zap.Int("concurrent_routes", c.opts.ConcurrentRoutes),
		zap.Duration("cycle_interval", c.opts.CycleInterval))

	for c.running.Load() {
		if ctx.Err() != nil {
			break
		}

		report := c.RunCycle(ctx)
		wait := c.opts.CycleInterval
		if report.failed() {
			wait = c.opts.FailureBackoff
			c.logger.Warn("Cycle failed, backing off",
				zap.Int("attempted", report.Attempted),
				zap.Int("failed", report.Failed),
				zap.Duration("backoff", wait),
				zap.Error(report.Err))
		}

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
		case <-c.wake:
		case <-timer.C:
		}
		timer.Stop()
	}

	c.logger.Info("Coordinator stopped")
	return nil
}

// Stop asks the loop to finish. In-flight work of the current cycle completes; the flag
// is checked before the next cycle starts.
func (c *Coordinator) Stop() {
	c.running.Store(false)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetHealth stores the latest health reading. While it reports the engine halted, every
// cycle is skipped.
func (c *Coordinator) SetHealth(h monitoring.HealthMetrics) {
	prev := c.health.Swap(&h)
	if h.Halted && (prev == nil || !prev.Halted) {
		c.logger.Warn("Trading paused", zap.Strings("reasons", h.Reasons))
	} else if !h.Halted && prev != nil && prev.Halted {
		c.logger.Info("Trading resumed")
	}
}

// Running reports whether the loop is active
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// RunCycle performs one full pass: refresh, search, gate, execute
func (c *Coordinator) RunCycle(ctx context.Context) (report CycleReport) {
	start := c.now()
	defer func() {
		c.metrics.cycleLatency.Observe(time.Since(start).Seconds())
		result := "ok"
		switch {
		case report.Skipped != "":
			result = "skipped"
		case report.failed():
			result = "failed"
		case report.Attempted == 0:
			result = "idle"
		}
		c.metrics.cycles.WithLabelValues(result).Inc()
	}()

	if c.deps.Breaker != nil && !c.deps.Breaker.IsHealthy() {
		report.Skipped = "circuit_open"
		c.logger.Debug("Circuit breaker open, skipping cycle")
		return report
	}

	view, err := c.deps.Liquidity.Refresh(ctx)
	if err != nil {
		report.Err = err
		return report
	}
	// liquidity keeps refreshing while paused so a depth based halt can clear
	if h := c.health.Load(); h != nil && h.Halted {
		report.Skipped = "unhealthy"
		c.logger.Debug("Engine unhealthy, skipping cycle", zap.Strings("reasons", h.Reasons))
		return report
	}

	base, err := c.deps.Gas.OptimizeGasPrice(ctx, gas.Request{GasLimit: gas.EstimateArbitrageGas(c.opts.Constraints.MaxHops)})
	if err != nil {
		report.Err = err
		return report
	}

	constraints := c.opts.Constraints
	constraints.GasPrice = base.Price
	routes, err := c.deps.Finder.FindRoutes(ctx, view.Snapshots, constraints)
	if err != nil {
		report.Err = fmt.Errorf("failed to find routes: %w", err)
		return report
	}
	report.Found = len(routes)

	var selected []*types.Route
	for _, r := range routes {
		d := c.deps.Evaluator.Evaluate(r)
		if !d.Profitable {
			continue
		}
		report.Profitable++
		c.deps.Events.Publish(events.Event{Kind: events.KindOpportunity, Payload: events.Opportunity{
			Route:     r,
			NetProfit: d.NetProfit,
		}})
		if c.coolingDown(r) {
			c.metrics.cooldowns.Inc()
			continue
		}
		if len(selected) < c.opts.ConcurrentRoutes {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return report
	}

	outcomes := make([]Outcome, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ConcurrentRoutes)
	for i, r := range selected {
		i, r := i, r
		g.Go(func() error {
			outcomes[i] = c.ExecuteRoute(gctx, view, r, routes)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		report.Attempted++
		switch o.Status {
		case types.BundleIncluded:
			report.Included++
		case types.BundlePending:
			report.Pending++
		default:
			report.Failed++
		}
	}
	return report
}

// ExecuteRoute tries primary and then its backups until one is submitted. Only a failed
// simulation moves on to the next backup; frontrunning risk, on-chain failure and
// ambiguous outcomes end the route for this cycle.
func (c *Coordinator) ExecuteRoute(ctx context.Context, view *liquidity.View, primary *types.Route, candidates []*types.Route) Outcome {
	start := c.now()
	out := c.executeRoute(ctx, view, primary, candidates)
	c.metrics.outcomes.WithLabelValues(string(out.Status)).Inc()

	attempted := out.Route
	if attempted == nil {
		attempted = primary
	}
	m := monitoring.ExecutionMetrics{
		BundleID:       out.BundleID,
		Route:          attempted.String(),
		Status:         out.Status,
		Success:        out.Status == types.BundleIncluded,
		ExpectedProfit: attempted.ExpectedProfit,
		RealizedProfit: new(big.Int),
		Slippage:       out.Slippage,
		Latency:        c.now().Sub(start),
		At:             c.now(),
	}
	if out.Simulation != nil && out.Simulation.Success {
		m.GasUsed = out.Simulation.GasUsed
		if m.Success {
			m.RealizedProfit = umath.Clone(out.Simulation.Profit)
		}
	}
	c.deps.Aggregator.RecordExecution(m)

	if out.Status != types.BundleIncluded {
		c.startCooldown(primary)
		c.logger.Info("Route execution failed",
			zap.Stringer("route", primary),
			zap.String("status", string(out.Status)),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err))
	}
	return out.Outcome
}

type routeResult struct {
	Outcome
	// Route is the candidate behind the last attempt, the primary or one of its backups
	Route    *types.Route
	Slippage float64
}

func (c *Coordinator) executeRoute(ctx context.Context, view *liquidity.View, primary *types.Route, candidates []*types.Route) routeResult {
	var loan *big.Int
	if c.opts.UseFlashLoans {
		loan = primary.AmountIn
	}
	er, err := Refine(primary, candidates, view.Snapshots, c.opts.MaxSlippage, c.opts.MaxBackups, loan)
	if err != nil {
		return routeResult{Outcome: Outcome{Status: types.BundleFailed, Err: err}}
	}

	strategy, err := c.deps.Gas.OptimizeGasPrice(ctx, gas.Request{GasLimit: primary.EstimatedGas})
	if err != nil {
		return routeResult{Outcome: Outcome{Status: types.BundleFailed, Err: err}}
	}

	res := routeResult{Outcome: Outcome{Status: types.BundleFailed}}
	attempts := append([][]types.TradeStep{er.Steps}, er.BackupRoutes...)
	sources := append([]*types.Route{primary}, er.Backups...)
	for i, steps := range attempts {
		if !c.deps.Liquidity.IsCurrent(view.Generation) {
			res.Err = ErrStaleSnapshot
			return res
		}
		if i > 0 {
			c.metrics.backups.Inc()
			strategy = c.deps.Gas.Bump(strategy, c.opts.BackupGasBump)
		}
		res.Attempts++
		res.Backup = i
		res.Route = sources[i]
		res.Slippage = 0

		a, err := c.deps.Builder.Draft(ctx, er, steps, strategy)
		if err != nil {
			res.Err = err
			continue
		}
		sim, err := c.deps.Builder.SimulateBundle(ctx, a)
		if err != nil {
			// frontrunning risk is fatal for this route in this cycle
			res.Err = err
			return res
		}
		res.Simulation = sim
		if !sim.Success {
			res.Err = fmt.Errorf("%w: %s", bundle.ErrSimulationFailed, sim.RevertReason)
			continue
		}
		if expected := lastOutput(res.Route); umath.IsPositive(expected) && a.Realized != nil && a.Realized.Cmp(expected) < 0 {
			res.Slippage = umath.Ratio(new(big.Int).Sub(expected, a.Realized), expected)
		}

		hashes, err := c.deps.Builder.SubmitBundle(ctx, a)
		switch {
		case errors.Is(err, bundle.ErrBelowThreshold):
			res.Err = err
			continue
		case errors.Is(err, bundle.ErrPartialBroadcast):
			res.Status, res.BundleID, res.Err = types.BundlePending, a.ID, err
			c.journal(ctx, a)
			return res
		case err != nil:
			res.Err = err
			return res
		}
		res.BundleID = a.ID

		status, err := c.deps.Builder.Monitor(ctx, a)
		res.Status, res.Err = status, err
		switch status {
		case types.BundleIncluded:
			if c.deps.Harvester != nil {
				split, herr := c.deps.Harvester.Harvest(ctx, a.ID, sim.Profit)
				res.Harvest = &split
				if herr != nil {
					c.logger.Warn("Harvest incomplete", zap.String("bundle_id", a.ID), zap.Error(herr))
				}
			}
			c.logger.Info("Bundle included",
				zap.String("bundle_id", a.ID),
				zap.Int("backup", i),
				zap.Int("transactions", len(hashes)),
				zap.String("profit", umath.FormatEther(sim.Profit)))
		case types.BundlePending:
			c.journal(ctx, a)
		}
		return res
	}
	return res
}

func lastOutput(r *types.Route) *big.Int {
	if r == nil || len(r.HopOutputs) == 0 {
		return nil
	}
	return r.HopOutputs[len(r.HopOutputs)-1]
}

func (c *Coordinator) journal(ctx context.Context, a *bundle.Attempt) {
	if c.deps.Journal == nil {
		c.logger.Warn("Bundle outcome unknown and no journal configured", zap.String("bundle_id", a.ID))
		return
	}
	e := journal.Entry{
		BundleID:    a.ID,
		Route:       a.Label(),
		Hashes:      append([]common.Hash(nil), a.Hashes...),
		TargetBlock: a.TargetBlock,
	}
	if a.Simulation != nil {
		e.ExpectedProfit = a.Simulation.Profit
	}
	// recorded even after the cycle context is cancelled
	if err := c.deps.Journal.RecordPending(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Error("Failed to journal pending bundle", zap.String("bundle_id", a.ID), zap.Error(err))
	}
}

func (c *Coordinator) coolingDown(r *types.Route) bool {
	v, ok := c.cooldown.Get(r.Fingerprint())
	if !ok {
		return false
	}
	if until, _ := v.(time.Time); c.now().Before(until) {
		return true
	}
	c.cooldown.Remove(r.Fingerprint())
	return false
}

func (c *Coordinator) startCooldown(r *types.Route) {
	if c.opts.RouteCooldown <= 0 {
		return
	}
	c.cooldown.Add(r.Fingerprint(), c.now().Add(c.opts.RouteCooldown))
}

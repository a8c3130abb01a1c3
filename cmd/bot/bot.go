// Package bot assembles the engine components from configuration and runs them.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/bundle"
	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/dex"
	"github.com/michaelpento.lv/arbengine/events"
	"github.com/michaelpento.lv/arbengine/executor"
	"github.com/michaelpento.lv/arbengine/flashloan"
	"github.com/michaelpento.lv/arbengine/gas"
	"github.com/michaelpento.lv/arbengine/journal"
	"github.com/michaelpento.lv/arbengine/liquidity"
	"github.com/michaelpento.lv/arbengine/monitoring"
	"github.com/michaelpento.lv/arbengine/profit"
	"github.com/michaelpento.lv/arbengine/routing"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

const (
	eventBuffer    = 256
	healthInterval = 15 * time.Second
)

// Bot represents one running engine instance
type Bot struct {
	cfg      *config.Config
	registry *prometheus.Registry

	node        *chain.EthProvider
	provider    chain.Provider
	bus         *events.Bus
	liquidity   *liquidity.Provider
	aggregator  *monitoring.Aggregator
	probe       *monitoring.NodeProbe
	journal     *journal.Store
	reconciler  *journal.Reconciler
	coordinator *executor.Coordinator
	server      *http.Server

	logger *zap.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// New connects to the node and builds every component. The private key comes from
// secure, never from cfg.
func New(ctx context.Context, cfg *config.Config, secure *config.SecureConfig, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	node, err := chain.Dial(ctx, cfg.RPCEndpoint, logger.Named("chain"))
	if err != nil {
		return nil, err
	}
	var provider chain.Provider = node
	if rl := cfg.RPCRateLimit; rl.RequestsPerSecond > 0 {
		provider = chain.NewRateLimitedProvider(node, rl.RequestsPerSecond, rl.BurstSize, rl.WaitTimeout.D())
	}

	signer, err := chain.NewKeySigner(secure.PrivateKey, new(big.Int).SetUint64(cfg.ChainID))
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	b, err := assemble(cfg, provider, signer, reg, logger)
	if err != nil {
		node.Close()
		return nil, err
	}
	b.node = node
	return b, nil
}

func assemble(cfg *config.Config, provider chain.Provider, signer chain.Signer, reg *prometheus.Registry, logger *zap.Logger) (*Bot, error) {
	handlers, err := dex.NewHandlers(cfg, provider, logger.Named("dex"))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange handlers: %w", err)
	}

	var loans *flashloan.Manager
	if cfg.FlashLoan.Enabled {
		lenders, err := flashloan.NewProviders(cfg.FlashLoan, provider, logger.Named("flashloan"))
		if err != nil {
			return nil, fmt.Errorf("failed to create flash loan providers: %w", err)
		}
		loans = flashloan.NewManager(lenders, reg, logger.Named("flashloan"))
	}

	finder, err := routing.NewFinder(routing.OptionsFromConfig(cfg), reg, logger.Named("routing"))
	if err != nil {
		return nil, err
	}

	store, err := journal.Open(cfg.JournalPath, reg, logger.Named("journal"))
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(eventBuffer, reg, logger.Named("events"))
	liq := liquidity.NewProvider(handlers, reg, logger.Named("liquidity"))
	optimizer := gas.NewOptimizer(provider, cfg.GasMultiplier, cfg.MaxGasPrice.Int(), reg, logger.Named("gas"))
	nonces := chain.NewNonceManager(provider, signer.Address(), logger.Named("nonce"))
	builder := bundle.NewBuilder(bundle.OptionsFromConfig(cfg), provider, signer, nonces, handlers, loans, bus, reg,
		logger.Named("bundle"))
	breaker := monitoring.NewCircuitBreaker(cfg.CircuitBreaker, reg, logger.Named("breaker"))
	aggregator := monitoring.NewAggregatorFromConfig(cfg, breaker, bus, reg, logger.Named("monitoring"))
	harvester := executor.NewHarvester(cfg.Vault(), cfg.BaseTokenAddress(), cfg.VaultShare, provider, signer,
		nonces, optimizer, bus, reg, logger.Named("harvest"))

	coordinator, err := executor.NewCoordinator(executor.OptionsFromConfig(cfg), executor.Deps{
		Liquidity:  liq,
		Finder:     finder,
		Evaluator:  profit.NewEvaluatorFromConfig(cfg, reg, logger.Named("profit")),
		Gas:        optimizer,
		Builder:    builder,
		Aggregator: aggregator,
		Breaker:    breaker,
		Harvester:  harvester,
		Journal:    store,
		Events:     bus,
	}, reg, logger.Named("executor"))
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Bot{
		cfg:         cfg,
		registry:    reg,
		provider:    provider,
		bus:         bus,
		liquidity:   liq,
		aggregator:  aggregator,
		probe:       monitoring.NewNodeProbe(provider, liq, cfg.BaseTokenAddress(), reg, logger.Named("health")),
		journal:     store,
		reconciler:  journal.NewReconciler(store, provider, journal.DefaultConfirmations, logger.Named("journal")),
		coordinator: coordinator,
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

// Start launches the metrics server, the watchers and the coordinator loop
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting arbitrage engine",
		zap.Int("exchanges", len(b.cfg.Exchanges)),
		zap.String("base_token", b.cfg.BaseToken),
		zap.Bool("flash_loans", b.cfg.FlashLoan.Enabled))

	// settle what a previous run left behind before trading again
	if _, err := b.reconciler.Reconcile(ctx); err != nil {
		b.logger.Warn("Initial journal reconciliation failed", zap.Error(err))
	}

	if b.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
		b.server = &http.Server{Addr: b.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.watchEvents(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.watchHealth(ctx)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.coordinator.Run(ctx); err != nil {
			b.logger.Error("Coordinator error", zap.Error(err))
		}
	}()
	return nil
}

// Stop ends the loop, waits for the in-flight cycle and releases resources. It does not
// depend on the Start context being cancelled; cancelling it aborts the in-flight cycle.
func (b *Bot) Stop() {
	b.logger.Info("Stopping arbitrage engine")
	b.coordinator.Stop()
	close(b.done)
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = b.server.Shutdown(ctx)
		cancel()
	}
	b.wg.Wait()
	b.bus.Close()

	stats := b.aggregator.GetAggregatedMetrics()
	b.logger.Info("Session summary",
		zap.Uint64("executions", stats.TotalExecutions),
		zap.Uint64("successful", stats.Successful),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("pending", stats.Pending),
		zap.String("net_profit", umath.FormatEther(stats.NetProfit)))

	if err := b.journal.Close(); err != nil {
		b.logger.Warn("Failed to close journal", zap.Error(err))
	}
	if b.node != nil {
		b.node.Close()
	}
}

func (b *Bot) watchEvents(ctx context.Context) {
	ch, cancel := b.bus.Subscribe(events.KindExecution)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if p, ok := e.Payload.(events.Execution); ok {
				b.logger.Info("Bundle outcome",
					zap.String("bundle_id", p.BundleID),
					zap.String("route", p.Route),
					zap.String("status", string(p.Status)),
					zap.Uint64("gas_used", p.GasUsed))
			}
		}
	}
}

// watchHealth gates the coordinator on engine health and settles journaled bundles on a
// fixed interval
func (b *Bot) watchHealth(ctx context.Context) {
	b.coordinator.SetHealth(b.aggregator.Health(ctx, b.probe))

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
		}

		h := b.aggregator.Health(ctx, b.probe)
		b.coordinator.SetHealth(h)
		fields := []zap.Field{
			zap.Float64("success_rate", h.SuccessRate),
			zap.Uint64("consecutive_failures", h.ConsecutiveFailures),
			zap.Duration("node_latency", h.NodeLatency),
			zap.Float64("mempool_congestion", h.MempoolCongestion),
		}
		if h.Halted {
			b.logger.Warn("Engine unhealthy", append(fields, zap.Strings("reasons", h.Reasons))...)
		} else {
			b.logger.Debug("Engine healthy", fields...)
		}

		if _, err := b.reconciler.Reconcile(ctx); err != nil {
			b.logger.Warn("Journal reconciliation failed", zap.Error(err))
		}
	}
}

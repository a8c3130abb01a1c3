package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/metrics"
)

// Manager coordinates flash loans across lenders
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *zap.Logger

	metrics struct {
		selections *prometheus.CounterVec
		errors     *prometheus.CounterVec
		loans      prometheus.Counter
		shortfalls prometheus.Counter
	}
}

// NewManager creates a manager over providers
func NewManager(providers []Provider, reg prometheus.Registerer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		providers: append([]Provider(nil), providers...),
		logger:    logger,
	}

	f := metrics.Factory(reg)
	m.metrics.selections = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "flashloan",
		Name:      "provider_selections_total",
		Help:      "Number of times each provider was selected",
	}, []string{"provider"})
	m.metrics.errors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "flashloan",
		Name:      "errors_total",
		Help:      "Flash loan errors by type",
	}, []string{"error_type"})
	m.metrics.loans = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "flashloan",
		Name:      "loans_total",
		Help:      "Flash loans quoted",
	})
	m.metrics.shortfalls = f.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "flashloan",
		Name:      "shortfalls_total",
		Help:      "Loans whose proceeds would not cover repayment",
	})

	return m
}

// AddProvider adds a new flash loan provider
func (m *Manager) AddProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
}

// Len returns the number of registered providers
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers)
}

// SelectProvider returns the cheapest provider able to lend amount of token, and its fee.
func (m *Manager) SelectProvider(ctx context.Context, token common.Address, amount *big.Int) (Provider, *big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.providers) == 0 {
		m.metrics.errors.WithLabelValues("no_provider").Inc()
		return nil, nil, ErrNoProvider
	}

	var (
		best    Provider
		bestFee *big.Int
	)
	for _, p := range m.providers {
		limit, err := p.GetMaxLoanAmount(ctx, token)
		if err != nil {
			m.logger.Warn("Failed to get max loan amount",
				zap.String("provider", p.Name()),
				zap.Error(err))
			continue
		}
		if limit.Cmp(amount) < 0 {
			m.logger.Debug("Provider liquidity too low",
				zap.String("provider", p.Name()),
				zap.String("max", limit.String()),
				zap.String("amount", amount.String()))
			continue
		}

		fee := p.Fee(amount)
		if bestFee == nil || fee.Cmp(bestFee) < 0 {
			best, bestFee = p, fee
		}
	}

	if best == nil {
		m.metrics.errors.WithLabelValues("provider_selection").Inc()
		return nil, nil, fmt.Errorf("%w: %s of %s", ErrNoProvider, amount.String(), token.Hex())
	}

	m.metrics.selections.WithLabelValues(best.Name()).Inc()
	return best, bestFee, nil
}

// Borrow quotes a loan from the cheapest capable provider
func (m *Manager) Borrow(ctx context.Context, token common.Address, amount *big.Int, opts types.LoanOptions) (*types.FlashLoan, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid loan amount")
	}

	p, _, err := m.SelectProvider(ctx, token, amount)
	if err != nil {
		return nil, err
	}

	loan, err := p.GetFlashloan(ctx, token, amount, opts)
	if err != nil {
		m.metrics.errors.WithLabelValues("quote").Inc()
		return nil, fmt.Errorf("failed to get flash loan from %s: %w", p.Name(), err)
	}

	m.metrics.loans.Inc()
	return loan, nil
}

// Repay checks proceeds against the loan with the provider that issued it
func (m *Manager) Repay(ctx context.Context, loan *types.FlashLoan, proceeds *big.Int) (bool, error) {
	p := m.provider(loan.Provider)
	if p == nil {
		return false, fmt.Errorf("%w: unknown lender %q", ErrNoProvider, loan.Provider)
	}

	ok, err := p.RepayFlashloan(ctx, loan, proceeds)
	if err != nil {
		m.metrics.errors.WithLabelValues("repay").Inc()
		return false, err
	}
	if !ok {
		m.metrics.shortfalls.Inc()
	}
	return ok, nil
}

func (m *Manager) provider(name string) Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

var stepArgs = func() abi.Arguments {
	addrs, _ := abi.NewType("address[]", "", nil)
	calls, _ := abi.NewType("bytes[]", "", nil)
	return abi.Arguments{{Type: addrs}, {Type: calls}}
}()

// EncodeSteps packs the (target, calldata) pairs the receiver executes inside the loan
// callback.
func EncodeSteps(targets []common.Address, calls [][]byte) ([]byte, error) {
	if len(targets) != len(calls) {
		return nil, fmt.Errorf("got %d targets for %d calls", len(targets), len(calls))
	}
	data, err := stepArgs.Pack(targets, calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack loan steps: %w", err)
	}
	return data, nil
}

// DecodeSteps reverses EncodeSteps
func DecodeSteps(data []byte) ([]common.Address, [][]byte, error) {
	values, err := stepArgs.Unpack(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack loan steps: %w", err)
	}
	targets, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected targets type %T", values[0])
	}
	calls, ok := values[1].([][]byte)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected calls type %T", values[1])
	}
	return targets, calls, nil
}

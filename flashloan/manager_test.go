package flashloan

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/types"
	umath "github.com/michaelpento.lv/arbengine/utils/math"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

// mockProvider implements the Provider interface for testing
type mockProvider struct {
	name          string
	feeBps        int64
	maxLoanAmount *big.Int
	maxErr        error
	quoted        int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Fee(amount *big.Int) *big.Int {
	return umath.CalculateFlashLoanFee(amount, m.feeBps)
}

func (m *mockProvider) GetFlashloan(ctx context.Context, token common.Address, amount *big.Int, opts types.LoanOptions) (*types.FlashLoan, error) {
	m.quoted++
	return &types.FlashLoan{Provider: m.name, Token: token, Amount: amount, Fee: m.Fee(amount)}, nil
}

func (m *mockProvider) RepayFlashloan(ctx context.Context, loan *types.FlashLoan, proceeds *big.Int) (bool, error) {
	return loan.Covers(proceeds), nil
}

func (m *mockProvider) GetMaxLoanAmount(ctx context.Context, token common.Address) (*big.Int, error) {
	if m.maxErr != nil {
		return nil, m.maxErr
	}
	return m.maxLoanAmount, nil
}

func TestManagerSelectsCheapestWithLiquidity(t *testing.T) {
	ctx := context.Background()
	cheapButShallow := &mockProvider{name: "shallow", feeBps: 0, maxLoanAmount: testutils.Ether(1)}
	expensive := &mockProvider{name: "deep", feeBps: 9, maxLoanAmount: testutils.Ether(1000)}
	broken := &mockProvider{name: "broken", maxErr: errors.New("rpc down")}

	reg := prometheus.NewRegistry()
	m := NewManager([]Provider{cheapButShallow, broken, expensive}, reg, zaptest.NewLogger(t))
	require.Equal(t, 3, m.Len())

	t.Run("small loan uses the free lender", func(t *testing.T) {
		p, fee, err := m.SelectProvider(ctx, testutils.TokenX, big.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, "shallow", p.Name())
		assert.Equal(t, int64(0), fee.Int64())
	})

	t.Run("large loan falls through to the deep lender", func(t *testing.T) {
		loan, err := m.Borrow(ctx, testutils.TokenX, testutils.Ether(10), types.LoanOptions{Receiver: testutils.Vault})
		require.NoError(t, err)
		assert.Equal(t, "deep", loan.Provider)
		// 10 ether at 9 bps
		assert.Equal(t, "9000000000000000", loan.Fee.String())
		assert.Equal(t, 1, expensive.quoted)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.loans))
	})

	t.Run("nobody can lend", func(t *testing.T) {
		_, err := m.Borrow(ctx, testutils.TokenX, testutils.Ether(5000), types.LoanOptions{Receiver: testutils.Vault})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoProvider)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.errors.WithLabelValues("provider_selection")))
	})

	t.Run("invalid amount", func(t *testing.T) {
		_, err := m.Borrow(ctx, testutils.TokenX, big.NewInt(0), types.LoanOptions{})
		assert.Error(t, err)
	})
}

func TestManagerWithoutProviders(t *testing.T) {
	m := NewManager(nil, nil, nil)
	_, _, err := m.SelectProvider(context.Background(), testutils.TokenX, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoProvider)

	m.AddProvider(&mockProvider{name: "late", maxLoanAmount: big.NewInt(10)})
	p, _, err := m.SelectProvider(context.Background(), testutils.TokenX, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "late", p.Name())
}

func TestManagerRepay(t *testing.T) {
	ctx := context.Background()
	p := &mockProvider{name: "aave", feeBps: 9, maxLoanAmount: testutils.Ether(100)}
	m := NewManager([]Provider{p}, nil, zaptest.NewLogger(t))

	loan, err := m.Borrow(ctx, testutils.TokenX, testutils.Ether(1), types.LoanOptions{Receiver: testutils.Vault})
	require.NoError(t, err)
	require.Equal(t, "1000900000000000000", loan.Repayment().String())

	ok, err := m.Repay(ctx, loan, loan.Repayment())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Repay(ctx, loan, testutils.Ether(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.shortfalls))

	_, err = m.Repay(ctx, &types.FlashLoan{Provider: "unknown"}, testutils.Ether(2))
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestEncodeSteps(t *testing.T) {
	targets := []common.Address{testutils.RouterA, testutils.RouterB}
	calls := [][]byte{{0x01, 0x02}, {0x03}}

	data, err := EncodeSteps(targets, calls)
	require.NoError(t, err)

	gotTargets, gotCalls, err := DecodeSteps(data)
	require.NoError(t, err)
	assert.Equal(t, targets, gotTargets)
	assert.Equal(t, calls, gotCalls)

	_, err = EncodeSteps(targets, calls[:1])
	assert.Error(t, err)
}

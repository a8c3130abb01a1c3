package balancer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/types"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

func TestBalancerProvider(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockProvider()
	client.CallFn = func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, testutils.TokenX, *msg.To)
		require.Equal(t, chain.ERC20ABI.Methods["balanceOf"].ID, msg.Data[:4])
		return chain.ERC20ABI.Methods["balanceOf"].Outputs.Pack(testutils.Ether(50))
	}

	provider, err := NewProvider("bal", testutils.Vault, nil, client, zaptest.NewLogger(t))
	require.NoError(t, err)

	maxLoan, err := provider.GetMaxLoanAmount(ctx, testutils.TokenX)
	require.NoError(t, err)
	assert.Equal(t, testutils.Ether(50).String(), maxLoan.String())

	assert.Equal(t, int64(0), provider.Fee(testutils.Ether(10)).Int64())

	loan, err := provider.GetFlashloan(ctx, testutils.TokenX, testutils.Ether(10), types.LoanOptions{Receiver: testutils.RouterA})
	require.NoError(t, err)
	assert.Equal(t, "bal", loan.Provider)
	assert.Equal(t, testutils.Vault, loan.Lender)
	assert.Equal(t, testutils.Ether(10).String(), loan.Repayment().String())
	assert.Equal(t, vaultABI.Methods["flashLoan"].ID, loan.Calldata[:4])

	ok, err := provider.RepayFlashloan(ctx, loan, testutils.Ether(10))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = provider.GetFlashloan(ctx, testutils.TokenX, testutils.Ether(51), types.LoanOptions{Receiver: testutils.RouterA})
	assert.Error(t, err)

	_, err = provider.GetFlashloan(ctx, testutils.TokenX, big.NewInt(0), types.LoanOptions{Receiver: testutils.RouterA})
	assert.Error(t, err)
}

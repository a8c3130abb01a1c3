package chain_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/utils/testutils"
)

func TestPendingNonce(t *testing.T) {
	p := testutils.NewMockProvider()
	p.Nonce = 42

	nonce, err := chain.PendingNonce(context.Background(), p, common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestTransactionReceipt(t *testing.T) {
	p := testutils.NewMockProvider()
	hash := common.HexToHash("0xabc")

	r, err := chain.TransactionReceipt(context.Background(), p, hash)
	require.NoError(t, err)
	assert.Nil(t, r)

	p.SetReceipt(hash, 101, true)
	r, err = chain.TransactionReceipt(context.Background(), p, hash)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Succeeded())
	assert.Equal(t, uint64(101), uint64(r.BlockNumber))
}

func TestKeySigner(t *testing.T) {
	key := testutils.NewTestKey(t)
	s := chain.NewKeySignerFromKey(key, big.NewInt(1))
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &testutils.RouterA,
		Value:     big.NewInt(0),
	})
	raw, err := s.SignTransaction(tx)
	require.NoError(t, err)

	decoded := new(types.Transaction)
	require.NoError(t, decoded.UnmarshalBinary(raw))
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), decoded)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
	assert.Equal(t, uint64(7), decoded.Nonce())
}

func TestNewKeySignerRejectsGarbage(t *testing.T) {
	_, err := chain.NewKeySigner("not-a-key", big.NewInt(1))
	assert.Error(t, err)
}

func TestRateLimitedProvider(t *testing.T) {
	p := testutils.NewMockProvider()
	limited := chain.NewRateLimitedProvider(p, 0.001, 1, 20*time.Millisecond)

	n, err := limited.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)

	// burst is spent and the next token is far away
	_, err = limited.GetBlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestContractCallerCodeAt(t *testing.T) {
	p := testutils.NewMockProvider()
	code, err := chain.NewContractCaller(p).CodeAt(context.Background(), common.HexToAddress("0x01"), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestBlockUtilization(t *testing.T) {
	b := &chain.Block{GasLimit: 30_000_000, GasUsed: 15_000_000}
	assert.InDelta(t, 50.0, b.Utilization(), 1e-9)
	assert.Zero(t, (*chain.Block)(nil).Utilization())
}

// Package testutils holds fakes shared by package tests.
package testutils

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/arbengine/chain"
)

// Well known test addresses
var (
	TokenX  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	TokenY  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	TokenZ  = common.HexToAddress("0x3000000000000000000000000000000000000003")
	RouterA = common.HexToAddress("0xa000000000000000000000000000000000000001")
	RouterB = common.HexToAddress("0xb000000000000000000000000000000000000002")
	RouterC = common.HexToAddress("0xc000000000000000000000000000000000000003")
	Vault   = common.HexToAddress("0xf000000000000000000000000000000000000001")
)

// Ether returns n * 1e18
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// Gwei returns n * 1e9
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

// NewTestKey returns a fresh signing key
func NewTestKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// CreateMockTransaction creates a signed legacy transaction to `to` with the given
// gas price and calldata.
func CreateMockTransaction(t *testing.T, to common.Address, gasPrice *big.Int, data []byte) *types.Transaction {
	signer := types.NewEIP155Signer(big.NewInt(1))
	tx := types.NewTransaction(0, to, big.NewInt(0), 21000, gasPrice, data)

	signedTx, err := types.SignTx(tx, signer, NewTestKey(t))
	require.NoError(t, err)

	return signedTx
}

// MockProvider is an in-memory chain.Provider. Unset hooks fall back to simple defaults.
type MockProvider struct {
	mu sync.Mutex

	CallFn        func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGasFn func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BlockNumberFn func() (uint64, error)
	SendFn        func(result interface{}, method string, params ...interface{}) error

	FeeData  *chain.FeeData
	FeeErr   error
	Blocks   map[rpc.BlockNumber]*chain.Block
	Nonce    uint64
	Receipts map[common.Hash]*chain.Receipt

	BroadcastErr error
	Broadcasts   []*types.Transaction
	Calls        []ethereum.CallMsg
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		FeeData:  &chain.FeeData{GasPrice: Gwei(50)},
		Blocks:   make(map[rpc.BlockNumber]*chain.Block),
		Receipts: make(map[common.Hash]*chain.Receipt),
	}
}

func (m *MockProvider) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, msg)
	fn := m.CallFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return nil, nil
}

func (m *MockProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.EstimateGasFn != nil {
		return m.EstimateGasFn(ctx, msg)
	}
	return 150000, nil
}

func (m *MockProvider) GetFeeData(ctx context.Context) (*chain.FeeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FeeErr != nil {
		return nil, m.FeeErr
	}
	return m.FeeData, nil
}

// SetBlock registers a block under number
func (m *MockProvider) SetBlock(number rpc.BlockNumber, b *chain.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blocks[number] = b
}

func (m *MockProvider) GetBlock(ctx context.Context, number rpc.BlockNumber, includeTxs bool) (*chain.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[number]
	if !ok {
		return nil, ethereum.NotFound
	}
	return b, nil
}

func (m *MockProvider) GetBlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFn != nil {
		return m.BlockNumberFn()
	}
	return 100, nil
}

func (m *MockProvider) BroadcastTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BroadcastErr != nil {
		return common.Hash{}, m.BroadcastErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, err
	}
	m.Broadcasts = append(m.Broadcasts, tx)
	return tx.Hash(), nil
}

// BroadcastCount returns the number of transactions sent so far
func (m *MockProvider) BroadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Broadcasts)
}

// SetReceipt records a mined receipt for hash
func (m *MockProvider) SetReceipt(hash common.Hash, blockNumber uint64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := types.ReceiptStatusFailed
	if success {
		status = types.ReceiptStatusSuccessful
	}
	m.Receipts[hash] = &chain.Receipt{
		TxHash:      hash,
		Status:      hexutil.Uint64(status),
		BlockNumber: hexutil.Uint64(blockNumber),
	}
}

func (m *MockProvider) Send(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if m.SendFn != nil {
		return m.SendFn(result, method, params...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch method {
	case "eth_getTransactionCount":
		out, ok := result.(*hexutil.Uint64)
		if !ok {
			return fmt.Errorf("unexpected result type %T", result)
		}
		*out = hexutil.Uint64(m.Nonce)
		return nil
	case "eth_getTransactionReceipt":
		out, ok := result.(**chain.Receipt)
		if !ok {
			return fmt.Errorf("unexpected result type %T", result)
		}
		hash, _ := params[0].(common.Hash)
		*out = m.Receipts[hash]
		return nil
	case "eth_getCode":
		out, ok := result.(*hexutil.Bytes)
		if !ok {
			return fmt.Errorf("unexpected result type %T", result)
		}
		*out = hexutil.Bytes{0x60}
		return nil
	}
	return errors.New("method not supported: " + method)
}

// MockSigner signs with a real key so broadcast transactions decode
type MockSigner struct {
	*chain.KeySigner
}

func NewMockSigner(t *testing.T) *MockSigner {
	return &MockSigner{KeySigner: chain.NewKeySignerFromKey(NewTestKey(t), big.NewInt(1))}
}

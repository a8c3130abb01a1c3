// Package chain defines the blockchain capabilities the engine consumes and their
// go-ethereum backed implementations.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider is the read/broadcast surface of a node.
type Provider interface {
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	GetFeeData(ctx context.Context) (*FeeData, error)
	// GetBlock returns the block at number. rpc.PendingBlockNumber selects the pending
	// block; includeTxs controls whether Transactions is filled.
	GetBlock(ctx context.Context, number rpc.BlockNumber, includeTxs bool) (*Block, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	// BroadcastTransaction sends an RLP/typed-envelope encoded signed transaction.
	BroadcastTransaction(ctx context.Context, signed []byte) (common.Hash, error)
	// Send performs a raw JSON-RPC call and decodes the response into result.
	Send(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

// Signer signs transactions for a single account.
type Signer interface {
	SignTransaction(tx *types.Transaction) ([]byte, error)
	Address() common.Address
}

// FeeData is the current network fee estimate. BaseFee and TipCap may be nil on
// networks without EIP-1559.
type FeeData struct {
	GasPrice *big.Int
	BaseFee  *big.Int
	TipCap   *big.Int
}

// Block is the subset of block data the engine reads.
type Block struct {
	Number       uint64
	Hash         common.Hash
	GasLimit     uint64
	GasUsed      uint64
	BaseFee      *big.Int
	Transactions []*types.Transaction
}

// Utilization returns gas used as a percentage of the block gas limit.
func (b *Block) Utilization() float64 {
	if b == nil || b.GasLimit == 0 {
		return 0
	}
	return float64(b.GasUsed) * 100 / float64(b.GasLimit)
}

// Receipt is the part of eth_getTransactionReceipt the engine needs.
type Receipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
}

// Succeeded reports whether the transaction executed without reverting
func (r *Receipt) Succeeded() bool {
	return r != nil && uint64(r.Status) == types.ReceiptStatusSuccessful
}

// PendingNonce returns the next nonce for addr including pending transactions.
func PendingNonce(ctx context.Context, p Provider, addr common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := p.Send(ctx, &nonce, "eth_getTransactionCount", addr, "pending"); err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return uint64(nonce), nil
}

// TransactionReceipt returns the receipt for hash, or nil when it is not yet mined.
func TransactionReceipt(ctx context.Context, p Provider, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := p.Send(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// ContractCaller lets abigen-style bound contracts read through a Provider.
type ContractCaller struct {
	p Provider
}

// NewContractCaller adapts p to bind.ContractCaller.
func NewContractCaller(p Provider) *ContractCaller {
	return &ContractCaller{p: p}
}

func (c *ContractCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	var code hexutil.Bytes
	if err := c.p.Send(ctx, &code, "eth_getCode", contract, blockArg(blockNumber)); err != nil {
		return nil, err
	}
	return code, nil
}

func (c *ContractCaller) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return c.p.Call(ctx, call)
}

func blockArg(n *big.Int) string {
	if n == nil {
		return "latest"
	}
	return hexutil.EncodeBig(n)
}

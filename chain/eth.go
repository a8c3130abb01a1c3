package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// EthProvider implements Provider over a JSON-RPC endpoint
type EthProvider struct {
	client *ethclient.Client
	rpc    *rpc.Client
	logger *zap.Logger
}

// Dial connects to endpoint and checks that the node answers.
func Dial(ctx context.Context, endpoint string, logger *zap.Logger) (*EthProvider, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	p := NewEthProvider(rpcClient, logger)

	chainID, err := p.client.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	p.logger.Info("Connected to chain",
		zap.String("endpoint", endpoint),
		zap.String("chain_id", chainID.String()))
	return p, nil
}

// NewEthProvider wraps an existing rpc client
func NewEthProvider(rpcClient *rpc.Client, logger *zap.Logger) *EthProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EthProvider{
		client: ethclient.NewClient(rpcClient),
		rpc:    rpcClient,
		logger: logger,
	}
}

// ChainID returns the chain id reported by the node
func (p *EthProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.client.ChainID(ctx)
}

func (p *EthProvider) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return p.client.CallContract(ctx, msg, nil)
}

func (p *EthProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return p.client.EstimateGas(ctx, msg)
}

func (p *EthProvider) GetFeeData(ctx context.Context) (*FeeData, error) {
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	fd := &FeeData{GasPrice: gasPrice}

	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if header.BaseFee != nil {
		fd.BaseFee = header.BaseFee
		tip, err := p.client.SuggestGasTipCap(ctx)
		if err != nil {
			p.logger.Warn("Failed to get priority fee", zap.Error(err))
		} else {
			fd.TipCap = tip
		}
	}
	return fd, nil
}

func (p *EthProvider) GetBlock(ctx context.Context, number rpc.BlockNumber, includeTxs bool) (*Block, error) {
	n := big.NewInt(number.Int64())
	if !includeTxs {
		header, err := p.client.HeaderByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		return fromHeader(header, nil), nil
	}

	block, err := p.client.BlockByNumber(ctx, n)
	if err != nil {
		return nil, err
	}
	return fromHeader(block.Header(), block.Transactions()), nil
}

func fromHeader(h *types.Header, txs types.Transactions) *Block {
	return &Block{
		Number:       h.Number.Uint64(),
		Hash:         h.Hash(),
		GasLimit:     h.GasLimit,
		GasUsed:      h.GasUsed,
		BaseFee:      h.BaseFee,
		Transactions: txs,
	}
}

func (p *EthProvider) GetBlockNumber(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

func (p *EthProvider) BroadcastTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	if err := p.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (p *EthProvider) Send(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return p.rpc.CallContext(ctx, result, method, params...)
}

// Close releases the underlying connection
func (p *EthProvider) Close() {
	p.rpc.Close()
}

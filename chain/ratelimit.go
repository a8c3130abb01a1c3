package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

// RateLimitedProvider bounds the request rate towards a Provider. Every call waits for a
// token for at most waitTimeout.
type RateLimitedProvider struct {
	next        Provider
	limiter     *rate.Limiter
	waitTimeout time.Duration
}

func NewRateLimitedProvider(next Provider, rps float64, burst int, waitTimeout time.Duration) *RateLimitedProvider {
	return &RateLimitedProvider{
		next:        next,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		waitTimeout: waitTimeout,
	}
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if p.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.waitTimeout)
		defer cancel()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}
	return nil
}

func (p *RateLimitedProvider) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Call(ctx, msg)
}

func (p *RateLimitedProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.next.EstimateGas(ctx, msg)
}

func (p *RateLimitedProvider) GetFeeData(ctx context.Context) (*FeeData, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.GetFeeData(ctx)
}

func (p *RateLimitedProvider) GetBlock(ctx context.Context, number rpc.BlockNumber, includeTxs bool) (*Block, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.GetBlock(ctx, number, includeTxs)
}

func (p *RateLimitedProvider) GetBlockNumber(ctx context.Context) (uint64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.next.GetBlockNumber(ctx)
}

func (p *RateLimitedProvider) BroadcastTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	if err := p.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	return p.next.BroadcastTransaction(ctx, signed)
}

func (p *RateLimitedProvider) Send(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	return p.next.Send(ctx, result, method, params...)
}

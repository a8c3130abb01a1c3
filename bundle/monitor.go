package bundle

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/events"
	"github.com/michaelpento.lv/arbengine/types"
)

// MonitorBundleStatus polls until the bundle's outcome is known or the bundle timeout
// passes:
//
//   - included: every transaction was mined and succeeded
//   - failed: a transaction reverted, or the target block was mined with none of them
//   - pending: the timeout passed first; funds and nonces need reconciliation
//
// Read errors while polling are logged and retried. Only context cancellation is
// returned as an error, together with pending.
func (b *Builder) MonitorBundleStatus(ctx context.Context, hashes []common.Hash, targetBlock uint64) (types.BundleStatus, error) {
	if len(hashes) == 0 {
		return types.BundleFailed, nil
	}

	timeout := time.NewTimer(b.opts.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		if status, done := b.pollOnce(ctx, hashes, targetBlock); done {
			b.metrics.outcomes.WithLabelValues(string(status)).Inc()
			return status, nil
		}

		select {
		case <-ctx.Done():
			b.metrics.outcomes.WithLabelValues(string(types.BundlePending)).Inc()
			return types.BundlePending, ctx.Err()
		case <-timeout.C:
			b.metrics.outcomes.WithLabelValues(string(types.BundlePending)).Inc()
			b.logger.Warn("Bundle outcome unknown at timeout",
				zap.Uint64("target_block", targetBlock),
				zap.Int("transactions", len(hashes)),
				zap.Duration("timeout", b.opts.Timeout))
			return types.BundlePending, nil
		case <-ticker.C:
		}
	}
}

func (b *Builder) pollOnce(ctx context.Context, hashes []common.Hash, targetBlock uint64) (types.BundleStatus, bool) {
	// head is read before receipts so that a block mined in between cannot be
	// mistaken for one that excluded the bundle
	head, headErr := b.provider.GetBlockNumber(ctx)
	if headErr != nil {
		b.logger.Debug("Block number lookup failed", zap.Error(headErr))
	}

	mined := 0
	for _, h := range hashes {
		receipt, err := chain.TransactionReceipt(ctx, b.provider, h)
		if err != nil {
			b.logger.Debug("Receipt lookup failed", zap.String("tx", h.Hex()), zap.Error(err))
			continue
		}
		if receipt == nil {
			continue
		}
		if !receipt.Succeeded() {
			return types.BundleFailed, true
		}
		mined++
	}

	switch {
	case mined == len(hashes):
		return types.BundleIncluded, true
	case mined == 0 && headErr == nil && head >= targetBlock:
		return types.BundleFailed, true
	}
	return "", false
}

// Monitor waits for the outcome of a submitted attempt and publishes it
func (b *Builder) Monitor(ctx context.Context, a *Attempt) (types.BundleStatus, error) {
	status, err := b.MonitorBundleStatus(ctx, a.Hashes, a.TargetBlock)

	ev := events.Execution{
		BundleID: a.ID,
		Route:    a.Label(),
		Status:   status,
		Hashes:   a.Hashes,
	}
	if a.Simulation != nil {
		ev.Profit = a.Simulation.Profit
		ev.GasUsed = a.Simulation.GasUsed
	}
	b.events.Publish(events.Event{Kind: events.KindExecution, Payload: ev})
	return status, err
}

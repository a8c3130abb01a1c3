package journal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/chain"
	"github.com/michaelpento.lv/arbengine/types"
)

// DefaultConfirmations is how far past its target block an unmined bundle must be
// before it is settled as failed
const DefaultConfirmations = 2

// Report summarises one reconciliation pass
type Report struct {
	Checked      int
	Included     int
	Failed       int
	StillPending int
	Resolved     []Entry
}

// Reconciler settles pending journal entries from transaction receipts
type Reconciler struct {
	store         *Store
	provider      chain.Provider
	confirmations uint64
	logger        *zap.Logger
}

func NewReconciler(store *Store, provider chain.Provider, confirmations uint64, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:         store,
		provider:      provider,
		confirmations: confirmations,
		logger:        logger,
	}
}

// Reconcile makes one pass over the pending bundles. Receipt read errors leave a
// bundle pending for the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	pending, err := r.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Checked: len(pending)}
	if len(pending) == 0 {
		return report, nil
	}

	head, err := r.provider.GetBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	for _, e := range pending {
		status, ok := r.settle(ctx, e, head)
		if !ok {
			report.StillPending++
			continue
		}
		if err := r.store.Resolve(ctx, e.BundleID, status); err != nil {
			return report, err
		}
		e.Status = status
		report.Resolved = append(report.Resolved, e)
		if status == types.BundleIncluded {
			report.Included++
		} else {
			report.Failed++
		}
		r.logger.Info("Journaled bundle settled",
			zap.String("bundle_id", e.BundleID),
			zap.String("status", string(status)),
			zap.Uint64("head", head))
	}
	return report, nil
}

func (r *Reconciler) settle(ctx context.Context, e Entry, head uint64) (types.BundleStatus, bool) {
	if len(e.Hashes) == 0 {
		return types.BundleFailed, true
	}

	mined := 0
	for _, h := range e.Hashes {
		receipt, err := chain.TransactionReceipt(ctx, r.provider, h)
		if err != nil {
			r.logger.Debug("Receipt lookup failed", zap.String("tx", h.Hex()), zap.Error(err))
			return "", false
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
	case mined == len(e.Hashes):
		return types.BundleIncluded, true
	case head >= e.TargetBlock+r.confirmations:
		// partially mined bundles past the deadline did not execute as a unit
		return types.BundleFailed, true
	}
	return "", false
}

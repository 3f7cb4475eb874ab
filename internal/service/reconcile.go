package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stackdrive/stackdrive/internal/logging"
	"github.com/stackdrive/stackdrive/internal/metrics"
	"github.com/stackdrive/stackdrive/internal/quota"
	"github.com/stackdrive/stackdrive/internal/registry"
)

// Reconciler periodically rewrites ledger usage counters from the actual
// file records, repairing drift left by crashes between a delete and its
// quota release.
type Reconciler struct {
	registry registry.Store
	ledger   quota.Ledger
	interval time.Duration
}

// NewReconciler creates a reconciler with the given sweep interval.
func NewReconciler(reg registry.Store, ledger quota.Ledger, interval time.Duration) *Reconciler {
	return &Reconciler{registry: reg, ledger: ledger, interval: interval}
}

// Run sweeps on the interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				logging.Error("quota reconciliation failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce overwrites each known plan's usage with the summed size
// of the owner's live files.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	sums, err := r.registry.SumSizesByOwner(ctx)
	if err != nil {
		return err
	}
	accounts, err := r.ledger.Accounts(ctx)
	if err != nil {
		return err
	}

	repaired := 0
	for _, accountID := range accounts {
		used := sums[accountID]
		p, err := r.ledger.Plan(ctx, accountID)
		if err != nil {
			continue
		}
		if p.UsedBytes == used {
			continue
		}
		if err := r.ledger.SetUsed(ctx, accountID, used); err != nil {
			logging.Error("set usage failed",
				zap.String("account_id", accountID),
				zap.Error(err))
			continue
		}
		logging.Warn("repaired quota drift",
			zap.String("account_id", accountID),
			zap.Int64("was", p.UsedBytes),
			zap.Int64("now", used))
		repaired++
	}

	metrics.RecordQuotaReconciliation()
	if repaired > 0 {
		logging.Info("quota reconciliation swept", zap.Int("repaired", repaired))
	}
	return nil
}

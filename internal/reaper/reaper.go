// Package reaper runs the operator-level stale-processing sweep
// SPEC_FULL.md adds to resolve spec.md §9's open question about
// transactions stuck in `processing` after a worker crash mid-settlement.
// Grounded on the teacher's ticker-driven CleanupStaleGames idiom in
// cmd/api/main.go.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payoutpipeline/payout-pipeline/internal/model"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
)

const batchSize = 100

// Reaper periodically fails transactions that have sat in `processing`
// longer than maxAge, on the assumption that whatever worker owned them
// crashed before reaching a terminal state. It does not attempt a
// compensating cache credit itself: without knowing whether the
// original deduction happened, the safe default is to flag the
// transaction as failed for operator review rather than silently
// resurrect or re-credit it.
type Reaper struct {
	txStore  store.TransactionStore
	audit    store.AuditStore
	log      *logrus.Logger
	maxAge   time.Duration
	interval time.Duration
}

func New(txStore store.TransactionStore, audit store.AuditStore, log *logrus.Logger, maxAge, interval time.Duration) *Reaper {
	return &Reaper{txStore: txStore, audit: audit, log: log, maxAge: maxAge, interval: interval}
}

// Run ticks every interval until ctx is cancelled, reaping stale
// transactions on each tick.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	stale, err := r.txStore.StaleProcessing(ctx, r.maxAge, batchSize)
	if err != nil {
		r.log.WithError(err).Error("reaper: failed to list stale processing transactions")
		return
	}
	if len(stale) == 0 {
		return
	}

	r.log.WithField("count", len(stale)).Warn("reaper: found stale processing transactions")
	for _, tx := range stale {
		if _, err := r.txStore.MarkFailed(ctx, tx.ID, "STALE_PROCESSING", "reaped after exceeding the processing age limit", time.Now()); err != nil {
			r.log.WithError(err).WithField("transaction_id", tx.ID).Error("reaper: failed to mark stale transaction failed")
			continue
		}
		r.audit.AppendBestEffort(ctx, tx.ID, tx.UserID, model.ActionPayoutFailed, "reaped: exceeded processing age limit")
	}
}

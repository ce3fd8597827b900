// Package settlement implements the Worker Settlement protocol from
// spec.md §4.7, orchestrating the Balance Cache, Transaction Store,
// Lock Service, and Event Bridge the way Gateway Intake orchestrates
// the same collaborators for initiation. Grounded on the teacher's
// GameEngine (internal/services/game.go), whose bet/cashout handlers
// are the closest analog to a multi-collaborator settlement step: load
// state, check a balance, mutate atomically, persist, notify.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payoutpipeline/payout-pipeline/internal/apperr"
	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/broker"
	"github.com/payoutpipeline/payout-pipeline/internal/lock"
	"github.com/payoutpipeline/payout-pipeline/internal/model"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// Worker runs the settlement protocol for one payout message at a time.
// A Worker instance is safe for concurrent use; the Consumer invokes
// Process from multiple goroutines bounded by its prefetch. Collaborators
// are each behind the narrow capability interface its owning package
// defines (lock.Lock, balancecache.BalanceCache, store.TransactionStore,
// store.UserStore, store.AuditStore, ws.EventPublisher), so tests can
// supply fakes instead of a live Redis/Postgres stack.
type Worker struct {
	locks     lock.Lock
	cache     balancecache.BalanceCache
	txStore   store.TransactionStore
	userStore store.UserStore
	audit     store.AuditStore
	events    ws.EventPublisher
	log       *logrus.Logger

	lockTTL          time.Duration
	lockExtendPeriod time.Duration
}

func NewWorker(
	locks lock.Lock,
	cache balancecache.BalanceCache,
	txStore store.TransactionStore,
	userStore store.UserStore,
	audit store.AuditStore,
	events ws.EventPublisher,
	log *logrus.Logger,
	lockTTL time.Duration,
	lockExtendFraction int64,
) *Worker {
	fraction := lockExtendFraction
	if fraction <= 0 {
		fraction = 3
	}
	return &Worker{
		locks:            locks,
		cache:            cache,
		txStore:          txStore,
		userStore:        userStore,
		audit:            audit,
		events:           events,
		log:              log,
		lockTTL:          lockTTL,
		lockExtendPeriod: lockTTL / time.Duration(fraction),
	}
}

// Process implements broker.Handler: it satisfies spec.md §4.7 step by
// step, including the compensating rollback and requeue classification
// the Consumer reads off the returned error's apperr.Kind.
func (w *Worker) Process(ctx context.Context, env broker.Envelope, retryCount int32) error {
	log := w.log.WithFields(logrus.Fields{"transaction_id": env.TransactionID, "user_id": env.UserID, "retry_count": retryCount})

	tx, err := w.txStore.GetByID(ctx, env.TransactionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("settlement message for unknown transaction, dropping")
		return apperr.New(apperr.KindTransactionNotFound, "transaction not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "failed to load transaction", err)
	}

	switch tx.Status {
	case model.StatusCompleted:
		log.Debug("duplicate delivery of an already-completed transaction, acking")
		return nil
	case model.StatusProcessing:
		return apperr.New(apperr.KindAlreadyProcessing, "transaction is already being processed")
	}

	now := time.Now()
	if _, err := w.txStore.MarkProcessing(ctx, env.TransactionID, now); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "failed to mark transaction processing", err)
	}
	w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionPayoutProcessing, "")
	w.emit(ctx, env, "PAYOUT_PROCESSING", nil, "")

	stopExtend := w.extendLockPeriodically(ctx, env, tx)
	defer stopExtend()

	settleErr := w.settle(ctx, env, tx, log)
	if settleErr == nil {
		return nil
	}

	kind := apperr.KindOf(settleErr)
	if kind == apperr.KindTransactionNotFound || kind == apperr.KindAlreadyProcessing || kind == apperr.KindInsufficientBalance {
		// Steps 1/2/5/6 business outcomes: already marked failed (or
		// dropped) by settle; no compensating rollback is owed.
		return settleErr
	}

	// Any other failure (steps 4, 7-9): attempt the compensating credit
	// described in spec.md §4.7, then mark failed and let the Consumer
	// apply the requeue policy.
	if _, addErr := w.cache.Add(ctx, env.UserID, env.AmountCents); addErr != nil && !errors.Is(addErr, balancecache.ErrNotFound) {
		log.WithError(addErr).Error("failed to apply compensating rollback credit")
	} else if addErr == nil {
		w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionBalanceRestored, "")
	}

	if _, failErr := w.txStore.MarkFailed(ctx, env.TransactionID, string(kind), settleErr.Error(), time.Now()); failErr != nil {
		log.WithError(failErr).Error("failed to mark transaction failed after settlement error")
	}
	w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionPayoutFailed, settleErr.Error())
	w.emit(ctx, env, "PAYOUT_FAILED", nil, settleErr.Error())

	return settleErr
}

// settle runs steps 4-9: re-verify, deduct, persist, release, notify.
func (w *Worker) settle(ctx context.Context, env broker.Envelope, tx *model.Transaction, log *logrus.Entry) error {
	balance, ok, err := w.cache.Get(ctx, env.UserID)
	if err != nil {
		return apperr.Wrap(apperr.KindCacheError, "failed to read cached balance", err)
	}
	if !ok {
		return apperr.New(apperr.KindCacheError, "cached balance not found")
	}
	if balance < env.AmountCents {
		return w.failInsufficient(ctx, env, log)
	}

	newBalance, err := w.cache.Deduct(ctx, env.UserID, env.AmountCents)
	if err != nil {
		if errors.Is(err, balancecache.ErrInsufficient) {
			return w.failInsufficient(ctx, env, log)
		}
		if errors.Is(err, balancecache.ErrNotFound) {
			return apperr.New(apperr.KindCacheError, "cached balance disappeared before deduction")
		}
		return apperr.Wrap(apperr.KindCacheError, "failed to deduct cached balance", err)
	}
	w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionBalanceDeducted, "")

	now := time.Now()
	if _, err := w.txStore.MarkCompleted(ctx, env.TransactionID, newBalance, now); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "failed to mark transaction completed", err)
	}

	if err := w.userStore.ApplyCompletedPayout(ctx, env.UserID, newBalance, env.AmountCents, now); err != nil {
		log.WithError(err).Error("failed to reconcile durable user balance after completed payout")
	}

	if err := w.locks.Release(ctx, env.UserID, env.LockToken); err != nil {
		log.WithError(err).Warn("failed to release user lock, relying on TTL expiry")
	}
	w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionLockReleased, "")

	newBalanceMoney := model.Money(newBalance)
	w.emit(ctx, env, "PAYOUT_COMPLETED", &newBalanceMoney, "")
	w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionPayoutCompleted, "")

	return nil
}

func (w *Worker) failInsufficient(ctx context.Context, env broker.Envelope, log *logrus.Entry) error {
	if _, err := w.txStore.MarkFailed(ctx, env.TransactionID, string(apperr.KindInsufficientBalance), "insufficient balance at settlement time", time.Now()); err != nil {
		log.WithError(err).Error("failed to mark transaction failed for insufficient balance")
	}
	w.audit.AppendBestEffort(ctx, env.TransactionID, env.UserID, model.ActionPayoutFailed, "insufficient balance at settlement time")
	w.emit(ctx, env, "PAYOUT_FAILED", nil, "insufficient balance at settlement time")
	return apperr.New(apperr.KindInsufficientBalance, "insufficient balance at settlement time")
}

func (w *Worker) emit(ctx context.Context, env broker.Envelope, eventType string, newBalance *model.Money, errMsg string) {
	event := &ws.Event{
		Type:          eventType,
		UserID:        env.UserID,
		TransactionID: env.TransactionID,
		Amount:        model.Money(env.AmountCents),
		Currency:      env.Currency,
		NewBalance:    newBalance,
		Error:         errMsg,
		Timestamp:     time.Now(),
	}
	if err := w.events.Publish(ctx, event); err != nil {
		w.log.WithError(err).WithField("transaction_id", env.TransactionID).Warn("failed to publish settlement event")
	}
}

// extendLockPeriodically keeps the per-user lock alive across a
// settlement that outlives the original TTL, per spec.md §4's "Worker
// MUST call extend periodically" requirement. It ticks at
// lockTTL/lockExtendFraction and stops when the returned func is
// called.
func (w *Worker) extendLockPeriodically(ctx context.Context, env broker.Envelope, tx *model.Transaction) func() {
	if !tx.LockAcquired || env.LockToken == "" || w.lockExtendPeriod <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.lockExtendPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.locks.Extend(ctx, env.UserID, env.LockToken, w.lockTTL); err != nil {
					w.log.WithError(err).WithField("user_id", env.UserID).Warn("failed to extend settlement lock")
				}
			}
		}
	}()
	return func() { close(done) }
}

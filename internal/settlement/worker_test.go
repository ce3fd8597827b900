package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payoutpipeline/payout-pipeline/internal/apperr"
	"github.com/payoutpipeline/payout-pipeline/internal/broker"
	"github.com/payoutpipeline/payout-pipeline/internal/model"
)

func newTestWorker(locks *mockLock, cache *mockBalanceCache, txStore *mockTransactionStore, userStore *mockUserStore, events *mockEventPublisher) *Worker {
	return NewWorker(locks, cache, txStore, userStore, mockAuditStore{}, events, logrus.New(), time.Second, 3)
}

func TestProcessDeductsAndCompletesExactlyOnceAcrossSimulatedRedelivery(t *testing.T) {
	locks := &mockLock{}
	cache := newMockBalanceCache()
	cache.balances["user-1"] = 1000
	tx := &model.Transaction{ID: "TXN_1", UserID: "user-1", AmountCents: 100, Status: model.StatusInitiated, Currency: model.CurrencyUSD, LockAcquired: true}
	txStore := newMockTransactionStore(tx)
	userStore := newMockUserStore(&model.User{ID: "user-1", BalanceCents: 1000})
	events := &mockEventPublisher{}
	w := newTestWorker(locks, cache, txStore, userStore, events)

	env := broker.Envelope{TransactionID: "TXN_1", UserID: "user-1", AmountCents: 100, Currency: "USD", LockToken: "tok-1"}

	require.NoError(t, w.Process(context.Background(), env, 0))
	require.Equal(t, model.StatusCompleted, tx.Status)
	require.Equal(t, int64(900), cache.balances["user-1"])
	require.Equal(t, 1, cache.DeductCalls)
	require.Equal(t, 1, txStore.MarkCompletedN)

	// Simulated redelivery: the broker redelivers the same message (e.g.
	// because the ack was lost). The transaction is already completed, so
	// Process must treat this as a no-op rather than deducting again.
	require.NoError(t, w.Process(context.Background(), env, 1))
	require.Equal(t, int64(900), cache.balances["user-1"])
	require.Equal(t, 1, cache.DeductCalls)
	require.Equal(t, 1, txStore.MarkCompletedN)
}

func TestProcessReturnsAlreadyProcessingWithoutMutatingState(t *testing.T) {
	locks := &mockLock{}
	cache := newMockBalanceCache()
	cache.balances["user-1"] = 1000
	tx := &model.Transaction{ID: "TXN_2", UserID: "user-1", AmountCents: 100, Status: model.StatusProcessing, Currency: model.CurrencyUSD, LockAcquired: true}
	txStore := newMockTransactionStore(tx)
	userStore := newMockUserStore(&model.User{ID: "user-1", BalanceCents: 1000})
	w := newTestWorker(locks, cache, txStore, userStore, &mockEventPublisher{})

	env := broker.Envelope{TransactionID: "TXN_2", UserID: "user-1", AmountCents: 100, Currency: "USD", LockToken: "tok-1"}

	err := w.Process(context.Background(), env, 0)
	require.Error(t, err)
	require.Equal(t, apperr.KindAlreadyProcessing, apperr.KindOf(err))
	require.Equal(t, int64(1000), cache.balances["user-1"])
	require.Equal(t, 0, cache.DeductCalls)
}

func TestProcessAppliesCompensatingRollbackOnDownstreamFailure(t *testing.T) {
	locks := &mockLock{}
	cache := newMockBalanceCache()
	cache.balances["user-1"] = 1000
	tx := &model.Transaction{ID: "TXN_3", UserID: "user-1", AmountCents: 100, Status: model.StatusInitiated, Currency: model.CurrencyUSD, LockAcquired: true}
	txStore := newMockTransactionStore(tx)
	txStore.FailMarkCompleted = true
	userStore := newMockUserStore(&model.User{ID: "user-1", BalanceCents: 1000})
	events := &mockEventPublisher{}
	w := newTestWorker(locks, cache, txStore, userStore, events)

	env := broker.Envelope{TransactionID: "TXN_3", UserID: "user-1", AmountCents: 100, Currency: "USD", LockToken: "tok-1"}

	err := w.Process(context.Background(), env, 0)
	require.Error(t, err)
	require.Equal(t, apperr.KindDatabaseError, apperr.KindOf(err))

	// The deduction must have been credited back, leaving the cached
	// balance unchanged from before settlement was attempted.
	require.Equal(t, int64(1000), cache.balances["user-1"])
	require.Equal(t, 1, cache.DeductCalls)
	require.Equal(t, 1, cache.AddCalls)
	require.Equal(t, 1, txStore.MarkFailedN)
}

func TestAlreadyProcessingIsClassifiedNonRetriable(t *testing.T) {
	// Pinning the taxonomy contract the Consumer's requeue policy depends
	// on: ALREADY_PROCESSING must not be globally Retryable (it would
	// otherwise be endlessly republished). The Consumer's DLQ routing of
	// it is not exercised here.
	err := apperr.New(apperr.KindAlreadyProcessing, "transaction is already being processed")
	assert.False(t, apperr.Retryable(apperr.KindOf(err)))
}

func TestCacheErrorsAreRetriable(t *testing.T) {
	err := apperr.New(apperr.KindCacheError, "cached balance not found")
	assert.True(t, apperr.Retryable(apperr.KindOf(err)))
}

func TestTransactionNotFoundAndInsufficientBalanceAreNonRetriable(t *testing.T) {
	assert.False(t, apperr.Retryable(apperr.KindTransactionNotFound))
	assert.False(t, apperr.Retryable(apperr.KindInsufficientBalance))
}

func TestExtendLockPeriodicallyIsNoopWhenLockWasNotAcquired(t *testing.T) {
	w := &Worker{lockTTL: 0, lockExtendPeriod: 0}
	env := broker.Envelope{UserID: "user-1", LockToken: "tok"}
	tx := &model.Transaction{LockAcquired: false}

	stop := w.extendLockPeriodically(context.Background(), env, tx)
	stop()
}

func TestExtendLockPeriodicallyIsNoopWithoutALockToken(t *testing.T) {
	w := &Worker{lockTTL: 0, lockExtendPeriod: 0}
	env := broker.Envelope{UserID: "user-1"}
	tx := &model.Transaction{LockAcquired: true}

	stop := w.extendLockPeriodically(context.Background(), env, tx)
	stop()
}

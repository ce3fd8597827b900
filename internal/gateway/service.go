// Package gateway implements the Gateway Intake protocol from spec.md
// §4.6, orchestrating Lock, Balance Cache, Transaction Store, and
// Publisher the way the teacher's GameEngine orchestrates RedisService
// collaborators behind a constructor-closure service struct.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payoutpipeline/payout-pipeline/internal/apperr"
	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/broker"
	"github.com/payoutpipeline/payout-pipeline/internal/idgen"
	"github.com/payoutpipeline/payout-pipeline/internal/lock"
	"github.com/payoutpipeline/payout-pipeline/internal/model"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// PayoutRequest is the validated input to InitiatePayout.
type PayoutRequest struct {
	UserID      string
	AmountCents int64
	Currency    model.Currency
	Description string
	IP          string
	UserAgent   string
	Source      string
}

// PayoutResult is the HTTP 202 body from spec.md §4.6 step 10.
type PayoutResult struct {
	TransactionID string
	Status        model.TransactionStatus
	AmountCents   int64
	Currency      model.Currency
}

// Service orchestrates initiation. Collaborators are passed as explicit
// constructor parameters, each behind the narrow capability interface its
// owning package defines (lock.Lock, balancecache.BalanceCache,
// store.TransactionStore, store.UserStore, store.AuditStore,
// broker.Publisher, ws.EventPublisher), so tests can supply fakes instead
// of a live Redis/Postgres/RabbitMQ stack.
type Service struct {
	locks     lock.Lock
	cache     balancecache.BalanceCache
	txStore   store.TransactionStore
	userStore store.UserStore
	audit     store.AuditStore
	publisher broker.Publisher
	events    ws.EventPublisher
	log       *logrus.Logger

	lockTTL        time.Duration
	lockRetryCount int
	lockRetryDelay time.Duration
	minAmountCents int64
	maxAmountCents int64
}

func NewService(
	locks lock.Lock,
	cache balancecache.BalanceCache,
	txStore store.TransactionStore,
	userStore store.UserStore,
	audit store.AuditStore,
	publisher broker.Publisher,
	events ws.EventPublisher,
	log *logrus.Logger,
	lockTTL, lockRetryDelay time.Duration,
	lockRetryCount int,
	minAmountCents, maxAmountCents int64,
) *Service {
	return &Service{
		locks:          locks,
		cache:          cache,
		txStore:        txStore,
		userStore:      userStore,
		audit:          audit,
		publisher:      publisher,
		events:         events,
		log:            log,
		lockTTL:        lockTTL,
		lockRetryCount: lockRetryCount,
		lockRetryDelay: lockRetryDelay,
		minAmountCents: minAmountCents,
		maxAmountCents: maxAmountCents,
	}
}

// InitiatePayout runs spec.md §4.6 steps 1-10.
func (s *Service) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	txID := idgen.NewTransactionID()
	log := s.log.WithFields(logrus.Fields{"transaction_id": txID, "user_id": req.UserID})

	token, err := s.locks.AcquireWithRetry(ctx, req.UserID, s.lockTTL, s.lockRetryCount, s.lockRetryDelay)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperr.New(apperr.KindConcurrentRequest, "a payout for this user is already in flight")
		}
		return nil, apperr.Wrap(apperr.KindCacheError, "failed to acquire user lock", err)
	}
	s.audit.AppendBestEffort(ctx, txID, req.UserID, model.ActionLockAcquired, "")

	releaseLock := func() {
		if err := s.locks.Release(ctx, req.UserID, token); err != nil {
			log.WithError(err).Warn("failed to release user lock on intake failure, relying on TTL expiry")
		} else {
			s.audit.AppendBestEffort(ctx, txID, req.UserID, model.ActionLockReleased, "")
		}
	}

	user, err := s.userStore.GetByID(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		releaseLock()
		return nil, apperr.New(apperr.KindUserNotFound, "user not found")
	}
	if err != nil {
		releaseLock()
		return nil, apperr.Wrap(apperr.KindDatabaseError, "failed to load user", err)
	}
	if !user.IsActive() {
		releaseLock()
		return nil, apperr.New(apperr.KindUserNotActive, "user account is not active")
	}

	balanceBefore, err := s.rehydrateBalance(ctx, user)
	if err != nil {
		releaseLock()
		return nil, err
	}

	sufficient, err := s.cache.HasSufficient(ctx, req.UserID, req.AmountCents)
	if err != nil && !errors.Is(err, balancecache.ErrNotFound) {
		releaseLock()
		return nil, apperr.Wrap(apperr.KindCacheError, "failed to check cached balance", err)
	}
	if !sufficient {
		releaseLock()
		return nil, apperr.New(apperr.KindInsufficientBalance, "insufficient balance")
	}

	tx := &model.Transaction{
		ID:               txID,
		UserID:           req.UserID,
		AmountCents:      req.AmountCents,
		Currency:         req.Currency,
		Status:           model.StatusInitiated,
		Type:             model.TypePayout,
		BalanceBefore:    balanceBefore,
		BalanceAfter:     balanceBefore - req.AmountCents,
		RequestIP:        req.IP,
		RequestUserAgent: req.UserAgent,
		RequestSource:    req.Source,
		Description:      req.Description,
		LockAcquired:     true,
		CreatedAt:        time.Now(),
	}
	if err := s.txStore.Create(ctx, tx); err != nil {
		releaseLock()
		return nil, apperr.Wrap(apperr.KindDatabaseError, "failed to persist transaction", err)
	}
	s.audit.AppendBestEffort(ctx, txID, req.UserID, model.ActionPayoutInitiated, "")

	env := broker.Envelope{
		TransactionID: txID,
		UserID:        req.UserID,
		AmountCents:   req.AmountCents,
		Currency:      string(req.Currency),
		LockToken:     token,
		Metadata: broker.Metadata{
			IP:          req.IP,
			UserAgent:   req.UserAgent,
			Source:      req.Source,
			Description: req.Description,
		},
		Timestamp: time.Now(),
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		releaseLock()
		if _, failErr := s.txStore.MarkFailed(ctx, txID, string(apperr.KindQueueError), err.Error(), time.Now()); failErr != nil {
			log.WithError(failErr).Error("failed to mark transaction failed after publish failure")
		}
		return nil, apperr.Wrap(apperr.KindQueueError, "failed to enqueue settlement work item", err)
	}
	s.audit.AppendBestEffort(ctx, txID, req.UserID, model.ActionMessagePublished, "")

	if err := s.events.Publish(ctx, &ws.Event{
		Type:          "PAYOUT_INITIATED",
		UserID:        req.UserID,
		TransactionID: txID,
		Amount:        model.Money(req.AmountCents),
		Currency:      string(req.Currency),
		Timestamp:     time.Now(),
	}); err != nil {
		log.WithError(err).Warn("failed to publish PAYOUT_INITIATED event")
	}

	// Lock is deliberately NOT released here: it is handed off to the
	// worker via env.LockToken, which releases it on settlement.
	return &PayoutResult{
		TransactionID: txID,
		Status:        model.StatusInitiated,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
	}, nil
}

// rehydrateBalance returns the cached balance, seeding the cache from
// the user's durable balance on a cold miss.
func (s *Service) rehydrateBalance(ctx context.Context, user *model.User) (int64, error) {
	balance, ok, err := s.cache.Get(ctx, user.ID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindCacheError, "failed to read cached balance", err)
	}
	if ok {
		return balance, nil
	}
	if err := s.cache.Set(ctx, user.ID, user.BalanceCents); err != nil {
		return 0, apperr.Wrap(apperr.KindCacheError, "failed to rehydrate cached balance", err)
	}
	return user.BalanceCents, nil
}

func (s *Service) validate(req PayoutRequest) error {
	if req.UserID == "" {
		return apperr.New(apperr.KindValidation, "user_id is required")
	}
	if !model.ValidCurrency(req.Currency) {
		return apperr.New(apperr.KindValidation, "unsupported currency")
	}
	if req.AmountCents <= 0 {
		return apperr.New(apperr.KindValidation, "amount must be positive")
	}
	if req.AmountCents < s.minAmountCents {
		return apperr.New(apperr.KindValidation, "amount is below the minimum payout amount")
	}
	if req.AmountCents > s.maxAmountCents {
		return apperr.New(apperr.KindValidation, "amount exceeds the maximum payout amount")
	}
	return nil
}

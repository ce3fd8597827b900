// Package store is a thin typed layer over the primary Postgres store,
// grounded on Glebsky-balance-app's internal/repository.BalanceRepository
// and EventRepository (struct wrapping *gorm.DB + *logrus.Logger, exported
// methods taking context.Context).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/payoutpipeline/payout-pipeline/internal/model"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("store: record not found")

// TransactionStore is the narrow capability Gateway and Worker need from
// the durable transaction ledger, per spec.md §9's "define them behind
// narrow capability interfaces" redesign. PostgresTransactionStore below is
// the only production implementation.
type TransactionStore interface {
	Create(ctx context.Context, tx *model.Transaction) error
	GetByID(ctx context.Context, id string) (*model.Transaction, error)
	ListByUser(ctx context.Context, userID string, status model.TransactionStatus, limit int) ([]model.Transaction, error)
	MarkProcessing(ctx context.Context, id string, now time.Time) (*model.Transaction, error)
	MarkCompleted(ctx context.Context, id string, balanceAfter int64, now time.Time) (*model.Transaction, error)
	MarkFailed(ctx context.Context, id, code, message string, now time.Time) (*model.Transaction, error)
	StaleProcessing(ctx context.Context, maxAge time.Duration, limit int) ([]model.Transaction, error)
}

// PostgresTransactionStore persists and queries payout transaction records.
// It implements TransactionStore.
type PostgresTransactionStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewPostgresTransactionStore wraps db.
func NewPostgresTransactionStore(db *gorm.DB, log *logrus.Logger) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db, log: log}
}

// Create inserts a new transaction in its initial state (normally
// StatusInitiated).
func (s *PostgresTransactionStore) Create(ctx context.Context, tx *model.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("store: create transaction: %w", err)
	}
	return nil
}

// GetByID loads a transaction by its id.
func (s *PostgresTransactionStore) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	var tx model.Transaction
	err := s.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get transaction %s: %w", id, err)
	}
	return &tx, nil
}

// ListByUser returns transactions for userID, optionally filtered by
// status, newest first, bounded by limit.
func (s *PostgresTransactionStore) ListByUser(ctx context.Context, userID string, status model.TransactionStatus, limit int) ([]model.Transaction, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var txs []model.Transaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("store: list transactions for %s: %w", userID, err)
	}
	return txs, nil
}

// MarkProcessing transitions id into processing. It is idempotent: if the
// row is already processing it succeeds without error. The UPDATE is
// conditional on the row still being initiated or processing, so it never
// moves a row out of a terminal state.
func (s *PostgresTransactionStore) MarkProcessing(ctx context.Context, id string, now time.Time) (*model.Transaction, error) {
	tx, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.MarkProcessing(now); err != nil {
		return tx, err
	}

	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status IN (?)", id, []model.TransactionStatus{model.StatusInitiated, model.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":        model.StatusProcessing,
			"processing_at": tx.ProcessingAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("store: mark processing %s: %w", id, res.Error)
	}
	return tx, nil
}

// MarkCompleted transitions id into completed, stamping BalanceAfter and
// the processing duration.
func (s *PostgresTransactionStore) MarkCompleted(ctx context.Context, id string, balanceAfter int64, now time.Time) (*model.Transaction, error) {
	tx, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.MarkCompleted(balanceAfter, now); err != nil {
		return tx, err
	}

	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status IN (?)", id, []model.TransactionStatus{model.StatusProcessing, model.StatusCompleted}).
		Updates(map[string]interface{}{
			"status":                 model.StatusCompleted,
			"balance_after":          tx.BalanceAfter,
			"completed_at":           tx.CompletedAt,
			"processing_duration_ms": tx.ProcessingDurationMs,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("store: mark completed %s: %w", id, res.Error)
	}
	return tx, nil
}

// MarkFailed transitions id into failed, recording the error details.
func (s *PostgresTransactionStore) MarkFailed(ctx context.Context, id, code, message string, now time.Time) (*model.Transaction, error) {
	tx, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.MarkFailed(code, message, now); err != nil {
		return tx, err
	}

	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status NOT IN (?)", id, []model.TransactionStatus{model.StatusCompleted, model.StatusFailed, model.StatusRolledBack}).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_code":    tx.ErrorCode,
			"error_message": tx.ErrorMessage,
			"failed_at":     tx.FailedAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("store: mark failed %s: %w", id, res.Error)
	}
	return tx, nil
}

// StaleProcessing returns transactions stuck in processing for longer than
// maxAge, for the reaper described in SPEC_FULL.md §9.
func (s *PostgresTransactionStore) StaleProcessing(ctx context.Context, maxAge time.Duration, limit int) ([]model.Transaction, error) {
	cutoff := time.Now().Add(-maxAge)
	var txs []model.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND processing_at < ?", model.StatusProcessing, cutoff).
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list stale processing: %w", err)
	}
	return txs, nil
}

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

// UserStore is the narrow capability Gateway and Worker need from the
// durable user-account store, per spec.md §9's "define them behind narrow
// capability interfaces" redesign. PostgresUserStore below is the only
// production implementation.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	ApplyCompletedPayout(ctx context.Context, userID string, newBalance, amount int64, now time.Time) error
}

// PostgresUserStore reads user accounts and applies the durable balance
// update that Worker Settlement performs after a successful cache
// deduction. It implements UserStore.
type PostgresUserStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewPostgresUserStore wraps db.
func NewPostgresUserStore(db *gorm.DB, log *logrus.Logger) *PostgresUserStore {
	return &PostgresUserStore{db: db, log: log}
}

// GetByID loads a user by id.
func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", id, err)
	}
	return &u, nil
}

// ApplyCompletedPayout writes the new durable balance and bumps the payout
// aggregates, reconciling the primary store to the value the balance cache
// already holds — spec.md §3's "periodically reconciled from it on
// completed transitions."
func (s *PostgresUserStore) ApplyCompletedPayout(ctx context.Context, userID string, newBalance, amount int64, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"balance_cents":       newBalance,
			"total_payouts":       gorm.Expr("total_payouts + 1"),
			"total_payout_amount": gorm.Expr("total_payout_amount + ?", amount),
			"last_payout_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("store: apply completed payout for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

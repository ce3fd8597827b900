package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/payoutpipeline/payout-pipeline/internal/model"
)

// AuditStore is the narrow capability Gateway and Worker need from the
// append-only audit log, per spec.md §9's "define them behind narrow
// capability interfaces" redesign. PostgresAuditStore below is the only
// production implementation.
type AuditStore interface {
	Append(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) error
	AppendBestEffort(ctx context.Context, transactionID, userID string, action model.AuditAction, details string)
}

// PostgresAuditStore appends to the append-only audit log. It implements
// AuditStore.
type PostgresAuditStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewPostgresAuditStore wraps db.
func NewPostgresAuditStore(db *gorm.DB, log *logrus.Logger) *PostgresAuditStore {
	return &PostgresAuditStore{db: db, log: log}
}

// Append writes one audit entry. Callers MUST NOT abort their containing
// operation on a non-nil error here — audit writes are best-effort.
func (s *PostgresAuditStore) Append(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) error {
	entry := &model.AuditLogEntry{
		TransactionID: transactionID,
		UserID:        userID,
		Action:        action,
		Details:       details,
		CreatedAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("store: append audit entry: %w", err)
	}
	return nil
}

// AppendBestEffort calls Append and logs (rather than propagates) any
// failure, per spec.md §3's "failure to write an audit entry must not
// abort the containing operation."
func (s *PostgresAuditStore) AppendBestEffort(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) {
	if err := s.Append(ctx, transactionID, userID, action, details); err != nil {
		s.log.WithFields(logrus.Fields{
			"transaction_id": transactionID,
			"user_id":        userID,
			"action":         action,
			"error":          err,
		}).Warn("failed to write audit log entry")
	}
}

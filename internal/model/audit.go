package model

import "time"

// AuditAction is one of the append-only audit log action kinds.
type AuditAction string

const (
	ActionPayoutInitiated  AuditAction = "PAYOUT_INITIATED"
	ActionPayoutProcessing AuditAction = "PAYOUT_PROCESSING"
	ActionPayoutCompleted  AuditAction = "PAYOUT_COMPLETED"
	ActionPayoutFailed     AuditAction = "PAYOUT_FAILED"
	ActionLockAcquired     AuditAction = "LOCK_ACQUIRED"
	ActionLockReleased     AuditAction = "LOCK_RELEASED"
	ActionBalanceDeducted  AuditAction = "BALANCE_DEDUCTED"
	ActionBalanceRestored  AuditAction = "BALANCE_RESTORED"
	ActionMessagePublished AuditAction = "MESSAGE_PUBLISHED"
	ActionMessageConsumed  AuditAction = "MESSAGE_CONSUMED"
	ActionMessageAcked     AuditAction = "MESSAGE_ACKED"
	ActionMessageNacked    AuditAction = "MESSAGE_NACKED"
)

// AuditLogEntry is an append-only record of one notable event in a
// transaction's lifecycle. Failure to write one must never abort the
// operation that produced it.
type AuditLogEntry struct {
	ID            uint64      `gorm:"primaryKey;autoIncrement"`
	TransactionID string      `gorm:"index;type:varchar(64);not null" json:"transaction_id"`
	UserID        string      `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Action        AuditAction `gorm:"type:varchar(32);not null" json:"action"`
	Details       string      `gorm:"type:text" json:"details,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (AuditLogEntry) TableName() string { return "audit_log_entries" }

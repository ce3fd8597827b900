package model

import (
	"errors"
	"time"
)

// TransactionStatus is a node in the payout state machine.
type TransactionStatus string

const (
	StatusInitiated  TransactionStatus = "initiated"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// TransactionType distinguishes a payout from other ledger movements the
// store can represent. Only TypePayout is produced by this pipeline.
type TransactionType string

const (
	TypePayout     TransactionType = "payout"
	TypeRefund     TransactionType = "refund"
	TypeAdjustment TransactionType = "adjustment"
)

// ErrInvalidTransition is returned when a caller asks for a transition the
// state machine does not allow (a move out of a terminal state, or a
// backward move).
var ErrInvalidTransition = errors.New("invalid transaction state transition")

// RequestMetadata captures the context of the originating HTTP request.
type RequestMetadata struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

// Transaction is the durable record of one payout's lifecycle.
//
// Invariant: Status only moves forward along
// initiated -> processing -> completed|failed. BalanceAfter is only
// meaningful once Status == StatusCompleted, and then equals
// BalanceBefore - AmountCents.
type Transaction struct {
	ID            string            `gorm:"primaryKey;type:varchar(64)" json:"transaction_id"`
	UserID        string            `gorm:"index:idx_tx_user_created;type:varchar(64);not null" json:"user_id"`
	AmountCents   int64             `gorm:"not null" json:"amount_cents"`
	Currency      Currency          `gorm:"type:varchar(3);not null" json:"currency"`
	Status        TransactionStatus `gorm:"index:idx_tx_status_created;type:varchar(16);not null" json:"status"`
	Type          TransactionType   `gorm:"type:varchar(16);not null;default:payout" json:"type"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`

	RequestIP        string `gorm:"type:varchar(64)" json:"request_ip,omitempty"`
	RequestUserAgent string `gorm:"type:varchar(256)" json:"request_user_agent,omitempty"`
	RequestSource    string `gorm:"type:varchar(64)" json:"request_source,omitempty"`
	Description      string `gorm:"type:varchar(512)" json:"description,omitempty"`

	LockAcquired bool `gorm:"not null;default:false" json:"lock_acquired"`

	ErrorCode    string `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"type:varchar(1024)" json:"error_message,omitempty"`

	ProcessingDurationMs int64 `json:"processing_duration_ms,omitempty"`

	CreatedAt    time.Time  `gorm:"index:idx_tx_user_created;index:idx_tx_status_created" json:"created_at"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

func (Transaction) TableName() string { return "transactions" }

// CanTransition reports whether moving from cur to next is allowed by the
// state machine in spec.md §4.7. Re-applying the current state is allowed
// (idempotent no-op) so repeated delivery of the same transition doesn't
// error.
func CanTransition(cur, next TransactionStatus) bool {
	if cur == next {
		return true
	}
	switch cur {
	case StatusInitiated:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return false
	default:
		return false
	}
}

// MarkProcessing transitions the transaction into processing. Idempotent:
// calling it again while already processing is a no-op.
func (t *Transaction) MarkProcessing(now time.Time) error {
	if !CanTransition(t.Status, StatusProcessing) {
		return ErrInvalidTransition
	}
	if t.Status == StatusProcessing {
		return nil
	}
	t.Status = StatusProcessing
	t.ProcessingAt = &now
	return nil
}

// MarkCompleted transitions the transaction into completed, stamping
// BalanceAfter and the processing duration measured from ProcessingAt.
func (t *Transaction) MarkCompleted(balanceAfter int64, now time.Time) error {
	if !CanTransition(t.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	if t.Status == StatusCompleted {
		return nil
	}
	t.Status = StatusCompleted
	t.BalanceAfter = balanceAfter
	t.CompletedAt = &now
	if t.ProcessingAt != nil {
		t.ProcessingDurationMs = now.Sub(*t.ProcessingAt).Milliseconds()
	}
	return nil
}

// MarkFailed transitions the transaction into failed, recording the error.
func (t *Transaction) MarkFailed(code, message string, now time.Time) error {
	if !CanTransition(t.Status, StatusFailed) {
		return ErrInvalidTransition
	}
	if t.Status == StatusFailed {
		return nil
	}
	t.Status = StatusFailed
	t.ErrorCode = code
	t.ErrorMessage = message
	t.FailedAt = &now
	return nil
}

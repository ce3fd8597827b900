package model

import "time"

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserClosed    UserStatus = "closed"
)

// Currency is one of the currencies the pipeline accepts.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyINR Currency = "INR"
)

// ValidCurrency reports whether c is one of the allowed currencies.
func ValidCurrency(c Currency) bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyINR:
		return true
	default:
		return false
	}
}

// User is the primary-store account record. BalanceCents is the
// authoritative durable balance, in minor units; it is mutated only by
// Worker Settlement after a successful cache deduction.
type User struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	DisplayName       string     `gorm:"type:varchar(128)" json:"display_name"`
	BalanceCents      int64      `gorm:"not null;check:balance_cents >= 0" json:"balance_cents"`
	Currency          Currency   `gorm:"type:varchar(3);not null" json:"currency"`
	Status            UserStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	TotalPayouts      int64      `gorm:"not null;default:0" json:"total_payouts"`
	TotalPayoutAmount int64      `gorm:"not null;default:0" json:"total_payout_amount"`
	LastPayoutAt      *time.Time `json:"last_payout_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// IsActive reports whether the account may submit payouts.
func (u *User) IsActive() bool { return u.Status == UserActive }

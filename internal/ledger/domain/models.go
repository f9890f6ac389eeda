package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionKind classifies balance-affecting entries.
type TransactionKind string

const (
	// KindPromotional marks the one-time first-token welcome bonus.
	KindPromotional TransactionKind = "promotional"
	// KindUsage marks debits collected for settled inference requests.
	KindUsage TransactionKind = "usage"
	// KindAdjustment marks manual corrections and goodwill credits.
	KindAdjustment TransactionKind = "adjustment"
)

// CreditTransaction is an append-only ledger entry. Positive amounts are
// credits, negative amounts are debits; the sum of all entries for an account
// equals the account's cached credit_balance.
type CreditTransaction struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	AccountID   snowflake.ID    `json:"account_id" gorm:"not null;index:ix_credit_transactions_account"`
	Amount      float64         `json:"amount" gorm:"not null"`
	Kind        TransactionKind `json:"kind" gorm:"type:text;not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	AppliedAt   time.Time       `json:"applied_at" gorm:"not null"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	ExpiredAt   *time.Time      `json:"expired_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

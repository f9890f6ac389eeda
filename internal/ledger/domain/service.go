package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreditRequest struct {
	AccountID   snowflake.ID
	Amount      float64
	Kind        TransactionKind
	Description string
	ExpiresAt   *time.Time
}

type DebitRequest struct {
	AccountID   snowflake.ID
	Amount      float64
	Kind        TransactionKind
	Description string
}

// DebitResult reports the outcome of an attempted debit. Paid=false is the
// normal insufficient-funds path, not an error.
type DebitResult struct {
	Paid        bool
	Balance     float64
	Transaction *CreditTransaction
}

// Service is the exclusive owner of credit_balance mutations. Every change is
// paired with an appended CreditTransaction inside a single database
// transaction: no reader observes a balance without its entry.
//
// The Tx variants run against a caller-supplied handle so multi-step flows
// (promotion grant, usage settlement) can compose into one atomic unit.
type Service interface {
	Credit(ctx context.Context, req CreditRequest) (*CreditTransaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditTransaction, error)
	Debit(ctx context.Context, req DebitRequest) (*DebitResult, error)
	DebitTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (*DebitResult, error)
	Balance(ctx context.Context, accountID snowflake.ID) (float64, error)
	BalanceTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (float64, error)
	History(ctx context.Context, accountID snowflake.ID, limit int) ([]CreditTransaction, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidKind     = errors.New("invalid_kind")
	ErrAccountNotFound = errors.New("account_not_found")
)

func ValidateKind(kind TransactionKind) error {
	switch kind {
	case KindPromotional, KindUsage, KindAdjustment:
		return nil
	default:
		return ErrInvalidKind
	}
}

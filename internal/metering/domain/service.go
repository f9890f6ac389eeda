package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SettleRequest struct {
	AccountID  snowflake.ID
	Model      string
	TokensUsed int64
	Metadata   map[string]interface{}
}

// SettlementResult is the full outcome of one settlement: the promotion
// decision, the billing decision, and the resulting balance.
type SettlementResult struct {
	Cost             float64
	PromotionGranted bool
	PaidWithCredits  bool
	ResultingBalance float64
	Record           *UsageRecord
}

// Service settles usage. A settlement evaluates the first-token promotion,
// prices the tokens, attempts the debit, and writes the usage record, all
// inside one database transaction.
type Service interface {
	Settle(ctx context.Context, req SettleRequest) (*SettlementResult, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID, limit int) ([]UsageRecord, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]UsageRecord, error)
}

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidModel        = errors.New("invalid_model")
	ErrInvalidTokens       = errors.New("invalid_tokens")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)

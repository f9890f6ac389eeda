package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Eligibility describes where an account stands relative to the first-token
// bonus window.
type Eligibility struct {
	Eligible      bool          `json:"eligible"`
	Claimed       bool          `json:"claimed"`
	TimeRemaining time.Duration `json:"-"`
}

// GrantResult reports a single evaluation. Granted is true only for the one
// call that claimed the bonus; repeat evaluations and expired windows return
// Granted=false with no error.
type GrantResult struct {
	Granted bool
	Amount  float64
}

// Service evaluates the first-token promotion. The bonus is granted at most
// once per account, and only when the account's first token is produced
// inside the configured window after signup.
type Service interface {
	EvaluateFirstToken(ctx context.Context, accountID snowflake.ID, at time.Time) (*GrantResult, error)
	EvaluateFirstTokenTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, at time.Time) (*GrantResult, error)
	CheckEligibility(ctx context.Context, accountID snowflake.ID) (*Eligibility, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrAccountNotFound = errors.New("account_not_found")
)

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	GetByID(ctx context.Context, id string) (*Response, error)
	GetByEmail(ctx context.Context, email string) (*Response, error)
	// GetCredits returns the composite billing view: current balance,
	// promotion status and recent transaction history.
	GetCredits(ctx context.Context, id string) (*CreditsView, error)
}

type CreateRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Response struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	CreditBalance     float64    `json:"credit_balance"`
	PromotionEligible bool       `json:"promotion_eligible"`
	PromotionClaimed  bool       `json:"promotion_claimed"`
	FirstTokenAt      *time.Time `json:"first_token_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type PromotionStatus struct {
	Eligible     bool       `json:"eligible"`
	Claimed      bool       `json:"claimed"`
	FirstTokenAt *time.Time `json:"first_token_at,omitempty"`
}

type CreditsView struct {
	Balance   float64                          `json:"balance"`
	Promotion PromotionStatus                  `json:"promotion_status"`
	History   []ledgerdomain.CreditTransaction `json:"history"`
}

var (
	ErrInvalidEmail = errors.New("invalid_email")
	ErrEmailTaken   = errors.New("email_taken")
	ErrInvalidID    = errors.New("invalid_id")
	ErrNotFound     = errors.New("account_not_found")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}

package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/marahq/tally/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *accountdomain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, email, name, credit_balance, promotion_eligible, promotion_claimed, first_token_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Email,
		a.Name,
		a.CreditBalance,
		a.PromotionEligible,
		a.PromotionClaimed,
		a.FirstTokenAt,
		a.CreatedAt,
		a.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, credit_balance, promotion_eligible, promotion_claimed, first_token_at, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, credit_balance, promotion_eligible, promotion_claimed, first_token_at, created_at, updated_at
		 FROM accounts WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *ledgerdomain.CreditTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (id, account_id, amount, kind, description, applied_at, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.AccountID,
		tx.Amount,
		tx.Kind,
		tx.Description,
		tx.AppliedAt,
		tx.ExpiresAt,
		tx.CreatedAt,
	).Error
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]ledgerdomain.CreditTransaction, error) {
	var txs []ledgerdomain.CreditTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, amount, kind, description, applied_at, expires_at, expired_at, created_at
		 FROM credit_transactions
		 WHERE account_id = ?
		 ORDER BY applied_at DESC, id DESC
		 LIMIT ?`,
		accountID,
		limit,
	).Scan(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *repo) SumByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (float64, error) {
	var sum float64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ?`,
		accountID,
	).Scan(&sum).Error
	return sum, err
}

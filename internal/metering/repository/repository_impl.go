package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	meteringdomain "github.com/marahq/tally/internal/metering/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() meteringdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *meteringdomain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, account_id, model, tokens_used, computed_cost, paid, metadata, settled_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		record.Model,
		record.TokensUsed,
		record.ComputedCost,
		record.Paid,
		record.Metadata,
		record.SettledAt,
		record.CreatedAt,
	).Error
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]meteringdomain.UsageRecord, error) {
	var records []meteringdomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, model, tokens_used, computed_cost, paid, metadata, settled_at, created_at
		 FROM usage_records
		 WHERE account_id = ?
		 ORDER BY settled_at DESC, id DESC
		 LIMIT ?`,
		accountID,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

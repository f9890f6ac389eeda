package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *CreditTransaction) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]CreditTransaction, error)
	SumByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (float64, error)
}

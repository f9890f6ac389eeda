package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord is the immutable audit row for one settled inference. It is
// written whether or not the debit collected.
type UsageRecord struct {
	ID           snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	AccountID    snowflake.ID      `gorm:"column:account_id" json:"account_id"`
	Model        string            `gorm:"column:model" json:"model"`
	TokensUsed   int64             `gorm:"column:tokens_used" json:"tokens_used"`
	ComputedCost float64           `gorm:"column:computed_cost" json:"computed_cost"`
	Paid         bool              `gorm:"column:paid" json:"paid"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	SettledAt    time.Time         `gorm:"column:settled_at" json:"settled_at"`
	CreatedAt    time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// Package domain contains the billing/credit identity for a platform user.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is the single source of truth for a user's credit balance and
// promotion state. The balance column is a cached projection of the
// credit_transactions log and is mutated only by the ledger service.
type Account struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Email             string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_email"`
	Name              string       `gorm:"type:text;not null"`
	CreditBalance     float64      `gorm:"not null;default:0"`
	PromotionEligible bool         `gorm:"not null;default:true"`
	PromotionClaimed  bool         `gorm:"not null;default:false"`
	FirstTokenAt      *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

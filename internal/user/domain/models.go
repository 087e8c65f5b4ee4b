// Package domain contains persistence models for marketplace users and
// discount tiers. Balance and discount fields are mutated by the ledger
// service only.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User carries the prepaid balance every purchase draws from. Amounts are
// integer cents.
type User struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	Email           string       `gorm:"type:text;not null;uniqueIndex"`
	BalanceCents    int64        `gorm:"not null;default:0"`
	CurrentDiscount int          `gorm:"not null;default:0"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// DiscountTier maps accumulated spend to a discount percentage. A user's
// discount is the highest tier whose MinSpentCents does not exceed their
// total spend.
type DiscountTier struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	Name            string       `gorm:"type:text;not null"`
	MinSpentCents   int64        `gorm:"not null"`
	DiscountPercent int          `gorm:"not null"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DiscountTier) TableName() string { return "discount_tiers" }

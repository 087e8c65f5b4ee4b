// Package domain contains the project model. Projects own content and are
// the ownership boundary checked before any charge.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Project struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OwnerID   snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	SiteURL   string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

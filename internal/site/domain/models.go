// Package domain contains the site model: a third-party website offering
// link/article slots. Quota counters are mutated by the inventory service
// only, atomically with the placement or rental consuming them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Site struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OwnerID      snowflake.ID `gorm:"not null;index"`
	URL          string       `gorm:"type:text;not null"`
	MaxLinks     int          `gorm:"not null;default:0"`
	UsedLinks    int          `gorm:"not null;default:0"`
	MaxArticles  int          `gorm:"not null;default:0"`
	UsedArticles int          `gorm:"not null;default:0"`

	// Optional per-site price overrides; zero means the marketplace default
	// from pricing config applies.
	LinkPriceCents    int64 `gorm:"not null;default:0"`
	ArticlePriceCents int64 `gorm:"not null;default:0"`

	// Publish gateway credentials for the site's CMS plugin.
	PublishEndpoint string `gorm:"type:text;not null"`
	PublishToken    string `gorm:"type:text;not null"`

	// Optional endpoint notified best-effort on rental state changes.
	WebhookURL string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Site) TableName() string { return "sites" }

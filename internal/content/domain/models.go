// Package domain contains the rentable content models. A link or article can
// be consumed by placements a limited number of times; exhaustion is a pure
// function of usage_count against usage_limit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ContentType discriminates links from articles across the marketplace.
type ContentType string

const (
	ContentTypeLink    ContentType = "link"
	ContentTypeArticle ContentType = "article"
)

// ContentStatus is derived state: exhausted when usage_count >= usage_limit.
type ContentStatus string

const (
	ContentStatusActive    ContentStatus = "active"
	ContentStatusExhausted ContentStatus = "exhausted"
)

// Link is an anchor+URL pair owned by a project.
type Link struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	ProjectID  snowflake.ID  `gorm:"not null;index"`
	URL        string        `gorm:"type:text;not null"`
	Anchor     string        `gorm:"type:text;not null"`
	UsageCount int           `gorm:"not null;default:0"`
	UsageLimit int           `gorm:"not null;default:1"`
	Status     ContentStatus `gorm:"type:text;not null;default:active"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Link) TableName() string { return "project_links" }

// Article is long-form content owned by a project.
type Article struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	ProjectID  snowflake.ID  `gorm:"not null;index"`
	Title      string        `gorm:"type:text;not null"`
	Body       string        `gorm:"type:text;not null"`
	UsageCount int           `gorm:"not null;default:0"`
	UsageLimit int           `gorm:"not null;default:1"`
	Status     ContentStatus `gorm:"type:text;not null;default:active"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Article) TableName() string { return "project_articles" }

// Exhausted reports whether a usage counter has hit its limit.
func Exhausted(usageCount, usageLimit int) bool {
	return usageCount >= usageLimit
}

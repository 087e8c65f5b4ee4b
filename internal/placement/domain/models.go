// Package domain contains the placement state machine: a paid piece of
// content living on a site for a fixed term.
//
// States: pending -> {scheduled, placed, failed}; scheduled -> {placed,
// failed}; placed -> expired. Delete is reachable from any non-terminal
// state. failed, expired and deleted are terminal.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlacementType string

const (
	PlacementTypeLink    PlacementType = "link"
	PlacementTypeArticle PlacementType = "article"
)

type PlacementStatus string

const (
	StatusPending   PlacementStatus = "pending"
	StatusScheduled PlacementStatus = "scheduled"
	StatusPlaced    PlacementStatus = "placed"
	StatusFailed    PlacementStatus = "failed"
	StatusExpired   PlacementStatus = "expired"
	StatusDeleted   PlacementStatus = "deleted"
)

// Terminal reports whether no further transition may leave the status.
func (s PlacementStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusExpired, StatusDeleted:
		return true
	}
	return false
}

type Placement struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	ProjectID snowflake.ID  `gorm:"not null;index"`
	SiteID    snowflake.ID  `gorm:"not null;index"`
	OwnerID   snowflake.ID  `gorm:"not null;index"`
	Type      PlacementType `gorm:"type:text;not null"`

	Status PlacementStatus `gorm:"type:text;not null;index"`

	// Pricing snapshot at purchase time. final = price - discount; renewals
	// reuse the snapshot so a later tier change never reprices a running
	// placement.
	PriceCents        int64 `gorm:"not null"`
	DiscountPercent   int   `gorm:"not null;default:0"`
	FinalPriceCents   int64 `gorm:"not null"`
	RenewalPriceCents int64 `gorm:"not null"`

	AutoRenewal bool `gorm:"not null;default:false"`

	ScheduledPublishAt *time.Time `gorm:"index"`
	PublishedAt        *time.Time
	ExpiresAt          *time.Time `gorm:"index"`

	// ExternalID is the content identifier on the remote site, set on
	// successful publish.
	ExternalID string `gorm:"type:text"`

	// RentalID links the placement to a slot rental when it was created
	// inside one.
	RentalID *snowflake.ID `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Placement) TableName() string { return "placements" }

// PlacementContent joins a placement to exactly one content row. Exactly one
// of LinkID/ArticleID is set; the migration enforces the XOR with a CHECK
// constraint.
type PlacementContent struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	PlacementID snowflake.ID  `gorm:"not null;index"`
	LinkID      *snowflake.ID `gorm:"index"`
	ArticleID   *snowflake.ID `gorm:"index"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlacementContent) TableName() string { return "placement_contents" }

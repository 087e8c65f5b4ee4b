// Package domain contains the site slot rental: a tenant leases a block of
// link/article slots on a site for a term, paid up front to the site owner.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	contentdomain "github.com/linkrent/linkrent/internal/content/domain"
	"gorm.io/datatypes"
)

type RentalStatus string

const (
	StatusActive   RentalStatus = "active"
	StatusExpired  RentalStatus = "expired"
	StatusCanceled RentalStatus = "canceled"
)

// HistoryEntry is one event in a rental's append-only history.
type HistoryEntry struct {
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

type SiteSlotRental struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	SiteID   snowflake.ID `gorm:"not null;index"`
	TenantID snowflake.ID `gorm:"not null;index"`

	// OwnerID is the site owner at rental time, denormalized so payouts stay
	// stable if the site changes hands.
	OwnerID snowflake.ID `gorm:"not null;index"`

	SlotType   contentdomain.ContentType `gorm:"type:text;not null"`
	SlotsCount int                       `gorm:"not null"`

	PriceCents  int64        `gorm:"not null"`
	AutoRenewal bool         `gorm:"not null;default:false"`
	Status      RentalStatus `gorm:"type:text;not null;index"`
	ExpiresAt   time.Time    `gorm:"not null;index"`

	History datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SiteSlotRental) TableName() string { return "site_slot_rentals" }

// AppendHistory returns the history JSON with one more entry. A corrupt
// history is replaced rather than propagated.
func AppendHistory(history datatypes.JSON, entry HistoryEntry) datatypes.JSON {
	var entries []HistoryEntry
	if len(history) > 0 {
		_ = json.Unmarshal(history, &entries)
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		return history
	}
	return datatypes.JSON(raw)
}

// RentalPlacement links a placement created inside a rental to the rental.
type RentalPlacement struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	RentalID    snowflake.ID `gorm:"not null;index"`
	PlacementID snowflake.ID `gorm:"not null;index"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RentalPlacement) TableName() string { return "rental_placements" }

// Package domain contains the notification record written for user-visible
// lifecycle events. Notifications are side effects: business state never
// depends on their delivery.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type NotificationType string

const (
	TypePlacementPublished     NotificationType = "placement_published"
	TypePlacementScheduled     NotificationType = "placement_scheduled"
	TypePlacementPublishFailed NotificationType = "placement_publish_failed"
	TypePlacementExpired       NotificationType = "placement_expired"
	TypePlacementDeleted       NotificationType = "placement_deleted"
	TypePlacementRenewed       NotificationType = "placement_renewed"
	TypeRenewalFailed          NotificationType = "renewal_failed"
	TypeRentalCreated          NotificationType = "rental_created"
	TypeRentalRenewed          NotificationType = "rental_renewed"
	TypeRentalExpired          NotificationType = "rental_expired"
	TypeRentalCanceled         NotificationType = "rental_canceled"
	TypeExpiryReminder         NotificationType = "expiry_reminder"
)

type Notification struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	UserID    snowflake.ID      `gorm:"not null;index"`
	Type      NotificationType  `gorm:"type:text;not null;index"`
	Title     string            `gorm:"type:text;not null"`
	Message   string            `gorm:"type:text;not null"`
	RefType   string            `gorm:"type:text"`
	RefID     string            `gorm:"type:text;index"`
	DedupeKey string            `gorm:"type:text;index"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

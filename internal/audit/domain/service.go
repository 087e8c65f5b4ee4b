package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrInvalidAction = errors.New("invalid_action")

// Service appends audit entries. When tx is non-nil the entry joins the
// caller's transaction so the audit trail commits or rolls back with the
// operation it describes; with a nil tx the entry is written standalone.
type Service interface {
	AuditLog(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error
}

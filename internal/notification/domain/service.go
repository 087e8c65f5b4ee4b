package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Message is the input to Notify.
type Message struct {
	UserID   snowflake.ID
	Type     NotificationType
	Title    string
	Body     string
	RefType  string
	RefID    string
	Metadata map[string]any

	// DedupeKey, when set, suppresses redelivery of the same logical
	// notification (reminder sweeps set it; transactional notifications
	// leave it empty).
	DedupeKey string
	DedupeTTL time.Duration
}

// Service records notifications. Notify is fire-and-forget from the caller's
// perspective: when tx is non-nil the row joins the caller's transaction for
// auditability, but callers must not fail their own operation on a Notify
// error.
type Service interface {
	Notify(ctx context.Context, tx *gorm.DB, msg Message) error
}

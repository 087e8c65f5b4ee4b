package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrProjectNotFound    = errors.New("project_not_found")
	ErrProjectNotOwned    = errors.New("project_not_owned")
	ErrSiteNotFound       = errors.New("site_not_found")
	ErrDuplicatePlacement = errors.New("duplicate_placement")
	ErrContentNotFound    = errors.New("content_not_found")
	ErrContentMismatch    = errors.New("content_project_mismatch")
	ErrContentExhausted   = errors.New("content_exhausted")
	ErrDuplicateContent   = errors.New("duplicate_content_in_placement")
	ErrNoContent          = errors.New("no_content_given")
	ErrInvalidType        = errors.New("invalid_placement_type")
	ErrPlacementNotFound  = errors.New("placement_not_found")
	ErrTerminalState      = errors.New("placement_in_terminal_state")
	ErrNotRenewable       = errors.New("placement_not_renewable")
	ErrNotScheduled       = errors.New("placement_not_scheduled")
	ErrNotPlaced          = errors.New("placement_not_placed")
)

// PurchaseInput describes one placement purchase. ScheduledAt in the future
// defers publication to the scheduler; zero or past means publish now.
type PurchaseInput struct {
	OwnerID     snowflake.ID
	ProjectID   snowflake.ID
	SiteID      snowflake.ID
	Type        PlacementType
	ContentIDs  []snowflake.ID
	ScheduledAt time.Time
	AutoRenewal bool

	// RentalID ties the placement to an existing slot rental; slots are then
	// consumed from the rental's reservation, not charged again.
	RentalID *snowflake.ID
}

type Service interface {
	// Purchase validates, charges and publishes (or schedules) in one unit of
	// work. Any failure leaves the user indistinguishable from never having
	// bought.
	Purchase(ctx context.Context, input PurchaseInput) (*Placement, error)

	// Delete removes a non-terminal placement: refund when the charge was not
	// already compensated, quota and usage restored, remote content removed
	// best-effort.
	Delete(ctx context.Context, placementID, actorID snowflake.ID) error

	// ActivateScheduled publishes a scheduled placement. The charge committed
	// at purchase time, so a publish failure here compensates with a refund
	// instead of a rollback.
	ActivateScheduled(ctx context.Context, placementID snowflake.ID) error

	// Expire transitions a placed placement past its term: quota and usage
	// restored, no refund.
	Expire(ctx context.Context, placementID snowflake.ID) error

	// Renew extends a placed link placement by one term after a fresh
	// balance check. ErrInsufficientBalance from the ledger surfaces to the
	// caller.
	Renew(ctx context.Context, placementID snowflake.ID) (*Placement, error)

	// Get returns a placement with its contents.
	Get(ctx context.Context, placementID snowflake.ID) (*Placement, []PlacementContent, error)
}

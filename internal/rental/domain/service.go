package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	contentdomain "github.com/linkrent/linkrent/internal/content/domain"
)

var (
	ErrSiteNotFound       = errors.New("site_not_found")
	ErrRentalNotFound     = errors.New("rental_not_found")
	ErrRentalNotActive    = errors.New("rental_not_active")
	ErrInvalidSlotsCount  = errors.New("invalid_slots_count")
	ErrInvalidSlotType    = errors.New("invalid_slot_type")
	ErrSelfRental         = errors.New("cannot_rent_own_site")
	ErrPlacementNotLinked = errors.New("placement_not_linked")

	// Lease validation for rental-linked purchases.
	ErrRentalNotOwned       = errors.New("rental_not_owned")
	ErrRentalSiteMismatch   = errors.New("rental_site_mismatch")
	ErrRentalSlotMismatch   = errors.New("rental_slot_type_mismatch")
	ErrRentalSlotsExhausted = errors.New("rental_slots_exhausted")
)

type CreateInput struct {
	SiteID      snowflake.ID
	TenantID    snowflake.ID
	SlotType    contentdomain.ContentType
	SlotsCount  int
	Term        time.Duration // zero means the configured placement term
	AutoRenewal bool
}

type Service interface {
	// Create charges the tenant and credits the site owner as one double
	// entry, reserves the slots and opens the lease.
	Create(ctx context.Context, input CreateInput) (*SiteSlotRental, error)

	// Renew mirrors creation's double entry and extends the rental together
	// with every linked placement.
	Renew(ctx context.Context, rentalID snowflake.ID) (*SiteSlotRental, error)

	// Expire ends the lease: every linked placement expires (quota and usage
	// restored, no refund), the slot reservation is released, both parties
	// are notified and the site webhook is pinged best-effort.
	Expire(ctx context.Context, rentalID snowflake.ID) error

	// Cancel is an explicit early termination with expiration semantics; no
	// remainder is refunded.
	Cancel(ctx context.Context, rentalID, actorID snowflake.ID) error

	// Get returns a rental with the IDs of its linked placements.
	Get(ctx context.Context, rentalID snowflake.ID) (*SiteSlotRental, []snowflake.ID, error)
}

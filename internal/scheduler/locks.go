package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	placementdomain "github.com/linkrent/linkrent/internal/placement/domain"
	rentaldomain "github.com/linkrent/linkrent/internal/rental/domain"
	"gorm.io/gorm"
)

// WorkPlacement is the claim projection for placement sweeps.
type WorkPlacement struct {
	ID                 snowflake.ID
	OwnerID            snowflake.ID
	Type               placementdomain.PlacementType
	Status             placementdomain.PlacementStatus
	AutoRenewal        bool
	ScheduledPublishAt *time.Time
	ExpiresAt          *time.Time
	RentalID           *snowflake.ID
}

// WorkRental is the claim projection for rental sweeps.
type WorkRental struct {
	ID          snowflake.ID
	TenantID    snowflake.ID
	OwnerID     snowflake.ID
	Status      rentaldomain.RentalStatus
	AutoRenewal bool
	ExpiresAt   time.Time
}

// claim runs fn in a short transaction with its own deadline so a contended
// claim cannot stall the whole sweep. Claimed rows stay locked only for the
// duration of the claim; processing takes fresh per-item locks.
func (s *Scheduler) claim(ctx context.Context, fn func(tx *gorm.DB) error) error {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.WithContext(claimCtx).Transaction(fn)
}

func (s *Scheduler) fetchRenewablePlacements(ctx context.Context, lead time.Duration, limit int) ([]WorkPlacement, error) {
	now := s.clock.Now()
	var placements []WorkPlacement
	err := s.claim(ctx, func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, owner_id, type, status, auto_renewal, scheduled_publish_at, expires_at, rental_id
			 FROM placements
			 WHERE status = ? AND type = ? AND auto_renewal = ? AND rental_id IS NULL
			   AND expires_at IS NOT NULL AND expires_at <= ?
			 ORDER BY expires_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			string(placementdomain.StatusPlaced),
			string(placementdomain.PlacementTypeLink),
			true,
			now.Add(lead),
			limit,
		).Scan(&placements).Error
	})
	if err != nil {
		return nil, err
	}
	return placements, nil
}

func (s *Scheduler) fetchRenewableRentals(ctx context.Context, lead time.Duration, limit int) ([]WorkRental, error) {
	now := s.clock.Now()
	var rentals []WorkRental
	err := s.claim(ctx, func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, tenant_id, owner_id, status, auto_renewal, expires_at
			 FROM site_slot_rentals
			 WHERE status = ? AND auto_renewal = ? AND expires_at <= ?
			 ORDER BY expires_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			string(rentaldomain.StatusActive),
			true,
			now.Add(lead),
			limit,
		).Scan(&rentals).Error
	})
	if err != nil {
		return nil, err
	}
	return rentals, nil
}

// fetchExpiredPlacements claims placed placements past their term. Rental
// linked placements are excluded: the rental sweep cascades over them.
func (s *Scheduler) fetchExpiredPlacements(ctx context.Context, limit int) ([]WorkPlacement, error) {
	now := s.clock.Now()
	var placements []WorkPlacement
	err := s.claim(ctx, func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, owner_id, type, status, auto_renewal, scheduled_publish_at, expires_at, rental_id
			 FROM placements
			 WHERE status = ? AND rental_id IS NULL
			   AND expires_at IS NOT NULL AND expires_at <= ?
			 ORDER BY expires_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			string(placementdomain.StatusPlaced),
			now,
			limit,
		).Scan(&placements).Error
	})
	if err != nil {
		return nil, err
	}
	return placements, nil
}

func (s *Scheduler) fetchDueScheduledPlacements(ctx context.Context, limit int) ([]WorkPlacement, error) {
	now := s.clock.Now()
	var placements []WorkPlacement
	err := s.claim(ctx, func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, owner_id, type, status, auto_renewal, scheduled_publish_at, expires_at, rental_id
			 FROM placements
			 WHERE status = ? AND scheduled_publish_at IS NOT NULL AND scheduled_publish_at <= ?
			 ORDER BY scheduled_publish_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			string(placementdomain.StatusScheduled),
			now,
			limit,
		).Scan(&placements).Error
	})
	if err != nil {
		return nil, err
	}
	return placements, nil
}

func (s *Scheduler) fetchExpiredRentals(ctx context.Context, limit int) ([]WorkRental, error) {
	now := s.clock.Now()
	var rentals []WorkRental
	err := s.claim(ctx, func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, tenant_id, owner_id, status, auto_renewal, expires_at
			 FROM site_slot_rentals
			 WHERE status = ? AND expires_at <= ?
			 ORDER BY expires_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			string(rentaldomain.StatusActive),
			now,
			limit,
		).Scan(&rentals).Error
	})
	if err != nil {
		return nil, err
	}
	return rentals, nil
}

// fetchReminderPlacements selects placements expiring inside one reminder
// band, (now+floor, now+lead], without auto-renewal. Reminders are
// notification-only, so no locking is needed; dedupe keys keep redelivery
// out.
func (s *Scheduler) fetchReminderPlacements(ctx context.Context, floor, lead time.Duration, limit int) ([]WorkPlacement, error) {
	now := s.clock.Now()
	var placements []WorkPlacement
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, owner_id, type, status, auto_renewal, scheduled_publish_at, expires_at, rental_id
		 FROM placements
		 WHERE status = ? AND auto_renewal = ?
		   AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`,
		string(placementdomain.StatusPlaced),
		false,
		now.Add(floor),
		now.Add(lead),
		limit,
	).Scan(&placements).Error
	if err != nil {
		return nil, err
	}
	return placements, nil
}

func (s *Scheduler) fetchReminderRentals(ctx context.Context, floor, lead time.Duration, limit int) ([]WorkRental, error) {
	now := s.clock.Now()
	var rentals []WorkRental
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, owner_id, status, auto_renewal, expires_at
		 FROM site_slot_rentals
		 WHERE status = ? AND auto_renewal = ?
		   AND expires_at > ? AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`,
		string(rentaldomain.StatusActive),
		false,
		now.Add(floor),
		now.Add(lead),
		limit,
	).Scan(&rentals).Error
	if err != nil {
		return nil, err
	}
	return rentals, nil
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/linkrent/linkrent/internal/audit/domain"
	"github.com/linkrent/linkrent/internal/clock"
	"github.com/linkrent/linkrent/internal/config"
	contentdomain "github.com/linkrent/linkrent/internal/content/domain"
	inventorydomain "github.com/linkrent/linkrent/internal/inventory/domain"
	ledgerdomain "github.com/linkrent/linkrent/internal/ledger/domain"
	notificationdomain "github.com/linkrent/linkrent/internal/notification/domain"
	placementdomain "github.com/linkrent/linkrent/internal/placement/domain"
	publisherdomain "github.com/linkrent/linkrent/internal/publisher/domain"
	rentaldomain "github.com/linkrent/linkrent/internal/rental/domain"
	sitedomain "github.com/linkrent/linkrent/internal/site/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Pricing    *config.PricingConfigHolder
	Ledger     ledgerdomain.Service
	Inventory  inventorydomain.Service
	Placements placementdomain.Service
	Notifier   notificationdomain.Service
	Webhooks   publisherdomain.WebhookDispatcher
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	pricing    *config.PricingConfigHolder
	ledger     ledgerdomain.Service
	inventory  inventorydomain.Service
	placements placementdomain.Service
	notifier   notificationdomain.Service
	webhooks   publisherdomain.WebhookDispatcher
	auditSvc   auditdomain.Service
}

func NewService(p Params) rentaldomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("rental.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		pricing:    p.Pricing,
		ledger:     p.Ledger,
		inventory:  p.Inventory,
		placements: p.Placements,
		notifier:   p.Notifier,
		webhooks:   p.Webhooks,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, input rentaldomain.CreateInput) (*rentaldomain.SiteSlotRental, error) {
	if input.SlotsCount <= 0 {
		return nil, rentaldomain.ErrInvalidSlotsCount
	}
	if input.SlotType != contentdomain.ContentTypeLink && input.SlotType != contentdomain.ContentTypeArticle {
		return nil, rentaldomain.ErrInvalidSlotType
	}

	var site sitedomain.Site
	err := s.db.WithContext(ctx).First(&site, "id = ?", input.SiteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rentaldomain.ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	if site.OwnerID == input.TenantID {
		return nil, rentaldomain.ErrSelfRental
	}

	pricing := s.pricing.Get()
	term := input.Term
	if term <= 0 {
		term = pricing.PlacementTerm
	}
	price := pricing.SlotPriceCents * int64(input.SlotsCount)

	now := s.clock.Now()
	rental := &rentaldomain.SiteSlotRental{
		ID:          s.genID.Generate(),
		SiteID:      input.SiteID,
		TenantID:    input.TenantID,
		OwnerID:     site.OwnerID,
		SlotType:    input.SlotType,
		SlotsCount:  input.SlotsCount,
		PriceCents:  price,
		AutoRenewal: input.AutoRenewal,
		Status:      rentaldomain.StatusActive,
		ExpiresAt:   now.Add(term),
		History: rentaldomain.AppendHistory(nil, rentaldomain.HistoryEntry{
			Action: "created",
			At:     now,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.inventory.CheckQuota(ctx, tx, input.SiteID, input.SlotType, input.SlotsCount); err != nil {
			return err
		}
		if err := s.inventory.Reserve(ctx, tx, input.SiteID, input.SlotType, input.SlotsCount); err != nil {
			return err
		}

		// Double entry: tenant pays, owner receives, same transaction. The
		// two rows reference each other through the rental id.
		meta := map[string]any{
			"rental_id": rental.ID.String(),
			"site_id":   input.SiteID.String(),
		}
		if _, err := s.ledger.Charge(ctx, tx, input.TenantID, price, ledgerdomain.TransactionTypeSlotRental, meta); err != nil {
			return err
		}
		if _, err := s.ledger.Credit(ctx, tx, site.OwnerID, price, ledgerdomain.TransactionTypeSlotRentalPayout, meta); err != nil {
			return err
		}

		if err := tx.Create(rental).Error; err != nil {
			return err
		}

		s.notifyBoth(ctx, tx, rental, notificationdomain.TypeRentalCreated,
			"Slot rental started",
			"The slot rental is active.")
		s.audit(ctx, tx, input.TenantID, "rental.created", rental.ID, map[string]any{
			"site_id":     input.SiteID.String(),
			"slots_count": input.SlotsCount,
			"price_cents": price,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rental, nil
}

func (s *Service) Renew(ctx context.Context, rentalID snowflake.ID) (*rentaldomain.SiteSlotRental, error) {
	var renewed rentaldomain.SiteSlotRental
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rental, err := s.lockRental(ctx, tx, rentalID)
		if err != nil {
			return err
		}
		if rental.Status != rentaldomain.StatusActive {
			return rentaldomain.ErrRentalNotActive
		}

		meta := map[string]any{
			"rental_id": rental.ID.String(),
			"site_id":   rental.SiteID.String(),
		}
		if _, err := s.ledger.Charge(ctx, tx, rental.TenantID, rental.PriceCents, ledgerdomain.TransactionTypeSlotRentalRenewal, meta); err != nil {
			return err
		}
		if _, err := s.ledger.Credit(ctx, tx, rental.OwnerID, rental.PriceCents, ledgerdomain.TransactionTypeSlotRentalPayout, meta); err != nil {
			return err
		}

		now := s.clock.Now()
		term := s.pricing.Get().PlacementTerm
		base := rental.ExpiresAt
		if base.Before(now) {
			base = now
		}
		expiresAt := base.Add(term)
		extension := expiresAt.Sub(rental.ExpiresAt)

		history := rentaldomain.AppendHistory(rental.History, rentaldomain.HistoryEntry{
			Action: "renewed",
			At:     now,
		})
		if err := tx.Exec(
			`UPDATE site_slot_rentals SET expires_at = ?, history = ?, updated_at = ? WHERE id = ?`,
			expiresAt,
			history,
			now,
			rental.ID,
		).Error; err != nil {
			return err
		}

		// Linked placements ride along with the lease. Interval arithmetic
		// differs per dialect, so the extension is computed here.
		var linked []struct {
			ID        snowflake.ID
			ExpiresAt time.Time
		}
		if err := tx.WithContext(ctx).Raw(
			`SELECT p.id, p.expires_at
			 FROM placements p
			 JOIN rental_placements rp ON rp.placement_id = p.id
			 WHERE rp.rental_id = ? AND p.status = ? AND p.expires_at IS NOT NULL`,
			rental.ID,
			string(placementdomain.StatusPlaced),
		).Scan(&linked).Error; err != nil {
			return err
		}
		for _, p := range linked {
			if err := tx.Exec(
				`UPDATE placements SET expires_at = ?, updated_at = ? WHERE id = ?`,
				p.ExpiresAt.Add(extension),
				now,
				p.ID,
			).Error; err != nil {
				return err
			}
		}

		s.notifyBoth(ctx, tx, rental, notificationdomain.TypeRentalRenewed,
			"Slot rental renewed",
			"The slot rental was extended by one term.")

		renewed = *rental
		renewed.ExpiresAt = expiresAt
		renewed.History = history
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &renewed, nil
}

func (s *Service) Expire(ctx context.Context, rentalID snowflake.ID) error {
	return s.terminate(ctx, rentalID, 0, rentaldomain.StatusExpired)
}

func (s *Service) Cancel(ctx context.Context, rentalID, actorID snowflake.ID) error {
	return s.terminate(ctx, rentalID, actorID, rentaldomain.StatusCanceled)
}

// terminate is the shared expire/cancel path. Linked placements are expired
// first, each in its own transaction so one stuck placement cannot wedge the
// whole cascade; the rental then closes in a final transaction.
func (s *Service) terminate(ctx context.Context, rentalID, actorID snowflake.ID, final rentaldomain.RentalStatus) error {
	rental, placementIDs, err := s.Get(ctx, rentalID)
	if err != nil {
		return err
	}
	if rental.Status != rentaldomain.StatusActive {
		return rentaldomain.ErrRentalNotActive
	}

	for _, id := range placementIDs {
		err := s.placements.Expire(ctx, id)
		if err == nil || errors.Is(err, placementdomain.ErrTerminalState) {
			continue
		}
		if errors.Is(err, placementdomain.ErrNotPlaced) {
			// Scheduled linked placements never went live; close them out so
			// the activation sweep cannot publish against released slots.
			err = s.placements.Delete(ctx, id, 0)
			if err == nil || errors.Is(err, placementdomain.ErrTerminalState) {
				continue
			}
		}
		s.log.Warn("linked placement cleanup failed",
			zap.String("rental_id", rentalID.String()),
			zap.String("placement_id", id.String()),
			zap.Error(err),
		)
	}

	action := "expired"
	notifType := notificationdomain.TypeRentalExpired
	title := "Slot rental expired"
	body := "The slot rental reached the end of its term."
	if final == rentaldomain.StatusCanceled {
		action = "canceled"
		notifType = notificationdomain.TypeRentalCanceled
		title = "Slot rental canceled"
		body = "The slot rental was canceled."
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockRental(ctx, tx, rentalID)
		if err != nil {
			return err
		}
		if locked.Status != rentaldomain.StatusActive {
			return rentaldomain.ErrRentalNotActive
		}

		if err := s.inventory.Release(ctx, tx, locked.SiteID, locked.SlotType, locked.SlotsCount); err != nil {
			return err
		}

		now := s.clock.Now()
		history := rentaldomain.AppendHistory(locked.History, rentaldomain.HistoryEntry{
			Action: action,
			At:     now,
		})
		if err := tx.Exec(
			`UPDATE site_slot_rentals SET status = ?, history = ?, updated_at = ? WHERE id = ?`,
			string(final),
			history,
			now,
			locked.ID,
		).Error; err != nil {
			return err
		}

		s.notifyBoth(ctx, tx, locked, notifType, title, body)
		if actorID != 0 {
			s.audit(ctx, tx, actorID, "rental."+action, locked.ID, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Site webhook fires after commit and never influences the outcome.
	s.pingWebhook(ctx, rental, "rental."+action)
	return nil
}

func (s *Service) Get(ctx context.Context, rentalID snowflake.ID) (*rentaldomain.SiteSlotRental, []snowflake.ID, error) {
	var rental rentaldomain.SiteSlotRental
	err := s.db.WithContext(ctx).First(&rental, "id = ?", rentalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, rentaldomain.ErrRentalNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var ids []snowflake.ID
	err = s.db.WithContext(ctx).Raw(
		`SELECT placement_id FROM rental_placements WHERE rental_id = ? ORDER BY created_at`,
		rentalID,
	).Scan(&ids).Error
	if err != nil {
		return nil, nil, err
	}
	return &rental, ids, nil
}

func (s *Service) lockRental(ctx context.Context, tx *gorm.DB, rentalID snowflake.ID) (*rentaldomain.SiteSlotRental, error) {
	var rental rentaldomain.SiteSlotRental
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM site_slot_rentals WHERE id = ? FOR UPDATE`,
		rentalID,
	).Scan(&rental).Error
	if err != nil {
		return nil, err
	}
	if rental.ID == 0 {
		return nil, rentaldomain.ErrRentalNotFound
	}
	return &rental, nil
}

func (s *Service) notifyBoth(ctx context.Context, tx *gorm.DB, rental *rentaldomain.SiteSlotRental, t notificationdomain.NotificationType, title, body string) {
	for _, userID := range []snowflake.ID{rental.TenantID, rental.OwnerID} {
		err := s.notifier.Notify(ctx, tx, notificationdomain.Message{
			UserID:  userID,
			Type:    t,
			Title:   title,
			Body:    body,
			RefType: "rental",
			RefID:   rental.ID.String(),
		})
		if err != nil {
			s.log.Warn("rental notification failed",
				zap.String("rental_id", rental.ID.String()),
				zap.String("type", string(t)),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) pingWebhook(ctx context.Context, rental *rentaldomain.SiteSlotRental, event string) {
	var url string
	err := s.db.WithContext(ctx).Raw(
		`SELECT webhook_url FROM sites WHERE id = ?`,
		rental.SiteID,
	).Scan(&url).Error
	if err != nil {
		s.log.Warn("webhook url lookup failed", zap.String("rental_id", rental.ID.String()), zap.Error(err))
		return
	}
	if url == "" {
		return
	}
	result := s.webhooks.Dispatch(ctx, url, event, map[string]any{
		"rental_id":   rental.ID.String(),
		"site_id":     rental.SiteID.String(),
		"slot_type":   string(rental.SlotType),
		"slots_count": rental.SlotsCount,
	})
	if result.Err != nil || !result.Delivered {
		s.log.Warn("rental webhook not delivered",
			zap.String("rental_id", rental.ID.String()),
			zap.String("event", event),
			zap.Int("status", result.Status),
			zap.Error(result.Err),
		)
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, action string, rentalID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := rentalID.String()
	if err := s.auditSvc.AuditLog(ctx, tx, actorID, action, "rental", &target, metadata); err != nil {
		s.log.Warn("rental audit log failed", zap.String("action", action), zap.Error(err))
	}
}

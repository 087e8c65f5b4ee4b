package service

import (
	"context"
	"errors"
	"fmt"
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
	pkgdb "github.com/linkrent/linkrent/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Pricing   *config.PricingConfigHolder
	Ledger    ledgerdomain.Service
	Inventory inventorydomain.Service
	Gateway   publisherdomain.Gateway
	Notifier  notificationdomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	pricing   *config.PricingConfigHolder
	ledger    ledgerdomain.Service
	inventory inventorydomain.Service
	gateway   publisherdomain.Gateway
	notifier  notificationdomain.Service
	auditSvc  auditdomain.Service
}

func NewService(p Params) placementdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("placement.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		pricing:   p.Pricing,
		ledger:    p.Ledger,
		inventory: p.Inventory,
		gateway:   p.Gateway,
		notifier:  p.Notifier,
		auditSvc:  p.AuditSvc,
	}
}

// contentRow is the projection shared by link and article validation.
type contentRow struct {
	ID         snowflake.ID
	ProjectID  snowflake.ID
	UsageCount int
	UsageLimit int
	Status     string

	Title  string
	URL    string
	Anchor string
	Body   string
}

func contentTypeOf(t placementdomain.PlacementType) (contentdomain.ContentType, error) {
	switch t {
	case placementdomain.PlacementTypeLink:
		return contentdomain.ContentTypeLink, nil
	case placementdomain.PlacementTypeArticle:
		return contentdomain.ContentTypeArticle, nil
	default:
		return "", placementdomain.ErrInvalidType
	}
}

func (s *Service) Purchase(ctx context.Context, input placementdomain.PurchaseInput) (*placementdomain.Placement, error) {
	contentType, err := contentTypeOf(input.Type)
	if err != nil {
		return nil, err
	}
	if len(input.ContentIDs) == 0 {
		return nil, placementdomain.ErrNoContent
	}

	// Pre-condition checks run outside the transaction and are ordered so
	// the first failure short-circuits with zero side effects.
	if err := s.checkProjectOwnership(ctx, input.ProjectID, input.OwnerID); err != nil {
		return nil, err
	}
	site, err := s.loadSite(ctx, s.db, input.SiteID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, input.ProjectID, input.SiteID, input.Type); err != nil {
		return nil, err
	}
	contents, err := s.validateContents(ctx, contentType, input.ProjectID, input.ContentIDs)
	if err != nil {
		return nil, err
	}

	price, discount, finalPrice, err := s.quote(ctx, site, input.Type, len(contents), input.OwnerID)
	if err != nil {
		return nil, err
	}
	rented := input.RentalID != nil
	if rented {
		// Slots and money were settled when the rental was created.
		finalPrice = 0
	}

	now := s.clock.Now()
	scheduled := input.ScheduledAt.After(now)
	pricing := s.pricing.Get()

	placement := &placementdomain.Placement{
		ID:                s.genID.Generate(),
		ProjectID:         input.ProjectID,
		SiteID:            input.SiteID,
		OwnerID:           input.OwnerID,
		Type:              input.Type,
		Status:            placementdomain.StatusPending,
		PriceCents:        price,
		DiscountPercent:   discount,
		FinalPriceCents:   finalPrice,
		RenewalPriceCents: finalPrice,
		AutoRenewal:       input.AutoRenewal,
		RentalID:          input.RentalID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if scheduled {
		at := input.ScheduledAt
		placement.ScheduledPublishAt = &at
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rented {
			if err := s.claimRentalSlots(ctx, tx, *input.RentalID, input.OwnerID, input.SiteID, contentType, len(contents)); err != nil {
				return err
			}
		} else {
			if err := s.inventory.CheckQuota(ctx, tx, input.SiteID, contentType, len(contents)); err != nil {
				return err
			}
			if err := s.inventory.Reserve(ctx, tx, input.SiteID, contentType, len(contents)); err != nil {
				return err
			}
		}

		if finalPrice > 0 {
			if _, err := s.ledger.Charge(ctx, tx, input.OwnerID, finalPrice, ledgerdomain.TransactionTypePurchase, map[string]any{
				"placement_id": placement.ID.String(),
				"site_id":      input.SiteID.String(),
				"type":         string(input.Type),
			}); err != nil {
				return err
			}
		}

		if scheduled {
			placement.Status = placementdomain.StatusScheduled
		}
		if err := tx.Create(placement).Error; err != nil {
			return err
		}
		if rented {
			if err := tx.Exec(
				`INSERT INTO rental_placements (id, rental_id, placement_id, created_at) VALUES (?, ?, ?, ?)`,
				s.genID.Generate(),
				*input.RentalID,
				placement.ID,
				now,
			).Error; err != nil {
				return err
			}
		}

		for _, c := range contents {
			pc := placementdomain.PlacementContent{
				ID:          s.genID.Generate(),
				PlacementID: placement.ID,
				CreatedAt:   now,
			}
			id := c.ID
			if contentType == contentdomain.ContentTypeLink {
				pc.LinkID = &id
			} else {
				pc.ArticleID = &id
			}
			if err := tx.Create(&pc).Error; err != nil {
				if pkgdb.IsDuplicateKeyErr(err) {
					return placementdomain.ErrDuplicateContent
				}
				return err
			}
			if _, err := s.inventory.MarkUsed(ctx, tx, contentType, c.ID); err != nil {
				return err
			}
		}

		if scheduled {
			s.notify(ctx, tx, placement, notificationdomain.TypePlacementScheduled,
				"Placement scheduled",
				fmt.Sprintf("Publication scheduled for %s", input.ScheduledAt.Format(time.RFC3339)))
		} else {
			// Synchronous publish inside the unit of work: a gateway failure
			// rolls everything back, so the buyer is never charged for
			// content that did not go live.
			externalID, err := s.publish(ctx, site, input.Type, contents)
			if err != nil {
				return err
			}
			publishedAt := now
			expiresAt := now.Add(pricing.PlacementTerm)
			placement.Status = placementdomain.StatusPlaced
			placement.PublishedAt = &publishedAt
			placement.ExpiresAt = &expiresAt
			placement.ExternalID = externalID
			if err := tx.Exec(
				`UPDATE placements SET status = ?, published_at = ?, expires_at = ?, external_id = ?, updated_at = ? WHERE id = ?`,
				string(placement.Status),
				publishedAt,
				expiresAt,
				externalID,
				now,
				placement.ID,
			).Error; err != nil {
				return err
			}
			s.notify(ctx, tx, placement, notificationdomain.TypePlacementPublished,
				"Placement published",
				"Your content is live.")
		}

		s.audit(ctx, tx, input.OwnerID, "placement.purchased", placement.ID, map[string]any{
			"site_id":     input.SiteID.String(),
			"type":        string(input.Type),
			"final_price": finalPrice,
			"scheduled":   scheduled,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placement, nil
}

func (s *Service) Delete(ctx context.Context, placementID, actorID snowflake.ID) error {
	var removed *remoteRef
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		placement, contents, err := s.lockPlacement(ctx, tx, placementID)
		if err != nil {
			return err
		}
		if placement.Status.Terminal() {
			return placementdomain.ErrTerminalState
		}

		// Deletion is symmetric with creation: the refund compensates the
		// purchase charge, quota and usage go back where they came from.
		if err := s.compensate(ctx, tx, placement, contents, placement.RentalID == nil); err != nil {
			return err
		}

		if err := tx.Exec(
			`UPDATE placements SET status = ?, updated_at = ? WHERE id = ?`,
			string(placementdomain.StatusDeleted),
			s.clock.Now(),
			placement.ID,
		).Error; err != nil {
			return err
		}

		if placement.ExternalID != "" {
			removed = s.remoteRefFor(ctx, tx, placement)
		}

		deleteBody := "The placement was removed."
		if placement.RentalID == nil && placement.FinalPriceCents > 0 {
			deleteBody = "The placement was removed and the unused amount refunded."
		}
		s.notify(ctx, tx, placement, notificationdomain.TypePlacementDeleted,
			"Placement deleted",
			deleteBody)
		s.audit(ctx, tx, actorID, "placement.deleted", placement.ID, map[string]any{
			"previous_status": string(placement.Status),
		})
		return nil
	})
	if err != nil {
		return err
	}

	// Remote takedown is best-effort after commit; local state never waits
	// on the external site.
	if removed != nil {
		if err := s.gateway.Remove(ctx, removed.creds, removed.externalID); err != nil {
			s.log.Warn("remote takedown failed",
				zap.String("placement_id", placementID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) ActivateScheduled(ctx context.Context, placementID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		placement, contents, err := s.lockPlacement(ctx, tx, placementID)
		if err != nil {
			return err
		}
		if placement.Status != placementdomain.StatusScheduled {
			return placementdomain.ErrNotScheduled
		}

		site, err := s.loadSite(ctx, tx, placement.SiteID)
		if err != nil {
			return err
		}
		contentType, err := contentTypeOf(placement.Type)
		if err != nil {
			return err
		}
		rows, err := s.contentRows(ctx, tx, contentType, contents)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var externalID string
		var pubErr error
		if placement.RentalID != nil {
			// The lease may have closed while this placement waited; publishing
			// against released slots would leak content past the rental.
			pubErr = s.requireActiveRental(ctx, tx, *placement.RentalID)
		}
		if pubErr == nil {
			externalID, pubErr = s.publish(ctx, site, placement.Type, rows)
		}
		if pubErr != nil {
			// The purchase charge committed long ago, so rollback cannot
			// undo it; compensate with an explicit refund instead.
			if err := s.compensate(ctx, tx, placement, contents, placement.RentalID == nil); err != nil {
				return err
			}
			if err := tx.Exec(
				`UPDATE placements SET status = ?, updated_at = ? WHERE id = ?`,
				string(placementdomain.StatusFailed),
				now,
				placement.ID,
			).Error; err != nil {
				return err
			}
			failBody := "Scheduled publication failed; the charge was refunded."
			if placement.RentalID != nil {
				failBody = "Scheduled publication failed."
			}
			s.notify(ctx, tx, placement, notificationdomain.TypePlacementPublishFailed,
				"Publication failed",
				failBody)
			s.log.Warn("scheduled publish failed",
				zap.String("placement_id", placement.ID.String()),
				zap.Error(pubErr),
			)
			return nil
		}

		publishedAt := now
		expiresAt := now.Add(s.pricing.Get().PlacementTerm)
		if err := tx.Exec(
			`UPDATE placements SET status = ?, published_at = ?, expires_at = ?, external_id = ?, updated_at = ? WHERE id = ?`,
			string(placementdomain.StatusPlaced),
			publishedAt,
			expiresAt,
			externalID,
			now,
			placement.ID,
		).Error; err != nil {
			return err
		}
		s.notify(ctx, tx, placement, notificationdomain.TypePlacementPublished,
			"Placement published",
			"Your scheduled content is live.")
		return nil
	})
}

func (s *Service) Expire(ctx context.Context, placementID snowflake.ID) error {
	var removed *remoteRef
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		placement, contents, err := s.lockPlacement(ctx, tx, placementID)
		if err != nil {
			return err
		}
		if placement.Status != placementdomain.StatusPlaced {
			return placementdomain.ErrNotPlaced
		}

		// The term was fully consumed: quota and usage come back, money
		// does not.
		if err := s.compensate(ctx, tx, placement, contents, false); err != nil {
			return err
		}
		if err := tx.Exec(
			`UPDATE placements SET status = ?, updated_at = ? WHERE id = ?`,
			string(placementdomain.StatusExpired),
			s.clock.Now(),
			placement.ID,
		).Error; err != nil {
			return err
		}

		if placement.ExternalID != "" {
			removed = s.remoteRefFor(ctx, tx, placement)
		}

		s.notify(ctx, tx, placement, notificationdomain.TypePlacementExpired,
			"Placement expired",
			"The placement reached the end of its term.")
		return nil
	})
	if err != nil {
		return err
	}
	if removed != nil {
		if err := s.gateway.Remove(ctx, removed.creds, removed.externalID); err != nil {
			s.log.Warn("remote takedown failed",
				zap.String("placement_id", placementID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) Renew(ctx context.Context, placementID snowflake.ID) (*placementdomain.Placement, error) {
	var renewed placementdomain.Placement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		placement, _, err := s.lockPlacement(ctx, tx, placementID)
		if err != nil {
			return err
		}
		if placement.Status != placementdomain.StatusPlaced {
			return placementdomain.ErrNotPlaced
		}
		if placement.Type != placementdomain.PlacementTypeLink {
			return placementdomain.ErrNotRenewable
		}

		if placement.RenewalPriceCents > 0 {
			// Charge takes its own FOR UPDATE on the user row; the balance
			// is checked under that lock, never from an earlier read.
			if _, err := s.ledger.Charge(ctx, tx, placement.OwnerID, placement.RenewalPriceCents, ledgerdomain.TransactionTypeRenewal, map[string]any{
				"placement_id": placement.ID.String(),
			}); err != nil {
				return err
			}
		}

		base := s.clock.Now()
		if placement.ExpiresAt != nil && placement.ExpiresAt.After(base) {
			base = *placement.ExpiresAt
		}
		expiresAt := base.Add(s.pricing.Get().PlacementTerm)
		if err := tx.Exec(
			`UPDATE placements SET expires_at = ?, updated_at = ? WHERE id = ?`,
			expiresAt,
			s.clock.Now(),
			placement.ID,
		).Error; err != nil {
			return err
		}

		s.notify(ctx, tx, placement, notificationdomain.TypePlacementRenewed,
			"Placement renewed",
			fmt.Sprintf("Extended until %s", expiresAt.Format(time.RFC3339)))

		renewed = *placement
		renewed.ExpiresAt = &expiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &renewed, nil
}

func (s *Service) Get(ctx context.Context, placementID snowflake.ID) (*placementdomain.Placement, []placementdomain.PlacementContent, error) {
	var placement placementdomain.Placement
	err := s.db.WithContext(ctx).First(&placement, "id = ?", placementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, placementdomain.ErrPlacementNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var contents []placementdomain.PlacementContent
	if err := s.db.WithContext(ctx).Where("placement_id = ?", placementID).Find(&contents).Error; err != nil {
		return nil, nil, err
	}
	return &placement, contents, nil
}

// --- internals ---

func (s *Service) checkProjectOwnership(ctx context.Context, projectID, ownerID snowflake.ID) error {
	var row struct {
		ID      snowflake.ID
		OwnerID snowflake.ID
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, owner_id FROM projects WHERE id = ?`,
		projectID,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.ID == 0 {
		return placementdomain.ErrProjectNotFound
	}
	if row.OwnerID != ownerID {
		return placementdomain.ErrProjectNotOwned
	}
	return nil
}

func (s *Service) loadSite(ctx context.Context, tx *gorm.DB, siteID snowflake.ID) (*sitedomain.Site, error) {
	var site sitedomain.Site
	err := tx.WithContext(ctx).First(&site, "id = ?", siteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, placementdomain.ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Service) checkDuplicate(ctx context.Context, projectID, siteID snowflake.ID, t placementdomain.PlacementType) error {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM placements
		 WHERE project_id = ? AND site_id = ? AND type = ? AND status IN ?`,
		projectID,
		siteID,
		string(t),
		[]string{
			string(placementdomain.StatusPending),
			string(placementdomain.StatusScheduled),
			string(placementdomain.StatusPlaced),
		},
	).Scan(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return placementdomain.ErrDuplicatePlacement
	}
	return nil
}

func (s *Service) validateContents(ctx context.Context, contentType contentdomain.ContentType, projectID snowflake.ID, ids []snowflake.ID) ([]contentRow, error) {
	table := "project_links"
	cols := `id, project_id, usage_count, usage_limit, status, url, anchor, '' AS title, '' AS body`
	if contentType == contentdomain.ContentTypeArticle {
		table = "project_articles"
		cols = `id, project_id, usage_count, usage_limit, status, '' AS url, '' AS anchor, title, body`
	}

	rows := make([]contentRow, 0, len(ids))
	for _, id := range ids {
		var row contentRow
		err := s.db.WithContext(ctx).Raw(
			`SELECT `+cols+` FROM `+table+` WHERE id = ?`,
			id,
		).Scan(&row).Error
		if err != nil {
			return nil, err
		}
		if row.ID == 0 {
			return nil, placementdomain.ErrContentNotFound
		}
		if row.ProjectID != projectID {
			return nil, placementdomain.ErrContentMismatch
		}
		if row.Status == string(contentdomain.ContentStatusExhausted) ||
			contentdomain.Exhausted(row.UsageCount, row.UsageLimit) {
			return nil, placementdomain.ErrContentExhausted
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// quote computes the pricing snapshot: site override or marketplace default,
// minus the buyer's current discount tier.
func (s *Service) quote(ctx context.Context, site *sitedomain.Site, t placementdomain.PlacementType, count int, ownerID snowflake.ID) (price int64, discount int, final int64, err error) {
	pricing := s.pricing.Get()

	var unit int64
	switch t {
	case placementdomain.PlacementTypeLink:
		unit = site.LinkPriceCents
		if unit <= 0 {
			unit = pricing.LinkPriceCents
		}
	case placementdomain.PlacementTypeArticle:
		unit = site.ArticlePriceCents
		if unit <= 0 {
			unit = pricing.ArticlePriceCents
		}
	default:
		return 0, 0, 0, placementdomain.ErrInvalidType
	}
	price = unit * int64(count)

	err = s.db.WithContext(ctx).Raw(
		`SELECT current_discount FROM users WHERE id = ?`,
		ownerID,
	).Scan(&discount).Error
	if err != nil {
		return 0, 0, 0, err
	}

	final = price - price*int64(discount)/100
	return price, discount, final, nil
}

func (s *Service) publish(ctx context.Context, site *sitedomain.Site, t placementdomain.PlacementType, rows []contentRow) (string, error) {
	creds := publisherdomain.Credentials{
		Endpoint: site.PublishEndpoint,
		Token:    site.PublishToken,
	}
	// One external ID per placement; multi-link placements publish as a
	// single batch on the remote side, so the first content carries the
	// payload head.
	head := rows[0]
	content := publisherdomain.Content{
		Kind:       string(t),
		Title:      head.Title,
		URL:        head.URL,
		AnchorText: head.Anchor,
		Body:       head.Body,
	}
	return s.gateway.Publish(ctx, creds, content)
}

// lockPlacement loads a placement FOR UPDATE together with its content rows.
func (s *Service) lockPlacement(ctx context.Context, tx *gorm.DB, placementID snowflake.ID) (*placementdomain.Placement, []placementdomain.PlacementContent, error) {
	var placement placementdomain.Placement
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM placements WHERE id = ? FOR UPDATE`,
		placementID,
	).Scan(&placement).Error
	if err != nil {
		return nil, nil, err
	}
	if placement.ID == 0 {
		return nil, nil, placementdomain.ErrPlacementNotFound
	}
	var contents []placementdomain.PlacementContent
	if err := tx.WithContext(ctx).Where("placement_id = ?", placementID).Find(&contents).Error; err != nil {
		return nil, nil, err
	}
	return &placement, contents, nil
}

// claimRentalSlots validates a rental-linked purchase against the lease under
// lock: the lease must be active, held by the buyer for this site and slot
// type, and its reservation must still have room for the new contents.
func (s *Service) claimRentalSlots(ctx context.Context, tx *gorm.DB, rentalID, tenantID, siteID snowflake.ID, slotType contentdomain.ContentType, count int) error {
	var rental rentaldomain.SiteSlotRental
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM site_slot_rentals WHERE id = ? FOR UPDATE`,
		rentalID,
	).Scan(&rental).Error; err != nil {
		return err
	}
	if rental.ID == 0 {
		return rentaldomain.ErrRentalNotFound
	}
	if rental.Status != rentaldomain.StatusActive {
		return rentaldomain.ErrRentalNotActive
	}
	if rental.TenantID != tenantID {
		return rentaldomain.ErrRentalNotOwned
	}
	if rental.SiteID != siteID {
		return rentaldomain.ErrRentalSiteMismatch
	}
	if rental.SlotType != slotType {
		return rentaldomain.ErrRentalSlotMismatch
	}

	// Closed linked placements gave their slot back to the lease.
	var taken int
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM rental_placements rp
		 JOIN placements p ON p.id = rp.placement_id
		 WHERE rp.rental_id = ? AND p.status NOT IN ?`,
		rentalID,
		[]string{
			string(placementdomain.StatusFailed),
			string(placementdomain.StatusExpired),
			string(placementdomain.StatusDeleted),
		},
	).Scan(&taken).Error
	if err != nil {
		return err
	}
	if taken+count > rental.SlotsCount {
		return rentaldomain.ErrRentalSlotsExhausted
	}
	return nil
}

func (s *Service) requireActiveRental(ctx context.Context, tx *gorm.DB, rentalID snowflake.ID) error {
	var status string
	if err := tx.WithContext(ctx).Raw(
		`SELECT status FROM site_slot_rentals WHERE id = ? FOR UPDATE`,
		rentalID,
	).Scan(&status).Error; err != nil {
		return err
	}
	if status != string(rentaldomain.StatusActive) {
		return rentaldomain.ErrRentalNotActive
	}
	return nil
}

// compensate undoes the resource side of a purchase inside tx: optional
// refund of the snapshot price, slot release, usage restore. It is the single
// code path for both delete and publish-failure compensation.
func (s *Service) compensate(ctx context.Context, tx *gorm.DB, placement *placementdomain.Placement, contents []placementdomain.PlacementContent, withRefund bool) error {
	contentType, err := contentTypeOf(placement.Type)
	if err != nil {
		return err
	}

	if withRefund && placement.FinalPriceCents > 0 {
		if _, err := s.ledger.Refund(ctx, tx, placement.OwnerID, placement.FinalPriceCents, map[string]any{
			"placement_id": placement.ID.String(),
		}); err != nil {
			return err
		}
	}

	if placement.RentalID == nil && len(contents) > 0 {
		if err := s.inventory.Release(ctx, tx, placement.SiteID, contentType, len(contents)); err != nil {
			return err
		}
	}
	for _, c := range contents {
		id := c.LinkID
		if id == nil {
			id = c.ArticleID
		}
		if id == nil {
			continue
		}
		if err := s.inventory.RestoreUsage(ctx, tx, contentType, *id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) contentRows(ctx context.Context, tx *gorm.DB, contentType contentdomain.ContentType, contents []placementdomain.PlacementContent) ([]contentRow, error) {
	ids := make([]snowflake.ID, 0, len(contents))
	for _, c := range contents {
		if c.LinkID != nil {
			ids = append(ids, *c.LinkID)
		} else if c.ArticleID != nil {
			ids = append(ids, *c.ArticleID)
		}
	}
	if len(ids) == 0 {
		return nil, placementdomain.ErrNoContent
	}

	table := "project_links"
	cols := `id, project_id, usage_count, usage_limit, status, url, anchor, '' AS title, '' AS body`
	if contentType == contentdomain.ContentTypeArticle {
		table = "project_articles"
		cols = `id, project_id, usage_count, usage_limit, status, '' AS url, '' AS anchor, title, body`
	}
	rows := make([]contentRow, 0, len(ids))
	for _, id := range ids {
		var row contentRow
		err := tx.WithContext(ctx).Raw(`SELECT `+cols+` FROM `+table+` WHERE id = ?`, id).Scan(&row).Error
		if err != nil {
			return nil, err
		}
		if row.ID == 0 {
			return nil, placementdomain.ErrContentNotFound
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type remoteRef struct {
	creds      publisherdomain.Credentials
	externalID string
}

func (s *Service) remoteRefFor(ctx context.Context, tx *gorm.DB, placement *placementdomain.Placement) *remoteRef {
	site, err := s.loadSite(ctx, tx, placement.SiteID)
	if err != nil {
		s.log.Warn("site lookup for takedown failed",
			zap.String("placement_id", placement.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	return &remoteRef{
		creds: publisherdomain.Credentials{
			Endpoint: site.PublishEndpoint,
			Token:    site.PublishToken,
		},
		externalID: placement.ExternalID,
	}
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, placement *placementdomain.Placement, t notificationdomain.NotificationType, title, body string) {
	err := s.notifier.Notify(ctx, tx, notificationdomain.Message{
		UserID:  placement.OwnerID,
		Type:    t,
		Title:   title,
		Body:    body,
		RefType: "placement",
		RefID:   placement.ID.String(),
	})
	if err != nil {
		s.log.Warn("placement notification failed",
			zap.String("placement_id", placement.ID.String()),
			zap.String("type", string(t)),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, action string, placementID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := placementID.String()
	if err := s.auditSvc.AuditLog(ctx, tx, actorID, action, "placement", &target, metadata); err != nil {
		s.log.Warn("placement audit log failed", zap.String("action", action), zap.Error(err))
	}
}

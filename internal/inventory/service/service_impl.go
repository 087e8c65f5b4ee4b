package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/linkrent/linkrent/internal/clock"
	contentdomain "github.com/linkrent/linkrent/internal/content/domain"
	inventorydomain "github.com/linkrent/linkrent/internal/inventory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) inventorydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("inventory.service"),
		clock: p.Clock,
	}
}

// usageColumns maps a content type to the site quota columns it consumes.
func usageColumns(contentType contentdomain.ContentType) (usedCol, maxCol string, err error) {
	switch contentType {
	case contentdomain.ContentTypeLink:
		return "used_links", "max_links", nil
	case contentdomain.ContentTypeArticle:
		return "used_articles", "max_articles", nil
	default:
		return "", "", inventorydomain.ErrInvalidContentType
	}
}

func contentTable(contentType contentdomain.ContentType) (string, error) {
	switch contentType {
	case contentdomain.ContentTypeLink:
		return "project_links", nil
	case contentdomain.ContentTypeArticle:
		return "project_articles", nil
	default:
		return "", inventorydomain.ErrInvalidContentType
	}
}

func (s *Service) CheckQuota(ctx context.Context, tx *gorm.DB, siteID snowflake.ID, contentType contentdomain.ContentType, count int) error {
	if tx == nil {
		return inventorydomain.ErrMissingTransaction
	}
	if count <= 0 {
		return inventorydomain.ErrInvalidCount
	}
	usedCol, maxCol, err := usageColumns(contentType)
	if err != nil {
		return err
	}

	var row struct {
		ID   snowflake.ID
		Used int
		Max  int
	}
	err = tx.WithContext(ctx).Raw(
		`SELECT id, `+usedCol+` AS used, `+maxCol+` AS max
		 FROM sites
		 WHERE id = ?
		 FOR UPDATE`,
		siteID,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.ID == 0 {
		return inventorydomain.ErrSiteNotFound
	}
	if row.Used+count > row.Max {
		return inventorydomain.ErrQuotaExceeded
	}
	return nil
}

func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, siteID snowflake.ID, contentType contentdomain.ContentType, count int) error {
	if tx == nil {
		return inventorydomain.ErrMissingTransaction
	}
	if count <= 0 {
		return inventorydomain.ErrInvalidCount
	}
	usedCol, maxCol, err := usageColumns(contentType)
	if err != nil {
		return err
	}

	// The WHERE guard re-checks the quota at write time; a zero rows-affected
	// result means a concurrent writer took the last slot.
	res := tx.WithContext(ctx).Exec(
		`UPDATE sites
		 SET `+usedCol+` = `+usedCol+` + ?, updated_at = ?
		 WHERE id = ? AND `+usedCol+` + ? <= `+maxCol,
		count,
		s.clock.Now(),
		siteID,
		count,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := tx.WithContext(ctx).Raw(`SELECT COUNT(1) FROM sites WHERE id = ?`, siteID).Scan(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return inventorydomain.ErrSiteNotFound
		}
		return inventorydomain.ErrQuotaExceeded
	}
	return nil
}

func (s *Service) Release(ctx context.Context, tx *gorm.DB, siteID snowflake.ID, contentType contentdomain.ContentType, count int) error {
	if tx == nil {
		return inventorydomain.ErrMissingTransaction
	}
	if count <= 0 {
		return inventorydomain.ErrInvalidCount
	}
	usedCol, _, err := usageColumns(contentType)
	if err != nil {
		return err
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE sites
		 SET `+usedCol+` = CASE WHEN `+usedCol+` >= ? THEN `+usedCol+` - ? ELSE 0 END,
		     updated_at = ?
		 WHERE id = ?`,
		count,
		count,
		s.clock.Now(),
		siteID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return inventorydomain.ErrSiteNotFound
	}
	return nil
}

func (s *Service) MarkUsed(ctx context.Context, tx *gorm.DB, contentType contentdomain.ContentType, contentID snowflake.ID) (bool, error) {
	if tx == nil {
		return false, inventorydomain.ErrMissingTransaction
	}
	table, err := contentTable(contentType)
	if err != nil {
		return false, err
	}

	var row struct {
		ID         snowflake.ID
		UsageCount int
		UsageLimit int
		Status     string
	}
	err = tx.WithContext(ctx).Raw(
		`SELECT id, usage_count, usage_limit, status
		 FROM `+table+`
		 WHERE id = ?
		 FOR UPDATE`,
		contentID,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	if row.ID == 0 {
		return false, inventorydomain.ErrContentNotFound
	}
	if row.Status == string(contentdomain.ContentStatusExhausted) ||
		contentdomain.Exhausted(row.UsageCount, row.UsageLimit) {
		return false, inventorydomain.ErrContentExhausted
	}

	newCount := row.UsageCount + 1
	status := contentdomain.ContentStatusActive
	if contentdomain.Exhausted(newCount, row.UsageLimit) {
		status = contentdomain.ContentStatusExhausted
	}
	if err := tx.WithContext(ctx).Exec(
		`UPDATE `+table+` SET usage_count = ?, status = ?, updated_at = ? WHERE id = ?`,
		newCount,
		string(status),
		s.clock.Now(),
		contentID,
	).Error; err != nil {
		return false, err
	}
	return status == contentdomain.ContentStatusExhausted, nil
}

func (s *Service) RestoreUsage(ctx context.Context, tx *gorm.DB, contentType contentdomain.ContentType, contentID snowflake.ID) error {
	if tx == nil {
		return inventorydomain.ErrMissingTransaction
	}
	table, err := contentTable(contentType)
	if err != nil {
		return err
	}

	// Decrementing below the limit always reactivates the content, so a
	// restored slot is immediately purchasable again.
	res := tx.WithContext(ctx).Exec(
		`UPDATE `+table+`
		 SET usage_count = CASE WHEN usage_count > 0 THEN usage_count - 1 ELSE 0 END,
		     status = ?,
		     updated_at = ?
		 WHERE id = ?`,
		string(contentdomain.ContentStatusActive),
		s.clock.Now(),
		contentID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return inventorydomain.ErrContentNotFound
	}
	return nil
}

func (s *Service) Availability(ctx context.Context, siteID snowflake.ID) (inventorydomain.Availability, error) {
	var row struct {
		ID           snowflake.ID
		MaxLinks     int
		UsedLinks    int
		MaxArticles  int
		UsedArticles int
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, max_links, used_links, max_articles, used_articles
		 FROM sites
		 WHERE id = ?`,
		siteID,
	).Scan(&row).Error
	if err != nil {
		return inventorydomain.Availability{}, err
	}
	if row.ID == 0 {
		return inventorydomain.Availability{}, inventorydomain.ErrSiteNotFound
	}
	return inventorydomain.Availability{
		SiteID:            siteID,
		AvailableLinks:    maxInt(row.MaxLinks-row.UsedLinks, 0),
		AvailableArticles: maxInt(row.MaxArticles-row.UsedArticles, 0),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

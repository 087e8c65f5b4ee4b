// Package domain declares the inventory accounting contract: site slot
// quotas and per-content usage counters. All mutations happen inside the
// caller's database transaction; inventory never commits on its own.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	contentdomain "github.com/linkrent/linkrent/internal/content/domain"
	"gorm.io/gorm"
)

var (
	ErrSiteNotFound       = errors.New("site_not_found")
	ErrContentNotFound    = errors.New("content_not_found")
	ErrContentExhausted   = errors.New("content_exhausted")
	ErrQuotaExceeded      = errors.New("quota_exceeded")
	ErrInvalidCount       = errors.New("invalid_count")
	ErrInvalidContentType = errors.New("invalid_content_type")
	ErrMissingTransaction = errors.New("missing_transaction_handle")
)

// Availability is the read-only quota projection exposed to marketplace
// listings: available = max - used, never written by consumers.
type Availability struct {
	SiteID            snowflake.ID `json:"site_id"`
	AvailableLinks    int          `json:"available_links"`
	AvailableArticles int          `json:"available_articles"`
}

type Service interface {
	// CheckQuota locks the site row and verifies count slots of the given
	// type are free. The lock is held until the caller's transaction ends,
	// so a following Reserve cannot race a concurrent purchase.
	CheckQuota(ctx context.Context, tx *gorm.DB, siteID snowflake.ID, contentType contentdomain.ContentType, count int) error

	// Reserve consumes count slots; must follow a CheckQuota in the same
	// transaction. The update is guarded so oversubscription fails even if
	// the caller skipped the check.
	Reserve(ctx context.Context, tx *gorm.DB, siteID snowflake.ID, contentType contentdomain.ContentType, count int) error

	// Release returns count slots, flooring used at zero.
	Release(ctx context.Context, tx *gorm.DB, siteID snowflake.ID, contentType contentdomain.ContentType, count int) error

	// MarkUsed increments the content's usage counter under a row lock and
	// reports whether the content is now exhausted. Exhausted content is
	// rejected with ErrContentExhausted.
	MarkUsed(ctx context.Context, tx *gorm.DB, contentType contentdomain.ContentType, contentID snowflake.ID) (bool, error)

	// RestoreUsage is the exact inverse of MarkUsed, floored at zero.
	RestoreUsage(ctx context.Context, tx *gorm.DB, contentType contentdomain.ContentType, contentID snowflake.ID) error

	// Availability returns the current quota projection for a site.
	Availability(ctx context.Context, siteID snowflake.ID) (Availability, error)
}

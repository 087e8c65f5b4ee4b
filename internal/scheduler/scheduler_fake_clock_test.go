package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/linkrent/linkrent/internal/clock"
	"github.com/linkrent/linkrent/internal/config"
	contentdomain "github.com/linkrent/linkrent/internal/content/domain"
	inventoryservice "github.com/linkrent/linkrent/internal/inventory/service"
	ledgerservice "github.com/linkrent/linkrent/internal/ledger/service"
	notificationservice "github.com/linkrent/linkrent/internal/notification/service"
	obsmetrics "github.com/linkrent/linkrent/internal/observability/metrics"
	placementdomain "github.com/linkrent/linkrent/internal/placement/domain"
	placementservice "github.com/linkrent/linkrent/internal/placement/service"
	"github.com/linkrent/linkrent/internal/publisher/publishertest"
	rentaldomain "github.com/linkrent/linkrent/internal/rental/domain"
	rentalservice "github.com/linkrent/linkrent/internal/rental/service"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestScheduler_RunOnce_FakeClock_31Days walks a simulated month: placements
// and a rental bought on day 0, a scheduled placement going live on day 10,
// auto-renewals firing inside the lead window on day 28, and the expiration
// sweep cleaning up on day 31.
func TestScheduler_RunOnce_FakeClock_31Days(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// SQLite support hack: remove FOR UPDATE clauses
	stripLock := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLock)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLock)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, balance_cents INTEGER NOT NULL DEFAULT 0, current_discount INTEGER NOT NULL DEFAULT 0, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE discount_tiers (id INTEGER PRIMARY KEY, name TEXT, min_spent_cents INTEGER, discount_percent INTEGER)`,
		`CREATE TABLE transactions (id INTEGER PRIMARY KEY, user_id INTEGER, type TEXT, amount_cents INTEGER, balance_before_cents INTEGER, balance_after_cents INTEGER, metadata TEXT, created_at DATETIME)`,
		`CREATE TABLE projects (id INTEGER PRIMARY KEY, owner_id INTEGER, name TEXT, site_url TEXT)`,
		`CREATE TABLE project_links (id INTEGER PRIMARY KEY, project_id INTEGER, url TEXT, anchor TEXT, usage_count INTEGER NOT NULL DEFAULT 0, usage_limit INTEGER NOT NULL DEFAULT 1, status TEXT NOT NULL DEFAULT 'active', updated_at DATETIME)`,
		`CREATE TABLE project_articles (id INTEGER PRIMARY KEY, project_id INTEGER, title TEXT, body TEXT, usage_count INTEGER NOT NULL DEFAULT 0, usage_limit INTEGER NOT NULL DEFAULT 1, status TEXT NOT NULL DEFAULT 'active', updated_at DATETIME)`,
		`CREATE TABLE sites (id INTEGER PRIMARY KEY, owner_id INTEGER, url TEXT, max_links INTEGER NOT NULL DEFAULT 0, used_links INTEGER NOT NULL DEFAULT 0, max_articles INTEGER NOT NULL DEFAULT 0, used_articles INTEGER NOT NULL DEFAULT 0, link_price_cents INTEGER NOT NULL DEFAULT 0, article_price_cents INTEGER NOT NULL DEFAULT 0, publish_endpoint TEXT, publish_token TEXT, webhook_url TEXT, updated_at DATETIME)`,
		`CREATE TABLE placements (id INTEGER PRIMARY KEY, project_id INTEGER, site_id INTEGER, owner_id INTEGER, type TEXT, status TEXT, price_cents INTEGER, discount_percent INTEGER, final_price_cents INTEGER, renewal_price_cents INTEGER, auto_renewal BOOLEAN, scheduled_publish_at DATETIME, published_at DATETIME, expires_at DATETIME, external_id TEXT, rental_id INTEGER, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE placement_contents (id INTEGER PRIMARY KEY, placement_id INTEGER, link_id INTEGER, article_id INTEGER, created_at DATETIME)`,
		`CREATE TABLE site_slot_rentals (id INTEGER PRIMARY KEY, site_id INTEGER, tenant_id INTEGER, owner_id INTEGER, slot_type TEXT, slots_count INTEGER, price_cents INTEGER, auto_renewal BOOLEAN, status TEXT, expires_at DATETIME, history TEXT, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE rental_placements (id INTEGER PRIMARY KEY, rental_id INTEGER, placement_id INTEGER, created_at DATETIME)`,
		`CREATE TABLE notifications (id INTEGER PRIMARY KEY, user_id INTEGER, type TEXT, title TEXT, message TEXT, ref_type TEXT, ref_id TEXT, dedupe_key TEXT, metadata TEXT, created_at DATETIME)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	startTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.NewFakeClock(startTime)
	log := zap.NewNop()
	pricing := config.NewStaticPricingConfigHolder(config.DefaultPricingConfig())

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: fakeClock})
	inventorySvc := inventoryservice.NewService(inventoryservice.Params{DB: db, Log: log, Clock: fakeClock})
	notifier := notificationservice.NewService(notificationservice.Params{DB: db, Log: log, GenID: node, Clock: fakeClock})
	gateway := publishertest.NewFakeGateway()
	dispatcher := publishertest.NewFakeDispatcher()
	placementSvc := placementservice.NewService(placementservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Pricing: pricing,
		Ledger: ledgerSvc, Inventory: inventorySvc, Gateway: gateway, Notifier: notifier,
	})
	rentalSvc := rentalservice.NewService(rentalservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock, Pricing: pricing,
		Ledger: ledgerSvc, Inventory: inventorySvc, Placements: placementSvc,
		Notifier: notifier, Webhooks: dispatcher,
	})

	sched, err := New(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fakeClock,
		Pricing:      pricing,
		PlacementSvc: placementSvc,
		RentalSvc:    rentalSvc,
		Notifier:     notifier,
		Config: Config{
			BatchSize:  10,
			ChunkSize:  2,
			JobTimeout: 30 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}

	// Seed: a rich buyer, a buyer who will run dry, one site owner.
	richBuyer := snowflake.ID(1)
	poorBuyer := snowflake.ID(2)
	owner := snowflake.ID(9)
	siteID := snowflake.ID(201)
	for _, stmt := range []string{
		`INSERT INTO users (id, email, balance_cents) VALUES (1, 'rich@example.com', 20000)`,
		`INSERT INTO users (id, email, balance_cents) VALUES (2, 'poor@example.com', 3000)`,
		`INSERT INTO users (id, email, balance_cents) VALUES (9, 'owner@example.com', 0)`,
		`INSERT INTO projects (id, owner_id, name, site_url) VALUES (101, 1, 'auto', 'https://a.example.com')`,
		`INSERT INTO projects (id, owner_id, name, site_url) VALUES (102, 2, 'dry', 'https://b.example.com')`,
		`INSERT INTO projects (id, owner_id, name, site_url) VALUES (103, 1, 'manual', 'https://c.example.com')`,
		`INSERT INTO projects (id, owner_id, name, site_url) VALUES (104, 1, 'later', 'https://d.example.com')`,
		`INSERT INTO sites (id, owner_id, url, max_links, max_articles, publish_endpoint, publish_token)
		 VALUES (201, 9, 'https://blog.example.com', 10, 2, 'https://blog.example.com/wp-json/linkrent/v1', 'token')`,
		`INSERT INTO project_links (id, project_id, url, anchor, usage_limit) VALUES (301, 101, 'https://a.example.com/p', 'a', 5)`,
		`INSERT INTO project_links (id, project_id, url, anchor, usage_limit) VALUES (302, 102, 'https://b.example.com/p', 'b', 5)`,
		`INSERT INTO project_links (id, project_id, url, anchor, usage_limit) VALUES (303, 103, 'https://c.example.com/p', 'c', 5)`,
		`INSERT INTO project_links (id, project_id, url, anchor, usage_limit) VALUES (304, 104, 'https://d.example.com/p', 'd', 5)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	ctx := context.Background()
	buy := func(buyer, project, link snowflake.ID, auto bool, scheduledAt time.Time) *placementdomain.Placement {
		t.Helper()
		p, err := placementSvc.Purchase(ctx, placementdomain.PurchaseInput{
			OwnerID:     buyer,
			ProjectID:   project,
			SiteID:      siteID,
			Type:        placementdomain.PlacementTypeLink,
			ContentIDs:  []snowflake.ID{link},
			AutoRenewal: auto,
			ScheduledAt: scheduledAt,
		})
		if err != nil {
			t.Fatalf("purchase: %v", err)
		}
		return p
	}

	autoRenewing := buy(richBuyer, 101, 301, true, time.Time{})
	willRunDry := buy(poorBuyer, 102, 302, true, time.Time{})
	oneTerm := buy(richBuyer, 103, 303, false, time.Time{})
	deferred := buy(richBuyer, 104, 304, false, startTime.Add(10*24*time.Hour))

	rental, err := rentalSvc.Create(ctx, rentaldomain.CreateInput{
		SiteID:      siteID,
		TenantID:    richBuyer,
		SlotType:    contentdomain.ContentTypeLink,
		SlotsCount:  1,
		AutoRenewal: true,
	})
	if err != nil {
		t.Fatalf("rent slots: %v", err)
	}

	status := func(id snowflake.ID) placementdomain.PlacementStatus {
		t.Helper()
		var s string
		if err := db.Raw(`SELECT status FROM placements WHERE id = ?`, id).Scan(&s).Error; err != nil {
			t.Fatalf("placement status: %v", err)
		}
		return placementdomain.PlacementStatus(s)
	}
	balance := func(id snowflake.ID) int64 {
		t.Helper()
		var b int64
		if err := db.Raw(`SELECT balance_cents FROM users WHERE id = ?`, id).Scan(&b).Error; err != nil {
			t.Fatalf("balance: %v", err)
		}
		return b
	}
	count := func(query string, args ...any) int64 {
		t.Helper()
		var c int64
		if err := db.Raw(query, args...).Scan(&c).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		return c
	}

	// Day 0: nothing is due yet.
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce day 0: %v", err)
	}
	if got := status(deferred.ID); got != placementdomain.StatusScheduled {
		t.Fatalf("deferred placement should still be scheduled on day 0, got %s", got)
	}

	// Day 10: the deferred publication goes live.
	fakeClock.Advance(10 * 24 * time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce day 10: %v", err)
	}
	if got := status(deferred.ID); got != placementdomain.StatusPlaced {
		t.Fatalf("deferred placement should be placed on day 10, got %s", got)
	}

	// Day 28: inside the 3-day renewal lead for everything bought on day 0.
	fakeClock.Advance(18 * 24 * time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce day 28: %v", err)
	}

	// 20000 - 3 purchases - rental - renewal - rental renewal.
	if got := balance(richBuyer); got != 8_000 {
		t.Fatalf("rich buyer balance = %d, want 8000", got)
	}
	if got := count(`SELECT COUNT(1) FROM transactions WHERE user_id = ? AND type = 'renewal'`, richBuyer); got != 1 {
		t.Fatalf("expected 1 renewal transaction, got %d", got)
	}
	if got := count(`SELECT COUNT(1) FROM transactions WHERE type = 'slot_rental_renewal'`); got != 1 {
		t.Fatalf("expected 1 rental renewal transaction, got %d", got)
	}
	if got := balance(owner); got != 2_000 {
		t.Fatalf("owner balance = %d, want 2000 (rental plus its renewal)", got)
	}

	// The dry buyer was skipped, notified, and not charged.
	if got := balance(poorBuyer); got != 500 {
		t.Fatalf("poor buyer balance = %d, want 500", got)
	}
	if got := count(`SELECT COUNT(1) FROM notifications WHERE type = 'renewal_failed' AND user_id = ?`, poorBuyer); got != 1 {
		t.Fatalf("expected 1 renewal_failed notification, got %d", got)
	}

	// A reminder went out for the one-term placement at the 7-day lead.
	reminderKey := "expiry_reminder:placement:" + oneTerm.ID.String() + ":7d"
	if got := count(`SELECT COUNT(1) FROM notifications WHERE dedupe_key = ?`, reminderKey); got != 1 {
		t.Fatalf("expected 1 reminder at the 7d lead, got %d", got)
	}

	// A second run on the same day is a no-op: renewed items left the window,
	// dedupe suppresses repeated notifications.
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce day 28 again: %v", err)
	}
	if got := balance(richBuyer); got != 8_000 {
		t.Fatalf("second run on the same day charged again: balance %d", got)
	}
	if got := count(`SELECT COUNT(1) FROM notifications WHERE dedupe_key = ?`, reminderKey); got != 1 {
		t.Fatalf("reminder deduplication failed, got %d rows", got)
	}
	if got := count(`SELECT COUNT(1) FROM notifications WHERE type = 'renewal_failed' AND user_id = ?`, poorBuyer); got != 1 {
		t.Fatalf("renewal_failed deduplication failed, got %d rows", got)
	}

	// Day 31: everything not renewed is past its term.
	fakeClock.Advance(3 * 24 * time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce day 31: %v", err)
	}

	if got := status(autoRenewing.ID); got != placementdomain.StatusPlaced {
		t.Fatalf("renewed placement should survive day 31, got %s", got)
	}
	if got := status(oneTerm.ID); got != placementdomain.StatusExpired {
		t.Fatalf("one-term placement should be expired, got %s", got)
	}
	if got := status(willRunDry.ID); got != placementdomain.StatusExpired {
		t.Fatalf("unrenewed placement should be expired, got %s", got)
	}
	if got := status(deferred.ID); got != placementdomain.StatusPlaced {
		t.Fatalf("deferred placement expires on day 40, got %s", got)
	}

	var rentalStatus string
	if err := db.Raw(`SELECT status FROM site_slot_rentals WHERE id = ?`, rental.ID).Scan(&rentalStatus).Error; err != nil {
		t.Fatalf("rental status: %v", err)
	}
	if rentalStatus != string(rentaldomain.StatusActive) {
		t.Fatalf("renewed rental should still be active, got %s", rentalStatus)
	}

	// Two placements released their slots; the rental and the rest hold on.
	if got := count(`SELECT used_links FROM sites WHERE id = ?`, siteID); got != 3 {
		t.Fatalf("used_links = %d, want 3", got)
	}
	if got := count(`SELECT COUNT(1) FROM transactions WHERE type = 'refund'`); got != 0 {
		t.Fatalf("expiration must not refund, got %d refunds", got)
	}
}

// TestReminderLeadsFireOncePerBand pins the banding of reminder windows: an
// item two days from expiry gets the 7-day reminder and only that one, not
// the 30-day reminder whose window would otherwise cover it too.
func TestReminderLeadsFireOncePerBand(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE placements (id INTEGER PRIMARY KEY, project_id INTEGER, site_id INTEGER, owner_id INTEGER, type TEXT, status TEXT, price_cents INTEGER, discount_percent INTEGER, final_price_cents INTEGER, renewal_price_cents INTEGER, auto_renewal BOOLEAN, scheduled_publish_at DATETIME, published_at DATETIME, expires_at DATETIME, external_id TEXT, rental_id INTEGER, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE site_slot_rentals (id INTEGER PRIMARY KEY, site_id INTEGER, tenant_id INTEGER, owner_id INTEGER, slot_type TEXT, slots_count INTEGER, price_cents INTEGER, auto_renewal BOOLEAN, status TEXT, expires_at DATETIME, history TEXT, created_at DATETIME, updated_at DATETIME)`,
		`CREATE TABLE notifications (id INTEGER PRIMARY KEY, user_id INTEGER, type TEXT, title TEXT, message TEXT, ref_type TEXT, ref_id TEXT, dedupe_key TEXT, metadata TEXT, created_at DATETIME)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.NewFakeClock(start)
	notifier := notificationservice.NewService(notificationservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fakeClock,
	})

	s := &Scheduler{
		db:       db,
		log:      zap.NewNop(),
		genID:    node,
		clock:    fakeClock,
		notifier: notifier,
		cfg: Config{
			BatchSize: 10,
			ReminderLeads: []time.Duration{
				30 * 24 * time.Hour,
				7 * 24 * time.Hour,
				24 * time.Hour,
			},
		},
	}

	for _, stmt := range []string{
		`INSERT INTO placements (id, project_id, site_id, owner_id, type, status, price_cents, discount_percent, final_price_cents, renewal_price_cents, auto_renewal, expires_at)
		 VALUES (1, 101, 201, 1, 'link', 'placed', 2500, 0, 2500, 2500, 0, ?)`,
		`INSERT INTO placements (id, project_id, site_id, owner_id, type, status, price_cents, discount_percent, final_price_cents, renewal_price_cents, auto_renewal, expires_at)
		 VALUES (2, 102, 201, 1, 'link', 'placed', 2500, 0, 2500, 2500, 0, ?)`,
	} {
		expiresAt := start.Add(2 * 24 * time.Hour)
		if strings.Contains(stmt, "VALUES (2,") {
			expiresAt = start.Add(20 * 24 * time.Hour)
		}
		if err := db.Exec(stmt, expiresAt).Error; err != nil {
			t.Fatalf("seed placement: %v", err)
		}
	}

	if err := s.ReminderJob(context.Background()); err != nil {
		t.Fatalf("ReminderJob: %v", err)
	}

	var total int64
	if err := db.Raw(`SELECT COUNT(1) FROM notifications WHERE type = 'expiry_reminder'`).Scan(&total).Error; err != nil {
		t.Fatalf("count reminders: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected one reminder per placement, got %d", total)
	}

	var key string
	if err := db.Raw(`SELECT dedupe_key FROM notifications WHERE ref_id = '1'`).Scan(&key).Error; err != nil {
		t.Fatalf("reminder key: %v", err)
	}
	if key != "expiry_reminder:placement:1:7d" {
		t.Fatalf("placement two days out belongs to the 7d band, got key %q", key)
	}
	if err := db.Raw(`SELECT dedupe_key FROM notifications WHERE ref_id = '2'`).Scan(&key).Error; err != nil {
		t.Fatalf("reminder key: %v", err)
	}
	if key != "expiry_reminder:placement:2:30d" {
		t.Fatalf("placement twenty days out belongs to the 30d band, got key %q", key)
	}
}

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	notificationdomain "github.com/linkrent/linkrent/internal/notification/domain"
	"go.uber.org/zap"
)

// ReminderJob is notification-only: it warns owners and tenants about
// upcoming expiry at each configured lead. Leads are banded so each item
// falls into exactly one window per sweep: the 30-day band ends where the
// 7-day band begins. The dedupe key carries the lead label so the 7-day
// reminder does not suppress the 1-day one.
func (s *Scheduler) ReminderJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "reminders", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	leads := append([]time.Duration(nil), s.cfg.ReminderLeads...)
	sort.Slice(leads, func(i, j int) bool { return leads[i] > leads[j] })

	for i, lead := range leads {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		label := leadLabel(lead)
		var floor time.Duration
		if i+1 < len(leads) {
			floor = leads[i+1]
		}

		placements, err := s.fetchReminderPlacements(ctx, floor, lead, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.claim.failed", "reminders", err)
			return err
		}
		for _, p := range placements {
			s.sendReminder(ctx, run, p.OwnerID, "placement", p.ID.String(), label, *p.ExpiresAt)
		}

		rentals, err := s.fetchReminderRentals(ctx, floor, lead, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.claim.failed", "reminders", err)
			return err
		}
		for _, r := range rentals {
			s.sendReminder(ctx, run, r.TenantID, "rental", r.ID.String(), label, r.ExpiresAt)
		}
	}

	return nil
}

func (s *Scheduler) sendReminder(ctx context.Context, run *jobRun, userID snowflake.ID, refType, refID, leadLabel string, expiresAt time.Time) {
	err := s.notifier.Notify(ctx, nil, notificationdomain.Message{
		UserID:    userID,
		Type:      notificationdomain.TypeExpiryReminder,
		Title:     "Expiry reminder",
		Body:      fmt.Sprintf("Expires at %s.", expiresAt.Format(time.RFC3339)),
		RefType:   refType,
		RefID:     refID,
		DedupeKey: fmt.Sprintf("expiry_reminder:%s:%s:%s", refType, refID, leadLabel),
		DedupeTTL: 48 * time.Hour,
	})
	if err != nil {
		s.logSchedulerError(run, "scheduler.reminder.failed", "reminders", err,
			zap.String("ref_type", refType),
			zap.String("ref_id", refID),
		)
		return
	}
	run.AddProcessed(1)
}

func leadLabel(lead time.Duration) string {
	days := int(lead / (24 * time.Hour))
	if days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	return lead.String()
}

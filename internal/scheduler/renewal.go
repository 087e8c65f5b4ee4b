package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/linkrent/linkrent/internal/ledger/domain"
	notificationdomain "github.com/linkrent/linkrent/internal/notification/domain"
	obsmetrics "github.com/linkrent/linkrent/internal/observability/metrics"
	"go.uber.org/zap"
)

// RenewalJob renews auto-renewal placements and rentals approaching their
// expiry. Insufficient balance is not an error: the item is skipped and the
// owner notified, next tick tries again until the term actually ends.
func (s *Scheduler) RenewalJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "renewal", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	lead := s.pricing.Get().RenewalLeadTime
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	placements, err := s.fetchRenewablePlacements(ctx, lead, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(run, "scheduler.claim.failed", "renewal", err)
		return err
	}
	jobErr = errors.Join(jobErr, processChunked(ctx, s.cfg.ChunkSize, placements, func(ctx context.Context, p WorkPlacement) error {
		_, err := s.placementSvc.Renew(ctx, p.ID)
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			s.notifyRenewalFailed(ctx, p.OwnerID, "placement", p.ID.String())
			return nil
		}
		if err != nil {
			s.logSchedulerError(run, "scheduler.placement.renew.failed", "renewal", err,
				zap.String("placement_id", idString(p.ID)),
			)
			return err
		}
		run.AddProcessed(1)
		return nil
	}))
	schedMetrics.AddBatchProcessed("renewal", "placements", len(placements))

	rentals, err := s.fetchRenewableRentals(ctx, lead, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(run, "scheduler.claim.failed", "renewal", err)
		return errors.Join(jobErr, err)
	}
	jobErr = errors.Join(jobErr, processChunked(ctx, s.cfg.ChunkSize, rentals, func(ctx context.Context, r WorkRental) error {
		_, err := s.rentalSvc.Renew(ctx, r.ID)
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			s.notifyRenewalFailed(ctx, r.TenantID, "rental", r.ID.String())
			return nil
		}
		if err != nil {
			s.logSchedulerError(run, "scheduler.rental.renew.failed", "renewal", err,
				zap.String("rental_id", idString(r.ID)),
			)
			return err
		}
		run.AddProcessed(1)
		return nil
	}))
	schedMetrics.AddBatchProcessed("renewal", "rentals", len(rentals))

	return jobErr
}

func (s *Scheduler) notifyRenewalFailed(ctx context.Context, userID snowflake.ID, refType, refID string) {
	err := s.notifier.Notify(ctx, nil, notificationdomain.Message{
		UserID:    userID,
		Type:      notificationdomain.TypeRenewalFailed,
		Title:     "Renewal failed",
		Body:      "Automatic renewal was skipped: insufficient balance.",
		RefType:   refType,
		RefID:     refID,
		DedupeKey: "renewal_failed:" + refType + ":" + refID,
	})
	if err != nil {
		s.log.Warn("renewal failure notification failed",
			zap.String("ref_type", refType),
			zap.String("ref_id", refID),
			zap.Error(err),
		)
	}
}

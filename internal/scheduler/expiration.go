package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/linkrent/linkrent/internal/observability/metrics"
	placementdomain "github.com/linkrent/linkrent/internal/placement/domain"
	rentaldomain "github.com/linkrent/linkrent/internal/rental/domain"
	"go.uber.org/zap"
)

// ExpirationJob is the cleanup sweep: scheduled placements whose publish
// time arrived get published (or failed with a compensating refund),
// placed placements past their term expire, rentals past their term cascade.
func (s *Scheduler) ExpirationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "expiration", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	due, err := s.fetchDueScheduledPlacements(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(run, "scheduler.claim.failed", "expiration", err)
		return err
	}
	jobErr = errors.Join(jobErr, processChunked(ctx, s.cfg.ChunkSize, due, func(ctx context.Context, p WorkPlacement) error {
		err := s.placementSvc.ActivateScheduled(ctx, p.ID)
		if errors.Is(err, placementdomain.ErrNotScheduled) {
			// Someone else got there first.
			return nil
		}
		if err != nil {
			s.logSchedulerError(run, "scheduler.placement.activate.failed", "expiration", err,
				zap.String("placement_id", idString(p.ID)),
			)
			return err
		}
		run.AddProcessed(1)
		return nil
	}))
	schedMetrics.AddBatchProcessed("expiration", "scheduled_placements", len(due))

	expired, err := s.fetchExpiredPlacements(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(run, "scheduler.claim.failed", "expiration", err)
		return errors.Join(jobErr, err)
	}
	jobErr = errors.Join(jobErr, processChunked(ctx, s.cfg.ChunkSize, expired, func(ctx context.Context, p WorkPlacement) error {
		err := s.placementSvc.Expire(ctx, p.ID)
		if errors.Is(err, placementdomain.ErrNotPlaced) {
			return nil
		}
		if err != nil {
			s.logSchedulerError(run, "scheduler.placement.expire.failed", "expiration", err,
				zap.String("placement_id", idString(p.ID)),
			)
			return err
		}
		run.AddProcessed(1)
		return nil
	}))
	schedMetrics.AddBatchProcessed("expiration", "placements", len(expired))

	rentals, err := s.fetchExpiredRentals(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(run, "scheduler.claim.failed", "expiration", err)
		return errors.Join(jobErr, err)
	}
	jobErr = errors.Join(jobErr, processChunked(ctx, s.cfg.ChunkSize, rentals, func(ctx context.Context, r WorkRental) error {
		err := s.rentalSvc.Expire(ctx, r.ID)
		if errors.Is(err, rentaldomain.ErrRentalNotActive) {
			return nil
		}
		if err != nil {
			s.logSchedulerError(run, "scheduler.rental.expire.failed", "expiration", err,
				zap.String("rental_id", idString(r.ID)),
			)
			return err
		}
		run.AddProcessed(1)
		return nil
	}))
	schedMetrics.AddBatchProcessed("expiration", "rentals", len(rentals))

	return jobErr
}

// Package scheduler runs the reconciliation sweeps: auto-renewal,
// expiration cleanup and expiry reminders. All sweeps share one shape:
// claim candidates with FOR UPDATE SKIP LOCKED in a short transaction, then
// process them in bounded-concurrency chunks where every item owns its own
// transaction and its failure never touches siblings.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/linkrent/linkrent/internal/clock"
	"github.com/linkrent/linkrent/internal/config"
	notificationdomain "github.com/linkrent/linkrent/internal/notification/domain"
	obsmetrics "github.com/linkrent/linkrent/internal/observability/metrics"
	placementdomain "github.com/linkrent/linkrent/internal/placement/domain"
	rentaldomain "github.com/linkrent/linkrent/internal/rental/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Pricing      *config.PricingConfigHolder
	PlacementSvc placementdomain.Service
	RentalSvc    rentaldomain.Service
	Notifier     notificationdomain.Service
	Config       Config `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	pricing      *config.PricingConfigHolder
	placementSvc placementdomain.Service
	rentalSvc    rentaldomain.Service
	notifier     notificationdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Pricing == nil ||
		p.PlacementSvc == nil || p.RentalSvc == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		pricing:      p.Pricing,
		placementSvc: p.PlacementSvc,
		rentalSvc:    p.RentalSvc,
		notifier:     p.Notifier,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// Deadline exceeded is a soft timeout: the next tick picks up where this
	// run stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"renewal", s.isJobEnabled("renewal"), func(ctx context.Context) error {
			return s.runJob(ctx, "renewal", s.cfg.BatchSize, s.cfg.JobTimeout, s.RenewalJob)
		}},
		{"expiration", s.isJobEnabled("expiration"), func(ctx context.Context) error {
			return s.runJob(ctx, "expiration", s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpirationJob)
		}},
		{"reminders", s.isJobEnabled("reminders"), func(ctx context.Context) error {
			return s.runJob(ctx, "reminders", s.cfg.BatchSize, s.cfg.JobTimeout, s.ReminderJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means everything runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// processChunked walks items in chunks of cfg.ChunkSize, running the items
// of a chunk concurrently. Each item's error is collected; siblings keep
// going, later chunks still run.
func processChunked[T any](ctx context.Context, chunkSize int, items []T, fn func(ctx context.Context, item T) error) error {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var jobErr error
	for start := 0; start < len(items); start += chunkSize {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(chunkSize)
		errs := make([]error, end-start)
		for i, item := range items[start:end] {
			i, item := i, item
			g.Go(func() error {
				errs[i] = fn(gctx, item)
				// Item failures are isolated; never cancel the group.
				return nil
			})
		}
		_ = g.Wait()
		for _, err := range errs {
			if err != nil {
				jobErr = errors.Join(jobErr, err)
			}
		}
	}
	return jobErr
}

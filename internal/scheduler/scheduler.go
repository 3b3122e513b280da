// Package scheduler runs delayed jobs: a job scheduled for time T runs no
// earlier than T, at least once, and is removed once its callback succeeds.
package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
	"github.com/robertarktes/ticketing-events/internal/observability"
)

type Store interface {
	Put(ctx context.Context, job redisadapter.Job) (bool, error)
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]redisadapter.Job, error)
	Complete(ctx context.Context, orderID uuid.UUID) error
}

// FireFunc runs a due job. An error leaves the job in place; it is claimed
// again once its lease runs out.
type FireFunc func(ctx context.Context, job redisadapter.Job) error

type Config struct {
	PollInterval time.Duration
	Lease        time.Duration
	BatchSize    int
}

type Scheduler struct {
	store  Store
	fire   FireFunc
	cfg    Config
	logger observability.Logger
	now    func() time.Time
}

func New(store Store, fire FireFunc, cfg Config, logger observability.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{store: store, fire: fire, cfg: cfg, logger: logger, now: time.Now}
}

// Schedule registers a job for orderID due at dueAt. Scheduling an order that
// already has a job keeps the existing one.
func (s *Scheduler) Schedule(ctx context.Context, orderID uuid.UUID, dueAt time.Time) error {
	added, err := s.store.Put(ctx, redisadapter.Job{OrderID: orderID, DueAt: dueAt.UTC()})
	if err != nil {
		return errors.Wrapf(err, "schedule expiration for %s", orderID)
	}
	log := s.logger.WithFields(map[string]interface{}{
		"order_id": orderID.String(),
		"due_at":   dueAt.UTC().Format(time.RFC3339),
		"delay":    dueAt.Sub(s.now()).Round(time.Millisecond).String(),
	})
	if !added {
		log.Debug("expiration already scheduled")
		return nil
	}
	observability.JobsScheduled.Inc()
	log.Info("expiration scheduled")
	return nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("scheduler tick failed")
			}
		}
	}
}

// Tick runs every job that is due and returns how many completed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	jobs, err := s.store.Claim(ctx, now, s.cfg.Lease, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, job := range jobs {
		log := s.logger.WithFields(map[string]interface{}{
			"order_id": job.OrderID.String(),
			"attempt":  job.Attempts,
		})
		if job.DueAt.After(now) {
			// Claimed under a skewed clock; leave it for its lease to run out.
			continue
		}
		if err := s.fire(ctx, job); err != nil {
			observability.JobsFired.WithLabelValues("failed").Inc()
			log.WithError(err).Warn("expiration job failed, will retry after lease")
			continue
		}
		if err := s.store.Complete(ctx, job.OrderID); err != nil {
			log.WithError(err).Error("failed to remove completed job")
			continue
		}
		observability.JobsFired.WithLabelValues("fired").Inc()
		completed++
	}
	return completed, nil
}

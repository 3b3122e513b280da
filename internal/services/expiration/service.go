// Package expiration turns order:created into a delayed expiration:complete.
package expiration

import (
	"context"
	"time"

	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
)

type Scheduler interface {
	Schedule(ctx context.Context, orderID uuid.UUID, dueAt time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, p events.Payload) error
}

type Service struct {
	scheduler Scheduler
	publisher Publisher
	logger    observability.Logger
}

func NewService(scheduler Scheduler, publisher Publisher, logger observability.Logger) *Service {
	return &Service{scheduler: scheduler, publisher: publisher, logger: logger}
}

// OnOrderCreated schedules the expiration for the order's expiresAt. The
// delay is computed when the job is polled, so a redelivery does not move it.
func (s *Service) OnOrderCreated(ctx context.Context, data events.OrderCreatedData) error {
	return s.scheduler.Schedule(ctx, data.ID, data.ExpiresAt)
}

// Fire publishes expiration:complete for a due job. It returns only after the
// broker confirmed the event.
func (s *Service) Fire(ctx context.Context, job redisadapter.Job) error {
	if err := s.publisher.Publish(ctx, events.ExpirationCompleteData{OrderID: job.OrderID}); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"order_id": job.OrderID.String(),
		"due_at":   job.DueAt.Format(time.RFC3339),
		"attempt":  job.Attempts,
	}).Info("expiration complete")
	return nil
}

func (s *Service) Bindings() []events.Binding {
	return []events.Binding{events.Bind(s.OnOrderCreated)}
}

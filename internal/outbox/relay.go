// Package outbox moves events committed to the outbox table onto the broker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ClaimOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkAttempted(ctx context.Context, id uuid.UUID) error
}

type Sender interface {
	PublishRaw(ctx context.Context, subject events.Subject, body []byte, messageID string) error
}

// Relay publishes outbox records in commit order. A record is marked
// published only after the broker confirmed it, so delivery is at least once;
// the record id travels as the message id.
type Relay struct {
	store    Store
	sender   Sender
	interval time.Duration
	batch    int
	logger   observability.Logger
	now      func() time.Time
}

func NewRelay(store Store, sender Sender, interval time.Duration, batch int, logger observability.Logger) *Relay {
	return &Relay{
		store:    store,
		sender:   sender,
		interval: interval,
		batch:    batch,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// Flush publishes one batch and returns how many records went out. It stops at
// the first failed publish so later events never overtake an earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		published = 0
		records, err := r.store.ClaimOutbox(ctx, r.batch)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := r.sender.PublishRaw(ctx, rec.Subject, rec.Payload, rec.ID.String()); err != nil {
				observability.OutboxPublishRetries.Inc()
				r.logger.WithError(err).WithFields(map[string]interface{}{
					"outbox_id": rec.ID.String(),
					"subject":   string(rec.Subject),
					"attempts":  rec.Attempts + 1,
				}).Warn("outbox publish failed, will retry")
				return r.store.MarkAttempted(ctx, rec.ID)
			}
			if err := r.store.MarkPublished(ctx, rec.ID, r.now()); err != nil {
				return err
			}
			observability.OutboxLag.Set(r.now().Sub(rec.CreatedAt).Seconds())
			published++
		}
		return nil
	})
	return published, err
}

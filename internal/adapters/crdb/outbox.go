package crdb

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/events"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Subject       events.Subject
	Payload       []byte // full envelope, published as is
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	Attempts      int
}

// Enqueue stores p for publication. Call it with the context of the
// transaction that made the change p describes.
func (r *Repository) Enqueue(ctx context.Context, aggregateID uuid.UUID, p events.Payload) error {
	body, err := events.Encode(p)
	if err != nil {
		return err
	}
	subject := p.Subject()
	aggregate, _, _ := strings.Cut(string(subject), ":")

	_, err = r.q(ctx).Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, subject, payload_json, status)
		VALUES ($1, $2, $3, $4, $5, 'NEW')
	`, uuid.New(), aggregate, aggregateID, string(subject), body)
	return errors.Wrapf(err, "enqueue %s", subject)
}

// ClaimOutbox locks up to limit unpublished records, oldest first. It must run
// inside WithTx; rows locked by another relay are skipped.
func (r *Repository) ClaimOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, subject, payload_json, created_at, published_at, status, attempts
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox")
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		var subject string
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &subject, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.Attempts)
		if err != nil {
			return nil, err
		}
		rec.Subject = events.Subject(subject)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.q(ctx).Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2, attempts = attempts + 1 WHERE id = $1
	`, id, publishedAt)
	return errors.Wrapf(err, "mark %s published", id)
}

func (r *Repository) MarkAttempted(ctx context.Context, id uuid.UUID) error {
	_, err := r.q(ctx).Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, id)
	return errors.Wrapf(err, "mark %s attempted", id)
}

package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticketing-events/internal/domain"
)

const ticketColumns = `id, title, price, user_id, order_id, version`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.Title, &t.Price, &t.UserID, &t.OrderID, &t.Version)
	return t, err
}

func (r *Repository) InsertTicket(ctx context.Context, t domain.Ticket) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Title, t.Price, t.UserID, t.OrderID, t.Version)
	if isUniqueViolation(err, "") {
		return errors.Wrapf(domain.ErrConflict, "ticket %s exists", t.ID)
	}
	return errors.Wrapf(err, "insert ticket %s", t.ID)
}

func (r *Repository) GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	t, err := scanTicket(r.q(ctx).QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return domain.Ticket{}, notFound(err, "ticket %s", id)
	}
	return t, nil
}

// ListAvailableTickets returns tickets not held by an order.
func (r *Repository) ListAvailableTickets(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_id IS NULL ORDER BY title`)
	if err != nil {
		return nil, errors.Wrap(err, "list tickets")
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// UpdateTicket writes t if the stored version still equals t.Version and
// returns the ticket at its new version.
func (r *Repository) UpdateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE tickets SET title = $3, price = $4, order_id = $5, version = version + 1
		WHERE id = $1 AND version = $2
	`, t.ID, t.Version, t.Title, t.Price, t.OrderID)
	if err != nil {
		return domain.Ticket{}, errors.Wrapf(err, "update ticket %s", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return domain.Ticket{}, r.casMiss(ctx, "tickets", t.ID, t.Version)
	}
	t.Version++
	return t, nil
}

// InsertTicketReplica records a ticket seen through ticket:created. It reports
// false when the replica already exists.
func (r *Repository) InsertTicketReplica(ctx context.Context, t domain.Ticket) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		INSERT INTO ticket_replicas (id, title, price, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.Title, t.Price, t.Version)
	if err != nil {
		return false, errors.Wrapf(err, "insert ticket replica %s", t.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) GetTicketReplica(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	var t domain.Ticket
	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, title, price, version FROM ticket_replicas WHERE id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Price, &t.Version)
	if err != nil {
		return domain.Ticket{}, notFound(err, "ticket replica %s", id)
	}
	return t, nil
}

// ApplyTicketReplica moves the replica to t.Version, which must be exactly one
// above the stored version.
func (r *Repository) ApplyTicketReplica(ctx context.Context, t domain.Ticket) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE ticket_replicas SET title = $3, price = $4, version = $2
		WHERE id = $1 AND version = $2 - 1
	`, t.ID, t.Version, t.Title, t.Price)
	if err != nil {
		return errors.Wrapf(err, "apply ticket replica %s", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return r.casMiss(ctx, "ticket_replicas", t.ID, t.Version-1)
	}
	return nil
}

// casMiss tells a missing row apart from a stale version after an update
// matched nothing.
func (r *Repository) casMiss(ctx context.Context, table string, id uuid.UUID, expected int64) error {
	var current int64
	err := r.q(ctx).QueryRow(ctx, `SELECT version FROM `+table+` WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return notFound(err, "%s %s", table, id)
	}
	return errors.Wrapf(domain.ErrVersionConflict, "%s %s at version %d, expected %d", table, id, current, expected)
}

// RecordReleasedOrder remembers that orderID was cancelled, whether or not it
// ever held ticketID. Recording the same order twice is a no-op.
func (r *Repository) RecordReleasedOrder(ctx context.Context, orderID, ticketID uuid.UUID) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO released_orders (order_id, ticket_id) VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, ticketID)
	return errors.Wrapf(err, "record released order %s", orderID)
}

func (r *Repository) OrderReleased(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var released bool
	err := r.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM released_orders WHERE order_id = $1)`, orderID).Scan(&released)
	if err != nil {
		return false, errors.Wrapf(err, "check released order %s", orderID)
	}
	return released, nil
}

package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticketing-events/internal/domain"
)

const orderColumns = `id, user_id, ticket_id, price, status, expires_at, version`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.TicketID, &o.Price, &status, &o.ExpiresAt, &o.Version)
	o.Status = domain.OrderStatus(status)
	return o, err
}

// InsertOrder fails with domain.ErrTicketReserved when another order that is
// not cancelled already references the ticket.
func (r *Repository) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.UserID, o.TicketID, o.Price, string(o.Status), o.ExpiresAt, o.Version)
	if isUniqueViolation(err, "orders_active_ticket") {
		return errors.Wrapf(domain.ErrTicketReserved, "ticket %s", o.TicketID)
	}
	return errors.Wrapf(err, "insert order %s", o.ID)
}

// TicketReserved reports whether an order that is not cancelled holds the ticket.
func (r *Repository) TicketReserved(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	var reserved bool
	err := r.q(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE ticket_id = $1 AND status <> 'cancelled')
	`, ticketID).Scan(&reserved)
	return reserved, errors.Wrap(err, "check reservation")
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(r.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order %s", id)
	}
	return o, nil
}

func (r *Repository) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY expires_at DESC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus persists o.Status if the stored version still equals
// o.Version and returns the order at its new version.
func (r *Repository) UpdateOrderStatus(ctx context.Context, o domain.Order) (domain.Order, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE orders SET status = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, o.ID, o.Version, string(o.Status))
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "update order %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, r.casMiss(ctx, "orders", o.ID, o.Version)
	}
	o.Version++
	return o, nil
}

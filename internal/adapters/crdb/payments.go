package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
)

// InsertOrderReplica records an order seen through order:created. It reports
// false when the replica already exists.
func (r *Repository) InsertOrderReplica(ctx context.Context, o domain.Order) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		INSERT INTO order_replicas (id, user_id, price, status, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, o.ID, o.UserID, o.Price, string(o.Status), o.Version)
	if err != nil {
		return false, errors.Wrapf(err, "insert order replica %s", o.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) GetOrderReplica(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var o domain.Order
	var status string
	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, user_id, price, status, version FROM order_replicas WHERE id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.Price, &status, &o.Version)
	if err != nil {
		return domain.Order{}, notFound(err, "order replica %s", id)
	}
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// ApplyOrderReplica moves the replica to o.Version, which must be exactly one
// above the stored version.
func (r *Repository) ApplyOrderReplica(ctx context.Context, o domain.Order) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE order_replicas SET status = $3, version = $2
		WHERE id = $1 AND version = $2 - 1
	`, o.ID, o.Version, string(o.Status))
	if err != nil {
		return errors.Wrapf(err, "apply order replica %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return r.casMiss(ctx, "order_replicas", o.ID, o.Version-1)
	}
	return nil
}

func (r *Repository) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO payments (id, order_id, charge_id, version)
		VALUES ($1, $2, $3, $4)
	`, p.ID, p.OrderID, p.ChargeID, p.Version)
	if isUniqueViolation(err, "payments_order") {
		return errors.Wrapf(domain.ErrConflict, "order %s already paid", p.OrderID)
	}
	return errors.Wrapf(err, "insert payment %s", p.ID)
}

func (r *Repository) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	var p domain.Payment
	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, order_id, charge_id, version FROM payments WHERE order_id = $1
	`, orderID).Scan(&p.ID, &p.OrderID, &p.ChargeID, &p.Version)
	if err != nil {
		return domain.Payment{}, notFound(err, "payment for order %s", orderID)
	}
	return p, nil
}

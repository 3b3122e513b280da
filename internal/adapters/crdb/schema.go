package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Each service owns a subset of these tables. Replica tables hold the
// fields a service needs from another service's entities plus the version
// it last applied.
const (
	TicketsSchema = `
		CREATE TABLE IF NOT EXISTS tickets (
			id UUID PRIMARY KEY,
			title STRING NOT NULL,
			price DECIMAL(12,2) NOT NULL CHECK (price > 0),
			user_id UUID NOT NULL,
			order_id UUID NULL,
			version INT8 NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS released_orders (
			order_id UUID PRIMARY KEY,
			ticket_id UUID NOT NULL,
			released_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`

	OrdersSchema = `
		CREATE TABLE IF NOT EXISTS ticket_replicas (
			id UUID PRIMARY KEY,
			title STRING NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			version INT8 NOT NULL
		);
		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			ticket_id UUID NOT NULL REFERENCES ticket_replicas (id),
			price DECIMAL(12,2) NOT NULL,
			status STRING NOT NULL CHECK (status IN ('created', 'awaiting:payment', 'complete', 'cancelled')),
			expires_at TIMESTAMPTZ NOT NULL,
			version INT8 NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS orders_active_ticket ON orders (ticket_id) WHERE status <> 'cancelled';
		CREATE INDEX IF NOT EXISTS orders_user ON orders (user_id);`

	PaymentsSchema = `
		CREATE TABLE IF NOT EXISTS order_replicas (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			status STRING NOT NULL,
			version INT8 NOT NULL
		);
		CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES order_replicas (id),
			charge_id STRING NOT NULL,
			version INT8 NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT payments_order UNIQUE (order_id)
		);`

	OutboxSchema = `
		CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY,
			aggregate_type STRING NOT NULL,
			aggregate_id UUID NOT NULL,
			subject STRING NOT NULL,
			payload_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			published_at TIMESTAMPTZ NULL,
			status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED')),
			attempts INT8 NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS outbox_pending ON outbox (created_at) WHERE status = 'NEW';`
)

// Migrate applies the given schemas. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schemas ...string) error {
	for _, schema := range schemas {
		if _, err := pool.Exec(ctx, schema); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

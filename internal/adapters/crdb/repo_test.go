package crdb_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRepository(t *testing.T) (*crdb.Repository, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("cockroach test skipped in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := crdb.Migrate(ctx, pool, crdb.TicketsSchema, crdb.OrdersSchema, crdb.PaymentsSchema, crdb.OutboxSchema); err != nil {
		t.Fatal(err)
	}
	return crdb.NewRepository(pool), ctx
}

func TestRepository_TicketCompareAndSwap(t *testing.T) {
	repo, ctx := setupRepository(t)

	ticket, err := domain.NewTicket("concert", 20, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertTicket(ctx, ticket); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	stale := ticket
	ticket.Title = "concert (late show)"
	updated, err := repo.UpdateTicket(ctx, ticket)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}

	stale.Price = 99
	if _, err := repo.UpdateTicket(ctx, stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	missing := ticket
	missing.ID = uuid.New()
	if _, err := repo.UpdateTicket(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := repo.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "concert (late show)" || got.Price != 20 || got.Version != 1 {
		t.Errorf("unexpected ticket %+v", got)
	}
}

func TestRepository_TicketReplicaAppliesNextVersionOnly(t *testing.T) {
	repo, ctx := setupRepository(t)

	replica := domain.Ticket{ID: uuid.New(), Title: "concert", Price: 20, Version: 0}
	inserted, err := repo.InsertTicketReplica(ctx, replica)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}
	inserted, err = repo.InsertTicketReplica(ctx, replica)
	if err != nil || inserted {
		t.Fatalf("expected duplicate insert to be a no-op, got inserted=%v err=%v", inserted, err)
	}

	skip := replica
	skip.Version = 2
	if err := repo.ApplyTicketReplica(ctx, skip); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for v2 on v0, got %v", err)
	}

	next := replica
	next.Version = 1
	next.Price = 25
	if err := repo.ApplyTicketReplica(ctx, next); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := repo.GetTicketReplica(ctx, replica.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 || got.Price != 25 {
		t.Fatalf("unexpected replica %+v", got)
	}
}

func TestRepository_ReleasedOrders(t *testing.T) {
	repo, ctx := setupRepository(t)
	orderID, ticketID := uuid.New(), uuid.New()

	released, err := repo.OrderReleased(ctx, orderID)
	if err != nil || released {
		t.Fatalf("expected unknown order, got released=%v err=%v", released, err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.RecordReleasedOrder(ctx, orderID, ticketID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	released, err = repo.OrderReleased(ctx, orderID)
	if err != nil || !released {
		t.Fatalf("expected released order, got released=%v err=%v", released, err)
	}
}

func TestRepository_OneActiveOrderPerTicket(t *testing.T) {
	repo, ctx := setupRepository(t)

	ticket := domain.Ticket{ID: uuid.New(), Title: "concert", Price: 20}
	if _, err := repo.InsertTicketReplica(ctx, ticket); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	first := domain.NewOrder(uuid.New(), ticket, now, 15*time.Minute)
	if err := repo.InsertOrder(ctx, first); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second := domain.NewOrder(uuid.New(), ticket, now, 15*time.Minute)
	if err := repo.InsertOrder(ctx, second); !errors.Is(err, domain.ErrTicketReserved) {
		t.Fatalf("expected ErrTicketReserved, got %v", err)
	}

	if _, err := first.Cancel(); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpdateOrderStatus(ctx, first); err != nil {
		t.Fatal(err)
	}
	reserved, err := repo.TicketReserved(ctx, ticket.ID)
	if err != nil || reserved {
		t.Fatalf("expected ticket to be free after cancellation, got reserved=%v err=%v", reserved, err)
	}
	if err := repo.InsertOrder(ctx, second); err != nil {
		t.Fatalf("expected order on released ticket, got %v", err)
	}
}

func TestRepository_ConcurrentOrdersForOneTicket(t *testing.T) {
	repo, ctx := setupRepository(t)

	ticket := domain.Ticket{ID: uuid.New(), Title: "concert", Price: 20}
	if _, err := repo.InsertTicketReplica(ctx, ticket); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.WithTx(ctx, func(ctx context.Context) error {
				reserved, err := repo.TicketReserved(ctx, ticket.ID)
				if err != nil {
					return err
				}
				if reserved {
					return domain.ErrTicketReserved
				}
				return repo.InsertOrder(ctx, domain.NewOrder(uuid.New(), ticket, time.Now(), 15*time.Minute))
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrTicketReserved), errors.Is(err, domain.ErrSerializationFailure):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one order, got %d", succeeded)
	}
}

func TestRepository_PaymentPerOrder(t *testing.T) {
	repo, ctx := setupRepository(t)

	order := domain.Order{ID: uuid.New(), UserID: uuid.New(), Price: 20, Status: domain.OrderCreated}
	if _, err := repo.InsertOrderReplica(ctx, order); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetPaymentByOrder(ctx, order.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	payment := domain.Payment{ID: uuid.New(), OrderID: order.ID, ChargeID: "ch_1"}
	if err := repo.InsertPayment(ctx, payment); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	again := domain.Payment{ID: uuid.New(), OrderID: order.ID, ChargeID: "ch_2"}
	if err := repo.InsertPayment(ctx, again); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for a second payment, got %v", err)
	}

	got, err := repo.GetPaymentByOrder(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != payment.ID || got.ChargeID != "ch_1" {
		t.Fatalf("unexpected payment %+v", got)
	}
}

func TestRepository_OutboxClaimAndPublish(t *testing.T) {
	repo, ctx := setupRepository(t)

	orderID := uuid.New()
	err := repo.WithTx(ctx, func(ctx context.Context) error {
		return repo.Enqueue(ctx, orderID, events.ExpirationCompleteData{OrderID: orderID})
	})
	if err != nil {
		t.Fatal(err)
	}

	var claimed []crdb.OutboxRecord
	err = repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = repo.ClaimOutbox(ctx, 10)
		if err != nil {
			return err
		}
		for _, rec := range claimed {
			if err := repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].Subject != events.ExpirationComplete || claimed[0].AggregateType != "expiration" {
		t.Fatalf("unexpected claim %+v", claimed)
	}
	data, err := events.Decode[events.ExpirationCompleteData](claimed[0].Payload)
	if err != nil || data.OrderID != orderID {
		t.Fatalf("expected stored envelope to decode, got %+v err=%v", data, err)
	}

	err = repo.WithTx(ctx, func(ctx context.Context) error {
		again, err := repo.ClaimOutbox(ctx, 10)
		if err != nil {
			return err
		}
		if len(again) != 0 {
			t.Errorf("expected published records to stay claimed, got %d", len(again))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRepository_WithTxRollsBack(t *testing.T) {
	repo, ctx := setupRepository(t)

	ticket, _ := domain.NewTicket("concert", 20, uuid.New())
	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(ctx context.Context) error {
		if err := repo.InsertTicket(ctx, ticket); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := repo.GetTicket(ctx, ticket.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rolled back insert, got %v", err)
	}
}

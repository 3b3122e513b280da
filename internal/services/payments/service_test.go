package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/versioning"
)

type fakeRepo struct {
	orders   map[uuid.UUID]domain.Order
	payments map[uuid.UUID]domain.Payment
	outbox   []events.Payload
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[uuid.UUID]domain.Order{}, payments: map[uuid.UUID]domain.Payment{}}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *fakeRepo) InsertOrderReplica(ctx context.Context, o domain.Order) (bool, error) {
	if _, ok := r.orders[o.ID]; ok {
		return false, nil
	}
	r.orders[o.ID] = o
	return true, nil
}

func (r *fakeRepo) GetOrderReplica(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (r *fakeRepo) ApplyOrderReplica(ctx context.Context, o domain.Order) error {
	stored, ok := r.orders[o.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != o.Version-1 {
		return domain.ErrVersionConflict
	}
	r.orders[o.ID] = o
	return nil
}

func (r *fakeRepo) InsertPayment(ctx context.Context, p domain.Payment) error {
	if _, ok := r.payments[p.OrderID]; ok {
		return domain.ErrConflict
	}
	r.payments[p.OrderID] = p
	return nil
}

func (r *fakeRepo) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	p, ok := r.payments[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) Enqueue(ctx context.Context, aggregateID uuid.UUID, p events.Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.outbox = append(r.outbox, p)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo, events.OrderCreatedData) {
	t.Helper()
	repo := newFakeRepo()
	svc := NewService(repo, NewSandboxGateway(), nil, observability.NewNopLogger())

	created := events.OrderCreatedData{
		ID:        uuid.New(),
		Version:   0,
		Status:    domain.OrderCreated,
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(15 * time.Minute),
		Ticket:    events.TicketRef{ID: uuid.New(), Price: 20.5},
	}
	if err := svc.OnOrderCreated(context.Background(), created); err != nil {
		t.Fatal(err)
	}
	return svc, repo, created
}

func TestService_CreateChargePublishesPaymentCreated(t *testing.T) {
	svc, repo, order := newTestService(t)

	payment, err := svc.CreateCharge(context.Background(), order.UserID, order.ID, "tok_visa")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(payment.ChargeID, "ch_") || payment.OrderID != order.ID || payment.Version != 0 {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected one event, got %d", len(repo.outbox))
	}
	ev := repo.outbox[0].(events.PaymentCreatedData)
	if ev.ID != payment.ID || ev.OrderID != order.ID || ev.StripeID != payment.ChargeID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestService_CreateChargeRules(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown order", func(t *testing.T) {
		svc, _, order := newTestService(t)
		if _, err := svc.CreateCharge(ctx, order.UserID, uuid.New(), "tok_visa"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("not the owner", func(t *testing.T) {
		svc, _, order := newTestService(t)
		if _, err := svc.CreateCharge(ctx, uuid.New(), order.ID, "tok_visa"); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized, got %v", err)
		}
	})

	t.Run("cancelled order", func(t *testing.T) {
		svc, repo, order := newTestService(t)
		if err := svc.OnOrderCancelled(ctx, events.OrderCancelledData{ID: order.ID, Version: 1, Ticket: order.Ticket}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CreateCharge(ctx, order.UserID, order.ID, "tok_visa"); !errors.Is(err, domain.ErrOrderCancelled) {
			t.Fatalf("expected ErrOrderCancelled, got %v", err)
		}
		if len(repo.outbox) != 0 {
			t.Fatal("no payment may be recorded for a cancelled order")
		}
	})

	t.Run("declined", func(t *testing.T) {
		svc, _, order := newTestService(t)
		if _, err := svc.CreateCharge(ctx, order.UserID, order.ID, "tok_chargeDeclined"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("paid twice", func(t *testing.T) {
		svc, _, order := newTestService(t)
		if _, err := svc.CreateCharge(ctx, order.UserID, order.ID, "tok_visa"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CreateCharge(ctx, order.UserID, order.ID, "tok_visa"); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestService_OrderReplicaFollowsVersions(t *testing.T) {
	svc, repo, order := newTestService(t)
	ctx := context.Background()

	// v2 arrives before v1.
	early := events.OrderUpdatedData{ID: order.ID, Version: 2, Status: domain.OrderComplete}
	if err := svc.OnOrderUpdated(ctx, early); !errors.Is(err, versioning.ErrNotYetApplicable) {
		t.Fatalf("expected ErrNotYetApplicable, got %v", err)
	}

	if err := svc.OnOrderUpdated(ctx, events.OrderUpdatedData{ID: order.ID, Version: 1, Status: domain.OrderAwaitingPayment}); err != nil {
		t.Fatal(err)
	}
	if err := svc.OnOrderUpdated(ctx, early); err != nil {
		t.Fatalf("expected v2 to apply after v1, got %v", err)
	}
	if err := svc.OnOrderUpdated(ctx, early); !errors.Is(err, versioning.ErrAlreadyApplied) {
		t.Fatalf("expected duplicate reported as applied, got %v", err)
	}

	got := repo.orders[order.ID]
	if got.Version != 2 || got.Status != domain.OrderComplete {
		t.Fatalf("unexpected replica %+v", got)
	}
}

func TestService_CancellationForUnknownOrderWaits(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.OnOrderCancelled(context.Background(), events.OrderCancelledData{ID: uuid.New(), Version: 1, Ticket: events.TicketRef{ID: uuid.New()}})
	if !errors.Is(err, versioning.ErrNotYetApplicable) {
		t.Fatalf("expected ErrNotYetApplicable, got %v", err)
	}
}

func TestSandboxGateway_IdempotencyKey(t *testing.T) {
	g := NewSandboxGateway()
	ctx := context.Background()
	req := ChargeRequest{AmountCents: 2050, Currency: "usd", Source: "tok_visa", IdempotencyKey: "order-1"}

	first, err := g.Charge(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Charge(ctx, req)
	if err != nil || second != first {
		t.Fatalf("expected the same charge, got %q and %q err=%v", first, second, err)
	}
	if toCents(20.5) != 2050 || toCents(0.1+0.2) != 30 {
		t.Fatal("unexpected cent conversion")
	}
}

func TestService_GetPayment(t *testing.T) {
	svc, _, order := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetPayment(ctx, order.UserID, order.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before paying, got %v", err)
	}
	paid, err := svc.CreateCharge(ctx, order.UserID, order.ID, "tok_visa")
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.GetPayment(ctx, order.UserID, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != paid.ID || got.ChargeID != paid.ChargeID {
		t.Fatalf("expected %+v, got %+v", paid, got)
	}
	if _, err := svc.GetPayment(ctx, uuid.New(), order.ID); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for another user, got %v", err)
	}
}

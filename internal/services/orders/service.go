// Package orders owns orders and drives the order saga: it reserves tickets
// through order:created, cancels on expiration or request, and completes on
// payment.
package orders

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/versioning"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertTicketReplica(ctx context.Context, t domain.Ticket) (bool, error)
	GetTicketReplica(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	ApplyTicketReplica(ctx context.Context, t domain.Ticket) error

	InsertOrder(ctx context.Context, o domain.Order) error
	TicketReserved(ctx context.Context, ticketID uuid.UUID) (bool, error)
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, o domain.Order) (domain.Order, error)

	Enqueue(ctx context.Context, aggregateID uuid.UUID, p events.Payload) error
}

type Auditor interface {
	LogOrder(ctx context.Context, action string, o domain.Order) error
}

type Service struct {
	repo   Repository
	audit  Auditor
	window time.Duration
	now    func() time.Time
	logger observability.Logger
}

// NewService builds the service. Orders expire window after creation. audit
// may be nil.
func NewService(repo Repository, audit Auditor, window time.Duration, logger observability.Logger) *Service {
	return &Service{repo: repo, audit: audit, window: window, now: time.Now, logger: logger}
}

// CreateOrder reserves ticketID for userID. It fails with
// domain.ErrTicketReserved while another order that is not cancelled holds
// the ticket.
func (s *Service) CreateOrder(ctx context.Context, userID, ticketID uuid.UUID) (domain.Order, error) {
	var order domain.Order
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		ticket, err := s.repo.GetTicketReplica(ctx, ticketID)
		if err != nil {
			return err
		}
		reserved, err := s.repo.TicketReserved(ctx, ticket.ID)
		if err != nil {
			return err
		}
		if reserved {
			return errors.Wrapf(domain.ErrTicketReserved, "ticket %s", ticket.ID)
		}

		order = domain.NewOrder(userID, ticket, s.now(), s.window)
		if err := s.repo.InsertOrder(ctx, order); err != nil {
			return err
		}
		return s.repo.Enqueue(ctx, order.ID, events.OrderCreatedData{
			ID:        order.ID,
			Version:   order.Version,
			Status:    order.Status,
			UserID:    order.UserID,
			ExpiresAt: order.ExpiresAt,
			Ticket:    events.TicketRef{ID: ticket.ID, Price: ticket.Price},
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.committed(ctx, "order.created", order)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, userID, id uuid.UUID) (domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if o.UserID != userID {
		return domain.Order{}, errors.Wrapf(domain.ErrNotAuthorized, "order %s", id)
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, userID)
}

// CancelOrder cancels an order on behalf of its owner. Cancelling a cancelled
// order is a no-op; a complete order cannot be cancelled.
func (s *Service) CancelOrder(ctx context.Context, userID, id uuid.UUID) (domain.Order, error) {
	var order domain.Order
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return errors.Wrapf(domain.ErrNotAuthorized, "order %s", id)
		}
		order, changed, err = s.cancel(ctx, o)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		s.committed(ctx, "order.cancelled", order)
	}
	return order, nil
}

func (s *Service) cancel(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	changed, err := o.Cancel()
	if err != nil || !changed {
		return o, false, err
	}
	updated, err := s.repo.UpdateOrderStatus(ctx, o)
	if err != nil {
		return o, false, err
	}
	err = s.repo.Enqueue(ctx, updated.ID, events.OrderCancelledData{
		ID:      updated.ID,
		Version: updated.Version,
		Ticket:  events.TicketRef{ID: updated.TicketID},
	})
	return updated, err == nil, err
}

func (s *Service) OnTicketCreated(ctx context.Context, data events.TicketCreatedData) error {
	_, err := s.repo.InsertTicketReplica(ctx, domain.Ticket{
		ID:      data.ID,
		Title:   data.Title,
		Price:   data.Price,
		UserID:  data.UserID,
		Version: data.Version,
	})
	return err
}

func (s *Service) OnTicketUpdated(ctx context.Context, data events.TicketUpdatedData) error {
	return s.repo.WithTx(ctx, func(ctx context.Context) error {
		replica, err := versioning.Gate(ctx, func(ctx context.Context) (*domain.Ticket, error) {
			t, err := s.repo.GetTicketReplica(ctx, data.ID)
			if err != nil {
				return nil, err
			}
			return &t, nil
		}, data.Version)
		if err != nil {
			return err
		}
		replica.Title = data.Title
		replica.Price = data.Price
		replica.Version = data.Version
		return s.repo.ApplyTicketReplica(ctx, *replica)
	})
}

// OnExpirationComplete cancels the order unless it was paid for in time.
func (s *Service) OnExpirationComplete(ctx context.Context, data events.ExpirationCompleteData) error {
	var order domain.Order
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.loadForEvent(ctx, data.OrderID)
		if err != nil {
			return err
		}
		if o.Status == domain.OrderComplete {
			return nil
		}
		order, changed, err = s.cancel(ctx, o)
		return err
	})
	if err != nil {
		return err
	}
	if changed {
		s.logger.WithField("order_id", order.ID.String()).Info("order expired")
		s.committed(ctx, "order.expired", order)
	}
	return nil
}

// OnPaymentCreated completes the order. A payment for an order that was
// cancelled in the meantime is acknowledged and left for reconciliation.
func (s *Service) OnPaymentCreated(ctx context.Context, data events.PaymentCreatedData) error {
	var order domain.Order
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		changed = false
		o, err := s.loadForEvent(ctx, data.OrderID)
		if err != nil {
			return err
		}
		ok, err := o.Complete()
		if errors.Is(err, domain.ErrOrderCancelled) {
			s.logger.WithFields(map[string]interface{}{
				"order_id":   o.ID.String(),
				"payment_id": data.ID.String(),
				"charge_id":  data.StripeID,
			}).Warn("payment received for cancelled order")
			return nil
		}
		if err != nil || !ok {
			return err
		}
		if order, err = s.repo.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		changed = true
		return s.repo.Enqueue(ctx, order.ID, events.OrderUpdatedData{
			ID:      order.ID,
			Version: order.Version,
			Status:  order.Status,
		})
	})
	if err != nil {
		return err
	}
	if changed {
		s.committed(ctx, "order.completed", order)
	}
	return nil
}

// loadForEvent loads an order this service created. Events only reference
// orders after they were committed, so a missing order cannot be fixed by
// redelivery.
func (s *Service) loadForEvent(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, events.Permanent(err)
	}
	return o, err
}

func (s *Service) Bindings() []events.Binding {
	return []events.Binding{
		events.Bind(s.OnTicketCreated),
		events.Bind(s.OnTicketUpdated),
		events.Bind(s.OnExpirationComplete),
		events.Bind(s.OnPaymentCreated),
	}
}

func (s *Service) committed(ctx context.Context, action string, o domain.Order) {
	if s.audit != nil {
		_ = s.audit.LogOrder(ctx, action, o)
	}
}

// Package payments charges orders. It keeps a replica of each order so it can
// refuse payment for cancelled or unknown orders without calling the orders
// service.
package payments

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/versioning"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertOrderReplica(ctx context.Context, o domain.Order) (bool, error)
	GetOrderReplica(ctx context.Context, id uuid.UUID) (domain.Order, error)
	ApplyOrderReplica(ctx context.Context, o domain.Order) error

	InsertPayment(ctx context.Context, p domain.Payment) error
	GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error)

	Enqueue(ctx context.Context, aggregateID uuid.UUID, p events.Payload) error
}

type Auditor interface {
	LogPayment(ctx context.Context, p domain.Payment, userID uuid.UUID) error
}

type Service struct {
	repo    Repository
	gateway Gateway
	audit   Auditor
	logger  observability.Logger
}

// NewService builds the service. audit may be nil.
func NewService(repo Repository, gateway Gateway, audit Auditor, logger observability.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, audit: audit, logger: logger}
}

// CreateCharge charges source for an order owned by userID and records the
// payment.
func (s *Service) CreateCharge(ctx context.Context, userID, orderID uuid.UUID, source string) (domain.Payment, error) {
	order, err := s.repo.GetOrderReplica(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if order.UserID != userID {
		return domain.Payment{}, errors.Wrapf(domain.ErrNotAuthorized, "order %s", orderID)
	}
	switch order.Status {
	case domain.OrderCancelled:
		return domain.Payment{}, errors.Wrap(domain.ErrOrderCancelled, "cannot pay for a cancelled order")
	case domain.OrderComplete:
		return domain.Payment{}, errors.Wrap(domain.ErrOrderCompleted, "order is already paid")
	}

	chargeID, err := s.gateway.Charge(ctx, ChargeRequest{
		AmountCents:    toCents(order.Price),
		Currency:       "usd",
		Source:         source,
		IdempotencyKey: order.ID.String(),
	})
	if errors.Is(err, ErrChargeDeclined) {
		return domain.Payment{}, errors.Mark(err, domain.ErrInvalidInput)
	}
	if err != nil {
		return domain.Payment{}, errors.Wrapf(err, "charge order %s", orderID)
	}

	payment := domain.Payment{ID: uuid.New(), OrderID: order.ID, ChargeID: chargeID}
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return s.repo.Enqueue(ctx, payment.ID, events.PaymentCreatedData{
			ID:       payment.ID,
			OrderID:  payment.OrderID,
			StripeID: payment.ChargeID,
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logger.WithFields(map[string]interface{}{
		"order_id":  order.ID.String(),
		"charge_id": chargeID,
	}).Info("payment recorded")
	if s.audit != nil {
		_ = s.audit.LogPayment(ctx, payment, userID)
	}
	return payment, nil
}

// GetPayment returns the payment recorded for an order owned by userID.
func (s *Service) GetPayment(ctx context.Context, userID, orderID uuid.UUID) (domain.Payment, error) {
	order, err := s.repo.GetOrderReplica(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if order.UserID != userID {
		return domain.Payment{}, errors.Wrapf(domain.ErrNotAuthorized, "order %s", orderID)
	}
	return s.repo.GetPaymentByOrder(ctx, orderID)
}

func (s *Service) OnOrderCreated(ctx context.Context, data events.OrderCreatedData) error {
	_, err := s.repo.InsertOrderReplica(ctx, domain.Order{
		ID:        data.ID,
		UserID:    data.UserID,
		TicketID:  data.Ticket.ID,
		Price:     data.Ticket.Price,
		Status:    data.Status,
		ExpiresAt: data.ExpiresAt,
		Version:   data.Version,
	})
	return err
}

func (s *Service) OnOrderCancelled(ctx context.Context, data events.OrderCancelledData) error {
	return s.apply(ctx, data.ID, data.Version, domain.OrderCancelled)
}

func (s *Service) OnOrderUpdated(ctx context.Context, data events.OrderUpdatedData) error {
	return s.apply(ctx, data.ID, data.Version, data.Status)
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, version int64, status domain.OrderStatus) error {
	return s.repo.WithTx(ctx, func(ctx context.Context) error {
		replica, err := versioning.Gate(ctx, func(ctx context.Context) (*domain.Order, error) {
			o, err := s.repo.GetOrderReplica(ctx, id)
			if err != nil {
				return nil, err
			}
			return &o, nil
		}, version)
		if err != nil {
			return err
		}
		replica.Status = status
		replica.Version = version
		return s.repo.ApplyOrderReplica(ctx, *replica)
	})
}

func (s *Service) Bindings() []events.Binding {
	return []events.Binding{
		events.Bind(s.OnOrderCreated),
		events.Bind(s.OnOrderCancelled),
		events.Bind(s.OnOrderUpdated),
	}
}

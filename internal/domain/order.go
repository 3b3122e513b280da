package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderCreated         OrderStatus = "created"
	OrderAwaitingPayment OrderStatus = "awaiting:payment"
	OrderComplete        OrderStatus = "complete"
	OrderCancelled       OrderStatus = "cancelled"
)

// orderTransitions is the order saga. Every service that mutates an order
// (the orders service directly, payments through its replica) goes through it.
//
//	created          -> cancelled         explicit cancel or expiration; tickets releases the reservation
//	created          -> complete          payment recorded
//	created          -> awaiting:payment
//	awaiting:payment -> cancelled | complete
//
// complete and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:         {OrderAwaitingPayment, OrderCancelled, OrderComplete},
	OrderAwaitingPayment: {OrderCancelled, OrderComplete},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderCreated, OrderAwaitingPayment, OrderComplete, OrderCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderComplete || s == OrderCancelled
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func NewOrder(userID uuid.UUID, ticket Ticket, now time.Time, window time.Duration) Order {
	return Order{
		ID:        uuid.New(),
		UserID:    userID,
		TicketID:  ticket.ID,
		Price:     ticket.Price,
		Status:    OrderCreated,
		ExpiresAt: now.Add(window).UTC(),
	}
}

// Transition moves the order to status to. Moving to the status the order is
// already in reports false without error so redelivered events stay no-ops.
func (o *Order) Transition(to OrderStatus) (bool, error) {
	if o.Status == to {
		return false, nil
	}
	if !o.Status.CanTransition(to) {
		switch o.Status {
		case OrderCancelled:
			return false, errors.Wrapf(ErrOrderCancelled, "order %s: %s -> %s", o.ID, o.Status, to)
		case OrderComplete:
			return false, errors.Wrapf(ErrOrderCompleted, "order %s: %s -> %s", o.ID, o.Status, to)
		}
		return false, errors.Wrapf(ErrInvalidTransition, "order %s: %s -> %s", o.ID, o.Status, to)
	}
	o.Status = to
	return true, nil
}

func (o *Order) Cancel() (bool, error) {
	return o.Transition(OrderCancelled)
}

func (o *Order) Complete() (bool, error) {
	return o.Transition(OrderComplete)
}

package events

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
)

// Payload is the data of exactly one subject.
type Payload interface {
	Subject() Subject
	Validate() error
}

type TicketRef struct {
	ID    uuid.UUID `json:"id"`
	Price float64   `json:"price,omitempty"`
}

type TicketCreatedData struct {
	ID      uuid.UUID `json:"id"`
	Version int64     `json:"version"`
	Title   string    `json:"title"`
	Price   float64   `json:"price"`
	UserID  uuid.UUID `json:"userId"`
}

type TicketUpdatedData struct {
	ID      uuid.UUID  `json:"id"`
	Version int64      `json:"version"`
	Title   string     `json:"title"`
	Price   float64    `json:"price"`
	UserID  uuid.UUID  `json:"userId"`
	OrderID *uuid.UUID `json:"orderId,omitempty"`
}

type OrderCreatedData struct {
	ID        uuid.UUID          `json:"id"`
	Version   int64              `json:"version"`
	Status    domain.OrderStatus `json:"status"`
	UserID    uuid.UUID          `json:"userId"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Ticket    TicketRef          `json:"ticket"`
}

type OrderCancelledData struct {
	ID      uuid.UUID `json:"id"`
	Version int64     `json:"version"`
	Ticket  TicketRef `json:"ticket"`
}

type OrderUpdatedData struct {
	ID      uuid.UUID          `json:"id"`
	Version int64              `json:"version"`
	Status  domain.OrderStatus `json:"status"`
}

type ExpirationCompleteData struct {
	OrderID uuid.UUID `json:"orderId"`
}

type PaymentCreatedData struct {
	ID       uuid.UUID `json:"id"`
	OrderID  uuid.UUID `json:"orderId"`
	StripeID string    `json:"stripeId"`
}

func (TicketCreatedData) Subject() Subject      { return TicketCreated }
func (TicketUpdatedData) Subject() Subject      { return TicketUpdated }
func (OrderCreatedData) Subject() Subject       { return OrderCreated }
func (OrderCancelledData) Subject() Subject     { return OrderCancelled }
func (OrderUpdatedData) Subject() Subject       { return OrderUpdated }
func (ExpirationCompleteData) Subject() Subject { return ExpirationComplete }
func (PaymentCreatedData) Subject() Subject     { return PaymentCreated }

func (d TicketCreatedData) Validate() error {
	return firstErr(
		requireID("id", d.ID),
		requireVersion(d.Version, 0),
		requireString("title", d.Title),
		requirePositive("price", d.Price),
		requireID("userId", d.UserID),
	)
}

func (d TicketUpdatedData) Validate() error {
	return firstErr(
		requireID("id", d.ID),
		requireVersion(d.Version, 1),
		requireString("title", d.Title),
		requirePositive("price", d.Price),
		requireID("userId", d.UserID),
	)
}

func (d OrderCreatedData) Validate() error {
	err := firstErr(
		requireID("id", d.ID),
		requireVersion(d.Version, 0),
		requireID("userId", d.UserID),
		requireID("ticket.id", d.Ticket.ID),
		requirePositive("ticket.price", d.Ticket.Price),
	)
	if err != nil {
		return err
	}
	if !d.Status.Valid() {
		return errors.Newf("status %q is not an order status", d.Status)
	}
	if d.ExpiresAt.IsZero() {
		return errors.New("expiresAt is required")
	}
	return nil
}

func (d OrderCancelledData) Validate() error {
	return firstErr(
		requireID("id", d.ID),
		requireVersion(d.Version, 1),
		requireID("ticket.id", d.Ticket.ID),
	)
}

func (d OrderUpdatedData) Validate() error {
	if err := firstErr(requireID("id", d.ID), requireVersion(d.Version, 1)); err != nil {
		return err
	}
	if !d.Status.Valid() {
		return errors.Newf("status %q is not an order status", d.Status)
	}
	return nil
}

func (d ExpirationCompleteData) Validate() error {
	return requireID("orderId", d.OrderID)
}

func (d PaymentCreatedData) Validate() error {
	return firstErr(
		requireID("id", d.ID),
		requireID("orderId", d.OrderID),
		requireString("stripeId", d.StripeID),
	)
}

func requireID(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.Newf("%s is required", field)
	}
	return nil
}

func requireString(field, v string) error {
	if v == "" {
		return errors.Newf("%s is required", field)
	}
	return nil
}

func requirePositive(field string, v float64) error {
	if v <= 0 {
		return errors.Newf("%s must be greater than 0", field)
	}
	return nil
}

func requireVersion(v, min int64) error {
	if v < min {
		return errors.Newf("version %d below %d", v, min)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

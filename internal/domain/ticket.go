package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func NewTicket(title string, price float64, userID uuid.UUID) (Ticket, error) {
	t := Ticket{ID: uuid.New(), UserID: userID}
	if err := t.Edit(title, price); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Edit changes the sellable fields. A reserved ticket cannot be edited.
func (t *Ticket) Edit(title string, price float64) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.Wrap(ErrInvalidInput, "title is required")
	}
	if price <= 0 {
		return errors.Wrap(ErrInvalidInput, "price must be greater than 0")
	}
	if t.Reserved() {
		return errors.Wrap(ErrTicketReserved, "cannot edit a reserved ticket")
	}
	t.Title = title
	t.Price = price
	return nil
}

func (t *Ticket) Reserved() bool {
	return t.OrderID != nil
}

// Reserve links the ticket to an order. Reserving for the order that already
// holds it reports false so the caller can skip the write.
func (t *Ticket) Reserve(orderID uuid.UUID) (bool, error) {
	if t.OrderID != nil {
		if *t.OrderID == orderID {
			return false, nil
		}
		return false, errors.Wrapf(ErrTicketReserved, "ticket %s held by order %s", t.ID, *t.OrderID)
	}
	t.OrderID = &orderID
	return true, nil
}

// Release clears the reservation if it belongs to orderID.
func (t *Ticket) Release(orderID uuid.UUID) bool {
	if t.OrderID == nil || *t.OrderID != orderID {
		return false
	}
	t.OrderID = nil
	return true
}

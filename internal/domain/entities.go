package domain

import (
	"time"

	"github.com/google/uuid"
)

type Ticket struct {
	ID      uuid.UUID
	Title   string
	Price   float64
	UserID  uuid.UUID
	OrderID *uuid.UUID
	Version int64
}

type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TicketID  uuid.UUID
	Price     float64
	Status    OrderStatus
	ExpiresAt time.Time
	Version   int64
}

type Payment struct {
	ID       uuid.UUID
	OrderID  uuid.UUID
	ChargeID string
	Version  int64
}

func (t *Ticket) CurrentVersion() int64  { return t.Version }
func (o *Order) CurrentVersion() int64   { return o.Version }
func (p *Payment) CurrentVersion() int64 { return p.Version }

// Package tickets owns tickets. It publishes every ticket change and reacts to
// orders reserving and releasing tickets.
package tickets

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertTicket(ctx context.Context, t domain.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	ListAvailableTickets(ctx context.Context) ([]domain.Ticket, error)
	UpdateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error)
	Enqueue(ctx context.Context, aggregateID uuid.UUID, p events.Payload) error

	RecordReleasedOrder(ctx context.Context, orderID, ticketID uuid.UUID) error
	OrderReleased(ctx context.Context, orderID uuid.UUID) (bool, error)
}

// Catalog is the listing read model. It is refreshed after each commit.
type Catalog interface {
	Upsert(ctx context.Context, t domain.Ticket) error
	ListAvailable(ctx context.Context) ([]domain.Ticket, error)
}

type Auditor interface {
	LogTicket(ctx context.Context, action string, t domain.Ticket) error
}

type Service struct {
	repo    Repository
	catalog Catalog
	audit   Auditor
	logger  observability.Logger
}

// NewService builds the service. catalog and audit may be nil.
func NewService(repo Repository, catalog Catalog, audit Auditor, logger observability.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit, logger: logger}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, title string, price float64) (domain.Ticket, error) {
	t, err := domain.NewTicket(title, price, userID)
	if err != nil {
		return domain.Ticket{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertTicket(ctx, t); err != nil {
			return err
		}
		return s.repo.Enqueue(ctx, t.ID, events.TicketCreatedData{
			ID:      t.ID,
			Version: t.Version,
			Title:   t.Title,
			Price:   t.Price,
			UserID:  t.UserID,
		})
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	s.committed(ctx, "ticket.created", t)
	return t, nil
}

// Update edits a ticket owned by userID. Reserved tickets cannot be edited.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, title string, price float64) (domain.Ticket, error) {
	var updated domain.Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if t.UserID != userID {
			return errors.Wrapf(domain.ErrNotAuthorized, "ticket %s", id)
		}
		if err := t.Edit(title, price); err != nil {
			return err
		}
		if updated, err = s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		return s.repo.Enqueue(ctx, updated.ID, updatedEvent(updated))
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	s.committed(ctx, "ticket.updated", updated)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	return s.repo.GetTicket(ctx, id)
}

// ListAvailable reads the catalog when one is configured and falls back to
// the database.
func (s *Service) ListAvailable(ctx context.Context) ([]domain.Ticket, error) {
	if s.catalog != nil {
		tickets, err := s.catalog.ListAvailable(ctx)
		if err == nil {
			return tickets, nil
		}
		s.logger.WithError(err).Warn("catalog unavailable, listing from database")
	}
	return s.repo.ListAvailableTickets(ctx)
}

// OnOrderCreated reserves the ticket for the new order. A ticket still held by
// a different order is retried: that order's cancellation may not have been
// applied yet. An order whose cancellation arrived first is never reserved.
func (s *Service) OnOrderCreated(ctx context.Context, data events.OrderCreatedData) error {
	var updated domain.Ticket
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		changed = false
		released, err := s.repo.OrderReleased(ctx, data.ID)
		if err != nil {
			return err
		}
		if released {
			s.logger.WithField("order_id", data.ID.String()).Info("order already cancelled, not reserving")
			return nil
		}
		t, err := s.repo.GetTicket(ctx, data.Ticket.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return events.Permanent(err)
		}
		if err != nil {
			return err
		}
		if changed, err = t.Reserve(data.ID); err != nil || !changed {
			return err
		}
		if updated, err = s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		return s.repo.Enqueue(ctx, updated.ID, updatedEvent(updated))
	})
	if err != nil || !changed {
		return err
	}
	s.committed(ctx, "ticket.reserved", updated)
	return nil
}

// OnOrderCancelled releases the ticket if the cancelled order holds it. The
// order is remembered either way so a late order:created cannot reserve it.
func (s *Service) OnOrderCancelled(ctx context.Context, data events.OrderCancelledData) error {
	var updated domain.Ticket
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		changed = false
		t, err := s.repo.GetTicket(ctx, data.Ticket.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return events.Permanent(err)
		}
		if err != nil {
			return err
		}
		if err := s.repo.RecordReleasedOrder(ctx, data.ID, t.ID); err != nil {
			return err
		}
		if changed = t.Release(data.ID); !changed {
			return nil
		}
		if updated, err = s.repo.UpdateTicket(ctx, t); err != nil {
			return err
		}
		return s.repo.Enqueue(ctx, updated.ID, updatedEvent(updated))
	})
	if err != nil || !changed {
		return err
	}
	s.committed(ctx, "ticket.released", updated)
	return nil
}

func (s *Service) Bindings() []events.Binding {
	return []events.Binding{
		events.Bind(s.OnOrderCreated),
		events.Bind(s.OnOrderCancelled),
	}
}

func (s *Service) committed(ctx context.Context, action string, t domain.Ticket) {
	if s.catalog != nil {
		if err := s.catalog.Upsert(ctx, t); err != nil {
			s.logger.WithError(err).WithField("ticket_id", t.ID.String()).Warn("catalog refresh failed")
		}
	}
	if s.audit != nil {
		_ = s.audit.LogTicket(ctx, action, t)
	}
}

func updatedEvent(t domain.Ticket) events.TicketUpdatedData {
	return events.TicketUpdatedData{
		ID:      t.ID,
		Version: t.Version,
		Title:   t.Title,
		Price:   t.Price,
		UserID:  t.UserID,
		OrderID: t.OrderID,
	}
}

package main

import (
	"context"

	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticketing-events/internal/adapters/mongo"
	"github.com/robertarktes/ticketing-events/internal/app"
	httphandler "github.com/robertarktes/ticketing-events/internal/http"
	"github.com/robertarktes/ticketing-events/internal/services/tickets"
)

func main() {
	app.Run("tickets", app.Options{
		Schemas:     []string{crdb.TicketsSchema, crdb.OutboxSchema},
		RelayOutbox: true,
	}, func(ctx context.Context, infra *app.Infra) (app.Service, error) {
		var (
			catalog tickets.Catalog
			audit   tickets.Auditor
		)
		if infra.Mongo != nil {
			catalog = mongoadapter.NewTicketCatalog(infra.Mongo, infra.Logger)
			audit = mongoadapter.NewAuditLogger(infra.Mongo, infra.Logger)
		}
		svc := tickets.NewService(infra.Repo, catalog, audit, infra.Logger)
		return app.Service{
			Handlers: &httphandler.Handlers{Tickets: svc},
			Bindings: svc.Bindings(),
		}, nil
	})
}

package main

import (
	"context"

	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticketing-events/internal/adapters/mongo"
	"github.com/robertarktes/ticketing-events/internal/app"
	httphandler "github.com/robertarktes/ticketing-events/internal/http"
	"github.com/robertarktes/ticketing-events/internal/services/orders"
)

func main() {
	app.Run("orders", app.Options{
		Schemas:     []string{crdb.OrdersSchema, crdb.OutboxSchema},
		RelayOutbox: true,
	}, func(ctx context.Context, infra *app.Infra) (app.Service, error) {
		var audit orders.Auditor
		if infra.Mongo != nil {
			audit = mongoadapter.NewAuditLogger(infra.Mongo, infra.Logger)
		}
		svc := orders.NewService(infra.Repo, audit, infra.Config.ExpirationWindow, infra.Logger)
		return app.Service{
			Handlers: &httphandler.Handlers{Orders: svc},
			Bindings: svc.Bindings(),
		}, nil
	})
}

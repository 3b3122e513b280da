package main

import (
	"context"

	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticketing-events/internal/adapters/mongo"
	"github.com/robertarktes/ticketing-events/internal/app"
	httphandler "github.com/robertarktes/ticketing-events/internal/http"
	"github.com/robertarktes/ticketing-events/internal/services/payments"
)

func main() {
	app.Run("payments", app.Options{
		Schemas:     []string{crdb.PaymentsSchema, crdb.OutboxSchema},
		RelayOutbox: true,
	}, func(ctx context.Context, infra *app.Infra) (app.Service, error) {
		var audit payments.Auditor
		if infra.Mongo != nil {
			audit = mongoadapter.NewAuditLogger(infra.Mongo, infra.Logger)
		}
		svc := payments.NewService(infra.Repo, payments.NewSandboxGateway(), audit, infra.Logger)
		return app.Service{
			Handlers: &httphandler.Handlers{Payments: svc},
			Bindings: svc.Bindings(),
		}, nil
	})
}

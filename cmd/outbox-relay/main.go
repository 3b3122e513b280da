// Command outbox-relay drains a service's outbox table on its own, for
// deployments that keep publishing out of the API process. Running it next to
// an embedded relay is safe: claims skip rows another relay holds.
package main

import (
	"context"

	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	"github.com/robertarktes/ticketing-events/internal/app"
)

func main() {
	app.Run("outbox-relay", app.Options{
		Schemas:     []string{crdb.OutboxSchema},
		RelayOutbox: true,
	}, func(ctx context.Context, infra *app.Infra) (app.Service, error) {
		return app.Service{}, nil
	})
}

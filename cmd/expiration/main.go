package main

import (
	"context"

	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
	"github.com/robertarktes/ticketing-events/internal/app"
	"github.com/robertarktes/ticketing-events/internal/scheduler"
	"github.com/robertarktes/ticketing-events/internal/services/expiration"
)

func main() {
	app.Run("expiration", app.Options{}, func(ctx context.Context, infra *app.Infra) (app.Service, error) {
		jobs := redisadapter.NewJobStore(infra.Redis, "order:expiration")

		// The scheduler fires into the service, which in turn schedules on it.
		var svc *expiration.Service
		sched := scheduler.New(jobs, func(ctx context.Context, job redisadapter.Job) error {
			return svc.Fire(ctx, job)
		}, scheduler.Config{
			PollInterval: infra.Config.SchedulerPollInterval,
			Lease:        infra.Config.SchedulerLease,
		}, infra.Logger)
		svc = expiration.NewService(sched, infra.Publisher, infra.Logger)

		return app.Service{
			Bindings: svc.Bindings(),
			Workers:  []func(ctx context.Context) error{sched.Run},
		}, nil
	})
}

// Package app boots a service process: it connects the stores and the broker,
// starts one listener per subscribed subject and serves HTTP until the process
// is signalled or the broker connection is lost.
package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticketing-events/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticketing-events/internal/adapters/mongo"
	"github.com/robertarktes/ticketing-events/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
	"github.com/robertarktes/ticketing-events/internal/config"
	"github.com/robertarktes/ticketing-events/internal/events"
	httphandler "github.com/robertarktes/ticketing-events/internal/http"
	"github.com/robertarktes/ticketing-events/internal/idempotency"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/outbox"
	"github.com/robertarktes/ticketing-events/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

var ErrBrokerLost = errors.New("broker connection lost")

// Infra holds the connections a service is built from. Repo is nil when the
// process runs without CockroachDB and Mongo is nil when MONGO_URI is unset.
type Infra struct {
	Config    *config.Config
	Logger    observability.Logger
	Repo      *crdb.Repository
	Redis     *redisclient.Client
	Mongo     *mongo.Database
	Broker    *rabbit.Client
	Publisher *rabbit.Publisher
}

// Service is what a process contributes on top of the shared runtime.
type Service struct {
	Handlers *httphandler.Handlers
	Bindings []events.Binding
	Workers  []func(ctx context.Context) error
}

type Options struct {
	// Schemas are migrated on startup. CockroachDB is only dialled when set.
	Schemas []string
	// RelayOutbox runs the outbox relay inside the process.
	RelayOutbox bool
}

type BuildFunc func(ctx context.Context, infra *Infra) (Service, error)

// Run never returns: it exits non-zero when startup fails, a component fails
// or the broker goes away, and zero after a clean shutdown.
func Run(name string, opts Options, build BuildFunc) {
	cfg, err := config.Load(name)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewServiceLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	if err := run(ctx, cfg, logger, opts, build); err != nil {
		logger.WithError(err).Error("service stopped")
		shutdownOtel()
		os.Exit(1)
	}
	logger.Info("service exiting")
}

func run(ctx context.Context, cfg *config.Config, logger observability.Logger, opts Options, build BuildFunc) error {
	infra := &Infra{Config: cfg, Logger: logger}

	if len(opts.Schemas) > 0 {
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return errors.Wrap(err, "connect to crdb")
		}
		defer pool.Close()
		if err := crdb.Migrate(ctx, pool, opts.Schemas...); err != nil {
			return err
		}
		infra.Repo = crdb.NewRepository(pool)
	}

	infra.Redis = redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer infra.Redis.Close()

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return errors.Wrap(err, "connect to mongo")
		}
		defer mongoClient.Disconnect(context.Background())
		infra.Mongo = mongoClient.Database(cfg.MongoDB)
	}

	infra.Broker = rabbit.NewClient(cfg.RabbitURL, rabbit.RetryConfig{
		Retries:   cfg.ConnectRetries,
		BaseDelay: cfg.ConnectBaseDelay,
		MaxDelay:  cfg.ConnectMaxDelay,
	}, logger)
	if err := infra.Broker.Connect(ctx); err != nil {
		return err
	}
	defer infra.Broker.Close()

	publisher, err := rabbit.NewPublisher(infra.Broker)
	if err != nil {
		return err
	}
	defer publisher.Close()
	infra.Publisher = publisher

	svc, err := build(ctx, infra)
	if err != nil {
		return err
	}

	var archive rabbit.DeadLetterArchive
	if infra.Mongo != nil {
		archive = mongoadapter.NewDeadLetterArchive(infra.Mongo, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-infra.Broker.Done():
			return ErrBrokerLost
		}
	})

	listenerCfg := rabbit.ListenerConfig{
		Group:         cfg.QueueGroup(),
		AckWait:       cfg.AckWait,
		MaxDeliveries: cfg.MaxDeliveries,
	}
	for _, b := range svc.Bindings {
		l := rabbit.NewListener(infra.Broker, b, listenerCfg, archive, logger)
		g.Go(func() error { return l.Listen(gctx) })
	}

	if opts.RelayOutbox && infra.Repo != nil {
		relay := outbox.NewRelay(infra.Repo, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	for _, w := range svc.Workers {
		g.Go(func() error { return w(gctx) })
	}

	h := svc.Handlers
	if h == nil {
		h = &httphandler.Handlers{}
	}
	h.Ready = append(h.Ready, readyChecks(infra)...)

	cache := redisadapter.NewCache(infra.Redis)
	rl := rateLimit.NewRateLimiter(cache, logger)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(infra.Redis), time.Hour)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(h, logger, rl, idemp),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func readyChecks(infra *Infra) []httphandler.ReadyCheck {
	checks := []httphandler.ReadyCheck{
		{Name: "broker", Check: func(ctx context.Context) error {
			if infra.Broker.State() != rabbit.StateConnected {
				return rabbit.ErrNotConnected
			}
			return nil
		}},
		{Name: "redis", Check: redisadapter.NewCache(infra.Redis).Ping},
	}
	if infra.Repo != nil {
		checks = append(checks, httphandler.ReadyCheck{Name: "crdb", Check: infra.Repo.Ping})
	}
	if infra.Mongo != nil {
		checks = append(checks, httphandler.ReadyCheck{Name: "mongo", Check: func(ctx context.Context) error {
			return infra.Mongo.Client().Ping(ctx, nil)
		}})
	}
	return checks
}

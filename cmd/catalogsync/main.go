// Command catalogsync consumes catalog events into the projection store and
// serves the catalog read API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/apm/v2"

	"github.com/skynet2/catalogsync/applier"
	"github.com/skynet2/catalogsync/auth"
	"github.com/skynet2/catalogsync/config"
	"github.com/skynet2/catalogsync/consumer"
	"github.com/skynet2/catalogsync/httpapi"
	"github.com/skynet2/catalogsync/module/apmelastic"
	"github.com/skynet2/catalogsync/projector"
	"github.com/skynet2/catalogsync/query"
	"github.com/skynet2/catalogsync/store"
	"github.com/skynet2/catalogsync/store/memory"
	"github.com/skynet2/catalogsync/store/postgres"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("catalog service stopped")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "catalog").Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		consumerInterceptor consumer.UnaryInterceptorFunc
		httpMiddleware      []func(http.Handler) http.Handler
	)

	if cfg.APMEnabled {
		tracer := apm.DefaultTracer()
		defer tracer.Flush(nil)

		consumerInterceptor = apmelastic.ConsumerInterceptor(tracer, true)
		httpMiddleware = append(httpMiddleware, apmelastic.HTTPMiddleware(tracer))
	}

	broker := consumer.NewNatsBroker(consumer.NatsBrokerConfiguration{
		URL:        cfg.NatsURL,
		AckWait:    cfg.AckWait,
		MaxDeliver: cfg.MaxDeliver,
		FetchWait:  cfg.FetchWait,
	}, nats.Name(cfg.ConsumerName), nats.MaxReconnects(-1))
	defer broker.Close()

	queueConsumer := consumer.NewQueueConsumer(broker, consumer.Configuration{
		Concurrency:    cfg.Concurrency,
		ConsumerName:   cfg.ConsumerName,
		Queue:          cfg.QueueName,
		ReconnectDelay: cfg.ReconnectDelay,
	},
		projector.New(applier.New(st)).Handle,
		consumer.WithInterceptors(consumerInterceptor),
		consumer.WithLogger(logger),
	)

	if err = queueConsumer.ConsumeAsync(); err != nil {
		return errors.Wrap(err, "start consumer")
	}
	defer func() {
		_ = queueConsumer.Close()
	}()

	handler := httpapi.NewHandler(
		query.NewService(st, query.WithListAllCap(cfg.ListAllCap), query.WithMaxLimit(cfg.MaxPageSize)),
		auth.NewJWTAuthenticator(cfg.JWTSecret),
		httpapi.WithLogger(logger),
		httpapi.WithMiddleware(httpMiddleware...),
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("queue", cfg.QueueName).Msg("catalog service is running")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server did not shut down cleanly")
	}

	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	options := []postgres.Option{
		postgres.WithTableName(cfg.BooksTable),
		postgres.WithLogger(logger),
	}

	var (
		st      *postgres.Store
		closeFn func()
	)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store, the projection is lost on restart")
		return memory.New(), func() {}, nil
	case config.StoreDriverSQLX:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to postgres")
		}

		closeFn = func() {
			_ = db.Close()
		}

		if st, err = postgres.NewStoreFromSQLX(db, options...); err != nil {
			closeFn()
			return nil, nil, err
		}
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to postgres")
		}

		closeFn = pool.Close

		if st, err = postgres.NewStoreFromPGXPool(pool, options...); err != nil {
			closeFn()
			return nil, nil, err
		}
	}

	if err := st.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}

	return st, closeFn, nil
}

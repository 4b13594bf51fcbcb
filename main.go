package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Zhima-Mochi/minishop-allocation/internal/bootstrap"
	"github.com/Zhima-Mochi/minishop-allocation/internal/config"
	"github.com/Zhima-Mochi/minishop-allocation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/logsink"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/observability/zaplogger"
	redisinfra "github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/redis"
	"github.com/Zhima-Mochi/minishop-allocation/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"github.com/Zhima-Mochi/minishop-allocation/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-allocation/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-allocation/internal/presentation/worker"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so deferred cleanup runs on all exit paths.
func run(cfg config.Config) error {
	baseLogger, err := logging.NewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	shutdownTracing, err := oteltrace.Setup(context.Background(), oteltrace.ProviderConfig{
		ServiceName: cfg.ServiceName,
		Env:         cfg.Env,
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		Insecure:    cfg.TraceInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		systemLogger.Error("tracing_setup_failed", zap.Error(err))
		return err
	}

	tel := infraobs.New(oteltrace.New(cfg.ServiceName), zaplogger.New(baseLogger), prometrics.New(nil, ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDependencies(ctx, cfg, tel)
	if err != nil {
		systemLogger.Error("dependencies_failed", zap.Error(err))
		return err
	}
	defer cleanup()

	app := bootstrap.New(deps)
	dispatcher := workerpresentation.NewDispatcher(app.Bus, app.NewUnitOfWork, tel)

	var workers sync.WaitGroup
	if consume := subscriber(cfg, dispatcher, tel.Logger()); consume != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consume(ctx); err != nil {
				systemLogger.Error("subscriber_error", zap.Error(err))
			}
		}()
	}

	handler := httppresentation.NewHandler(app.Bus, app.NewUnitOfWork, app.Views, tel)
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("views", cfg.ViewStore),
			zap.String("publisher", cfg.Publisher),
			zap.String("subscriber", cfg.Subscriber),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
	workers.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		systemLogger.Error("tracing_shutdown_error", zap.Error(err))
	}
	return nil
}

// buildDependencies opens the configured adapters. cleanup closes whatever was
// opened; on error everything is already closed and cleanup is nil.
func buildDependencies(ctx context.Context, cfg config.Config, tel observability.Observability) (deps bootstrap.Dependencies, cleanup func(), err error) {
	var closers []func() error
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	defer func() {
		if err != nil {
			cleanup()
			cleanup = nil
		}
	}()
	deps = bootstrap.Dependencies{
		Notifier:      logsink.NewNotifier(tel.Logger()),
		NotifyTo:      cfg.NotifyAddress,
		Observability: tel,
	}

	var (
		db      *sql.DB
		dialect sqlstore.Dialect
	)
	switch cfg.StoreDriver {
	case "memory":
		deps.Store = memory.NewProductStore()
	default:
		d, err := sqlstore.ParseDialect(cfg.StoreDriver)
		if err != nil {
			return deps, cleanup, err
		}
		db, err = sqlstore.Open(ctx, d, cfg.DatabaseDSN)
		if err != nil {
			return deps, cleanup, err
		}
		closers = append(closers, db.Close)
		if err := sqlstore.Migrate(ctx, db, d); err != nil {
			return deps, cleanup, err
		}
		dialect = d
		deps.Store = sqlstore.NewProductStore(db, d)
	}

	var rdb goredis.UniversalClient
	if cfg.UsesRedis() {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return deps, cleanup, err
		}
		rdb = client
	}

	switch cfg.ViewStore {
	case "sql":
		deps.Views = sqlstore.NewViewStore(db, dialect)
	case "redis":
		deps.Views = redisinfra.NewViewStore(rdb)
	default:
		deps.Views = memory.NewViewStore()
	}

	var publisher outbox.Publisher
	switch cfg.Publisher {
	case "redis":
		publisher = redisinfra.NewPublisher(rdb)
	case "kafka":
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		closers = append(closers, kp.Close)
		publisher = kp
	default:
		publisher = logsink.NewPublisher(tel.Logger())
	}
	deps.Publisher = publisher

	return deps, cleanup, nil
}

// subscriber returns the inbound consumer loop for change_batch_quantity, or nil.
func subscriber(cfg config.Config, d *workerpresentation.Dispatcher, log observability.Logger) func(context.Context) error {
	switch cfg.Subscriber {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		c := redisinfra.NewConsumer(client, outbox.ChannelChangeBatchQuantity, func(ctx context.Context, payload []byte) error {
			return d.ChangeBatchQuantity(ctx, "redis", payload)
		}, log)
		return func(ctx context.Context) error {
			defer client.Close()
			return c.Run(ctx)
		}
	case "kafka":
		c := kafka.NewConsumer(cfg.KafkaBrokers, outbox.ChannelChangeBatchQuantity, cfg.KafkaGroupID, func(ctx context.Context, payload []byte) error {
			return d.ChangeBatchQuantity(ctx, "kafka", payload)
		}, log)
		return c.Run
	default:
		return nil
	}
}

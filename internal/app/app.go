// Package app wires together all dependencies and runs the fulfillment
// service: the intake API, the saga worker and the peer replication
// consumers share one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/adapter"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/compensation"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/config"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/event"
	handler "github.com/Simodalstix/AWS-multiregion-ecommerce/internal/handler/http"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/intake"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/saga"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	pgstore "github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store/postgres"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store/postgres/migrations"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/database"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/health"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/httpclient"
	pkgkafka "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/middleware"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/tracing"
)

// App holds every long-lived component of the fulfillment service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	worker         *saga.Worker
	peerConsumers  []*pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "fulfillment",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		Region:         cfg.Region,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRatio,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "fulfillment")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Kafka producer. Order events and replication records share it.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	eventProducer := event.NewProducer(producer, cfg.Region)

	// Side-effect ledger. Redis gives first-writer-wins across workers; the
	// in-memory fallback still dedupes within this process.
	var (
		redisClient *redis.Client
		ledger      adapter.Ledger
	)
	if cfg.LedgerDisabled {
		ledger = adapter.NewMemoryLedger()
		logger.Warn("side-effect ledger running in-memory, duplicate suppression is per-process only")
	} else {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		ledger = adapter.NewRedisLedger(redisClient, cfg.LedgerTTL)
	}

	// Downstream adapters, each behind its own circuit breaker so a melting
	// payment provider does not trip calls to shipping.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         cfg.StepTimeout,
		MaxRetries:      0, // the saga retry policy owns retries
		MaxConnsPerHost: 100,
	})
	breaker := func(name string) *httpclient.CircuitBreakerClient {
		return httpclient.NewCircuitBreakerClient(baseClient, httpclient.DefaultCircuitBreakerConfig(name), logger)
	}

	registry := adapter.NewRegistry(
		adapter.Guard(adapter.NewInventoryAdapter(breaker("fulfillment-inventory"), cfg.InventoryBaseURL), ledger, logger),
		adapter.Guard(adapter.NewPaymentAdapter(breaker("fulfillment-payment"), cfg.PaymentBaseURL), ledger, logger),
		adapter.Guard(adapter.NewShippingAdapter(breaker("fulfillment-shipping"), cfg.ShippingBaseURL), ledger, logger),
		adapter.Guard(adapter.NewNotificationAdapter(breaker("fulfillment-notification"), cfg.NotificationBaseURL), ledger, logger),
	)

	// Storage. Local writes go through the replicating decorator; records
	// applied from peers go through the plain store so they are never
	// republished onto our own stream.
	orderStore := pgstore.New(pool, cfg.Region)
	replicated := store.NewReplicatedStore(orderStore, eventProducer, logger)

	// Peer replication consumers, one per peer region, deduplicated by event
	// ID so redeliveries do not re-run the merge.
	reconciler := adapter.NewOrphanReconciler(registry, logger)
	replicator := store.NewReplicator(orderStore, reconciler, logger)

	var idemStore pkgkafka.IdempotencyStore
	if redisClient != nil {
		idemStore = pkgkafka.NewRedisIdempotencyStore(redisClient, 24*time.Hour)
	} else {
		idemStore = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	}
	replicationHandler := pkgkafka.IdempotentHandler(idemStore, replicator.Handler(), logger)

	peerConsumers := make([]*pkgkafka.Consumer, 0, len(cfg.PeerRegions))
	for _, peer := range cfg.PeerRegions {
		consumer := store.NewPeerConsumer(cfg.KafkaBrokers, cfg.Region, peer, replicationHandler, logger).WithDLQ(dlq)
		peerConsumers = append(peerConsumers, consumer)
		logger.Info("peer replication consumer registered", slog.String("peer_region", peer))
	}

	// Saga worker.
	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	policy := saga.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.MaxDelay = cfg.RetryMaxDelay

	compensator := compensation.NewManager(replicated, registry, eventProducer, dlq, policy, cfg.Region, cfg.LeaseTTL, logger)
	orchestrator := saga.NewOrchestrator(replicated, registry, eventProducer, compensator, policy, saga.Config{
		WorkerID:    workerID,
		LeaseTTL:    cfg.LeaseTTL,
		StepTimeout: cfg.StepTimeout,
	}, logger)
	worker := saga.NewWorker(replicated, orchestrator, saga.WorkerConfig{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
	}, logger)

	// Intake service. The sequencer is seeded from the clock so order IDs
	// from earlier process lifetimes are not reissued.
	sequencer := intake.NewSequencer(cfg.Region, time.Now().UnixNano())
	intakeService := intake.NewService(replicated, eventProducer, sequencer, cfg.Region, logger)

	// Health checks.
	healthHandler := health.NewHandler(cfg.Region)
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment
	router := handler.NewRouter(intakeService, healthHandler, logger, cfg.PprofCIDRs, corsCfg)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		dlq:            dlq,
		worker:         worker,
		peerConsumers:  peerConsumers,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, the saga worker and the replication consumers,
// and blocks until the context is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2+len(a.peerConsumers))

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("saga worker: %w", err)
		}
	}()

	for _, consumer := range a.peerConsumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("replication consumer: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	cancel()
	wg.Wait()

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in dependency order:
// 1. HTTP server (drain in-flight requests)
// 2. Replication consumers
// 3. Tracer (flush pending spans)
// 4. Kafka producers
// 5. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	for _, consumer := range a.peerConsumers {
		if err := consumer.Close(); err != nil {
			a.logger.Error("replication consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

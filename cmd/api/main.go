package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach_crm_backend/internal/changefeed"
	"outreach_crm_backend/internal/events"
	apphttp "outreach_crm_backend/internal/http"
	"outreach_crm_backend/internal/http/router"
	"outreach_crm_backend/internal/pipeline"
	"outreach_crm_backend/internal/pipeline/bulk"
	"outreach_crm_backend/internal/pipeline/rules"
	"outreach_crm_backend/internal/scheduler"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/db"
	"outreach_crm_backend/platform/logger"
	"outreach_crm_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if cfg.MigrationsEnabled {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg, "migrations")
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	ruleProvider, err := rules.NewProvider(ctx, rules.NewSource(cfg, pool), log)
	if err != nil {
		log.Error("failed to load follow-up rules", "error", err)
		panic("failed to load follow-up rules: " + err.Error())
	}

	enqueuer, rdb, closeScheduler := initRecomputeScheduler(ctx, cfg, ruleProvider, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	pipelineModule, err := pipeline.NewModule(pool, eventBus, ruleProvider, val, cfg, log, enqueuer)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		panic("failed to initialize pipeline module: " + err.Error())
	}
	defer pipelineModule.Close()

	var reloadClient redis.UniversalClient
	if rdb != nil {
		reloadClient = rdb
	}
	pipelineModule.SetRulesReloader(rules.NewReloader(ruleProvider, reloadClient, cfg.GetRulesReloadChannel()))

	if closeFeed := initChangeFeed(ctx, cfg, eventBus, pipelineModule.View(), pipelineModule.SSE(), log); closeFeed != nil {
		defer closeFeed()
	}

	dueSweep := scheduler.NewDueSweep(pipelineModule.Repository(), eventBus, cfg, log)
	go dueSweep.Run(ctx)

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   pool,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			pipelineModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRecomputeScheduler connects the asynq client used for background
// schedule reconciliation and starts the rules reload watcher. Both need
// Redis. The returned redis client is nil when reload notifications are off.
func initRecomputeScheduler(ctx context.Context, cfg *config.Config, provider *rules.Provider, log *logger.Logger) (bulk.Enqueuer, *redis.Client, func()) {
	if !cfg.IsSchedulerEnabled() {
		log.Warn("REDIS_URL not configured; recompute reconciliation and rule reload notifications disabled")
		return nil, nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize recompute scheduler client", "error", err)
		return nil, nil, nil
	}

	rdb, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		return client, nil, func() { _ = client.Close() }
	}

	go func() {
		if err := provider.Watch(ctx, rdb, cfg.GetRulesReloadChannel()); err != nil {
			log.Error("rules reload watcher stopped", "error", err)
		}
	}()

	return client, rdb, func() {
		_ = client.Close()
		_ = rdb.Close()
	}
}

// initChangeFeed publishes committed pipeline changes to Kafka, merges
// changes from other instances into the local view and forwards the merged
// state to local SSE clients.
func initChangeFeed(ctx context.Context, cfg config.ChangeFeedConfig, bus events.Bus, view *changefeed.View, local events.Handler, log *logger.Logger) func() {
	if !cfg.IsChangeFeedEnabled() {
		log.Info("change feed disabled")
		return nil
	}

	origin := instanceID()

	writer := changefeed.NewKafkaWriter(cfg.GetKafkaBrokers(), cfg.GetChangeFeedTopic())
	publisher := changefeed.NewKafkaPublisher(writer, origin, log)
	changefeed.Subscribe(bus, publisher)

	reader := changefeed.NewKafkaReader(cfg.GetKafkaBrokers(), cfg.GetChangeFeedTopic(), cfg.GetChangeFeedGroupID()+"-"+origin)
	consumer := changefeed.NewConsumer(reader, view, origin, log, local)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("change feed consumer stopped", "error", err)
		}
	}()

	log.Info("change feed enabled", "topic", cfg.GetChangeFeedTopic(), "origin", origin)
	return func() {
		_ = publisher.Close()
		_ = reader.Close()
	}
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}

// withRetry retries fn with exponential backoff until it succeeds, attempts
// run out or ctx is done.
func withRetry(ctx context.Context, log *logger.Logger, name string, attempts uint64, baseDelay time.Duration, fn func() error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(baseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(); err != nil {
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

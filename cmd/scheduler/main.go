package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/internal/pipeline/rules"
	"outreach_crm_backend/internal/pipeline/service"
	"outreach_crm_backend/internal/scheduler"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/db"
	"outreach_crm_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.IsSchedulerEnabled() {
		log.Error("REDIS_URL not configured; scheduler cannot start")
		panic("scheduler requires REDIS_URL")
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

	eventBus := events.NewInMemoryBus(log)

	ruleProvider, err := rules.NewProvider(ctx, rules.NewSource(cfg, pool), log)
	if err != nil {
		log.Error("failed to load follow-up rules", "error", err)
		panic("failed to load follow-up rules: " + err.Error())
	}

	rdb, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer rdb.Close()
	go func() {
		if err := ruleProvider.Watch(ctx, rdb, cfg.GetRulesReloadChannel()); err != nil {
			log.Error("rules reload watcher stopped", "error", err)
		}
	}()

	pipelineService := service.New(repository.New(pool), ruleProvider, eventBus, log)

	worker, err := scheduler.NewWorker(cfg, pipelineService, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	log.Info("scheduler worker running", "queue", cfg.GetAsynqQueueName(), "concurrency", cfg.GetAsynqConcurrency())
	worker.Run(ctx)
	log.Info("scheduler stopped")
}

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

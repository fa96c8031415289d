package scheduler

import (
	"context"
	"errors"
	"fmt"

	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/internal/pipeline/service"
	"outreach_crm_backend/platform/apperr"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Recomputer re-derives and stores a contact's schedule.
type Recomputer interface {
	Recompute(ctx context.Context, organizationID, contactID uuid.UUID) (service.Result, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	recomputer Recomputer
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, recomputer Recomputer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(recomputer, log)
	w.server = server
	return w, nil
}

func newWorker(recomputer Recomputer, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:        mux,
		recomputer: recomputer,
		log:        log,
	}
	mux.HandleFunc(TaskPipelineRecompute, w.handleRecompute)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleRecompute(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRecomputePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("%w: organization id: %v", asynq.SkipRetry, err)
	}
	contactID, err := uuid.Parse(payload.ContactID)
	if err != nil {
		return fmt.Errorf("%w: contact id: %v", asynq.SkipRetry, err)
	}

	_, err = w.recomputer.Recompute(ctx, orgID, contactID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), apperr.Is(err, apperr.KindNotFound):
		// The contact was deleted after the task was queued.
		return nil
	default:
		// Includes a schedule write that failed again; asynq retries the task.
		return err
	}
}

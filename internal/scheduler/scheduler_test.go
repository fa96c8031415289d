package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/internal/pipeline/service"
	"outreach_crm_backend/platform/apperr"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func TestRecomputeTaskRoundTrip(t *testing.T) {
	payload := RecomputePayload{OrganizationID: uuid.NewString(), ContactID: uuid.NewString()}
	task, err := NewRecomputeTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskPipelineRecompute {
		t.Fatalf("expected type %q, got %q", TaskPipelineRecompute, task.Type())
	}
	got, err := ParseRecomputePayload(task)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != payload {
		t.Fatalf("expected %+v, got %+v", payload, got)
	}
}

func TestRedisClientOptParsesURL(t *testing.T) {
	opt, err := redisClientOpt("rediss://:secret@cache.internal:6380/2", true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opt.Addr != "cache.internal:6380" || opt.Password != "secret" || opt.DB != 2 {
		t.Fatalf("unexpected options: %+v", opt)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatal("expected insecure TLS config")
	}

	plain, err := redisClientOpt("redis://localhost:6379/0", false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plain.TLSConfig != nil {
		t.Fatal("expected no TLS for redis://")
	}
}

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(&config.Config{}); err == nil {
		t.Fatal("expected error without redis url")
	}
}

func TestEnqueueRecomputeDropsDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(&config.Config{RedisURL: "redis://" + mr.Addr(), AsynqQueueName: "pipeline"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	org, contact := uuid.New(), uuid.New()
	if err := client.EnqueueRecompute(context.Background(), org, contact); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := client.EnqueueRecompute(context.Background(), org, contact); err != nil {
		t.Fatalf("duplicate enqueue should be ignored: %v", err)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	tasks, err := inspector.ListPendingTasks("pipeline")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one pending task, got %d", len(tasks))
	}
}

type fakeRecomputer struct {
	result service.Result
	err    error
	calls  int
	org    uuid.UUID
	id     uuid.UUID
}

func (f *fakeRecomputer) Recompute(_ context.Context, organizationID, contactID uuid.UUID) (service.Result, error) {
	f.calls++
	f.org, f.id = organizationID, contactID
	return f.result, f.err
}

func recomputeTask(t *testing.T, org, contact string) *asynq.Task {
	t.Helper()
	task, err := NewRecomputeTask(RecomputePayload{OrganizationID: org, ContactID: contact})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestHandleRecompute(t *testing.T) {
	org, contact := uuid.New(), uuid.New()

	t.Run("success", func(t *testing.T) {
		rec := &fakeRecomputer{}
		w := newWorker(rec, logger.Discard())
		if err := w.handleRecompute(context.Background(), recomputeTask(t, org.String(), contact.String())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.calls != 1 || rec.org != org || rec.id != contact {
			t.Fatalf("unexpected call: %+v", rec)
		}
	})

	t.Run("invalid payload skips retry", func(t *testing.T) {
		rec := &fakeRecomputer{}
		w := newWorker(rec, logger.Discard())
		err := w.handleRecompute(context.Background(), recomputeTask(t, "nope", contact.String()))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("expected SkipRetry, got %v", err)
		}
		if rec.calls != 0 {
			t.Fatal("recompute must not run for invalid payload")
		}
	})

	t.Run("deleted contact", func(t *testing.T) {
		rec := &fakeRecomputer{err: service.MapError(service.OpRecompute, repository.ErrNotFound)}
		w := newWorker(rec, logger.Discard())
		if err := w.handleRecompute(context.Background(), recomputeTask(t, org.String(), contact.String())); err != nil {
			t.Fatalf("expected nil for missing contact, got %v", err)
		}
	})

	t.Run("storage failure retries", func(t *testing.T) {
		rec := &fakeRecomputer{err: apperr.Internal("boom")}
		w := newWorker(rec, logger.Discard())
		err := w.handleRecompute(context.Background(), recomputeTask(t, org.String(), contact.String()))
		if err == nil || errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})

	t.Run("schedule write failure retries", func(t *testing.T) {
		cause := errors.Join(domain.ErrRecomputeWarning, errors.New("schedule write timeout"))
		rec := &fakeRecomputer{err: service.MapError(service.OpRecompute, cause)}
		w := newWorker(rec, logger.Discard())
		err := w.handleRecompute(context.Background(), recomputeTask(t, org.String(), contact.String()))
		if !errors.Is(err, domain.ErrRecomputeWarning) || errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("expected retryable recompute error, got %v", err)
		}
	})
}

type fakeDueReader struct {
	contacts []repository.Contact
	err      error
	params   []repository.DueParams
}

func (f *fakeDueReader) ListDue(_ context.Context, params repository.DueParams) ([]repository.Contact, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	var out []repository.Contact
	for _, c := range f.contacts {
		at := c.Pipeline.NextActionAt
		if at == nil || at.After(params.Before) {
			continue
		}
		if params.After != nil && !at.After(*params.After) {
			continue
		}
		out = append(out, c)
		if len(out) == params.Limit {
			break
		}
	}
	return out, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func dueContact(at time.Time, note string) repository.Contact {
	return repository.Contact{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Pipeline: domain.PipelineState{
			Channel:        domain.ChannelEmail,
			Status:         domain.StatusContacted,
			NextActionAt:   &at,
			NextActionNote: &note,
		},
	}
}

func TestDueSweepPublishesNewlyDueOnce(t *testing.T) {
	start := time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)
	clock := start
	overdue := dueContact(start.Add(-time.Hour), "Send follow-up email")
	soon := dueContact(start.Add(30*time.Second), "Send follow-up email")

	store := &fakeDueReader{contacts: []repository.Contact{overdue, soon}}
	bus := &recordingBus{}
	sweep := NewDueSweep(store, bus, &config.Config{DueSweepBatchSize: 10}, logger.Discard())
	sweep.now = func() time.Time { return clock }
	sweep.watermark = start

	clock = start.Add(time.Minute)
	if n := sweep.sweep(context.Background()); n != 1 {
		t.Fatalf("expected one newly due contact, got %d", n)
	}
	due, ok := bus.events[0].(events.NextActionDue)
	if !ok {
		t.Fatalf("unexpected event %T", bus.events[0])
	}
	if due.ContactID != soon.ID || due.NextActionNote != "Send follow-up email" || due.Channel != "email" {
		t.Fatalf("unexpected event: %+v", due)
	}

	clock = start.Add(2 * time.Minute)
	if n := sweep.sweep(context.Background()); n != 0 {
		t.Fatalf("expected no repeat publication, got %d", n)
	}
}

func TestDueSweepFullBatchResumesAtLastAction(t *testing.T) {
	start := time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)
	first := dueContact(start.Add(10*time.Second), "a")
	second := dueContact(start.Add(20*time.Second), "b")
	third := dueContact(start.Add(30*time.Second), "c")

	store := &fakeDueReader{contacts: []repository.Contact{first, second, third}}
	bus := &recordingBus{}
	sweep := NewDueSweep(store, bus, &config.Config{DueSweepBatchSize: 2}, logger.Discard())
	sweep.now = func() time.Time { return start.Add(time.Minute) }
	sweep.watermark = start

	if n := sweep.sweep(context.Background()); n != 2 {
		t.Fatalf("expected full batch, got %d", n)
	}
	if n := sweep.sweep(context.Background()); n != 1 {
		t.Fatalf("expected remaining contact, got %d", n)
	}
	if got := bus.events[2].(events.NextActionDue).ContactID; got != third.ID {
		t.Fatalf("expected third contact, got %s", got)
	}
}

func TestDueSweepStoreErrorKeepsWatermark(t *testing.T) {
	start := time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)
	store := &fakeDueReader{err: errors.New("db down")}
	sweep := NewDueSweep(store, &recordingBus{}, &config.Config{}, logger.Discard())
	sweep.now = func() time.Time { return start.Add(time.Minute) }
	sweep.watermark = start

	if n := sweep.sweep(context.Background()); n != 0 {
		t.Fatalf("expected nothing published, got %d", n)
	}
	if !sweep.watermark.Equal(start) {
		t.Fatalf("watermark moved on failure: %s", sweep.watermark)
	}
	if store.params[0].Limit != defaultDueSweepBatch {
		t.Fatalf("expected default batch, got %d", store.params[0].Limit)
	}
}

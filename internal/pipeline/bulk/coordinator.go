// Package bulk applies one pipeline change to many contacts. The primary
// fields are written in a single logical write; derived schedules are then
// recomputed per contact on a bounded worker pool, and a contact whose
// recompute fails never affects the others.
package bulk

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"outreach_crm_backend/internal/changefeed"
	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/observability"
	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/internal/pipeline/service"
	"outreach_crm_backend/platform/apperr"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkerLimit = 8
	defaultBaseDelay   = 50 * time.Millisecond
)

// Change is the bulk change. A nil field is not part of the change; a
// Channel pointing at domain.ChannelNone clears the channel.
type Change struct {
	Channel *domain.Channel
	Status  *domain.Status
}

func (c Change) IsEmpty() bool {
	return c.Channel == nil && c.Status == nil
}

// Result summarises a bulk operation. Warnings counts contacts whose primary
// write succeeded but whose schedule could not be stored.
type Result struct {
	Requested  int
	Matched    int
	Recomputed int
	Warnings   int
}

// ActivityAppender stores audit records.
type ActivityAppender interface {
	AppendActivity(ctx context.Context, records []domain.ActivityRecord) error
}

// Store is the part of the repository the coordinator uses.
type Store interface {
	repository.PipelineReader
	repository.BulkWriter
	repository.ScheduleWriter
	ActivityAppender
}

// Enqueuer schedules background schedule reconciliation for one contact.
type Enqueuer interface {
	EnqueueRecompute(ctx context.Context, organizationID, contactID uuid.UUID) error
}

type Coordinator struct {
	store       Store
	catalog     service.CatalogProvider
	bus         events.Bus
	enqueuer    Enqueuer
	log         *logger.Logger
	workerLimit int
	retries     uint64
	baseDelay   time.Duration
	now         func() time.Time
}

// Option configures optional Coordinator behaviour.
type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithEnqueuer enables background reconciliation of failed recomputes.
func WithEnqueuer(enqueuer Enqueuer) Option {
	return func(c *Coordinator) { c.enqueuer = enqueuer }
}

func New(store Store, catalog service.CatalogProvider, bus events.Bus, log *logger.Logger, cfg config.BulkConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		catalog:     catalog,
		bus:         bus,
		log:         log,
		workerLimit: cfg.GetBulkWorkerLimit(),
		retries:     cfg.GetBulkRecomputeRetries(),
		baseDelay:   cfg.GetBulkRetryBaseDelay(),
		now:         time.Now,
	}
	if c.workerLimit <= 0 {
		c.workerLimit = defaultWorkerLimit
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type planned struct {
	before     domain.PipelineState
	activities []domain.ActivityChange
}

// ApplyBulk validates the change against every matched contact, writes the
// primary fields in one write and then recomputes each contact's schedule.
func (c *Coordinator) ApplyBulk(ctx context.Context, organizationID, actorID uuid.UUID, contactIDs []uuid.UUID, change Change) (Result, error) {
	ids := dedupe(contactIDs)
	result := Result{Requested: len(ids)}

	if change.IsEmpty() {
		return result, apperr.Validation("bulk change must set channel or status").WithOp(service.OpBulk).WithCode("empty_change")
	}
	if len(ids) == 0 {
		return result, apperr.Validation("contactIds must not be empty").WithOp(service.OpBulk).WithCode("no_contacts")
	}

	contacts, err := c.store.ReadMany(ctx, organizationID, ids)
	if err != nil {
		c.log.DatabaseError("bulk_read", err)
		return result, service.MapError(service.OpBulk, err)
	}
	result.Matched = len(contacts)
	if len(contacts) == 0 {
		c.log.BulkOutcome(result.Requested, 0, 0, 0)
		return result, nil
	}

	engine := domain.NewEngine(c.catalog.Current())
	now := c.now().UTC()

	plans := make(map[uuid.UUID]planned, len(contacts))
	states := make(map[uuid.UUID]domain.PipelineState, len(contacts))
	for _, contact := range contacts {
		tr, err := applyChange(engine, contact.Pipeline, change, now)
		if err != nil {
			observability.RecordTransition(service.OpBulk, observability.OutcomeRejected)
			return result, service.MapError(service.OpBulk, err)
		}
		plans[contact.ID] = planned{before: tr.Before, activities: tr.Activities}
		states[contact.ID] = tr.After
	}

	written, err := c.store.WriteMany(ctx, organizationID, states)
	if err != nil {
		c.log.DatabaseError("bulk_write", err)
		if ctx.Err() != nil {
			return c.unknown(result, len(contacts), ctx.Err())
		}
		observability.RecordTransition(service.OpBulk, observability.OutcomeFailed)
		observability.RecordBulkContacts(observability.OutcomeFailed, len(contacts))
		return result, service.MapError(service.OpBulk, err)
	}

	// Committed transitions are audited even when the caller has gone away.
	actor := actorRef(actorID)
	c.appendActivity(context.WithoutCancel(ctx), organizationID, actor, written, plans, now)
	if ctx.Err() != nil {
		return c.unknown(result, len(written), ctx.Err())
	}

	final, recomputed, warnings := c.recomputeAll(ctx, engine, written)
	if ctx.Err() != nil {
		return c.unknown(result, len(written)-int(recomputed), ctx.Err())
	}
	result.Recomputed = int(recomputed)
	result.Warnings = int(warnings)

	c.publish(ctx, actor, final, plans)

	observability.RecordBulkContacts(observability.OutcomeRecomputed, result.Recomputed)
	observability.RecordBulkContacts(observability.OutcomeWarning, result.Warnings)
	outcome := observability.OutcomeOK
	if result.Warnings > 0 {
		outcome = observability.OutcomeWarning
	}
	observability.RecordTransition(service.OpBulk, outcome)
	c.log.BulkOutcome(result.Requested, result.Matched, result.Recomputed, result.Warnings)

	return result, nil
}

// applyChange is SetChannel followed by SetStatus. A channel in the change
// always clears status and lead stage, even when the channel is unchanged,
// and every matched contact gets a fresh last action time.
func applyChange(engine *domain.Engine, state domain.PipelineState, change Change, now time.Time) (domain.Transition, error) {
	before := state.Clone()
	current := state.Clone()
	var activities []domain.ActivityChange

	if change.Channel != nil {
		tr, err := engine.SetChannel(current, *change.Channel, now)
		if err != nil {
			return domain.Transition{}, err
		}
		current = tr.After
		current.Status = domain.StatusNone
		current.LeadStage = domain.LeadStageNone
		activities = append(activities, tr.Activities...)
	}
	if change.Status != nil {
		tr, err := engine.SetStatus(current, *change.Status, now)
		if err != nil {
			return domain.Transition{}, err
		}
		current = tr.After
		activities = append(activities, tr.Activities...)
	}

	at := now
	current.LastActionAt = &at

	return domain.Transition{
		Before:     before,
		After:      current,
		Changed:    len(domain.Diff(before, current)) > 0,
		Activities: activities,
	}, nil
}

func (c *Coordinator) recomputeAll(ctx context.Context, engine *domain.Engine, written []repository.Contact) ([]repository.Contact, int64, int64) {
	final := make([]repository.Contact, len(written))
	copy(final, written)

	var recomputed, warnings atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(c.workerLimit)

	for i := range final {
		g.Go(func() error {
			contact := final[i]
			schedule := engine.Recompute(contact.Pipeline)
			if err := c.writeSchedule(ctx, contact, schedule); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				warnings.Add(1)
				c.log.RecomputeWarning(contact.ID.String(), err)
				observability.RecordRecomputeWarning()
				c.enqueue(ctx, contact)
				return nil
			}
			final[i].Pipeline = contact.Pipeline.WithSchedule(schedule)
			recomputed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return final, recomputed.Load(), warnings.Load()
}

func (c *Coordinator) writeSchedule(ctx context.Context, contact repository.Contact, schedule domain.Schedule) error {
	if schedule.Equal(contact.Pipeline.Schedule()) {
		return nil
	}
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.baseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.store.WriteSchedule(ctx, contact.OrganizationID, contact.ID, schedule)
		if err == nil || errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (c *Coordinator) enqueue(ctx context.Context, contact repository.Contact) {
	if c.enqueuer == nil {
		return
	}
	if err := c.enqueuer.EnqueueRecompute(ctx, contact.OrganizationID, contact.ID); err != nil {
		c.log.Warn("failed to enqueue pipeline recompute", "contact_id", contact.ID, "error", err)
	}
}

func (c *Coordinator) unknown(result Result, contacts int, cause error) (Result, error) {
	observability.RecordTransition(service.OpBulk, observability.OutcomeUnknown)
	observability.RecordBulkContacts(observability.OutcomeUnknown, contacts)
	c.log.Warn("bulk pipeline outcome unknown", "requested", result.Requested, "matched", result.Matched, "error", cause)
	return result, service.MapError(service.OpBulk, errors.Join(domain.ErrOutcomeUnknown, cause))
}

func (c *Coordinator) appendActivity(ctx context.Context, organizationID uuid.UUID, actor *uuid.UUID, contacts []repository.Contact, plans map[uuid.UUID]planned, at time.Time) {
	var records []domain.ActivityRecord
	for _, contact := range contacts {
		for _, change := range plans[contact.ID].activities {
			records = append(records, domain.NewActivityRecord(contact.ID, organizationID, actor, change, at))
		}
	}
	if len(records) == 0 {
		return
	}
	if err := c.store.AppendActivity(ctx, records); err != nil {
		c.log.Warn("bulk activity append failed", "records", len(records), "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, actor *uuid.UUID, contacts []repository.Contact, plans map[uuid.UUID]planned) {
	if c.bus == nil {
		return
	}
	at := c.now().UTC()
	for _, contact := range contacts {
		fields := domain.Diff(plans[contact.ID].before, contact.Pipeline)
		if len(fields) == 0 {
			continue
		}
		c.bus.Publish(ctx, events.ContactPipelineChanged{
			BaseEvent:      events.BaseEvent{Timestamp: at},
			OrganizationID: contact.OrganizationID,
			ContactID:      contact.ID,
			ActorID:        actor,
			Operation:      service.OpBulk,
			Changed:        changefeed.FieldNames(fields),
			State:          changefeed.Snapshot(contact.Pipeline),
		})
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func actorRef(actorID uuid.UUID) *uuid.UUID {
	if actorID == uuid.Nil {
		return nil
	}
	return &actorID
}

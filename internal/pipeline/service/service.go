// Package service orchestrates pipeline mutations: validation through the
// transition engine, the primary write, derived schedule recompute, activity
// records and change events.
package service

import (
	"context"
	"errors"
	"time"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/observability"
	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/platform/logger"

	"github.com/google/uuid"
)

// Operation names used in logs, metrics and change events.
const (
	OpSetChannel       = "set_channel"
	OpSetStatus        = "set_status"
	OpAdvance          = "advance"
	OpSetLeadStage     = "set_lead_stage"
	OpSetCustomCadence = "set_custom_cadence"
	OpRecompute        = "recompute"
	OpBulk             = "bulk"
)

// CatalogProvider returns the active catalog snapshot.
type CatalogProvider interface {
	Current() *domain.Catalog
}

// OptimisticView receives changes before they are persisted.
type OptimisticView interface {
	Merge(change events.ContactPipelineChanged) bool
}

// Store is the subset of the repository the service uses.
type Store interface {
	repository.PipelineReader
	repository.PipelineWriter
	repository.ScheduleWriter
	repository.ActivityStore
	repository.DueReader
	repository.ReportReader
}

// Result is the outcome of a single-contact mutation. Warnings are set when
// the primary write succeeded but the derived schedule could not be stored.
type Result struct {
	Contact  repository.Contact
	Changed  bool
	Warnings []string
}

// LeadStageBucket is one row of the lead-stage report.
type LeadStageBucket struct {
	Stage domain.LeadStage
	Count int
}

type Service struct {
	store   Store
	catalog CatalogProvider
	view    OptimisticView
	bus     events.Bus
	log     *logger.Logger
	now     func() time.Time
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithView enables optimistic updates of view.
func WithView(view OptimisticView) Option {
	return func(s *Service) { s.view = view }
}

func New(store Store, catalog CatalogProvider, bus events.Bus, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the active catalog.
func (s *Service) Catalog() *domain.Catalog {
	return s.catalog.Current()
}

// Get returns a contact with its pipeline state.
func (s *Service) Get(ctx context.Context, organizationID, contactID uuid.UUID) (repository.Contact, error) {
	contact, err := s.store.Read(ctx, organizationID, contactID)
	if err != nil {
		return repository.Contact{}, MapError("get", err)
	}
	return contact, nil
}

func (s *Service) SetChannel(ctx context.Context, organizationID, actorID, contactID uuid.UUID, channel domain.Channel) (Result, error) {
	return s.mutate(ctx, OpSetChannel, organizationID, actorID, contactID,
		func(e *domain.Engine, st domain.PipelineState, now time.Time) (domain.Transition, error) {
			return e.SetChannel(st, channel, now)
		})
}

func (s *Service) SetStatus(ctx context.Context, organizationID, actorID, contactID uuid.UUID, status domain.Status) (Result, error) {
	return s.mutate(ctx, OpSetStatus, organizationID, actorID, contactID,
		func(e *domain.Engine, st domain.PipelineState, now time.Time) (domain.Transition, error) {
			return e.SetStatus(st, status, now)
		})
}

// Advance moves the contact to the conventional next status of its sequence.
func (s *Service) Advance(ctx context.Context, organizationID, actorID, contactID uuid.UUID) (Result, error) {
	return s.mutate(ctx, OpAdvance, organizationID, actorID, contactID,
		func(e *domain.Engine, st domain.PipelineState, now time.Time) (domain.Transition, error) {
			return e.Advance(st, now)
		})
}

func (s *Service) SetLeadStage(ctx context.Context, organizationID, actorID, contactID uuid.UUID, stage domain.LeadStage) (Result, error) {
	return s.mutate(ctx, OpSetLeadStage, organizationID, actorID, contactID,
		func(e *domain.Engine, st domain.PipelineState, now time.Time) (domain.Transition, error) {
			return e.SetLeadStage(st, stage, now)
		})
}

// SetCustomCadence overrides the rule cadence. nil clears the override.
func (s *Service) SetCustomCadence(ctx context.Context, organizationID, actorID, contactID uuid.UUID, days *int) (Result, error) {
	return s.mutate(ctx, OpSetCustomCadence, organizationID, actorID, contactID,
		func(e *domain.Engine, st domain.PipelineState, _ time.Time) (domain.Transition, error) {
			return e.SetCustomCadence(st, days)
		})
}

// Recompute re-derives and stores a contact's schedule without touching the
// primary fields. Background reconciliation uses it.
func (s *Service) Recompute(ctx context.Context, organizationID, contactID uuid.UUID) (Result, error) {
	contact, err := s.store.Read(ctx, organizationID, contactID)
	if err != nil {
		return Result{}, MapError(OpRecompute, err)
	}
	before := contact.Pipeline
	contact, err = s.reconcileSchedule(ctx, domain.NewEngine(s.catalog.Current()), contact)
	if err != nil {
		return Result{}, MapError(OpRecompute, errors.Join(domain.ErrRecomputeWarning, err))
	}
	changed := len(domain.Diff(before, contact.Pipeline)) > 0
	if changed {
		s.publish(ctx, OpRecompute, nil, before, contact)
	}
	return Result{Contact: contact, Changed: changed}, nil
}

func (s *Service) ListActivity(ctx context.Context, organizationID, contactID uuid.UUID, limit int) ([]domain.ActivityRecord, error) {
	if _, err := s.store.Read(ctx, organizationID, contactID); err != nil {
		return nil, MapError("list_activity", err)
	}
	records, err := s.store.ListActivity(ctx, organizationID, contactID, limit)
	if err != nil {
		s.log.DatabaseError("list_activity", err)
		return nil, MapError("list_activity", err)
	}
	return records, nil
}

// ListDue returns contacts whose next action is at or before before.
func (s *Service) ListDue(ctx context.Context, organizationID uuid.UUID, before time.Time, limit int) ([]repository.Contact, error) {
	if before.IsZero() {
		before = s.now()
	}
	contacts, err := s.store.ListDue(ctx, repository.DueParams{
		OrganizationID: &organizationID,
		Before:         before.UTC(),
		Limit:          limit,
	})
	if err != nil {
		s.log.DatabaseError("list_due", err)
		return nil, MapError("list_due", err)
	}
	return contacts, nil
}

// LeadStageReport counts contacts per lead-stage bucket. Contacts without a
// lead stage are classified from their legacy status.
func (s *Service) LeadStageReport(ctx context.Context, organizationID uuid.UUID) ([]LeadStageBucket, error) {
	rows, err := s.store.LeadStageCounts(ctx, organizationID)
	if err != nil {
		s.log.DatabaseError("lead_stage_report", err)
		return nil, MapError("lead_stage_report", err)
	}

	counts := make(map[domain.LeadStage]int)
	for _, row := range rows {
		counts[bucketFor(row)] += row.Count
	}

	buckets := make([]LeadStageBucket, 0, len(domain.AllLeadStages()))
	for _, stage := range domain.AllLeadStages() {
		buckets = append(buckets, LeadStageBucket{Stage: stage, Count: counts[stage]})
	}
	return buckets, nil
}

func bucketFor(row repository.LeadStageCount) domain.LeadStage {
	if row.LeadStage != nil {
		if stage := domain.LeadStage(*row.LeadStage); stage.IsKnown() {
			return stage
		}
		return domain.ClassifyLeadStage(*row.LeadStage)
	}
	if row.LegacyStatus != nil {
		return domain.ClassifyLeadStage(*row.LegacyStatus)
	}
	return domain.LeadStageCold
}

type transitionFunc func(*domain.Engine, domain.PipelineState, time.Time) (domain.Transition, error)

func (s *Service) mutate(ctx context.Context, op string, organizationID, actorID, contactID uuid.UUID, apply transitionFunc) (Result, error) {
	contact, err := s.store.Read(ctx, organizationID, contactID)
	if err != nil {
		observability.RecordTransition(op, outcomeFor(err))
		return Result{}, MapError(op, err)
	}

	engine := domain.NewEngine(s.catalog.Current())
	now := s.now().UTC()

	tr, err := apply(engine, contact.Pipeline, now)
	if err != nil {
		observability.RecordTransition(op, observability.OutcomeRejected)
		return Result{}, MapError(op, err)
	}

	if !tr.Changed {
		return s.finishNoop(ctx, op, engine, contact)
	}

	actor := actorRef(actorID)
	cmd := newCommand(op, organizationID, contactID, actor, tr)
	s.applyView(cmd.forward(now))

	written, err := s.store.Write(ctx, organizationID, contactID, tr.After)
	if err != nil {
		s.applyView(cmd.compensate(s.now().UTC()))
		s.log.DatabaseError(op, err)
		observability.RecordTransition(op, observability.OutcomeFailed)
		return Result{}, MapError(op, err)
	}

	result := Result{Contact: written, Changed: true}
	written, err = s.reconcileSchedule(ctx, engine, written)
	if err != nil {
		result.Warnings = append(result.Warnings, s.warn(contactID, err))
	}
	result.Contact = written

	s.appendActivity(ctx, organizationID, contactID, actor, tr.Activities, now)
	s.publish(ctx, op, actor, contact.Pipeline, written)

	outcome := observability.OutcomeOK
	if len(result.Warnings) > 0 {
		outcome = observability.OutcomeWarning
	}
	observability.RecordTransition(op, outcome)
	s.log.PipelineTransition(op, contactID.String(), describe(tr.Before), describe(tr.After))

	return result, nil
}

// finishNoop still repairs a stale schedule so the derived fields always
// match the stored primary state.
func (s *Service) finishNoop(ctx context.Context, op string, engine *domain.Engine, contact repository.Contact) (Result, error) {
	before := contact.Pipeline
	result := Result{Contact: contact}
	reconciled, err := s.reconcileSchedule(ctx, engine, contact)
	if err != nil {
		result.Warnings = append(result.Warnings, s.warn(contact.ID, err))
	} else if len(domain.Diff(before, reconciled.Pipeline)) > 0 {
		result.Contact = reconciled
		s.publish(ctx, op, nil, before, reconciled)
	}
	observability.RecordTransition(op, observability.OutcomeOK)
	return result, nil
}

// reconcileSchedule writes the recomputed schedule when it differs from the
// stored one. On failure the contact is returned unchanged.
func (s *Service) reconcileSchedule(ctx context.Context, engine *domain.Engine, contact repository.Contact) (repository.Contact, error) {
	schedule := engine.Recompute(contact.Pipeline)
	if schedule.Equal(contact.Pipeline.Schedule()) {
		return contact, nil
	}
	if err := s.store.WriteSchedule(ctx, contact.OrganizationID, contact.ID, schedule); err != nil {
		return contact, err
	}
	contact.Pipeline = contact.Pipeline.WithSchedule(schedule)
	return contact, nil
}

func (s *Service) warn(contactID uuid.UUID, err error) string {
	s.log.RecomputeWarning(contactID.String(), err)
	observability.RecordRecomputeWarning()
	return domain.ErrRecomputeWarning.Error()
}

func (s *Service) appendActivity(ctx context.Context, organizationID, contactID uuid.UUID, actor *uuid.UUID, changes []domain.ActivityChange, at time.Time) {
	if len(changes) == 0 {
		return
	}
	records := make([]domain.ActivityRecord, 0, len(changes))
	for _, change := range changes {
		records = append(records, domain.NewActivityRecord(contactID, organizationID, actor, change, at))
	}
	if err := s.store.AppendActivity(ctx, records); err != nil {
		s.log.Warn("pipeline activity append failed", "contact_id", contactID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, op string, actor *uuid.UUID, before domain.PipelineState, after repository.Contact) {
	if s.bus == nil {
		return
	}
	cmd := newCommand(op, after.OrganizationID, after.ID, actor, domain.Transition{Before: before, After: after.Pipeline})
	s.bus.Publish(ctx, cmd.forward(s.now().UTC()))
}

func (s *Service) applyView(change events.ContactPipelineChanged) {
	if s.view != nil {
		s.view.Merge(change)
	}
}

func actorRef(actorID uuid.UUID) *uuid.UUID {
	if actorID == uuid.Nil {
		return nil
	}
	return &actorID
}

func outcomeFor(err error) string {
	if errors.Is(err, repository.ErrNotFound) {
		return observability.OutcomeRejected
	}
	return observability.OutcomeFailed
}

func describe(state domain.PipelineState) string {
	out := string(state.Channel)
	if state.Status != domain.StatusNone {
		out += "/" + string(state.Status)
	}
	if state.LeadStage != domain.LeadStageNone {
		out += "/" + string(state.LeadStage)
	}
	if out == "" {
		return "none"
	}
	return out
}

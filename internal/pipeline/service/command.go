package service

import (
	"time"

	"outreach_crm_backend/internal/changefeed"
	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// command is one single-contact mutation. It is applied optimistically to
// the view before persisting; if the write fails its compensation restores
// the prior snapshot of the fields it touched.
type command struct {
	op             string
	organizationID uuid.UUID
	contactID      uuid.UUID
	actorID        *uuid.UUID
	before         domain.PipelineState
	after          domain.PipelineState
	fields         []string
}

func newCommand(op string, organizationID, contactID uuid.UUID, actorID *uuid.UUID, tr domain.Transition) command {
	return command{
		op:             op,
		organizationID: organizationID,
		contactID:      contactID,
		actorID:        actorID,
		before:         tr.Before.Clone(),
		after:          tr.After.Clone(),
		fields:         changefeed.FieldNames(domain.Diff(tr.Before, tr.After)),
	}
}

func (c command) forward(at time.Time) events.ContactPipelineChanged {
	return c.event(c.after, at)
}

func (c command) compensate(at time.Time) events.ContactPipelineChanged {
	return c.event(c.before, at)
}

func (c command) event(state domain.PipelineState, at time.Time) events.ContactPipelineChanged {
	return events.ContactPipelineChanged{
		BaseEvent:      events.BaseEvent{Timestamp: at},
		OrganizationID: c.organizationID,
		ContactID:      c.contactID,
		ActorID:        c.actorID,
		Operation:      c.op,
		Changed:        c.fields,
		State:          changefeed.Snapshot(state),
	}
}

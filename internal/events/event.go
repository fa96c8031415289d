// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"outreach_crm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event        = events.Event
	Bus          = events.Bus
	Handler      = events.Handler
	HandlerFunc  = events.HandlerFunc
	BaseEvent    = events.BaseEvent
	TenantScoped = events.TenantScoped
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// Event names.
const (
	ContactPipelineChangedName = "pipeline.contact.changed"
	NextActionDueName          = "pipeline.next_action.due"
)

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// PipelineSnapshot is the full pipeline state of a contact at publish time.
// Empty strings and nil pointers mean null.
type PipelineSnapshot struct {
	Channel           string     `json:"channel"`
	Status            string     `json:"status"`
	LeadStage         string     `json:"leadStage"`
	LastActionAt      *time.Time `json:"lastActionAt"`
	CustomCadenceDays *int       `json:"customCadenceDays"`
	NextActionAt      *time.Time `json:"nextActionAt"`
	NextActionNote    *string    `json:"nextActionNote"`
}

// ContactPipelineChanged is published after a committed pipeline write.
// Changed names the snapshot fields that this write altered; consumers
// merge only those.
type ContactPipelineChanged struct {
	BaseEvent
	OrganizationID uuid.UUID        `json:"organizationId"`
	ContactID      uuid.UUID        `json:"contactId"`
	ActorID        *uuid.UUID       `json:"actorId,omitempty"`
	Operation      string           `json:"operation"`
	Changed        []string         `json:"changed"`
	State          PipelineSnapshot `json:"state"`
}

func (e ContactPipelineChanged) EventName() string   { return ContactPipelineChangedName }
func (e ContactPipelineChanged) TenantID() uuid.UUID { return e.OrganizationID }

// NextActionDue is published by the due sweep for contacts whose next action
// date has passed.
type NextActionDue struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	ContactID      uuid.UUID `json:"contactId"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	NextActionAt   time.Time `json:"nextActionAt"`
	NextActionNote string    `json:"nextActionNote"`
}

func (e NextActionDue) EventName() string   { return NextActionDueName }
func (e NextActionDue) TenantID() uuid.UUID { return e.OrganizationID }

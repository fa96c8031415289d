// Package changefeed fans committed pipeline changes out to sinks and keeps
// an incrementally merged view of contact pipeline state.
package changefeed

import (
	"context"
	"sync"
	"time"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

type entry struct {
	organizationID uuid.UUID
	state          events.PipelineSnapshot
	version        time.Time
}

// View is a per-contact map of pipeline state. A tracked contact merges only
// the fields a change names, and changes older than the stored version are
// ignored.
type View struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry
}

func NewView() *View {
	return &View{entries: make(map[uuid.UUID]entry)}
}

// Merge applies change and reports whether it was applied.
func (v *View) Merge(change events.ContactPipelineChanged) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	current, exists := v.entries[change.ContactID]
	if exists && change.OccurredAt().Before(current.version) {
		return false
	}
	if exists {
		current.state = mergeFields(current.state, change.State, change.Changed)
	} else {
		// The first change seen for a contact carries its full state.
		current = entry{organizationID: change.OrganizationID, state: change.State}
	}
	current.version = change.OccurredAt()
	v.entries[change.ContactID] = current
	return true
}

// Get returns the merged snapshot of a contact within an organization.
func (v *View) Get(organizationID, contactID uuid.UUID) (events.PipelineSnapshot, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.entries[contactID]
	if !ok || e.organizationID != organizationID {
		return events.PipelineSnapshot{}, false
	}
	return e.state, true
}

// Len returns the number of tracked contacts.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Handle lets the view subscribe to the event bus.
func (v *View) Handle(_ context.Context, event events.Event) error {
	if change, ok := event.(events.ContactPipelineChanged); ok {
		v.Merge(change)
	}
	return nil
}

func mergeFields(dst, src events.PipelineSnapshot, fields []string) events.PipelineSnapshot {
	for _, f := range fields {
		switch domain.Field(f) {
		case domain.FieldChannel:
			dst.Channel = src.Channel
		case domain.FieldStatus:
			dst.Status = src.Status
		case domain.FieldLeadStage:
			dst.LeadStage = src.LeadStage
		case domain.FieldLastActionAt:
			dst.LastActionAt = src.LastActionAt
		case domain.FieldCustomCadenceDays:
			dst.CustomCadenceDays = src.CustomCadenceDays
		case domain.FieldNextActionAt:
			dst.NextActionAt = src.NextActionAt
		case domain.FieldNextActionNote:
			dst.NextActionNote = src.NextActionNote
		}
	}
	return dst
}

// Snapshot converts a domain state into its event representation.
func Snapshot(state domain.PipelineState) events.PipelineSnapshot {
	s := state.Clone()
	return events.PipelineSnapshot{
		Channel:           string(s.Channel),
		Status:            string(s.Status),
		LeadStage:         string(s.LeadStage),
		LastActionAt:      s.LastActionAt,
		CustomCadenceDays: s.CustomCadenceDays,
		NextActionAt:      s.NextActionAt,
		NextActionNote:    s.NextActionNote,
	}
}

// FieldNames converts a domain diff into event field names.
func FieldNames(fields []domain.Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, string(f))
	}
	return out
}

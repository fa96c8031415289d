package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineState is the mutable pipeline subject of a contact.
// NextActionAt and NextActionNote are derived and only written by Recompute.
type PipelineState struct {
	Channel           Channel
	Status            Status
	LeadStage         LeadStage
	LastActionAt      *time.Time
	CustomCadenceDays *int
	NextActionAt      *time.Time
	NextActionNote    *string
}

// Clone returns a deep copy so snapshots never alias pointer fields.
func (s PipelineState) Clone() PipelineState {
	out := s
	out.LastActionAt = cloneTime(s.LastActionAt)
	out.NextActionAt = cloneTime(s.NextActionAt)
	out.CustomCadenceDays = cloneInt(s.CustomCadenceDays)
	out.NextActionNote = cloneString(s.NextActionNote)
	return out
}

// Schedule returns the derived fields currently stored on the state.
func (s PipelineState) Schedule() Schedule {
	return Schedule{
		NextActionAt:   cloneTime(s.NextActionAt),
		NextActionNote: cloneString(s.NextActionNote),
	}
}

// WithSchedule overwrites both derived fields at once.
func (s PipelineState) WithSchedule(schedule Schedule) PipelineState {
	out := s.Clone()
	out.NextActionAt = cloneTime(schedule.NextActionAt)
	out.NextActionNote = cloneString(schedule.NextActionNote)
	return out
}

// Validate checks the channel/status/lead-stage dependency invariants.
func (s PipelineState) Validate(catalog *Catalog) error {
	if s.Channel == ChannelNone {
		if s.Status != StatusNone {
			return fmt.Errorf("%w: status %q without channel", ErrNoChannelSelected, s.Status)
		}
		if s.LeadStage != LeadStageNone {
			return fmt.Errorf("%w: lead stage %q without channel", ErrNoChannelSelected, s.LeadStage)
		}
		return nil
	}
	if !s.Channel.IsKnown() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, s.Channel)
	}
	if s.Status != StatusNone && !catalog.IsValidStatus(s.Channel, s.Status) {
		return fmt.Errorf("%w: %q on %s", ErrInvalidStatusForChannel, s.Status, s.Channel)
	}
	if s.LeadStage != LeadStageNone && s.Status == StatusNone {
		return ErrPrerequisiteNotSet
	}
	return nil
}

// Schedule is the derived next-action pair.
type Schedule struct {
	NextActionAt   *time.Time
	NextActionNote *string
}

// Equal compares both derived fields by value.
func (s Schedule) Equal(other Schedule) bool {
	if (s.NextActionAt == nil) != (other.NextActionAt == nil) {
		return false
	}
	if s.NextActionAt != nil && !s.NextActionAt.Equal(*other.NextActionAt) {
		return false
	}
	if (s.NextActionNote == nil) != (other.NextActionNote == nil) {
		return false
	}
	return s.NextActionNote == nil || *s.NextActionNote == *other.NextActionNote
}

// ActivityKind classifies an activity record.
type ActivityKind string

const (
	ActivityStatusChange    ActivityKind = "status_change"
	ActivityChannelChange   ActivityKind = "channel_change"
	ActivityLeadStageChange ActivityKind = "lead_stage_change"
)

// ActivityChange is the contact-independent part of an activity record that
// the transition engine produces.
type ActivityChange struct {
	Kind ActivityKind
	From string
	To   string
}

// ActivityRecord is an append-only audit entry. The core never mutates or
// deletes one.
type ActivityRecord struct {
	ID             uuid.UUID
	ContactID      uuid.UUID
	OrganizationID uuid.UUID
	ActorID        *uuid.UUID
	Kind           ActivityKind
	From           string
	To             string
	OccurredAt     time.Time
}

// NewActivityRecord stamps a change with its contact and time.
func NewActivityRecord(contactID, organizationID uuid.UUID, actorID *uuid.UUID, change ActivityChange, at time.Time) ActivityRecord {
	return ActivityRecord{
		ID:             uuid.New(),
		ContactID:      contactID,
		OrganizationID: organizationID,
		ActorID:        actorID,
		Kind:           change.Kind,
		From:           change.From,
		To:             change.To,
		OccurredAt:     at,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Field names a pipeline state field in change records.
type Field string

const (
	FieldChannel           Field = "channel"
	FieldStatus            Field = "status"
	FieldLeadStage         Field = "leadStage"
	FieldLastActionAt      Field = "lastActionAt"
	FieldCustomCadenceDays Field = "customCadenceDays"
	FieldNextActionAt      Field = "nextActionAt"
	FieldNextActionNote    Field = "nextActionNote"
)

// Diff lists the fields whose values differ between before and after.
func Diff(before, after PipelineState) []Field {
	var out []Field
	if before.Channel != after.Channel {
		out = append(out, FieldChannel)
	}
	if before.Status != after.Status {
		out = append(out, FieldStatus)
	}
	if before.LeadStage != after.LeadStage {
		out = append(out, FieldLeadStage)
	}
	if !equalTime(before.LastActionAt, after.LastActionAt) {
		out = append(out, FieldLastActionAt)
	}
	if !equalInt(before.CustomCadenceDays, after.CustomCadenceDays) {
		out = append(out, FieldCustomCadenceDays)
	}
	if !equalTime(before.NextActionAt, after.NextActionAt) {
		out = append(out, FieldNextActionAt)
	}
	if !equalString(before.NextActionNote, after.NextActionNote) {
		out = append(out, FieldNextActionNote)
	}
	return out
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

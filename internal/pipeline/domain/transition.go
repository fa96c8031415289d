package domain

import (
	"fmt"
	"time"
)

// Transition is the outcome of a state-machine operation. Changed is false
// for no-ops; Activities lists the audit entries the caller must append.
type Transition struct {
	Before     PipelineState
	After      PipelineState
	Changed    bool
	Activities []ActivityChange
}

// Engine applies pipeline transitions against a catalog snapshot. Every
// operation is total: it returns either a new state or a validation error,
// never a partially modified state.
type Engine struct {
	catalog *Catalog
}

// NewEngine binds an engine to a catalog snapshot.
func NewEngine(catalog *Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Catalog returns the snapshot the engine validates against.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// SetChannel selects or clears the channel. Changing the channel always
// resets status and lead stage since the old status belongs to another
// sequence.
func (e *Engine) SetChannel(state PipelineState, channel Channel, now time.Time) (Transition, error) {
	if channel != ChannelNone && !channel.IsKnown() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	before := state.Clone()
	if channel == state.Channel {
		if channel == ChannelNone && (state.Status != StatusNone || state.LeadStage != LeadStageNone) {
			// Repair rows that violate the null-channel invariant.
			after := state.Clone()
			after.Status = StatusNone
			after.LeadStage = LeadStageNone
			return Transition{Before: before, After: after, Changed: true}, nil
		}
		return Transition{Before: before, After: before.Clone()}, nil
	}

	after := state.Clone()
	after.Channel = channel
	after.Status = StatusNone
	after.LeadStage = LeadStageNone
	after.LastActionAt = timePtr(now)

	return Transition{
		Before:  before,
		After:   after,
		Changed: true,
		Activities: []ActivityChange{{
			Kind: ActivityChannelChange,
			From: string(state.Channel),
			To:   string(channel),
		}},
	}, nil
}

// SetStatus moves the contact to any status in its channel's sequence.
// Jumps are allowed; CanonicalNext is only advisory.
func (e *Engine) SetStatus(state PipelineState, status Status, now time.Time) (Transition, error) {
	if state.Channel == ChannelNone {
		return Transition{}, ErrNoChannelSelected
	}
	if !e.catalog.IsValidStatus(state.Channel, status) {
		return Transition{}, fmt.Errorf("%w: %q on %s", ErrInvalidStatusForChannel, status, state.Channel)
	}

	before := state.Clone()
	after := state.Clone()
	after.Status = status
	after.LeadStage = LeadStageNone
	after.LastActionAt = timePtr(now)

	return Transition{
		Before:  before,
		After:   after,
		Changed: true,
		Activities: []ActivityChange{{
			Kind: ActivityStatusChange,
			From: string(state.Status),
			To:   string(status),
		}},
	}, nil
}

// Advance moves to the conventional next status, or to the first status of
// the sequence when none is set yet.
func (e *Engine) Advance(state PipelineState, now time.Time) (Transition, error) {
	if state.Channel == ChannelNone {
		return Transition{}, ErrNoChannelSelected
	}
	if state.Status == StatusNone {
		return e.SetStatus(state, e.catalog.FirstStatus(state.Channel), now)
	}
	next, ok := e.catalog.CanonicalNext(state.Channel, state.Status)
	if !ok {
		return Transition{}, fmt.Errorf("%w: %q on %s", ErrNoCanonicalNext, state.Status, state.Channel)
	}
	return e.SetStatus(state, next, now)
}

// SetLeadStage records the reporting bucket. Channel and status must both
// be set first.
func (e *Engine) SetLeadStage(state PipelineState, stage LeadStage, now time.Time) (Transition, error) {
	if state.Channel == ChannelNone {
		return Transition{}, ErrNoChannelSelected
	}
	if state.Status == StatusNone {
		return Transition{}, ErrPrerequisiteNotSet
	}
	if !stage.IsKnown() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidLeadStage, stage)
	}

	before := state.Clone()
	after := state.Clone()
	after.LeadStage = stage
	after.LastActionAt = timePtr(now)

	return Transition{
		Before:  before,
		After:   after,
		Changed: true,
		Activities: []ActivityChange{{
			Kind: ActivityLeadStageChange,
			From: string(state.LeadStage),
			To:   string(stage),
		}},
	}, nil
}

// SetCustomCadence overrides the rule cadence for this contact. nil clears
// the override.
func (e *Engine) SetCustomCadence(state PipelineState, days *int) (Transition, error) {
	if days != nil && *days < 0 {
		return Transition{}, ErrInvalidCadence
	}

	before := state.Clone()
	after := state.Clone()
	after.CustomCadenceDays = cloneInt(days)

	changed := (before.CustomCadenceDays == nil) != (days == nil) ||
		(days != nil && *before.CustomCadenceDays != *days)

	return Transition{Before: before, After: after, Changed: changed}, nil
}

// Recompute derives the next action for state against the engine's catalog.
func (e *Engine) Recompute(state PipelineState) Schedule {
	return Recompute(state, e.catalog)
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}

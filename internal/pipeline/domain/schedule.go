package domain

// NoActionDefined is the note stored when no cadence applies.
const NoActionDefined = "No action defined"

// RuleLookup is the part of the catalog the scheduler needs.
type RuleLookup interface {
	RuleFor(channel Channel, status Status) (FollowupRule, bool)
}

// Recompute derives (next_action_at, next_action_note) for state. It is a
// pure function of channel, status, last_action_at, custom_cadence_days and
// the rule table: it never reads the clock and never fails.
func Recompute(state PipelineState, rules RuleLookup) Schedule {
	if state.Channel == ChannelNone || state.Status == StatusNone {
		return Schedule{}
	}

	rule, hasRule := rules.RuleFor(state.Channel, state.Status)

	var effectiveDays *int
	switch {
	case state.CustomCadenceDays != nil:
		effectiveDays = cloneInt(state.CustomCadenceDays)
	case hasRule:
		days := rule.DefaultDays
		effectiveDays = &days
	}

	note := NoActionDefined
	if effectiveDays == nil {
		return Schedule{NextActionNote: &note}
	}
	if hasRule {
		note = rule.Description
	}
	if state.LastActionAt == nil {
		return Schedule{NextActionNote: &note}
	}

	due := state.LastActionAt.UTC().AddDate(0, 0, *effectiveDays)
	return Schedule{NextActionAt: &due, NextActionNote: &note}
}

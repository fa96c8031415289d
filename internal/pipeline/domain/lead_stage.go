package domain

import (
	"fmt"
	"strings"
)

// LeadStage is a coarse reporting bucket. The zero value means unset.
type LeadStage string

const (
	LeadStageNone                 LeadStage = ""
	LeadStageCold                 LeadStage = "cold"
	LeadStageFirstCall            LeadStage = "first_call"
	LeadStageQualified            LeadStage = "lead_qualified"
	LeadStageMeetingScheduled     LeadStage = "meeting_scheduled"
	LeadStageMoveOpportunityToCRM LeadStage = "move_opportunity_to_crm"
	LeadStageDisqualified         LeadStage = "disqualified"
)

var allLeadStages = []LeadStage{
	LeadStageCold,
	LeadStageFirstCall,
	LeadStageQualified,
	LeadStageMeetingScheduled,
	LeadStageMoveOpportunityToCRM,
	LeadStageDisqualified,
}

// AllLeadStages returns the bucket set in funnel order.
func AllLeadStages() []LeadStage {
	out := make([]LeadStage, len(allLeadStages))
	copy(out, allLeadStages)
	return out
}

// IsKnown reports whether l is a current bucket.
func (l LeadStage) IsKnown() bool {
	for _, known := range allLeadStages {
		if l == known {
			return true
		}
	}
	return false
}

func (l LeadStage) String() string { return string(l) }

// ParseLeadStage accepts only current bucket names.
func ParseLeadStage(raw string) (LeadStage, error) {
	l := LeadStage(normalizeVocabulary(raw))
	if !l.IsKnown() {
		return LeadStageNone, fmt.Errorf("%w: %q", ErrInvalidLeadStage, raw)
	}
	return l, nil
}

// legacyLeadStages maps older status vocabularies still present in imported
// data onto the current buckets.
var legacyLeadStages = map[string]LeadStage{
	"new":               LeadStageCold,
	"uncontacted":       LeadStageCold,
	"contacted":         LeadStageFirstCall,
	"attempted_contact": LeadStageFirstCall,
	"call_scheduled":    LeadStageFirstCall,
	"qualified":         LeadStageQualified,
	"meeting":           LeadStageMeetingScheduled,
	"demo":              LeadStageMeetingScheduled,
	"proposal":          LeadStageMoveOpportunityToCRM,
	"negotiation":       LeadStageMoveOpportunityToCRM,
	"closed_won":        LeadStageMoveOpportunityToCRM,
	"closed_lost":       LeadStageDisqualified,
	"lost":              LeadStageDisqualified,
	"unqualified":       LeadStageDisqualified,
	"bad_lead":          LeadStageDisqualified,
}

// ClassifyLeadStage maps a current or legacy value onto a bucket. Unknown and
// empty input maps to cold. Used for reporting only, never for transitions.
func ClassifyLeadStage(raw string) LeadStage {
	normalized := normalizeVocabulary(raw)
	if l := LeadStage(normalized); l.IsKnown() {
		return l
	}
	if l, ok := legacyLeadStages[normalized]; ok {
		return l
	}
	return LeadStageCold
}

func normalizeVocabulary(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	return strings.ReplaceAll(value, " ", "_")
}

package domain_test

import (
	"testing"

	"outreach_crm_backend/internal/pipeline/domain"
)

func TestClassifyLeadStage(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.LeadStage
	}{
		{"qualified", domain.LeadStageQualified},
		{"closed_won", domain.LeadStageMoveOpportunityToCRM},
		{"proposal", domain.LeadStageMoveOpportunityToCRM},
		{"Negotiation", domain.LeadStageMoveOpportunityToCRM},
		{"closed-lost", domain.LeadStageDisqualified},
		{"call scheduled", domain.LeadStageFirstCall},
		{"demo", domain.LeadStageMeetingScheduled},
		{"lead_qualified", domain.LeadStageQualified},
		{"first_call", domain.LeadStageFirstCall},
		{"", domain.LeadStageCold},
		{"something else", domain.LeadStageCold},
	}

	for _, tc := range cases {
		if got := domain.ClassifyLeadStage(tc.raw); got != tc.want {
			t.Errorf("ClassifyLeadStage(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseLeadStageRejectsLegacyValues(t *testing.T) {
	if _, err := domain.ParseLeadStage("qualified"); err == nil {
		t.Fatal("expected legacy value to be rejected for writes")
	}
	if got, err := domain.ParseLeadStage("meeting_scheduled"); err != nil || got != domain.LeadStageMeetingScheduled {
		t.Fatalf("ParseLeadStage = %q, %v", got, err)
	}
}

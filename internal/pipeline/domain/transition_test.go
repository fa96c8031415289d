package domain_test

import (
	"errors"
	"testing"
	"time"

	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/rules"
)

var testNow = time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)

func TestSetChannelToDifferentChannelResetsStatusAndLeadStage(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	state := domain.PipelineState{Channel: domain.ChannelEmail, Status: domain.StatusRequested, LeadStage: domain.LeadStageFirstCall}

	tr, err := engine.SetChannel(state, domain.ChannelLinkedIn, testNow)
	if err != nil {
		t.Fatalf("SetChannel returned error: %v", err)
	}

	if tr.After.Channel != domain.ChannelLinkedIn {
		t.Fatalf("expected channel linkedin, got %q", tr.After.Channel)
	}
	// requested is valid on linkedin too; it must still be cleared.
	if tr.After.Status != domain.StatusNone {
		t.Fatalf("expected status reset, got %q", tr.After.Status)
	}
	if tr.After.LeadStage != domain.LeadStageNone {
		t.Fatalf("expected lead stage reset, got %q", tr.After.LeadStage)
	}
	if tr.After.LastActionAt == nil || !tr.After.LastActionAt.Equal(testNow) {
		t.Fatalf("expected last action at %v, got %v", testNow, tr.After.LastActionAt)
	}
	if len(tr.Activities) != 1 || tr.Activities[0].Kind != domain.ActivityChannelChange {
		t.Fatalf("expected one channel_change activity, got %+v", tr.Activities)
	}
	if tr.Before.Channel != domain.ChannelEmail {
		t.Fatalf("expected before snapshot to keep email, got %q", tr.Before.Channel)
	}
}

func TestSetChannelNullClearsEverything(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	state := domain.PipelineState{Channel: domain.ChannelLinkedIn, Status: domain.StatusAccepted, LeadStage: domain.LeadStageQualified}

	tr, err := engine.SetChannel(state, domain.ChannelNone, testNow)
	if err != nil {
		t.Fatalf("SetChannel returned error: %v", err)
	}
	if tr.After.Channel != domain.ChannelNone || tr.After.Status != domain.StatusNone || tr.After.LeadStage != domain.LeadStageNone {
		t.Fatalf("expected all pipeline fields cleared, got %+v", tr.After)
	}
	if !tr.Changed {
		t.Fatal("expected clearing a set channel to be a change")
	}
}

func TestSetChannelSameChannelIsNoop(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	last := testNow.Add(-48 * time.Hour)
	state := domain.PipelineState{Channel: domain.ChannelEmail, Status: domain.StatusOpened, LeadStage: domain.LeadStageFirstCall, LastActionAt: &last}

	tr, err := engine.SetChannel(state, domain.ChannelEmail, testNow)
	if err != nil {
		t.Fatalf("SetChannel returned error: %v", err)
	}
	if tr.Changed {
		t.Fatal("expected no-op")
	}
	if len(tr.Activities) != 0 {
		t.Fatalf("expected no activity, got %+v", tr.Activities)
	}
	if tr.After.Status != domain.StatusOpened || tr.After.LeadStage != domain.LeadStageFirstCall {
		t.Fatalf("expected status and lead stage preserved, got %+v", tr.After)
	}
	if !tr.After.LastActionAt.Equal(last) {
		t.Fatalf("expected last action untouched, got %v", tr.After.LastActionAt)
	}
}

func TestSetChannelRejectsUnknownChannel(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	if _, err := engine.SetChannel(domain.PipelineState{}, domain.Channel("fax"), testNow); !errors.Is(err, domain.ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestSetStatusThenInvalidStatusLeavesStateUnchanged(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())

	first, err := engine.SetStatus(domain.PipelineState{Channel: domain.ChannelLinkedIn}, domain.StatusAccepted, testNow)
	if err != nil {
		t.Fatalf("first SetStatus returned error: %v", err)
	}
	if first.After.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %q", first.After.Status)
	}

	snapshot := first.After.Clone()
	if _, err := engine.SetStatus(first.After, domain.Status("bogus_status"), testNow.Add(time.Hour)); !errors.Is(err, domain.ErrInvalidStatusForChannel) {
		t.Fatalf("expected ErrInvalidStatusForChannel, got %v", err)
	}
	if first.After.Status != snapshot.Status || !first.After.LastActionAt.Equal(*snapshot.LastActionAt) {
		t.Fatalf("state mutated by failed transition: %+v", first.After)
	}
}

func TestSetStatusRejectsStatusFromAnotherSequence(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	// opened only exists in the email sequence.
	_, err := engine.SetStatus(domain.PipelineState{Channel: domain.ChannelPhone}, domain.StatusOpened, testNow)
	if !errors.Is(err, domain.ErrInvalidStatusForChannel) {
		t.Fatalf("expected ErrInvalidStatusForChannel, got %v", err)
	}
}

func TestSetStatusWithoutChannelFails(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	if _, err := engine.SetStatus(domain.PipelineState{}, domain.StatusContacted, testNow); !errors.Is(err, domain.ErrNoChannelSelected) {
		t.Fatalf("expected ErrNoChannelSelected, got %v", err)
	}
}

func TestSetStatusAllowsJumpAndResetsLeadStage(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	state := domain.PipelineState{Channel: domain.ChannelEmail, Status: domain.StatusRequested, LeadStage: domain.LeadStageQualified}

	tr, err := engine.SetStatus(state, domain.StatusMeetingBooked, testNow)
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}
	if tr.After.Status != domain.StatusMeetingBooked {
		t.Fatalf("expected jump to meeting_booked, got %q", tr.After.Status)
	}
	if tr.After.LeadStage != domain.LeadStageNone {
		t.Fatalf("expected lead stage reset, got %q", tr.After.LeadStage)
	}
	if got := tr.Activities[0]; got.Kind != domain.ActivityStatusChange || got.From != "requested" || got.To != "meeting_booked" {
		t.Fatalf("unexpected activity %+v", got)
	}
}

func TestAdvance(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())

	tr, err := engine.Advance(domain.PipelineState{Channel: domain.ChannelLinkedIn}, testNow)
	if err != nil {
		t.Fatalf("Advance from empty returned error: %v", err)
	}
	if tr.After.Status != domain.StatusRequested {
		t.Fatalf("expected first linkedin status requested, got %q", tr.After.Status)
	}

	tr, err = engine.Advance(tr.After, testNow)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if tr.After.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %q", tr.After.Status)
	}

	_, err = engine.Advance(domain.PipelineState{Channel: domain.ChannelLinkedIn, Status: domain.StatusNotInterested}, testNow)
	if !errors.Is(err, domain.ErrNoCanonicalNext) {
		t.Fatalf("expected ErrNoCanonicalNext, got %v", err)
	}
}

func TestSetLeadStagePrerequisites(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())

	if _, err := engine.SetLeadStage(domain.PipelineState{}, domain.LeadStageCold, testNow); !errors.Is(err, domain.ErrNoChannelSelected) {
		t.Fatalf("expected ErrNoChannelSelected, got %v", err)
	}
	if _, err := engine.SetLeadStage(domain.PipelineState{Channel: domain.ChannelEmail}, domain.LeadStageCold, testNow); !errors.Is(err, domain.ErrPrerequisiteNotSet) {
		t.Fatalf("expected ErrPrerequisiteNotSet, got %v", err)
	}
	if _, err := engine.SetLeadStage(domain.PipelineState{Channel: domain.ChannelEmail, Status: domain.StatusReplied}, domain.LeadStage("warm"), testNow); !errors.Is(err, domain.ErrInvalidLeadStage) {
		t.Fatalf("expected ErrInvalidLeadStage, got %v", err)
	}

	tr, err := engine.SetLeadStage(domain.PipelineState{Channel: domain.ChannelEmail, Status: domain.StatusReplied}, domain.LeadStageQualified, testNow)
	if err != nil {
		t.Fatalf("SetLeadStage returned error: %v", err)
	}
	if tr.After.LeadStage != domain.LeadStageQualified {
		t.Fatalf("expected lead_qualified, got %q", tr.After.LeadStage)
	}
	if tr.After.LastActionAt == nil || !tr.After.LastActionAt.Equal(testNow) {
		t.Fatalf("expected last action updated, got %v", tr.After.LastActionAt)
	}
}

func TestSetCustomCadence(t *testing.T) {
	engine := domain.NewEngine(rules.MustEmbedded())
	negative := -1
	if _, err := engine.SetCustomCadence(domain.PipelineState{}, &negative); !errors.Is(err, domain.ErrInvalidCadence) {
		t.Fatalf("expected ErrInvalidCadence, got %v", err)
	}

	ten := 10
	tr, err := engine.SetCustomCadence(domain.PipelineState{Channel: domain.ChannelEmail}, &ten)
	if err != nil {
		t.Fatalf("SetCustomCadence returned error: %v", err)
	}
	if !tr.Changed || tr.After.CustomCadenceDays == nil || *tr.After.CustomCadenceDays != 10 {
		t.Fatalf("expected cadence 10, got %+v", tr.After)
	}

	ten++
	if *tr.After.CustomCadenceDays != 10 {
		t.Fatal("transition aliases the caller's pointer")
	}

	cleared, err := engine.SetCustomCadence(tr.After, nil)
	if err != nil {
		t.Fatalf("clearing cadence returned error: %v", err)
	}
	if cleared.After.CustomCadenceDays != nil {
		t.Fatalf("expected cadence cleared, got %v", *cleared.After.CustomCadenceDays)
	}
}

func TestDiffListsChangedFields(t *testing.T) {
	last := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	before := domain.PipelineState{Channel: domain.ChannelEmail, Status: domain.StatusContacted, LastActionAt: &last}
	after := before.Clone()
	after.Status = domain.StatusOpened
	later := last.Add(time.Hour)
	after.LastActionAt = &later

	got := domain.Diff(before, after)
	if len(got) != 2 || got[0] != domain.FieldStatus || got[1] != domain.FieldLastActionAt {
		t.Fatalf("unexpected diff %v", got)
	}
	if len(domain.Diff(before, before.Clone())) != 0 {
		t.Fatal("expected no diff for a clone")
	}
}

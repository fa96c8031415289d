package domain_test

import (
	"errors"
	"strings"
	"testing"

	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/rules"
)

func TestStageSequenceFallsBackToDefault(t *testing.T) {
	catalog := rules.MustEmbedded()

	for _, channel := range []domain.Channel{domain.ChannelPhone, domain.ChannelSMS, domain.ChannelWhatsApp} {
		seq := catalog.StageSequence(channel)
		if len(seq) != 5 || seq[0] != domain.StatusContacted {
			t.Fatalf("expected default sequence for %s, got %v", channel, seq)
		}
	}
	if seq := catalog.StageSequence(domain.ChannelLinkedIn); seq[1] != domain.StatusAccepted {
		t.Fatalf("expected linkedin sequence, got %v", seq)
	}
}

func TestStageSequenceReturnsCopy(t *testing.T) {
	catalog := rules.MustEmbedded()
	seq := catalog.StageSequence(domain.ChannelEmail)
	seq[0] = domain.StatusNotInterested

	if catalog.StageSequence(domain.ChannelEmail)[0] != domain.StatusRequested {
		t.Fatal("catalog sequence was mutated through returned slice")
	}
}

func TestRuleForMissingIsNotAnError(t *testing.T) {
	catalog := rules.MustEmbedded()
	if _, ok := catalog.RuleFor(domain.ChannelSMS, domain.StatusReplied); ok {
		t.Fatal("expected no rule for sms/replied")
	}
	rule, ok := catalog.RuleFor(domain.ChannelEmail, domain.StatusContacted)
	if !ok || rule.DefaultDays != 3 {
		t.Fatalf("expected email/contacted rule with 3 days, got %+v (%v)", rule, ok)
	}
}

func TestCanonicalNext(t *testing.T) {
	catalog := rules.MustEmbedded()
	cases := []struct {
		channel domain.Channel
		status  domain.Status
		want    domain.Status
		ok      bool
	}{
		{domain.ChannelLinkedIn, domain.StatusRequested, domain.StatusAccepted, true},
		{domain.ChannelEmail, domain.StatusContacted, domain.StatusOpened, true},
		{domain.ChannelPhone, domain.StatusContacted, domain.StatusFollowUp, true},
		{domain.ChannelLinkedIn, domain.StatusMeetingBooked, domain.StatusNone, false},
		{domain.ChannelEmail, domain.StatusNotInterested, domain.StatusNone, false},
		{domain.ChannelPhone, domain.StatusOpened, domain.StatusNone, false},
	}
	for _, tc := range cases {
		got, ok := catalog.CanonicalNext(tc.channel, tc.status)
		if got != tc.want || ok != tc.ok {
			t.Errorf("CanonicalNext(%s, %s) = %q, %v; want %q, %v", tc.channel, tc.status, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewCatalogValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  domain.CatalogConfig
		want string
	}{
		{
			name: "empty default",
			cfg:  domain.CatalogConfig{},
			want: "must not be empty",
		},
		{
			name: "duplicate status",
			cfg:  domain.CatalogConfig{DefaultSequence: []domain.Status{domain.StatusContacted, domain.StatusContacted}},
			want: "duplicate status",
		},
		{
			name: "unknown status",
			cfg:  domain.CatalogConfig{DefaultSequence: []domain.Status{"ghosted"}},
			want: "unknown status",
		},
		{
			name: "rule outside sequence",
			cfg: domain.CatalogConfig{
				DefaultSequence: []domain.Status{domain.StatusContacted},
				Rules:           []domain.FollowupRule{{Channel: domain.ChannelPhone, Status: domain.StatusOpened, DefaultDays: 1}},
			},
			want: "not valid",
		},
		{
			name: "negative days",
			cfg: domain.CatalogConfig{
				DefaultSequence: []domain.Status{domain.StatusContacted},
				Rules:           []domain.FollowupRule{{Channel: domain.ChannelPhone, Status: domain.StatusContacted, DefaultDays: -2}},
			},
			want: "negative",
		},
		{
			name: "duplicate rule",
			cfg: domain.CatalogConfig{
				DefaultSequence: []domain.Status{domain.StatusContacted},
				Rules: []domain.FollowupRule{
					{Channel: domain.ChannelPhone, Status: domain.StatusContacted, DefaultDays: 1},
					{Channel: domain.ChannelPhone, Status: domain.StatusContacted, DefaultDays: 2},
				},
			},
			want: "duplicate rule",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.NewCatalog(tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNewCatalogRejectsUnknownChannelSequence(t *testing.T) {
	_, err := domain.NewCatalog(domain.CatalogConfig{
		Sequences:       map[domain.Channel][]domain.Status{"fax": {domain.StatusContacted}},
		DefaultSequence: []domain.Status{domain.StatusContacted},
	})
	if !errors.Is(err, domain.ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestParseChannelAndStatus(t *testing.T) {
	if c, err := domain.ParseChannel(" LinkedIn "); err != nil || c != domain.ChannelLinkedIn {
		t.Fatalf("ParseChannel = %q, %v", c, err)
	}
	if _, err := domain.ParseChannel("pigeon"); !errors.Is(err, domain.ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if s, err := domain.ParseStatus("FOLLOW_UP"); err != nil || s != domain.StatusFollowUp {
		t.Fatalf("ParseStatus = %q, %v", s, err)
	}
	if _, err := domain.ParseStatus("bogus_status"); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"outreach_crm_backend/internal/pipeline/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEmbeddedCatalogTable(t *testing.T) {
	catalog, err := Embedded()
	if err != nil {
		t.Fatalf("embedded rules invalid: %v", err)
	}

	if got := len(catalog.Rules()); got != 19 {
		t.Fatalf("expected 19 rules, got %d", got)
	}
	sequences := map[domain.Channel]string{
		domain.ChannelLinkedIn: "requested,accepted,messaged,replied,meeting_booked,not_interested",
		domain.ChannelEmail:    "requested,contacted,opened,replied,follow_up,meeting_booked,not_interested",
		domain.ChannelPhone:    "contacted,follow_up,replied,meeting_booked,not_interested",
	}
	for channel, want := range sequences {
		if got := strings.Join(statusStrings(catalog.StageSequence(channel)), ","); got != want {
			t.Fatalf("sequence %s = %s, want %s", channel, got, want)
		}
	}
	rule, ok := catalog.RuleFor(domain.ChannelEmail, domain.StatusContacted)
	if !ok || rule.DefaultDays != 3 || rule.Description != "Send follow-up email" {
		t.Fatalf("unexpected email/contacted rule %+v (%v)", rule, ok)
	}
}

func TestMustEmbeddedReturnsSharedTable(t *testing.T) {
	if len(MustEmbedded().Rules()) != 19 {
		t.Fatal("expected embedded table")
	}
}

func TestParseYAMLRejectsUnknownNames(t *testing.T) {
	cases := map[string]string{
		"unknown channel": "default_sequence: [contacted]\nrules:\n  - {channel: fax, status: contacted, default_days: 1}\n",
		"unknown status":  "default_sequence: [contacted, ghosted]\n",
		"unknown key":     "default_sequence: [contacted]\ncadences: []\n",
		"missing days":    "default_sequence: [contacted]\nrules:\n  - {channel: phone, status: contacted}\n",
		"empty":           "",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseYAML([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFileSourceReadsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "default_sequence: [contacted, replied]\nrules:\n  - {channel: sms, status: contacted, default_days: 9, description: Ping again}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog, err := FileSource{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rule, ok := catalog.RuleFor(domain.ChannelSMS, domain.StatusContacted)
	if !ok || rule.DefaultDays != 9 || rule.Description != "Ping again" {
		t.Fatalf("unexpected rule %+v (%v)", rule, ok)
	}
}

type flakySource struct {
	loads atomic.Int32
	fail  atomic.Bool
	days  atomic.Int32
}

func (s *flakySource) Name() string { return "test" }

func (s *flakySource) Load(context.Context) (*domain.Catalog, error) {
	s.loads.Add(1)
	if s.fail.Load() {
		return nil, errors.New("source unavailable")
	}
	return domain.NewCatalog(domain.CatalogConfig{
		DefaultSequence: []domain.Status{domain.StatusContacted},
		Rules: []domain.FollowupRule{
			{Channel: domain.ChannelPhone, Status: domain.StatusContacted, DefaultDays: int(s.days.Load())},
		},
	})
}

func phoneDays(t *testing.T, p *Provider) int {
	t.Helper()
	rule, ok := p.Current().RuleFor(domain.ChannelPhone, domain.StatusContacted)
	if !ok {
		t.Fatal("expected phone/contacted rule")
	}
	return rule.DefaultDays
}

func TestProviderKeepsPreviousCatalogOnFailedReload(t *testing.T) {
	src := &flakySource{}
	src.days.Store(2)
	p, err := NewProvider(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}

	src.fail.Store(true)
	if err := p.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if got := phoneDays(t, p); got != 2 {
		t.Fatalf("expected previous catalog to stay active, got %d days", got)
	}
}

func TestNewProviderFailsWithoutInitialCatalog(t *testing.T) {
	src := &flakySource{}
	src.fail.Store(true)
	if _, err := NewProvider(context.Background(), src, nil); err == nil {
		t.Fatal("expected start-up error")
	}
}

func TestWatchReloadsOnPubSubMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	src := &flakySource{}
	src.days.Store(2)
	p, err := NewProvider(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, rdb, "rules:reload") }()

	src.days.Store(7)
	deadline := time.Now().Add(2 * time.Second)
	for phoneDays(t, p) != 7 {
		if time.Now().After(deadline) {
			t.Fatal("catalog was not reloaded")
		}
		_ = NotifyReload(context.Background(), rdb, "rules:reload")
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestReloaderWithoutRedisReloadsLocally(t *testing.T) {
	src := &flakySource{}
	src.days.Store(2)
	p, err := NewProvider(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}

	src.days.Store(5)
	if err := NewReloader(p, nil, "rules:reload").Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got := phoneDays(t, p); got != 5 {
		t.Fatalf("expected local reload, got %d days", got)
	}
}

func TestReloaderPublishesToWatchers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	src := &flakySource{}
	src.days.Store(2)
	p, err := NewProvider(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Watch(ctx, rdb, "rules:reload") }()

	reloader := NewReloader(p, rdb, "rules:reload")
	src.days.Store(6)
	deadline := time.Now().Add(2 * time.Second)
	for phoneDays(t, p) != 6 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not reload after trigger")
		}
		if err := reloader.Trigger(context.Background()); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

package rules

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"outreach_crm_backend/internal/observability"
	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Provider holds the active catalog. Readers get an immutable snapshot and
// never block on a reload.
type Provider struct {
	source  Source
	current atomic.Pointer[domain.Catalog]
	log     *logger.Logger
}

// NewProvider loads the initial catalog. Start-up fails if it cannot load.
func NewProvider(ctx context.Context, source Source, log *logger.Logger) (*Provider, error) {
	p := &Provider{source: source, log: log}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider wraps a fixed catalog. Reload is a no-op.
func NewStaticProvider(catalog *domain.Catalog) *Provider {
	p := &Provider{}
	p.current.Store(catalog)
	return p
}

// Current returns the active catalog snapshot.
func (p *Provider) Current() *domain.Catalog {
	return p.current.Load()
}

// Reload replaces the active catalog. On failure the previous one stays active.
func (p *Provider) Reload(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	catalog, err := p.source.Load(ctx)
	if err == nil && catalog == nil {
		err = errors.New("rule source returned no catalog")
	}
	observability.RecordRulesReload(err, time.Now())
	if p.log != nil {
		count := 0
		if catalog != nil {
			count = len(catalog.Rules())
		}
		p.log.RulesReloaded(p.source.Name(), count, err)
	}
	if err != nil {
		return err
	}

	p.current.Store(catalog)
	return nil
}

// Watch reloads the catalog whenever a message arrives on channel.
// It blocks until ctx is cancelled.
func (p *Provider) Watch(ctx context.Context, rdb redis.UniversalClient, channel string) error {
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-messages:
			if !ok {
				return nil
			}
			_ = p.Reload(ctx)
		}
	}
}

// NotifyReload asks every watching instance to reload its catalog.
func NotifyReload(ctx context.Context, rdb redis.UniversalClient, channel string) error {
	return rdb.Publish(ctx, channel, "reload").Err()
}

// Reloader asks every instance to reload its catalog. Without Redis only the
// local provider reloads.
type Reloader struct {
	provider *Provider
	rdb      redis.UniversalClient
	channel  string
}

// NewReloader returns a Reloader. rdb may be nil.
func NewReloader(provider *Provider, rdb redis.UniversalClient, channel string) *Reloader {
	return &Reloader{provider: provider, rdb: rdb, channel: channel}
}

// Trigger publishes a reload notification. Watching instances, this one
// included, reload when it arrives.
func (r *Reloader) Trigger(ctx context.Context) error {
	if r.rdb == nil {
		return r.provider.Reload(ctx)
	}
	return NotifyReload(ctx, r.rdb, r.channel)
}

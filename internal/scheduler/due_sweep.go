package scheduler

import (
	"context"
	"time"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/logger"
)

const (
	defaultDueSweepInterval = time.Minute
	defaultDueSweepBatch    = 500
)

// DueSweep publishes NextActionDue for contacts whose next action became due
// since the previous sweep.
type DueSweep struct {
	store     repository.DueReader
	bus       events.Bus
	log       *logger.Logger
	interval  time.Duration
	batch     int
	now       func() time.Time
	watermark time.Time
}

func NewDueSweep(store repository.DueReader, bus events.Bus, cfg config.DueSweepConfig, log *logger.Logger) *DueSweep {
	interval := cfg.GetDueSweepInterval()
	if interval <= 0 {
		interval = defaultDueSweepInterval
	}
	batch := cfg.GetDueSweepBatchSize()
	if batch <= 0 {
		batch = defaultDueSweepBatch
	}
	return &DueSweep{
		store:    store,
		bus:      bus,
		log:      log,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

func (s *DueSweep) Run(ctx context.Context) {
	if s == nil {
		return
	}
	// Actions already overdue at startup were announced by an earlier process.
	s.watermark = s.now().UTC()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep returns the number of published events.
func (s *DueSweep) sweep(ctx context.Context) int {
	now := s.now().UTC()
	since := s.watermark

	contacts, err := s.store.ListDue(ctx, repository.DueParams{
		After:  &since,
		Before: now,
		Limit:  s.batch,
	})
	if err != nil {
		s.log.Error("due sweep failed", "error", err)
		return 0
	}

	for _, contact := range contacts {
		state := contact.Pipeline
		if state.NextActionAt == nil {
			continue
		}
		note := ""
		if state.NextActionNote != nil {
			note = *state.NextActionNote
		}
		s.bus.Publish(ctx, events.NextActionDue{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: contact.OrganizationID,
			ContactID:      contact.ID,
			Channel:        string(state.Channel),
			Status:         string(state.Status),
			NextActionAt:   *state.NextActionAt,
			NextActionNote: note,
		})
	}

	// A full batch may leave more due contacts in the window; advance only to
	// the last published action so the next sweep picks up the rest.
	if len(contacts) >= s.batch {
		if last := contacts[len(contacts)-1].Pipeline.NextActionAt; last != nil {
			s.watermark = *last
		}
	} else {
		s.watermark = now
	}

	if len(contacts) > 0 {
		s.log.Info("due sweep published", "count", len(contacts))
	}
	return len(contacts)
}

package changefeed

import "outreach_crm_backend/internal/events"

// Subscribe registers sinks for committed pipeline changes.
func Subscribe(bus events.Bus, sinks ...events.Handler) {
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		bus.Subscribe(events.ContactPipelineChangedName, sink)
	}
}

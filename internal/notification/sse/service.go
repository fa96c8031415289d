// Package sse provides Server-Sent Events support for real-time pipeline updates.
package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/observability"
	"outreach_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventPipelineChanged EventType = "pipeline_changed"
	EventNextActionDue   EventType = "next_action_due"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type      EventType   `json:"type"`
	ContactID uuid.UUID   `json:"contactId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	userID uuid.UUID
	orgID  uuid.UUID
	events chan Event
}

// Service manages SSE connections and organization-wide broadcasting.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{} // orgID -> clients
	closed  bool
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		log:     log,
	}
}

func (s *Service) addClient(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.clients[c.orgID] == nil {
		s.clients[c.orgID] = make(map[*client]struct{})
	}
	s.clients[c.orgID][c] = struct{}{}
	return true
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.clients[c.orgID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.clients, c.orgID)
	}
	close(c.events)
}

// PublishToOrganization broadcasts an event to every client of the organization.
// Slow clients whose buffer is full miss the event.
func (s *Service) PublishToOrganization(orgID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dropped := 0
	for c := range s.clients[orgID] {
		select {
		case c.events <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		observability.RecordChangeFeedFailure("sse")
		s.log.Warn("sse buffer full", "org_id", orgID, "event", event.Type, "dropped", dropped)
	}
}

// ClientCount returns the number of connected clients of an organization.
func (s *Service) ClientCount(orgID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[orgID])
}

// Handle implements events.Handler for pipeline events.
func (s *Service) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.ContactPipelineChanged:
		s.PublishToOrganization(e.OrganizationID, Event{Type: EventPipelineChanged, ContactID: e.ContactID, Data: e})
	case events.NextActionDue:
		s.PublishToOrganization(e.OrganizationID, Event{Type: EventNextActionDue, ContactID: e.ContactID, Data: e})
	}
	return nil
}

// Subscribe registers the service for every pipeline event it streams.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe(events.ContactPipelineChangedName, s)
	bus.Subscribe(events.NextActionDueName, s)
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getIdentity func(*gin.Context) (userID, orgID uuid.UUID, ok bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, orgID, ok := getIdentity(c)
		if !ok {
			if !c.IsAborted() {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			}
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			userID: userID,
			orgID:  orgID,
			events: make(chan Event, clientBuffer),
		}
		if !s.addClient(cl) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"userId": userID, "orgId": orgID})
		c.Writer.Flush()
		s.log.Debug("sse client connected", "user_id", userID, "org_id", orgID)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse client disconnected", "user_id", userID)
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.log.Error("sse encode failed", "event", event.Type, "error", err)
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for orgID, set := range s.clients {
		for c := range set {
			close(c.events)
		}
		delete(s.clients, orgID)
	}
}

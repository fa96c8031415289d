// Package pipeline provides the outreach pipeline bounded context module.
// This file defines the module that encapsulates pipeline setup and route registration.
package pipeline

import (
	"outreach_crm_backend/internal/changefeed"
	"outreach_crm_backend/internal/events"
	apphttp "outreach_crm_backend/internal/http"
	"outreach_crm_backend/internal/notification/sse"
	"outreach_crm_backend/internal/pipeline/bulk"
	"outreach_crm_backend/internal/pipeline/handler"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/internal/pipeline/service"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/httpkit"
	"outreach_crm_backend/platform/logger"
	"outreach_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	repo    *repository.Repository
	service *service.Service
	bulk    *bulk.Coordinator
	handler *handler.Handler
	view    *changefeed.View
	sse     *sse.Service
}

// NewModule creates the pipeline module. enqueuer may be nil when no task
// queue is configured.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, catalog service.CatalogProvider, val *validator.Validator, cfg config.BulkConfig, log *logger.Logger, enqueuer bulk.Enqueuer) (*Module, error) {
	if err := handler.RegisterValidators(val); err != nil {
		return nil, err
	}

	repo := repository.New(pool)
	view := changefeed.NewView()
	sseSvc := sse.New(log)

	// Committed changes reach the SSE clients and the view. The view also
	// receives optimistic updates directly from the service.
	sseSvc.Subscribe(eventBus)
	changefeed.Subscribe(eventBus, view)

	svc := service.New(repo, catalog, eventBus, log, service.WithView(view))

	var bulkOpts []bulk.Option
	if enqueuer != nil {
		bulkOpts = append(bulkOpts, bulk.WithEnqueuer(enqueuer))
	}
	coordinator := bulk.New(repo, catalog, eventBus, log, cfg, bulkOpts...)

	return &Module{
		repo:    repo,
		service: svc,
		bulk:    coordinator,
		handler: handler.New(svc, coordinator, val),
		view:    view,
		sse:     sseSvc,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service returns the pipeline service for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the pipeline store.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// View returns the incrementally merged pipeline view.
func (m *Module) View() *changefeed.View {
	return m.view
}

// SSE returns the server-sent events service. The change feed consumer
// delivers changes from other instances to it.
func (m *Module) SSE() *sse.Service {
	return m.sse
}

// SetRulesReloader exposes the admin rule reload route.
func (m *Module) SetRulesReloader(reloader handler.RulesReloader) {
	m.handler.SetRulesReloader(reloader)
}

// Close disconnects SSE clients.
func (m *Module) Close() {
	m.sse.Close()
}

// RegisterRoutes mounts pipeline routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
	ctx.Protected.GET("/pipeline/events", m.sse.Handler(sseIdentity))
}

func sseIdentity(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, orgID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return id.UserID(), orgID, true
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"outreach_crm_backend/internal/pipeline/bulk"
	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/internal/pipeline/service"
	"outreach_crm_backend/internal/pipeline/transport"
	"outreach_crm_backend/platform/apperr"
	"outreach_crm_backend/platform/httpkit"
	"outreach_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// PipelineService is the part of the pipeline service the handler calls.
type PipelineService interface {
	Catalog() *domain.Catalog
	Get(ctx context.Context, organizationID, contactID uuid.UUID) (repository.Contact, error)
	SetChannel(ctx context.Context, organizationID, actorID, contactID uuid.UUID, channel domain.Channel) (service.Result, error)
	SetStatus(ctx context.Context, organizationID, actorID, contactID uuid.UUID, status domain.Status) (service.Result, error)
	Advance(ctx context.Context, organizationID, actorID, contactID uuid.UUID) (service.Result, error)
	SetLeadStage(ctx context.Context, organizationID, actorID, contactID uuid.UUID, stage domain.LeadStage) (service.Result, error)
	SetCustomCadence(ctx context.Context, organizationID, actorID, contactID uuid.UUID, days *int) (service.Result, error)
	ListActivity(ctx context.Context, organizationID, contactID uuid.UUID, limit int) ([]domain.ActivityRecord, error)
	ListDue(ctx context.Context, organizationID uuid.UUID, before time.Time, limit int) ([]repository.Contact, error)
	LeadStageReport(ctx context.Context, organizationID uuid.UUID) ([]service.LeadStageBucket, error)
}

// BulkApplier applies one change to many contacts.
type BulkApplier interface {
	ApplyBulk(ctx context.Context, organizationID, actorID uuid.UUID, contactIDs []uuid.UUID, change bulk.Change) (bulk.Result, error)
}

// RulesReloader asks running instances to reload the rule catalog.
type RulesReloader interface {
	Trigger(ctx context.Context) error
}

type Handler struct {
	svc      PipelineService
	bulk     BulkApplier
	val      *validator.Validator
	reloader RulesReloader
}

func New(svc PipelineService, bulkApplier BulkApplier, val *validator.Validator) *Handler {
	return &Handler{svc: svc, bulk: bulkApplier, val: val}
}

// SetRulesReloader enables the admin reload route. Call before RegisterRoutes.
func (h *Handler) SetRulesReloader(reloader RulesReloader) {
	h.reloader = reloader
}

// RegisterRoutes mounts the pipeline routes. rg must already require a
// tenant-scoped identity.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	pipeline := rg.Group("/pipeline")
	pipeline.GET("/channels", h.ListChannels)
	pipeline.GET("/rules", h.ListRules)
	pipeline.GET("/report/lead-stages", h.LeadStageReport)
	pipeline.GET("/due", h.ListDue)
	if h.reloader != nil {
		pipeline.POST("/rules/reload", httpkit.RequireRole(httpkit.RoleAdmin), h.ReloadRules)
	}

	contacts := rg.Group("/contacts")
	contacts.POST("/pipeline/bulk", h.ApplyBulk)
	contacts.GET("/:id/pipeline", h.Get)
	contacts.GET("/:id/pipeline/activity", h.ListActivity)
	contacts.PUT("/:id/pipeline/channel", h.SetChannel)
	contacts.PUT("/:id/pipeline/status", h.SetStatus)
	contacts.POST("/:id/pipeline/advance", h.Advance)
	contacts.PUT("/:id/pipeline/lead-stage", h.SetLeadStage)
	contacts.PUT("/:id/pipeline/cadence", h.SetCadence)
}

func (h *Handler) ListChannels(c *gin.Context) {
	catalog := h.svc.Catalog()
	items := make([]transport.ChannelResponse, 0, len(catalog.Channels()))
	for _, ch := range catalog.Channels() {
		items = append(items, transport.ChannelResponse{
			Channel:  string(ch),
			Sequence: statusStrings(catalog.StageSequence(ch)),
		})
	}
	httpkit.OK(c, transport.ChannelListResponse{Items: items})
}

func (h *Handler) ListRules(c *gin.Context) {
	rules := h.svc.Catalog().Rules()
	items := make([]transport.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		items = append(items, transport.RuleResponse{
			Channel:     string(rule.Channel),
			Status:      string(rule.Status),
			DefaultDays: rule.DefaultDays,
			Description: rule.Description,
		})
	}
	httpkit.OK(c, transport.RuleListResponse{Items: items})
}

func (h *Handler) ReloadRules(c *gin.Context) {
	if err := h.reloader.Trigger(c.Request.Context()); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "rules reload failed", err).WithCode("rules_reload_failed"))
		return
	}
	httpkit.JSON(c, http.StatusAccepted, transport.RulesReloadResponse{Status: "reload requested"})
}

func (h *Handler) LeadStageReport(c *gin.Context) {
	_, orgID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	buckets, err := h.svc.LeadStageReport(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.LeadStageReportResponse{Items: make([]transport.LeadStageBucketResponse, 0, len(buckets))}
	for _, b := range buckets {
		resp.Items = append(resp.Items, transport.LeadStageBucketResponse{LeadStage: string(b.Stage), Count: b.Count})
		resp.Total += b.Count
	}
	httpkit.OK(c, resp)
}

func (h *Handler) ListDue(c *gin.Context) {
	_, orgID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	var req transport.ListDueRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	var before time.Time
	if req.Before != "" {
		parsed, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		before = parsed
	}

	contacts, err := h.svc.ListDue(c.Request.Context(), orgID, before, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.DueContactResponse, 0, len(contacts))
	for _, contact := range contacts {
		if contact.Pipeline.NextActionAt == nil {
			continue
		}
		items = append(items, transport.DueContactResponse{
			ContactID:      contact.ID,
			FirstName:      contact.FirstName,
			LastName:       contact.LastName,
			Channel:        string(contact.Pipeline.Channel),
			Status:         optional(string(contact.Pipeline.Status)),
			NextActionAt:   *contact.Pipeline.NextActionAt,
			NextActionNote: contact.Pipeline.NextActionNote,
		})
	}
	httpkit.OK(c, transport.DueListResponse{Items: items})
}

func (h *Handler) Get(c *gin.Context) {
	_, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	contact, err := h.svc.Get(c.Request.Context(), orgID, contactID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toContactResponse(contact, nil))
}

func (h *Handler) ListActivity(c *gin.Context) {
	_, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	var req transport.ListActivityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}

	records, err := h.svc.ListActivity(c.Request.Context(), orgID, contactID, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.ActivityResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, transport.ActivityResponse{
			ID:         rec.ID,
			Kind:       string(rec.Kind),
			From:       optional(rec.From),
			To:         optional(rec.To),
			ActorID:    rec.ActorID,
			OccurredAt: rec.OccurredAt,
		})
	}
	httpkit.OK(c, transport.ActivityListResponse{Items: items})
}

func (h *Handler) SetChannel(c *gin.Context) {
	actorID, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	var req transport.SetChannelRequest
	if !h.bind(c, &req) {
		return
	}
	if !req.Channel.Set {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, map[string]string{"channel": "required"})
		return
	}

	channel := domain.ChannelNone
	if req.Channel.Value != nil {
		parsed, err := domain.ParseChannel(*req.Channel.Value)
		if err != nil {
			httpkit.HandleError(c, service.MapError(service.OpSetChannel, err))
			return
		}
		channel = parsed
	}

	result, err := h.svc.SetChannel(c.Request.Context(), orgID, actorID, contactID, channel)
	h.respond(c, result, err)
}

func (h *Handler) SetStatus(c *gin.Context) {
	actorID, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	var req transport.SetStatusRequest
	if !h.bind(c, &req) {
		return
	}

	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		httpkit.HandleError(c, service.MapError(service.OpSetStatus, err))
		return
	}

	result, err := h.svc.SetStatus(c.Request.Context(), orgID, actorID, contactID, status)
	h.respond(c, result, err)
}

func (h *Handler) Advance(c *gin.Context) {
	actorID, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	result, err := h.svc.Advance(c.Request.Context(), orgID, actorID, contactID)
	h.respond(c, result, err)
}

func (h *Handler) SetLeadStage(c *gin.Context) {
	actorID, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	var req transport.SetLeadStageRequest
	if !h.bind(c, &req) {
		return
	}

	stage, err := domain.ParseLeadStage(req.LeadStage)
	if err != nil {
		httpkit.HandleError(c, service.MapError(service.OpSetLeadStage, err))
		return
	}

	result, err := h.svc.SetLeadStage(c.Request.Context(), orgID, actorID, contactID, stage)
	h.respond(c, result, err)
}

func (h *Handler) SetCadence(c *gin.Context) {
	actorID, orgID, contactID, ok := h.contactScope(c)
	if !ok {
		return
	}

	var req transport.SetCadenceRequest
	if !h.bind(c, &req) {
		return
	}
	if !req.CustomCadenceDays.Set {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, map[string]string{"customCadenceDays": "required"})
		return
	}

	result, err := h.svc.SetCustomCadence(c.Request.Context(), orgID, actorID, contactID, req.CustomCadenceDays.Value)
	h.respond(c, result, err)
}

func (h *Handler) ApplyBulk(c *gin.Context) {
	id, orgID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	var req transport.BulkPipelineRequest
	if !h.bind(c, &req) {
		return
	}

	var change bulk.Change
	if req.Channel.Set {
		channel := domain.ChannelNone
		if req.Channel.Value != nil {
			parsed, err := domain.ParseChannel(*req.Channel.Value)
			if err != nil {
				httpkit.HandleError(c, service.MapError(service.OpBulk, err))
				return
			}
			channel = parsed
		}
		change.Channel = &channel
	}
	if req.Status != nil {
		status, err := domain.ParseStatus(*req.Status)
		if err != nil {
			httpkit.HandleError(c, service.MapError(service.OpBulk, err))
			return
		}
		change.Status = &status
	}

	result, err := h.bulk.ApplyBulk(c.Request.Context(), orgID, id.UserID(), req.ContactIDs, change)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.BulkPipelineResponse{
		Requested:  result.Requested,
		Matched:    result.Matched,
		Recomputed: result.Recomputed,
		Warnings:   result.Warnings,
	})
}

func (h *Handler) contactScope(c *gin.Context) (actorID, orgID, contactID uuid.UUID, ok bool) {
	id, orgID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	contactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	return id.UserID(), orgID, contactID, true
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context, result service.Result, err error) {
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toContactResponse(result.Contact, result.Warnings))
}

func toContactResponse(contact repository.Contact, warnings []string) transport.ContactPipelineResponse {
	p := contact.Pipeline
	return transport.ContactPipelineResponse{
		ContactID:     contact.ID,
		FirstName:     contact.FirstName,
		LastName:      contact.LastName,
		Company:       contact.Company,
		SourceChannel: contact.SourceChannel,
		Pipeline: transport.PipelineStateResponse{
			Channel:           optional(string(p.Channel)),
			Status:            optional(string(p.Status)),
			LeadStage:         optional(string(p.LeadStage)),
			LastActionAt:      p.LastActionAt,
			CustomCadenceDays: p.CustomCadenceDays,
			NextActionAt:      p.NextActionAt,
			NextActionNote:    p.NextActionNote,
		},
		UpdatedAt: contact.UpdatedAt,
		Warnings:  warnings,
	}
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

// RegisterValidators adds the pipeline enum tags to val.
func RegisterValidators(val *validator.Validator) error {
	if err := val.RegisterEnum("channel", func(s string) bool { return domain.Channel(s).IsKnown() }); err != nil {
		return err
	}
	if err := val.RegisterEnum("status", func(s string) bool { return domain.Status(s).IsKnown() }); err != nil {
		return err
	}
	return val.RegisterEnum("leadstage", func(s string) bool { return domain.LeadStage(s).IsKnown() })
}

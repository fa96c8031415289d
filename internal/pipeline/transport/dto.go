package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

// SetChannelRequest selects a channel. An explicit null clears it.
type SetChannelRequest struct {
	Channel OptionalString `json:"channel" validate:"-"`
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,status"`
}

type SetLeadStageRequest struct {
	LeadStage string `json:"leadStage" validate:"required,leadstage"`
}

// SetCadenceRequest overrides the rule cadence. An explicit null clears it.
type SetCadenceRequest struct {
	CustomCadenceDays OptionalInt `json:"customCadenceDays" validate:"-"`
}

type BulkPipelineRequest struct {
	ContactIDs []uuid.UUID    `json:"contactIds" validate:"required,min=1,max=1000"`
	Channel    OptionalString `json:"channel" validate:"-"`
	Status     *string        `json:"status,omitempty" validate:"omitempty,status"`
}

type ListDueRequest struct {
	Before string `form:"before" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

type ListActivityRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

// Response DTOs

type PipelineStateResponse struct {
	Channel           *string    `json:"channel"`
	Status            *string    `json:"status"`
	LeadStage         *string    `json:"leadStage"`
	LastActionAt      *time.Time `json:"lastActionAt"`
	CustomCadenceDays *int       `json:"customCadenceDays"`
	NextActionAt      *time.Time `json:"nextActionAt"`
	NextActionNote    *string    `json:"nextActionNote"`
}

type ContactPipelineResponse struct {
	ContactID     uuid.UUID             `json:"contactId"`
	FirstName     string                `json:"firstName"`
	LastName      string                `json:"lastName"`
	Company       *string               `json:"company,omitempty"`
	SourceChannel *string               `json:"sourceChannel,omitempty"`
	Pipeline      PipelineStateResponse `json:"pipeline"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	Warnings      []string              `json:"warnings,omitempty"`
}

type ActivityResponse struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	From       *string    `json:"from"`
	To         *string    `json:"to"`
	ActorID    *uuid.UUID `json:"actorId,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

type ActivityListResponse struct {
	Items []ActivityResponse `json:"items"`
}

type ChannelResponse struct {
	Channel  string   `json:"channel"`
	Sequence []string `json:"sequence"`
}

type ChannelListResponse struct {
	Items []ChannelResponse `json:"items"`
}

type RuleResponse struct {
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	DefaultDays int    `json:"defaultDays"`
	Description string `json:"description"`
}

type RuleListResponse struct {
	Items []RuleResponse `json:"items"`
}

type RulesReloadResponse struct {
	Status string `json:"status"`
}

type LeadStageBucketResponse struct {
	LeadStage string `json:"leadStage"`
	Count     int    `json:"count"`
}

type LeadStageReportResponse struct {
	Items []LeadStageBucketResponse `json:"items"`
	Total int                       `json:"total"`
}

type DueContactResponse struct {
	ContactID      uuid.UUID `json:"contactId"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Channel        string    `json:"channel"`
	Status         *string   `json:"status"`
	NextActionAt   time.Time `json:"nextActionAt"`
	NextActionNote *string   `json:"nextActionNote"`
}

type DueListResponse struct {
	Items []DueContactResponse `json:"items"`
}

type BulkPipelineResponse struct {
	Requested  int `json:"requested"`
	Matched    int `json:"matched"`
	Recomputed int `json:"recomputed"`
	Warnings   int `json:"warnings"`
}

package repository

import (
	"context"

	"outreach_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// PipelineReader provides read-only access to contact pipeline state.
type PipelineReader interface {
	Read(ctx context.Context, organizationID, contactID uuid.UUID) (Contact, error)
	ReadMany(ctx context.Context, organizationID uuid.UUID, contactIDs []uuid.UUID) ([]Contact, error)
}

// PipelineWriter persists the primary pipeline fields of a single contact.
type PipelineWriter interface {
	Write(ctx context.Context, organizationID, contactID uuid.UUID, state domain.PipelineState) (Contact, error)
}

// ScheduleWriter persists the derived next-action fields.
type ScheduleWriter interface {
	WriteSchedule(ctx context.Context, organizationID, contactID uuid.UUID, schedule domain.Schedule) error
}

// BulkWriter persists primary fields for many contacts as one logical write.
type BulkWriter interface {
	WriteMany(ctx context.Context, organizationID uuid.UUID, states map[uuid.UUID]domain.PipelineState) ([]Contact, error)
}

// ActivityStore appends and lists audit records.
type ActivityStore interface {
	AppendActivity(ctx context.Context, records []domain.ActivityRecord) error
	ListActivity(ctx context.Context, organizationID, contactID uuid.UUID, limit int) ([]domain.ActivityRecord, error)
}

// DueReader lists contacts whose next action is due.
type DueReader interface {
	ListDue(ctx context.Context, params DueParams) ([]Contact, error)
}

// ReportReader aggregates pipeline data for reporting.
type ReportReader interface {
	LeadStageCounts(ctx context.Context, organizationID uuid.UUID) ([]LeadStageCount, error)
}

// =====================================
// Composite Interfaces
// =====================================

// Store is the full pipeline store used by the service layer.
type Store interface {
	PipelineReader
	PipelineWriter
	ScheduleWriter
	BulkWriter
	ActivityStore
	DueReader
	ReportReader
}

// Compile-time check that Repository implements Store
var _ Store = (*Repository)(nil)

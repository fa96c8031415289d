package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach_crm_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("contact not found")

const (
	defaultActivityLimit = 50
	maxListLimit         = 500
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Contact is a contact row with its pipeline state.
type Contact struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	FirstName      string
	LastName       string
	Email          *string
	Phone          *string
	Company        *string
	SourceChannel  *string
	LegacyStatus   *string
	Pipeline       domain.PipelineState
	UpdatedAt      time.Time
}

// DueParams filters ListDue. A nil OrganizationID scans every organization
// and is only used by the background sweep. After, when set, excludes
// actions that were already due at that time.
type DueParams struct {
	OrganizationID *uuid.UUID
	After          *time.Time
	Before         time.Time
	Limit          int
}

// LeadStageCount is one grouped row of the lead-stage report.
type LeadStageCount struct {
	LeadStage    *string
	LegacyStatus *string
	Count        int
}

const contactColumns = `
	id, organization_id, first_name, last_name, email, phone, company, source_channel, legacy_status,
	channel, status, lead_stage, last_action_at, custom_cadence_days, next_action_at, next_action_note, updated_at`

func (r *Repository) Read(ctx context.Context, organizationID, contactID uuid.UUID) (Contact, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+`
		FROM contacts
		WHERE id = $1 AND organization_id = $2
	`, contactID, organizationID)

	contact, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return contact, err
}

func (r *Repository) ReadMany(ctx context.Context, organizationID uuid.UUID, contactIDs []uuid.UUID) ([]Contact, error) {
	if len(contactIDs) == 0 {
		return []Contact{}, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+contactColumns+`
		FROM contacts
		WHERE organization_id = $1 AND id = ANY($2)
		ORDER BY id
	`, organizationID, contactIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContacts(rows)
}

// Write stores the primary fields. The derived fields are left untouched.
func (r *Repository) Write(ctx context.Context, organizationID, contactID uuid.UUID, state domain.PipelineState) (Contact, error) {
	row := r.pool.QueryRow(ctx, writePrimarySQL, primaryArgs(organizationID, contactID, state)...)
	contact, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return contact, err
}

func (r *Repository) WriteSchedule(ctx context.Context, organizationID, contactID uuid.UUID, schedule domain.Schedule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET next_action_at = $3, next_action_note = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2
	`, contactID, organizationID, schedule.NextActionAt, schedule.NextActionNote)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WriteMany stores the primary fields of every contact in one transaction.
// Contacts that do not exist in the organization are skipped.
func (r *Repository) WriteMany(ctx context.Context, organizationID uuid.UUID, states map[uuid.UUID]domain.PipelineState) ([]Contact, error) {
	if len(states) == 0 {
		return []Contact{}, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for contactID, state := range states {
		batch.Queue(writePrimarySQL, primaryArgs(organizationID, contactID, state)...)
	}

	results := tx.SendBatch(ctx, batch)
	written := make([]Contact, 0, len(states))
	for range states {
		contact, err := scanContact(results.QueryRow())
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			_ = results.Close()
			return nil, err
		}
		written = append(written, contact)
	}
	if err := results.Close(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return written, nil
}

func (r *Repository) AppendActivity(ctx context.Context, records []domain.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{rec.ID, rec.ContactID, rec.OrganizationID, rec.ActorID, string(rec.Kind), rec.From, rec.To, rec.OccurredAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"contact_activity"},
		[]string{"id", "contact_id", "organization_id", "actor_id", "kind", "from_value", "to_value", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (r *Repository) ListActivity(ctx context.Context, organizationID, contactID uuid.UUID, limit int) ([]domain.ActivityRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, contact_id, organization_id, actor_id, kind, from_value, to_value, occurred_at
		FROM contact_activity
		WHERE organization_id = $1 AND contact_id = $2
		ORDER BY occurred_at DESC, id
		LIMIT $3
	`, organizationID, contactID, clampLimit(limit, defaultActivityLimit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		var rec domain.ActivityRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.ContactID, &rec.OrganizationID, &rec.ActorID, &kind, &rec.From, &rec.To, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.Kind = domain.ActivityKind(kind)
		items = append(items, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) ListDue(ctx context.Context, params DueParams) ([]Contact, error) {
	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE next_action_at IS NOT NULL AND next_action_at <= $1`
	args := []any{params.Before, clampLimit(params.Limit, maxListLimit)}
	if params.OrganizationID != nil {
		args = append(args, *params.OrganizationID)
		query += fmt.Sprintf(` AND organization_id = $%d`, len(args))
	}
	if params.After != nil {
		args = append(args, *params.After)
		query += fmt.Sprintf(` AND next_action_at > $%d`, len(args))
	}
	query += ` ORDER BY next_action_at ASC, id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContacts(rows)
}

func (r *Repository) LeadStageCounts(ctx context.Context, organizationID uuid.UUID) ([]LeadStageCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_stage, legacy_status, COUNT(*)
		FROM contacts
		WHERE organization_id = $1
		GROUP BY lead_stage, legacy_status
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]LeadStageCount, 0)
	for rows.Next() {
		var item LeadStageCount
		if err := rows.Scan(&item.LeadStage, &item.LegacyStatus, &item.Count); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

const writePrimarySQL = `
	UPDATE contacts
	SET channel = $3, status = $4, lead_stage = $5, last_action_at = $6, custom_cadence_days = $7, updated_at = now()
	WHERE id = $1 AND organization_id = $2
	RETURNING ` + contactColumns

func primaryArgs(organizationID, contactID uuid.UUID, state domain.PipelineState) []any {
	return []any{
		contactID,
		organizationID,
		nullableString(string(state.Channel)),
		nullableString(string(state.Status)),
		nullableString(string(state.LeadStage)),
		state.LastActionAt,
		state.CustomCadenceDays,
	}
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	var channel, status, leadStage *string
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Company,
		&c.SourceChannel, &c.LegacyStatus,
		&channel, &status, &leadStage,
		&c.Pipeline.LastActionAt, &c.Pipeline.CustomCadenceDays, &c.Pipeline.NextActionAt, &c.Pipeline.NextActionNote,
		&c.UpdatedAt,
	)
	if err != nil {
		return Contact{}, err
	}
	c.Pipeline.Channel = domain.Channel(deref(channel))
	c.Pipeline.Status = domain.Status(deref(status))
	c.Pipeline.LeadStage = domain.LeadStage(deref(leadStage))
	return c, nil
}

func collectContacts(rows pgx.Rows) ([]Contact, error) {
	items := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

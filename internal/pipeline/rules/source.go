package rules

import (
	"context"
	"fmt"
	"os"

	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/platform/config"

	"github.com/jackc/pgx/v5"
)

// Source produces a fresh catalog on every call to Load.
type Source interface {
	Name() string
	Load(ctx context.Context) (*domain.Catalog, error)
}

// FileSource reads a YAML rule document. An empty path uses the embedded document.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	if s.Path == "" {
		return "embedded"
	}
	return "file:" + s.Path
}

func (s FileSource) Load(_ context.Context) (*domain.Catalog, error) {
	if s.Path == "" {
		return Embedded()
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseYAML(data)
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DatabaseSource reads follow-up rules from the followup_rules table.
// Stage sequences are not stored in the database and come from the
// embedded document.
type DatabaseSource struct {
	db Querier
}

func NewDatabaseSource(db Querier) *DatabaseSource {
	return &DatabaseSource{db: db}
}

func (s *DatabaseSource) Name() string { return "database" }

func (s *DatabaseSource) Load(ctx context.Context) (*domain.Catalog, error) {
	base, err := embeddedDocument()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT channel, status, default_days, description
		FROM followup_rules
		ORDER BY channel, status
	`)
	if err != nil {
		return nil, fmt.Errorf("query followup rules: %w", err)
	}
	defer rows.Close()

	base.Rules = base.Rules[:0]
	for rows.Next() {
		var entry ruleEntry
		var days int
		if err := rows.Scan(&entry.Channel, &entry.Status, &days, &entry.Description); err != nil {
			return nil, err
		}
		entry.DefaultDays = &days
		base.Rules = append(base.Rules, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	cfg, err := base.catalogConfig()
	if err != nil {
		return nil, err
	}
	return domain.NewCatalog(cfg)
}

// NewSource picks the source named by configuration.
func NewSource(cfg config.RulesConfig, db Querier) Source {
	if cfg.GetRulesSource() == config.RulesSourceDatabase && db != nil {
		return NewDatabaseSource(db)
	}
	return FileSource{Path: cfg.GetRulesFile()}
}

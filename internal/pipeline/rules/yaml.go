// Package rules loads the pipeline catalog (channel sequences and follow-up
// rules) from configuration and keeps the active catalog hot-swappable.
package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"outreach_crm_backend/internal/pipeline/domain"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

type document struct {
	Sequences       map[string][]string `yaml:"sequences"`
	DefaultSequence []string            `yaml:"default_sequence"`
	Rules           []ruleEntry         `yaml:"rules"`
}

type ruleEntry struct {
	Channel     string `yaml:"channel"`
	Status      string `yaml:"status"`
	DefaultDays *int   `yaml:"default_days"`
	Description string `yaml:"description"`
}

// ParseYAML decodes a rule document. Unknown keys and unknown channel or
// status names fail the whole document.
func ParseYAML(data []byte) (*domain.Catalog, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}

	cfg, err := doc.catalogConfig()
	if err != nil {
		return nil, err
	}
	return domain.NewCatalog(cfg)
}

// Embedded returns the catalog built into the binary.
func Embedded() (*domain.Catalog, error) {
	return ParseYAML(embeddedRules)
}

// MustEmbedded is Embedded for callers that cannot continue without the
// built-in catalog.
func MustEmbedded() *domain.Catalog {
	catalog, err := Embedded()
	if err != nil {
		panic("embedded pipeline rules are invalid: " + err.Error())
	}
	return catalog
}

func embeddedDocument() (document, error) {
	return decodeDocument(embeddedRules)
}

func decodeDocument(data []byte) (document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return document{}, errors.New("rule document is empty")
		}
		return document{}, fmt.Errorf("decode rules: %w", err)
	}
	return doc, nil
}

func (d document) catalogConfig() (domain.CatalogConfig, error) {
	var errs []error
	cfg := domain.CatalogConfig{
		Sequences: make(map[domain.Channel][]domain.Status, len(d.Sequences)),
	}

	for rawChannel, rawSeq := range d.Sequences {
		channel, err := domain.ParseChannel(rawChannel)
		if err != nil {
			errs = append(errs, fmt.Errorf("sequences: %w", err))
			continue
		}
		seq, err := parseStatuses(rawSeq)
		if err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", channel, err))
			continue
		}
		cfg.Sequences[channel] = seq
	}

	seq, err := parseStatuses(d.DefaultSequence)
	if err != nil {
		errs = append(errs, fmt.Errorf("default_sequence: %w", err))
	}
	cfg.DefaultSequence = seq

	for i, entry := range d.Rules {
		rule, err := entry.rule()
		if err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		cfg.Rules = append(cfg.Rules, rule)
	}

	return cfg, errors.Join(errs...)
}

func (e ruleEntry) rule() (domain.FollowupRule, error) {
	channel, err := domain.ParseChannel(e.Channel)
	if err != nil {
		return domain.FollowupRule{}, err
	}
	status, err := domain.ParseStatus(e.Status)
	if err != nil {
		return domain.FollowupRule{}, err
	}
	if e.DefaultDays == nil {
		return domain.FollowupRule{}, errors.New("default_days is required")
	}
	return domain.FollowupRule{
		Channel:     channel,
		Status:      status,
		DefaultDays: *e.DefaultDays,
		Description: e.Description,
	}, nil
}

func parseStatuses(raw []string) ([]domain.Status, error) {
	out := make([]domain.Status, 0, len(raw))
	for _, r := range raw {
		status, err := domain.ParseStatus(r)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

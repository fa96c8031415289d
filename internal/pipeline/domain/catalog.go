package domain

import (
	"errors"
	"fmt"
)

// FollowupRule maps a (channel, status) pair to a default cadence and a
// description of the next expected action.
type FollowupRule struct {
	Channel     Channel `json:"channel" yaml:"channel"`
	Status      Status  `json:"status" yaml:"status"`
	DefaultDays int     `json:"defaultDays" yaml:"default_days"`
	Description string  `json:"description" yaml:"description"`
}

type ruleKey struct {
	channel Channel
	status  Status
}

// CatalogConfig is the raw input for building a Catalog. Sequences holds the
// channel-specific pipelines; channels absent from it use DefaultSequence.
type CatalogConfig struct {
	Sequences       map[Channel][]Status
	DefaultSequence []Status
	Rules           []FollowupRule
}

// Catalog is the immutable channel registry plus follow-up rule table.
// All lookups are pure and safe for concurrent use.
type Catalog struct {
	sequences map[Channel][]Status
	fallback  []Status
	rules     map[ruleKey]FollowupRule
	ruleList  []FollowupRule
}

// NewCatalog validates cfg and builds a Catalog.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if err := validateSequence("default", cfg.DefaultSequence); err != nil {
		return nil, err
	}

	c := &Catalog{
		sequences: make(map[Channel][]Status, len(cfg.Sequences)),
		fallback:  cloneStatuses(cfg.DefaultSequence),
		rules:     make(map[ruleKey]FollowupRule, len(cfg.Rules)),
		ruleList:  make([]FollowupRule, 0, len(cfg.Rules)),
	}

	for channel, seq := range cfg.Sequences {
		if !channel.IsKnown() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
		}
		if err := validateSequence(string(channel), seq); err != nil {
			return nil, err
		}
		c.sequences[channel] = cloneStatuses(seq)
	}

	var errs []error
	for _, rule := range cfg.Rules {
		if !rule.Channel.IsKnown() {
			errs = append(errs, fmt.Errorf("rule %s/%s: %w", rule.Channel, rule.Status, ErrInvalidChannel))
			continue
		}
		if !c.IsValidStatus(rule.Channel, rule.Status) {
			errs = append(errs, fmt.Errorf("rule %s/%s: %w", rule.Channel, rule.Status, ErrInvalidStatusForChannel))
			continue
		}
		if rule.DefaultDays < 0 {
			errs = append(errs, fmt.Errorf("rule %s/%s: default days must not be negative", rule.Channel, rule.Status))
			continue
		}
		key := ruleKey{channel: rule.Channel, status: rule.Status}
		if _, dup := c.rules[key]; dup {
			errs = append(errs, fmt.Errorf("rule %s/%s: duplicate rule", rule.Channel, rule.Status))
			continue
		}
		c.rules[key] = rule
		c.ruleList = append(c.ruleList, rule)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return c, nil
}

// Channels returns every known channel.
func (c *Catalog) Channels() []Channel {
	return AllChannels()
}

// StageSequence returns the channel-specific sequence if configured,
// otherwise the default sequence.
func (c *Catalog) StageSequence(channel Channel) []Status {
	if seq, ok := c.sequences[channel]; ok {
		return cloneStatuses(seq)
	}
	return cloneStatuses(c.fallback)
}

// IsValidStatus reports whether status appears in channel's sequence.
func (c *Catalog) IsValidStatus(channel Channel, status Status) bool {
	if channel == ChannelNone || status == StatusNone {
		return false
	}
	return indexOf(c.sequenceRef(channel), status) >= 0
}

// RuleFor returns the authoritative rule for (channel, status). A missing
// rule means no scheduled action and is never an error.
func (c *Catalog) RuleFor(channel Channel, status Status) (FollowupRule, bool) {
	rule, ok := c.rules[ruleKey{channel: channel, status: status}]
	return rule, ok
}

// Rules returns the rule table in configuration order.
func (c *Catalog) Rules() []FollowupRule {
	out := make([]FollowupRule, len(c.ruleList))
	copy(out, c.ruleList)
	return out
}

// CanonicalNext returns the conventional next step after status within
// channel's sequence. It is advisory and never enforced by transitions.
func (c *Catalog) CanonicalNext(channel Channel, status Status) (Status, bool) {
	if status.IsTerminal() {
		return StatusNone, false
	}
	seq := c.sequenceRef(channel)
	idx := indexOf(seq, status)
	if idx < 0 || idx+1 >= len(seq) {
		return StatusNone, false
	}
	next := seq[idx+1]
	return next, true
}

// FirstStatus returns the first entry of channel's sequence.
func (c *Catalog) FirstStatus(channel Channel) Status {
	seq := c.sequenceRef(channel)
	if len(seq) == 0 {
		return StatusNone
	}
	return seq[0]
}

func (c *Catalog) sequenceRef(channel Channel) []Status {
	if seq, ok := c.sequences[channel]; ok {
		return seq
	}
	return c.fallback
}

func validateSequence(name string, seq []Status) error {
	if len(seq) == 0 {
		return fmt.Errorf("sequence %s: must not be empty", name)
	}
	seen := make(map[Status]struct{}, len(seq))
	for _, status := range seq {
		if !status.IsKnown() {
			return fmt.Errorf("sequence %s: %w: %q", name, ErrInvalidStatus, status)
		}
		if _, dup := seen[status]; dup {
			return fmt.Errorf("sequence %s: duplicate status %q", name, status)
		}
		seen[status] = struct{}{}
	}
	return nil
}

func indexOf(seq []Status, status Status) int {
	for i, s := range seq {
		if s == status {
			return i
		}
	}
	return -1
}

func cloneStatuses(in []Status) []Status {
	out := make([]Status, len(in))
	copy(out, in)
	return out
}

package pricing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UrgencyKind selects how an urgent request is surcharged.
type UrgencyKind string

const (
	UrgencyFlat       UrgencyKind = "flat"
	UrgencyMultiplier UrgencyKind = "multiplier"
)

// UrgencyPolicy is either a flat amount added to the running total or a
// factor it is multiplied by.
type UrgencyPolicy struct {
	Kind  UrgencyKind     `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// ZoneSurcharge pairs an address keyword with the amount added when it matches.
type ZoneSurcharge struct {
	Keyword   string          `json:"keyword"`
	Surcharge decimal.Decimal `json:"surcharge"`
}

// DistancePolicy multiplies the running amount once when the address is longer
// than Threshold characters. An empty Categories list applies it to every category.
type DistancePolicy struct {
	Threshold  int             `json:"threshold"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Categories []string        `json:"categories,omitempty"`
}

// CategoryRule prices one category. RateByCommunity overrides UnitRate for
// the listed community types; Urgency overrides the rule set default.
type CategoryRule struct {
	UnitRate        decimal.Decimal            `json:"unit_rate"`
	RateByCommunity map[string]decimal.Decimal `json:"rate_by_community,omitempty"`
	Urgency         *UrgencyPolicy             `json:"urgency,omitempty"`
}

// RuleSet is one published version of the pricing rules. Once handed to a
// RuleTable it is never modified; a change is a new RuleSet with a higher Version.
type RuleSet struct {
	Version        int64                   `json:"version"`
	EffectiveFrom  time.Time               `json:"effective_from"`
	EffectiveUntil *time.Time              `json:"effective_until,omitempty"`
	Categories     map[string]CategoryRule `json:"categories"`
	ZoneSurcharges []ZoneSurcharge         `json:"zone_surcharges"`
	DefaultUrgency UrgencyPolicy           `json:"default_urgency"`
	Distance       *DistancePolicy         `json:"distance,omitempty"`
	PublishedBy    string                  `json:"published_by,omitempty"`
}

func (s *RuleSet) Covers(at time.Time) bool {
	if at.Before(s.EffectiveFrom) {
		return false
	}
	if s.EffectiveUntil != nil && !at.Before(*s.EffectiveUntil) {
		return false
	}
	return true
}

func (s *RuleSet) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidRuleSet)
	}
	if s.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective_from is required", ErrInvalidRuleSet)
	}
	if s.EffectiveUntil != nil && !s.EffectiveUntil.After(s.EffectiveFrom) {
		return fmt.Errorf("%w: effective_until must be after effective_from", ErrInvalidRuleSet)
	}
	categories := make(map[string]string, len(s.Categories))
	for name, rule := range s.Categories {
		key := normalizeKey(name)
		if key == "" {
			return fmt.Errorf("%w: empty category name", ErrInvalidRuleSet)
		}
		if other, ok := categories[key]; ok {
			return fmt.Errorf("%w: categories %q and %q collide", ErrInvalidRuleSet, other, name)
		}
		categories[key] = name
		if rule.UnitRate.IsNegative() {
			return fmt.Errorf("%w: category %q has a negative unit rate", ErrInvalidRuleSet, name)
		}
		communities := make(map[string]string, len(rule.RateByCommunity))
		for community, rate := range rule.RateByCommunity {
			ckey := normalizeKey(community)
			if ckey == "" {
				return fmt.Errorf("%w: category %q has an empty community type", ErrInvalidRuleSet, name)
			}
			if other, ok := communities[ckey]; ok {
				return fmt.Errorf("%w: category %q communities %q and %q collide", ErrInvalidRuleSet, name, other, community)
			}
			communities[ckey] = community
			if rate.IsNegative() {
				return fmt.Errorf("%w: category %q community %q has a negative rate", ErrInvalidRuleSet, name, community)
			}
		}
		if rule.Urgency != nil {
			if err := rule.Urgency.validate(); err != nil {
				return fmt.Errorf("%w: category %q: %v", ErrInvalidRuleSet, name, err)
			}
		}
	}
	for i, zone := range s.ZoneSurcharges {
		if strings.TrimSpace(zone.Keyword) == "" {
			return fmt.Errorf("%w: zone surcharge %d has an empty keyword", ErrInvalidRuleSet, i)
		}
		if zone.Surcharge.IsNegative() {
			return fmt.Errorf("%w: zone %q has a negative surcharge", ErrInvalidRuleSet, zone.Keyword)
		}
	}
	if err := s.DefaultUrgency.validate(); err != nil {
		return fmt.Errorf("%w: default urgency: %v", ErrInvalidRuleSet, err)
	}
	if s.Distance != nil {
		if s.Distance.Threshold < 0 {
			return fmt.Errorf("%w: distance threshold must not be negative", ErrInvalidRuleSet)
		}
		if !s.Distance.Multiplier.IsPositive() {
			return fmt.Errorf("%w: distance multiplier must be positive", ErrInvalidRuleSet)
		}
	}
	return nil
}

func (p UrgencyPolicy) validate() error {
	switch p.Kind {
	case UrgencyFlat:
		if p.Value.IsNegative() {
			return fmt.Errorf("flat urgency surcharge must not be negative")
		}
	case UrgencyMultiplier:
		if !p.Value.IsPositive() {
			return fmt.Errorf("urgency multiplier must be positive")
		}
	default:
		return fmt.Errorf("unknown urgency kind %q", p.Kind)
	}
	return nil
}

// clone returns a deep copy with category, community and zone keys normalized.
// Zone order is preserved.
func (s *RuleSet) clone() *RuleSet {
	out := *s
	if s.EffectiveUntil != nil {
		until := *s.EffectiveUntil
		out.EffectiveUntil = &until
	}

	out.Categories = make(map[string]CategoryRule, len(s.Categories))
	for name, rule := range s.Categories {
		copied := CategoryRule{UnitRate: rule.UnitRate}
		if len(rule.RateByCommunity) > 0 {
			copied.RateByCommunity = make(map[string]decimal.Decimal, len(rule.RateByCommunity))
			for community, rate := range rule.RateByCommunity {
				copied.RateByCommunity[normalizeKey(community)] = rate
			}
		}
		if rule.Urgency != nil {
			urgency := *rule.Urgency
			copied.Urgency = &urgency
		}
		out.Categories[normalizeKey(name)] = copied
	}

	out.ZoneSurcharges = make([]ZoneSurcharge, len(s.ZoneSurcharges))
	for i, zone := range s.ZoneSurcharges {
		out.ZoneSurcharges[i] = ZoneSurcharge{
			Keyword:   strings.ToLower(strings.TrimSpace(zone.Keyword)),
			Surcharge: zone.Surcharge,
		}
	}

	if s.Distance != nil {
		distance := *s.Distance
		distance.Categories = make([]string, len(s.Distance.Categories))
		for i, category := range s.Distance.Categories {
			distance.Categories[i] = normalizeKey(category)
		}
		out.Distance = &distance
	}
	return &out
}

func (s *RuleSet) category(name string) (CategoryRule, bool) {
	rule, ok := s.Categories[normalizeKey(name)]
	return rule, ok
}

func (s *RuleSet) urgencyFor(category string) UrgencyPolicy {
	if rule, ok := s.category(category); ok && rule.Urgency != nil {
		return *rule.Urgency
	}
	return s.DefaultUrgency
}

func (s *RuleSet) distanceFor(category string) *DistancePolicy {
	if s.Distance == nil {
		return nil
	}
	if len(s.Distance.Categories) == 0 {
		return s.Distance
	}
	key := normalizeKey(category)
	for _, candidate := range s.Distance.Categories {
		if candidate == key {
			return s.Distance
		}
	}
	return nil
}

// LoadRuleSets decodes a JSON array of rule sets and validates each of them.
func LoadRuleSets(r io.Reader) ([]*RuleSet, error) {
	var sets []*RuleSet
	if err := json.NewDecoder(r).Decode(&sets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	for _, set := range sets {
		if err := set.Validate(); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

package pricing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Rate is the unit rate resolved for a category together with the rule set it came from.
type Rate struct {
	Value    decimal.Decimal
	Version  int64
	Fallback bool
}

// RuleTable holds every published rule set. Readers load the current slice
// through an atomic pointer; publishers build a new slice and swap it in,
// so a published *RuleSet is never mutated while a computation holds it.
type RuleTable struct {
	mu           sync.Mutex
	sets         atomic.Pointer[[]*RuleSet]
	fallbackRate decimal.Decimal
}

func NewRuleTable(fallbackRate decimal.Decimal, sets ...*RuleSet) (*RuleTable, error) {
	if fallbackRate.IsNegative() {
		return nil, fmt.Errorf("%w: fallback rate must not be negative", ErrInvalidRuleSet)
	}
	t := &RuleTable{fallbackRate: fallbackRate}
	empty := make([]*RuleSet, 0)
	t.sets.Store(&empty)

	sorted := append([]*RuleSet(nil), sets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for _, set := range sorted {
		if err := t.Publish(set); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *RuleTable) FallbackRate() decimal.Decimal {
	return t.fallbackRate
}

// Publish appends a new version. The version must be greater than every
// version already published.
func (t *RuleTable) Publish(set *RuleSet) error {
	if set == nil {
		return fmt.Errorf("%w: nil rule set", ErrInvalidRuleSet)
	}
	if err := set.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := *t.sets.Load()
	if n := len(current); n > 0 && current[n-1].Version >= set.Version {
		return fmt.Errorf("%w: version %d is not newer than %d", ErrVersionConflict, set.Version, current[n-1].Version)
	}

	next := make([]*RuleSet, len(current), len(current)+1)
	copy(next, current)
	next = append(next, set.clone())
	t.sets.Store(&next)
	return nil
}

// Sync publishes every set newer than the latest known version and returns
// how many were added. Older or already known versions are skipped.
func (t *RuleTable) Sync(sets []*RuleSet) (int, error) {
	sorted := append([]*RuleSet(nil), sets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	added := 0
	for _, set := range sorted {
		if set.Version <= t.LatestVersion() {
			continue
		}
		if err := t.Publish(set); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}

func (t *RuleTable) LatestVersion() int64 {
	current := *t.sets.Load()
	if len(current) == 0 {
		return 0
	}
	return current[len(current)-1].Version
}

// Versions returns the published rule sets ordered by version. The returned
// sets are shared snapshots and must be treated as read-only.
func (t *RuleTable) Versions() []*RuleSet {
	current := *t.sets.Load()
	return append([]*RuleSet(nil), current...)
}

// Resolve returns the highest version whose validity window contains at.
func (t *RuleTable) Resolve(at time.Time) (*RuleSet, error) {
	current := *t.sets.Load()
	for i := len(current) - 1; i >= 0; i-- {
		if current[i].Covers(at) {
			return current[i], nil
		}
	}
	return nil, fmt.Errorf("%w: at %s", ErrRuleNotFound, at.UTC().Format(time.RFC3339))
}

// RateFor resolves the unit rate of category at the given time. Unknown
// categories get the table's fallback rate and are flagged, never rejected.
func (t *RuleTable) RateFor(category string, at time.Time) (Rate, error) {
	set, err := t.Resolve(at)
	if err != nil {
		return Rate{}, err
	}
	return t.rateIn(set, category, ""), nil
}

func (t *RuleTable) rateIn(set *RuleSet, category, communityType string) Rate {
	rule, ok := set.category(category)
	if !ok {
		return Rate{Value: t.fallbackRate, Version: set.Version, Fallback: true}
	}
	if rate, ok := rule.RateByCommunity[normalizeKey(communityType)]; ok {
		return Rate{Value: rate, Version: set.Version}
	}
	return Rate{Value: rule.UnitRate, Version: set.Version}
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

// RuleSetRepository is the publication feed: an append-only table of rule
// set versions stored as JSON documents.
type RuleSetRepository struct {
	db *gorm.DB
}

func NewRuleSetRepository(db *gorm.DB) *RuleSetRepository {
	return &RuleSetRepository{db: db}
}

func (r *RuleSetRepository) List(ctx context.Context) ([]*pricing.RuleSet, error) {
	var rows []struct {
		Version int64
		Payload string
	}
	if err := r.db.WithContext(ctx).Raw(`
		SELECT version, payload::text AS payload
		FROM pricing_rule_sets
		ORDER BY version ASC
	`).Scan(&rows).Error; err != nil {
		return nil, err
	}

	sets := make([]*pricing.RuleSet, 0, len(rows))
	for _, row := range rows {
		var set pricing.RuleSet
		if err := json.Unmarshal([]byte(row.Payload), &set); err != nil {
			return nil, fmt.Errorf("decode rule set %d: %w", row.Version, err)
		}
		sets = append(sets, &set)
	}
	return sets, nil
}

func (r *RuleSetRepository) Insert(ctx context.Context, set *pricing.RuleSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO pricing_rule_sets (version, effective_from, effective_until, payload, published_by)
		VALUES (?, ?, ?, CAST(? AS JSONB), ?)
		ON CONFLICT (version) DO NOTHING
	`, set.Version, set.EffectiveFrom, set.EffectiveUntil, string(payload), set.PublishedBy)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: version %d", pricing.ErrVersionConflict, set.Version)
	}
	return nil
}

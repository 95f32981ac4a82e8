package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

type RuleSetStore interface {
	List(ctx context.Context) ([]*pricing.RuleSet, error)
	Insert(ctx context.Context, set *pricing.RuleSet) error
}

type RuleService struct {
	store RuleSetStore
	table *pricing.RuleTable
	log   zerolog.Logger
}

func NewRuleService(store RuleSetStore, table *pricing.RuleTable, log zerolog.Logger) *RuleService {
	return &RuleService{store: store, table: table, log: log}
}

// Bootstrap loads every stored version into the table. When the store is
// empty the seed versions are stored first.
func (s *RuleService) Bootstrap(ctx context.Context, seed []*pricing.RuleSet) error {
	sets, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	if len(sets) == 0 && len(seed) > 0 {
		for _, set := range seed {
			if err := s.store.Insert(ctx, set); err != nil && !errors.Is(err, pricing.ErrVersionConflict) {
				return fmt.Errorf("seed rule set %d: %w", set.Version, err)
			}
		}
		s.log.Info().Int("count", len(seed)).Msg("seeded pricing rule sets")
		if sets, err = s.store.List(ctx); err != nil {
			return err
		}
	}

	added, err := s.table.Sync(sets)
	if err != nil {
		return err
	}
	s.log.Info().Int("loaded", added).Int64("latest_version", s.table.LatestVersion()).Msg("pricing rule table ready")
	return nil
}

// Publish stores a new immutable version and swaps it into the table. A zero
// version is assigned the next free number.
func (s *RuleService) Publish(ctx context.Context, principal model.Principal, set *pricing.RuleSet) (*pricing.RuleSet, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	if set == nil {
		return nil, fmt.Errorf("%w: rule set is required", ErrInvalidInput)
	}

	published := *set
	if published.Version == 0 {
		published.Version = s.table.LatestVersion() + 1
	}
	published.PublishedBy = principal.UserID.String()

	if err := published.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if published.Version <= s.table.LatestVersion() {
		return nil, fmt.Errorf("%w: version %d is not newer than %d", pricing.ErrVersionConflict, published.Version, s.table.LatestVersion())
	}

	if err := s.store.Insert(ctx, &published); err != nil {
		return nil, err
	}
	if err := s.table.Publish(&published); err != nil {
		// a concurrent Refresh may have loaded the stored row already
		if !errors.Is(err, pricing.ErrVersionConflict) || s.table.LatestVersion() < published.Version {
			return nil, err
		}
	}

	s.log.Info().
		Int64("version", published.Version).
		Time("effective_from", published.EffectiveFrom).
		Str("published_by", published.PublishedBy).
		Msg("pricing rule set published")
	return &published, nil
}

func (s *RuleService) List(principal model.Principal) ([]*pricing.RuleSet, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.table.Versions(), nil
}

// Refresh picks up versions published by other instances.
func (s *RuleService) Refresh(ctx context.Context) error {
	sets, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	added, err := s.table.Sync(sets)
	if err != nil {
		return err
	}
	if added > 0 {
		s.log.Info().Int("added", added).Int64("latest_version", s.table.LatestVersion()).Msg("pricing rule sets refreshed")
	}
	return nil
}

func (s *RuleService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Error().Err(err).Msg("pricing rule refresh failed")
			}
		}
	}
}

package pricing

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of the final amount.
const MinorUnitPlaces = 2

type QuoteRequest struct {
	Category      string
	Quantity      float64
	CommunityType string
	Address       string
	Urgent        bool
}

// QuoteComputation is the breakdown of one evaluation. Only FinalAmount is
// rounded; the intermediate stages keep full precision.
type QuoteComputation struct {
	RuleSetVersion     int64           `json:"rule_set_version"`
	Category           string          `json:"category"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitRate           decimal.Decimal `json:"unit_rate"`
	FallbackApplied    bool            `json:"fallback_applied"`
	BaseAmount         decimal.Decimal `json:"base_amount"`
	ZoneKeyword        string          `json:"zone_keyword,omitempty"`
	ZoneSurcharge      decimal.Decimal `json:"zone_surcharge"`
	DistanceAdjustment decimal.Decimal `json:"distance_adjustment"`
	UrgencyAdjustment  decimal.Decimal `json:"urgency_adjustment"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
}

type QuoteComputer struct {
	table *RuleTable
	log   zerolog.Logger
}

func NewQuoteComputer(table *RuleTable, log zerolog.Logger) *QuoteComputer {
	return &QuoteComputer{table: table, log: log}
}

// Compute prices a request against the rule set in effect at the given time.
// The rule set is resolved once, so every stage reads the same version.
func (c *QuoteComputer) Compute(req QuoteRequest, at time.Time) (QuoteComputation, error) {
	quantity, err := ValidateQuantity(req.Quantity)
	if err != nil {
		return QuoteComputation{}, err
	}

	set, err := c.table.Resolve(at)
	if err != nil {
		return QuoteComputation{}, err
	}

	rate := c.table.rateIn(set, req.Category, req.CommunityType)
	if rate.Fallback {
		c.log.Warn().
			Str("event", "UnknownCategoryFallback").
			Str("category", req.Category).
			Int64("rule_set_version", set.Version).
			Str("fallback_rate", rate.Value.String()).
			Msg("unknown category priced with fallback rate")
	}

	result := QuoteComputation{
		RuleSetVersion:  set.Version,
		Category:        req.Category,
		Quantity:        quantity,
		UnitRate:        rate.Value,
		FallbackApplied: rate.Fallback,
	}

	running := Scale(rate.Value, quantity)
	result.BaseAmount = running

	zone, matched := NewZoneMatcher(set.ZoneSurcharges).Match(req.Address)
	if matched {
		result.ZoneKeyword = zone.Keyword
		result.ZoneSurcharge = zone.Surcharge
		running = running.Add(zone.Surcharge)
	}

	running, result.DistanceAdjustment = ApplyDistance(running, set.distanceFor(req.Category), req.Address)
	running, result.UrgencyAdjustment = ApplyUrgency(running, set.urgencyFor(req.Category), req.Urgent)

	result.FinalAmount = running.Round(MinorUnitPlaces)
	return result, nil
}

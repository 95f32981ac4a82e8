package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func testRuleSet(version int64, from time.Time) *RuleSet {
	return &RuleSet{
		Version:       version,
		EffectiveFrom: from,
		Categories: map[string]CategoryRule{
			"Organic": {
				UnitRate: d("150"),
				Urgency:  &UrgencyPolicy{Kind: UrgencyFlat, Value: d("500")},
			},
			"Glass": {UnitRate: d("200")},
			"Household": {
				UnitRate: d("200"),
				RateByCommunity: map[string]decimal.Decimal{
					"Residential": d("200"),
					"Commercial":  d("1000"),
				},
				Urgency: &UrgencyPolicy{Kind: UrgencyMultiplier, Value: d("1.25")},
			},
			"Sawdust": {UnitRate: d("0.335")},
			"Compost": {UnitRate: d("0.125")},
		},
		ZoneSurcharges: []ZoneSurcharge{
			{Keyword: "colombo", Surcharge: d("200")},
			{Keyword: "Kandy", Surcharge: d("150")},
			{Keyword: "galle", Surcharge: d("100")},
		},
		DefaultUrgency: UrgencyPolicy{Kind: UrgencyMultiplier, Value: d("1.5")},
		Distance: &DistancePolicy{
			Threshold:  20,
			Multiplier: d("1.5"),
			Categories: []string{"Household"},
		},
	}
}

func newTestTable(sets ...*RuleSet) *RuleTable {
	if len(sets) == 0 {
		sets = []*RuleSet{testRuleSet(1, epoch)}
	}
	table, err := NewRuleTable(d("50"), sets...)
	if err != nil {
		panic(err)
	}
	return table
}

package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ZoneMatcher applies the first zone, in table order, whose keyword occurs in
// the address. Reordering the table changes the price.
type ZoneMatcher struct {
	zones []ZoneSurcharge
}

func NewZoneMatcher(zones []ZoneSurcharge) ZoneMatcher {
	return ZoneMatcher{zones: zones}
}

func (m ZoneMatcher) Match(address string) (ZoneSurcharge, bool) {
	lowered := strings.ToLower(address)
	for _, zone := range m.zones {
		keyword := strings.ToLower(strings.TrimSpace(zone.Keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			return zone, true
		}
	}
	return ZoneSurcharge{}, false
}

func (m ZoneMatcher) SurchargeFor(address string) decimal.Decimal {
	zone, ok := m.Match(address)
	if !ok {
		return decimal.Zero
	}
	return zone.Surcharge
}

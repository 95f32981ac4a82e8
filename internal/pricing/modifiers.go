package pricing

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ValidateQuantity converts a client quantity into a decimal, rejecting zero,
// negative and non-finite values.
func ValidateQuantity(quantity float64) (decimal.Decimal, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return decimal.Zero, fmt.Errorf("%w: quantity must be a finite number", ErrInvalidQuantity)
	}
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidQuantity)
	}
	return decimal.NewFromFloat(quantity), nil
}

// Scale expects a quantity already accepted by ValidateQuantity.
func Scale(unitRate, quantity decimal.Decimal) decimal.Decimal {
	return unitRate.Mul(quantity)
}

// ApplyUrgency returns the adjusted amount and the adjustment it added.
func ApplyUrgency(amount decimal.Decimal, policy UrgencyPolicy, urgent bool) (decimal.Decimal, decimal.Decimal) {
	if !urgent {
		return amount, decimal.Zero
	}
	switch policy.Kind {
	case UrgencyFlat:
		return amount.Add(policy.Value), policy.Value
	case UrgencyMultiplier:
		adjusted := amount.Mul(policy.Value)
		return adjusted, adjusted.Sub(amount)
	default:
		return amount, decimal.Zero
	}
}

// ApplyDistance multiplies amount once when the trimmed address is longer than
// the policy threshold. A nil policy leaves the amount unchanged.
func ApplyDistance(amount decimal.Decimal, policy *DistancePolicy, address string) (decimal.Decimal, decimal.Decimal) {
	if policy == nil {
		return amount, decimal.Zero
	}
	if utf8.RuneCountInString(strings.TrimSpace(address)) <= policy.Threshold {
		return amount, decimal.Zero
	}
	adjusted := amount.Mul(policy.Multiplier)
	return adjusted, adjusted.Sub(amount)
}

package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Item describes a basket line used for pricing calculation. Price is the
// line price; quantities are aggregated by the caller.
type Item struct {
	ID       string
	Name     string
	Category string
	Price    decimal.Decimal
}

// Breakdown aggregates computed pricing components. All money fields carry
// exactly two decimal places.
type Breakdown struct {
	Subtotal        decimal.Decimal
	ServiceFee      decimal.Decimal
	BaseTotal       decimal.Decimal
	InstallmentRate decimal.Decimal
	InstallmentFee  decimal.Decimal
	Total           decimal.Decimal
}

const moneyPlaces = 2

var (
	serviceFeeRate = decimal.RequireFromString("0.10")
	hundred        = decimal.NewFromInt(100)

	// installmentRates holds the surcharge percentage per installment count.
	installmentRates = map[int]decimal.Decimal{
		1:  decimal.Zero,
		2:  decimal.RequireFromString("3.5"),
		3:  decimal.RequireFromString("5.2"),
		6:  decimal.RequireFromString("9.8"),
		9:  decimal.RequireFromString("13.5"),
		12: decimal.RequireFromString("17.0"),
	}
	supportedInstallments = sortedKeys(installmentRates)
)

// Compute calculates the checkout totals for the provided basket and
// installment count. Unknown installment counts carry no surcharge.
func Compute(items []Item, installments int) Breakdown {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(Round(it.Price))
	}
	subtotal = Round(subtotal)
	serviceFee := Round(subtotal.Mul(serviceFeeRate))
	baseTotal := subtotal.Add(serviceFee)
	rate := InstallmentRate(installments)
	installmentFee := Round(baseTotal.Mul(rate).Div(hundred))
	return Breakdown{
		Subtotal:        subtotal,
		ServiceFee:      serviceFee,
		BaseTotal:       baseTotal,
		InstallmentRate: rate,
		InstallmentFee:  installmentFee,
		Total:           Round(baseTotal.Add(installmentFee)),
	}
}

// InstallmentRate returns the surcharge percentage for the installment count.
func InstallmentRate(installments int) decimal.Decimal {
	if rate, ok := installmentRates[installments]; ok {
		return rate
	}
	return decimal.Zero
}

// SupportedInstallments lists the installment counts with a configured rate, ascending.
func SupportedInstallments() []int {
	out := make([]int, len(supportedInstallments))
	copy(out, supportedInstallments)
	return out
}

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// Format renders the amount as a fixed two-decimal string.
func Format(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

func sortedKeys(m map[int]decimal.Decimal) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

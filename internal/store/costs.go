package store

import "github.com/subtally/subtally/internal/models"

const weeksPerYear = 52

// Totals holds the cost of all active subscriptions normalized to a
// monthly and a yearly amount.
type Totals struct {
	Monthly float64 `json:"total_monthly"`
	Yearly  float64 `json:"total_yearly"`
}

// Converter converts an amount from a currency into a base currency.
type Converter interface {
	Convert(amount float64, from string) (float64, error)
}

// MonthlyCost normalizes a cost to its monthly equivalent. Unrecognised
// billing cycles are treated as monthly.
func MonthlyCost(cost float64, cycle string) float64 {
	switch models.NormalizeCycle(cycle) {
	case models.CycleMonthly:
		return cost
	case models.CycleYearly:
		return cost / 12
	case models.CycleWeekly:
		return cost * weeksPerYear / 12
	default:
		return cost
	}
}

// YearlyCost normalizes a cost to its yearly equivalent. Unrecognised
// billing cycles are treated as monthly.
func YearlyCost(cost float64, cycle string) float64 {
	switch models.NormalizeCycle(cycle) {
	case models.CycleMonthly:
		return cost * 12
	case models.CycleYearly:
		return cost
	case models.CycleWeekly:
		return cost * weeksPerYear
	default:
		return cost * 12
	}
}

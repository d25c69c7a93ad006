package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	Category Category
	Amount   decimal.Decimal
}

// MonthOverview is a compact per-category summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Total      decimal.Decimal
	ByCategory []CategoryAmount
}

// NewMonthOverview fills ByCategory in canonical order, with zero amounts for
// categories absent from sums, and computes the total.
func NewMonthOverview(year, month int, sums map[Category]decimal.Decimal) MonthOverview {
	ov := MonthOverview{Year: year, Month: month, Total: decimal.Zero}
	for _, c := range Categories {
		amt := sums[c].Round(2)
		ov.ByCategory = append(ov.ByCategory, CategoryAmount{Category: c, Amount: amt})
		ov.Total = ov.Total.Add(amt)
	}
	ov.Total = ov.Total.Round(2)
	return ov
}

// Amount returns the aggregated amount for c, or zero.
func (o MonthOverview) Amount(c Category) decimal.Decimal {
	for _, ca := range o.ByCategory {
		if ca.Category == c {
			return ca.Amount
		}
	}
	return decimal.Zero
}

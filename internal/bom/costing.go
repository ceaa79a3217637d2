package bom

import "github.com/shopspring/decimal"

// Cost arithmetic goes through decimals so that repeated scrap and
// adjustment multiplications do not accumulate binary float drift. Results
// are rounded to four decimal places, matching the store column scale.

const costScale = 4

func actualQuantity(qty, scrapRate float64) float64 {
	q := decimal.NewFromFloat(qty)
	factor := decimal.NewFromFloat(1).Add(decimal.NewFromFloat(scrapRate).Div(decimal.NewFromInt(100)))
	f, _ := q.Mul(factor).Round(costScale).Float64()
	return f
}

func lineTotal(qty, scrapRate, unitCost float64) float64 {
	actual := decimal.NewFromFloat(actualQuantity(qty, scrapRate))
	f, _ := actual.Mul(decimal.NewFromFloat(unitCost)).Round(costScale).Float64()
	return f
}

// adjustUnitCost applies a percentage adjustment: cost * (1 + rate/100).
func adjustUnitCost(unitCost, ratePercent float64) float64 {
	c := decimal.NewFromFloat(unitCost)
	factor := decimal.NewFromFloat(1).Add(decimal.NewFromFloat(ratePercent).Div(decimal.NewFromInt(100)))
	f, _ := c.Mul(factor).Round(costScale).Float64()
	return f
}

func sumLineTotals(items []BOMItem) float64 {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(decimal.NewFromFloat(item.TotalCost()))
	}
	f, _ := total.Round(costScale).Float64()
	return f
}

// percentChange returns (new-old)/old*100, or 0 when old is 0.
func percentChange(oldValue, newValue float64) float64 {
	if oldValue == 0 {
		return 0
	}
	o := decimal.NewFromFloat(oldValue)
	n := decimal.NewFromFloat(newValue)
	f, _ := n.Sub(o).Div(o).Mul(decimal.NewFromInt(100)).Round(costScale).Float64()
	return f
}

// Package shipping computes shipping cost and progress towards free shipping.
package shipping

import (
	"github.com/shopspring/decimal"
)

var (
	DefaultThreshold = decimal.NewFromInt(500)
	DefaultFee       = decimal.RequireFromString("29.90")
)

// Calculator charges Fee on orders below Threshold and ships free from Threshold on.
type Calculator struct {
	Threshold decimal.Decimal
	Fee       decimal.Decimal
}

// Summary is the order total breakdown shown next to the cart.
type Summary struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	Shipping         decimal.Decimal `json:"shipping"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	RemainingForFree decimal.Decimal `json:"remaining_for_free"`
	Progress         float64         `json:"progress"`
}

func NewCalculator(threshold, fee decimal.Decimal) Calculator {
	return Calculator{Threshold: threshold, Fee: fee}
}

// Quote breaks total down. A non-positive threshold means shipping is always free.
func (c Calculator) Quote(total decimal.Decimal) Summary {
	if !c.Threshold.IsPositive() {
		return Summary{
			Subtotal:         total,
			Shipping:         decimal.Zero,
			GrandTotal:       total,
			RemainingForFree: decimal.Zero,
			Progress:         1,
		}
	}

	shipping := c.Fee
	if total.GreaterThanOrEqual(c.Threshold) {
		shipping = decimal.Zero
	}
	remaining := decimal.Max(c.Threshold.Sub(total), decimal.Zero)
	progress, _ := decimal.Min(total.Div(c.Threshold), decimal.NewFromInt(1)).Float64()
	if progress < 0 {
		progress = 0
	}

	return Summary{
		Subtotal:         total,
		Shipping:         shipping,
		GrandTotal:       total.Add(shipping),
		RemainingForFree: remaining,
		Progress:         progress,
	}
}

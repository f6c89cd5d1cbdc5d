package redemption

import (
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/models"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount applies v's rule to amount. Percentage discounts are capped at MaximumDiscount;
// no discount ever exceeds the amount.
func ComputeDiscount(v *models.Voucher, amount decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch v.DiscountType {
	case models.DiscountPercentage:
		d = amount.Mul(v.DiscountValue).Div(hundred).Round(2)
		if v.MaximumDiscount != nil && d.GreaterThan(*v.MaximumDiscount) {
			d = *v.MaximumDiscount
		}
	case models.DiscountFixed:
		d = decimal.Min(v.DiscountValue, amount)
	}
	if d.GreaterThan(amount) {
		d = amount
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	return d
}

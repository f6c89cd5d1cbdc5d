package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType is how a voucher reduces the purchase amount.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// UsageLimit caps redemptions. Nil fields mean unlimited.
type UsageLimit struct {
	PerCoupon   *int `json:"perCoupon,omitempty"`
	PerCustomer *int `json:"perCustomer,omitempty"`
}

// VoucherAnalytics are per-voucher counters maintained alongside the business rollup.
type VoucherAnalytics struct {
	Views        int64           `json:"views"`
	Clicks       int64           `json:"clicks"`
	Redemptions  int64           `json:"redemptions"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
}

// Voucher is a business-defined discount offer.
type Voucher struct {
	ID              uuid.UUID        `json:"id"`
	BusinessID      uuid.UUID        `json:"businessId"`
	Code            string           `json:"code"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	DiscountType    DiscountType     `json:"discountType"`
	DiscountValue   decimal.Decimal  `json:"discountValue"`
	MinimumPurchase *decimal.Decimal `json:"minimumPurchase,omitempty"`
	MaximumDiscount *decimal.Decimal `json:"maximumDiscount,omitempty"`
	StartDate       time.Time        `json:"startDate"`
	EndDate         time.Time        `json:"endDate"`
	IsActive        bool             `json:"isActive"`
	UsageLimit      UsageLimit       `json:"usageLimit"`
	CurrentUsage    int              `json:"currentUsage"`
	Analytics       VoucherAnalytics `json:"analytics"`
	QRImageURL      string           `json:"qrImageUrl,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// InWindow reports whether now falls inside [StartDate, EndDate].
func (v *Voucher) InWindow(now time.Time) bool {
	return !now.Before(v.StartDate) && !now.After(v.EndDate)
}

// LimitReached reports whether the per-coupon usage limit is exhausted.
func (v *Voucher) LimitReached() bool {
	return v.UsageLimit.PerCoupon != nil && v.CurrentUsage >= *v.UsageLimit.PerCoupon
}

// ReachesLimitAfterUse reports whether one more redemption exhausts the per-coupon limit.
func (v *Voucher) ReachesLimitAfterUse() bool {
	return v.UsageLimit.PerCoupon != nil && v.CurrentUsage+1 >= *v.UsageLimit.PerCoupon
}

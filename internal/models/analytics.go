package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Breakdown dimensions.
const (
	DimensionDevice  = "device"
	DimensionBrowser = "browser"
	DimensionSource  = "source"
)

// BusinessAnalytics is the lifetime rollup for one business.
type BusinessAnalytics struct {
	BusinessID       uuid.UUID                   `json:"businessId"`
	TotalRevenue     decimal.Decimal             `json:"totalRevenue"`
	TotalRedemptions int64                       `json:"totalRedemptions"`
	TotalQRScans     int64                       `json:"totalQrScans"`
	TotalCustomers   int64                       `json:"totalCustomers"`
	GuestCustomers   int64                       `json:"guestCustomers"`
	DailyStats       []PeriodStat                `json:"dailyStats"`
	MonthlyStats     []PeriodStat                `json:"monthlyStats"`
	Breakdowns       map[string]map[string]int64 `json:"breakdowns"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

// PeriodStat is one daily or monthly bucket. Date is set for daily buckets, Year/Month for monthly.
type PeriodStat struct {
	Date         string          `json:"date,omitempty"`
	Year         int             `json:"year,omitempty"`
	Month        int             `json:"month,omitempty"`
	Revenue      decimal.Decimal `json:"revenue"`
	Redemptions  int64           `json:"redemptions"`
	QRScans      int64           `json:"qrScans"`
	NewCustomers int64           `json:"newCustomers"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceKind is the marketing channel of an attribution source.
type SourceKind string

const (
	SourceInfluencer SourceKind = "influencer"
	SourceGoogleAds  SourceKind = "google_ads"
	SourceAgency     SourceKind = "agency"
	SourceBusiness   SourceKind = "business"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceInfluencer, SourceGoogleAds, SourceAgency, SourceBusiness:
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Stats are the counters kept per referral code and per campaign.
// Leads count form submissions; conversions count redemptions.
type Stats struct {
	Clicks      int64           `json:"clicks"`
	Leads       int64           `json:"leads"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// ConversionRate is conversions/clicks*100, rounded to two places. Zero without clicks.
func (s Stats) ConversionRate() decimal.Decimal {
	if s.Clicks == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.Conversions).Mul(hundred).Div(decimal.NewFromInt(s.Clicks)).Round(2)
}

// AvgOrderValue is revenue/conversions, rounded to two places. Zero without conversions.
func (s Stats) AvgOrderValue() decimal.Decimal {
	if s.Conversions == 0 {
		return decimal.Zero
	}
	return s.Revenue.Div(decimal.NewFromInt(s.Conversions)).Round(2)
}

// StatsView is Stats with the derived rates for API responses.
type StatsView struct {
	Stats
	ConversionRate decimal.Decimal `json:"conversionRate"`
	AvgOrderValue  decimal.Decimal `json:"avgOrderValue"`
}

// View returns s with derived rates filled in.
func (s Stats) View() StatsView {
	return StatsView{Stats: s, ConversionRate: s.ConversionRate(), AvgOrderValue: s.AvgOrderValue()}
}

// Campaign groups attribution sources that promote one voucher.
type Campaign struct {
	ID         uuid.UUID  `json:"id"`
	BusinessID uuid.UUID  `json:"businessId"`
	VoucherID  uuid.UUID  `json:"voucherId"`
	Name       string     `json:"name"`
	Type       SourceKind `json:"type"`
	IsActive   bool       `json:"isActive"`
	Stats      Stats      `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// DeviceInfo is the resolved client snapshot attached to clicks and analytics.
type DeviceInfo struct {
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	Country    string `json:"country"`
	City       string `json:"city"`
}

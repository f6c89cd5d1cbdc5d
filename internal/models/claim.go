package models

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the claim lifecycle state. Redeemed and expired are terminal.
type ClaimStatus string

const (
	ClaimStatusClaimed  ClaimStatus = "claimed"
	ClaimStatusRedeemed ClaimStatus = "redeemed"
	ClaimStatusExpired  ClaimStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusRedeemed || s == ClaimStatusExpired
}

// ClaimMethod is the channel the claim came through.
type ClaimMethod string

const (
	ClaimMethodLink        ClaimMethod = "link"
	ClaimMethodMarketplace ClaimMethod = "marketplace"
	ClaimMethodWidget      ClaimMethod = "widget"
	ClaimMethodQR          ClaimMethod = "qr"
)

// Valid reports whether m is a known claim method.
func (m ClaimMethod) Valid() bool {
	switch m {
	case ClaimMethodLink, ClaimMethodMarketplace, ClaimMethodWidget, ClaimMethodQR:
		return true
	}
	return false
}

// SourceDirect marks a claim without campaign attribution.
const SourceDirect = "direct"

// ClaimSource links a claim to the marketing source that produced it.
type ClaimSource struct {
	Type         string     `json:"type"`
	CampaignID   *uuid.UUID `json:"campaignId,omitempty"`
	ReferralCode string     `json:"referralCode,omitempty"`
}

// Attributed reports whether the claim carries a referral code.
func (s ClaimSource) Attributed() bool {
	return s.ReferralCode != ""
}

// ClaimQR is the fingerprint of the QR token minted for the claim.
type ClaimQR struct {
	Hash        string     `json:"hash,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}

// Claim is a customer's right to redeem one voucher once.
type Claim struct {
	ID            uuid.UUID   `json:"id"`
	CustomerID    uuid.UUID   `json:"customerId"`
	VoucherID     uuid.UUID   `json:"voucherId"`
	BusinessID    uuid.UUID   `json:"businessId"`
	ClaimMethod   ClaimMethod `json:"claimMethod"`
	Status        ClaimStatus `json:"status"`
	ClaimDate     time.Time   `json:"claimDate"`
	ExpiryDate    time.Time   `json:"expiryDate"`
	RedeemedDate  *time.Time  `json:"redeemedDate,omitempty"`
	Source        ClaimSource `json:"source"`
	QR            ClaimQR     `json:"qr"`
	TransactionID *uuid.UUID  `json:"transactionId,omitempty"`
}

// Due reports whether a claimed claim has passed its expiry date.
func (c *Claim) Due(now time.Time) bool {
	return c.Status == ClaimStatusClaimed && now.After(c.ExpiryDate)
}

// EffectiveStatus applies lazy expiry without mutating the claim.
func (c *Claim) EffectiveStatus(now time.Time) ClaimStatus {
	if c.Due(now) {
		return ClaimStatusExpired
	}
	return c.Status
}

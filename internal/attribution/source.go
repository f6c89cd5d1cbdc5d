// Package attribution links clicks, leads and conversions back to the marketing source that produced them.
package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/models"
)

// Source is one referral-code-bearing entry of a campaign. The concrete types are
// Influencer, GoogleAds, Agency and BusinessRef.
type Source interface {
	Kind() models.SourceKind
	Base() *SourceBase
	seed() string
}

// SourceBase is the shape every source shares.
type SourceBase struct {
	ID           uuid.UUID    `json:"id"`
	CampaignID   uuid.UUID    `json:"campaignId"`
	ReferralCode string       `json:"referralCode"`
	Stats        models.Stats `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Base returns the shared fields.
func (b *SourceBase) Base() *SourceBase { return b }

// Influencer is a creator promoting the voucher on a social platform.
type Influencer struct {
	SourceBase
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

func (*Influencer) Kind() models.SourceKind { return models.SourceInfluencer }
func (s *Influencer) seed() string          { return s.Name + "|" + s.Platform }

// GoogleAds is a paid search campaign identified by its ads account or campaign ID.
type GoogleAds struct {
	SourceBase
	AdsID string `json:"adsId"`
	Name  string `json:"name"`
}

func (*GoogleAds) Kind() models.SourceKind { return models.SourceGoogleAds }
func (s *GoogleAds) seed() string          { return s.AdsID }

// Agency is a marketing agency running the campaign.
type Agency struct {
	SourceBase
	Name       string `json:"name"`
	ContactRef string `json:"contactRef,omitempty"`
}

func (*Agency) Kind() models.SourceKind { return models.SourceAgency }
func (s *Agency) seed() string          { return s.Name }

// BusinessRef is another business referring its customers.
type BusinessRef struct {
	SourceBase
	ReferringBusinessID uuid.UUID `json:"referringBusinessId"`
	Name                string    `json:"name"`
}

func (*BusinessRef) Kind() models.SourceKind { return models.SourceBusiness }
func (s *BusinessRef) seed() string          { return s.ReferringBusinessID.String() + "|" + s.Name }

// sourceRow is the persisted form of a Source.
type sourceRow struct {
	Kind        models.SourceKind
	Name        string
	Platform    string
	ExternalRef string
}

func toRow(s Source) sourceRow {
	switch v := s.(type) {
	case *Influencer:
		return sourceRow{Kind: models.SourceInfluencer, Name: v.Name, Platform: v.Platform}
	case *GoogleAds:
		return sourceRow{Kind: models.SourceGoogleAds, Name: v.Name, ExternalRef: v.AdsID}
	case *Agency:
		return sourceRow{Kind: models.SourceAgency, Name: v.Name, ExternalRef: v.ContactRef}
	case *BusinessRef:
		return sourceRow{Kind: models.SourceBusiness, Name: v.Name, ExternalRef: v.ReferringBusinessID.String()}
	}
	return sourceRow{}
}

func fromRow(base SourceBase, row sourceRow) Source {
	switch row.Kind {
	case models.SourceInfluencer:
		return &Influencer{SourceBase: base, Name: row.Name, Platform: row.Platform}
	case models.SourceGoogleAds:
		return &GoogleAds{SourceBase: base, Name: row.Name, AdsID: row.ExternalRef}
	case models.SourceAgency:
		return &Agency{SourceBase: base, Name: row.Name, ContactRef: row.ExternalRef}
	case models.SourceBusiness:
		ref, _ := uuid.Parse(row.ExternalRef)
		return &BusinessRef{SourceBase: base, Name: row.Name, ReferringBusinessID: ref}
	}
	return nil
}

var codePrefixes = map[models.SourceKind]string{
	models.SourceInfluencer: "INF",
	models.SourceGoogleAds:  "GAD",
	models.SourceAgency:     "AGY",
	models.SourceBusiness:   "BIZ",
}

// MintCode builds PREFIX-HASH6 from the owning entity, the source seed and a timestamp.
// Codes are unique, not secret; callers regenerate on a collision.
func MintCode(kind models.SourceKind, entityID uuid.UUID, seed string, at time.Time) string {
	sum := sha256.Sum256([]byte(entityID.String() + "|" + seed + "|" + strconv.FormatInt(at.UnixNano(), 10)))
	return codePrefixes[kind] + "-" + strings.ToUpper(hex.EncodeToString(sum[:])[:6])
}

// SourceView is a source with its kind and derived rates for API responses.
type SourceView struct {
	Kind  models.SourceKind `json:"kind"`
	Entry Source            `json:"entry"`
	Stats models.StatsView  `json:"stats"`
}

// View renders s for API responses.
func View(s Source) SourceView {
	return SourceView{Kind: s.Kind(), Entry: s, Stats: s.Base().Stats.View()}
}

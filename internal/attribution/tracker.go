package attribution

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/apperr"
	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/events"
	"github.com/couponhub/backend/internal/metrics"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/tracing"
	"github.com/couponhub/backend/pkg/database"
	"github.com/couponhub/backend/pkg/utils"
)

const maxCodeAttempts = 3

// Store is the persistence the tracker needs; *Repository implements it.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	CreateSource(ctx context.Context, s Source) error
	GetCampaign(ctx context.Context, businessID, id uuid.UUID) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, businessID uuid.UUID) ([]models.Campaign, error)
	ListSources(ctx context.Context, campaignID uuid.UUID) ([]Source, error)
	Resolve(ctx context.Context, code string) (*Resolution, error)
	RecordClick(ctx context.Context, res *Resolution, click Click) error
	RecordLead(ctx context.Context, code string) (bool, error)
	Stats(ctx context.Context, code string) (models.Stats, error)
}

// VoucherOwner checks that a voucher belongs to a business.
type VoucherOwner interface {
	GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Voucher, error)
}

// Claimer creates the claim behind a lead.
type Claimer interface {
	Claim(ctx context.Context, req claims.Request) (*claims.Result, error)
}

// DeviceResolver annotates clicks.
type DeviceResolver interface {
	Resolve(userAgent, ip string, h http.Header) models.DeviceInfo
}

// DeviceRollup receives the analytics breakdown of a click.
type DeviceRollup interface {
	TrackDevice(ctx context.Context, businessID uuid.UUID, deviceType string) error
	TrackBrowser(ctx context.Context, businessID uuid.UUID, browser string) error
}

// Deps are the tracker's optional collaborators.
type Deps struct {
	Cache     CodeCache
	Vouchers  VoucherOwner
	Claimer   Claimer
	Devices   DeviceResolver
	Rollup    DeviceRollup
	Publisher events.Publisher
}

// Tracker records clicks, leads and conversions per referral code.
type Tracker struct {
	store  Store
	tokens *ContextTokens
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates an attribution tracker.
func NewTracker(store Store, tokens *ContextTokens, deps Deps, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	return &Tracker{store: store, tokens: tokens, deps: deps, logger: logger, now: time.Now}
}

// InfluencerInput describes one influencer entry.
type InfluencerInput struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// GoogleAdsInput describes a paid search source.
type GoogleAdsInput struct {
	AdsID string `json:"adsId"`
	Name  string `json:"name"`
}

// AgencyInput describes an agency source.
type AgencyInput struct {
	Name       string `json:"name"`
	ContactRef string `json:"contactRef"`
}

// BusinessRefInput describes a referring business.
type BusinessRefInput struct {
	ReferringBusinessID uuid.UUID `json:"referringBusinessId"`
	Name                string    `json:"name"`
}

// CampaignInput is a new campaign with the sources for its type.
type CampaignInput struct {
	VoucherID   uuid.UUID         `json:"voucherId"`
	Name        string            `json:"name"`
	Type        models.SourceKind `json:"type"`
	Influencers []InfluencerInput `json:"influencers"`
	GoogleAds   *GoogleAdsInput   `json:"googleAds"`
	Agency      *AgencyInput      `json:"agency"`
	Business    *BusinessRefInput `json:"business"`
}

// CampaignDetail is a campaign with its sources and derived rates.
type CampaignDetail struct {
	*models.Campaign
	Stats   models.StatsView `json:"stats"`
	Sources []SourceView     `json:"sources"`
}

// buildSources dispatches on the campaign type once.
func buildSources(in CampaignInput) ([]Source, error) {
	switch in.Type {
	case models.SourceInfluencer:
		if len(in.Influencers) == 0 {
			return nil, apperr.Validation("influencer campaign needs at least one influencer")
		}
		out := make([]Source, 0, len(in.Influencers))
		for _, inf := range in.Influencers {
			if strings.TrimSpace(inf.Name) == "" {
				return nil, apperr.Validation("influencer name is required")
			}
			out = append(out, &Influencer{Name: inf.Name, Platform: inf.Platform})
		}
		return out, nil
	case models.SourceGoogleAds:
		if in.GoogleAds == nil || in.GoogleAds.AdsID == "" {
			return nil, apperr.Validation("googleAds.adsId is required")
		}
		return []Source{&GoogleAds{AdsID: in.GoogleAds.AdsID, Name: in.GoogleAds.Name}}, nil
	case models.SourceAgency:
		if in.Agency == nil || in.Agency.Name == "" {
			return nil, apperr.Validation("agency.name is required")
		}
		return []Source{&Agency{Name: in.Agency.Name, ContactRef: in.Agency.ContactRef}}, nil
	case models.SourceBusiness:
		if in.Business == nil || in.Business.ReferringBusinessID == uuid.Nil {
			return nil, apperr.Validation("business.referringBusinessId is required")
		}
		return []Source{&BusinessRef{ReferringBusinessID: in.Business.ReferringBusinessID, Name: in.Business.Name}}, nil
	}
	return nil, apperr.Validation("unknown campaign type %q", in.Type)
}

// CreateCampaign stores a campaign and mints a referral code for each of its sources.
func (t *Tracker) CreateCampaign(ctx context.Context, businessID uuid.UUID, in CampaignInput) (*CampaignDetail, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	sources, err := buildSources(in)
	if err != nil {
		return nil, err
	}
	if t.deps.Vouchers != nil {
		if _, err := t.deps.Vouchers.GetForBusiness(ctx, businessID, in.VoucherID); err != nil {
			return nil, notFoundOr(err, "voucher")
		}
	}

	campaign := &models.Campaign{BusinessID: businessID, VoucherID: in.VoucherID, Name: in.Name, Type: in.Type, IsActive: true}
	err = t.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateCampaign(ctx, campaign); err != nil {
			return apperr.Internal("failed to create campaign", err)
		}
		for _, s := range sources {
			if err := t.insertSource(ctx, tx, campaign.ID, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail(campaign, sources), nil
}

func (t *Tracker) insertSource(ctx context.Context, tx Store, campaignID uuid.UUID, s Source) error {
	base := s.Base()
	base.CampaignID = campaignID
	at := t.now()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		base.ReferralCode = MintCode(s.Kind(), campaignID, s.seed(), at.Add(time.Duration(attempt)))
		err := tx.CreateSource(ctx, s)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return apperr.Internal("failed to create source", err)
		}
	}
	return apperr.Conflict("could not allocate a unique referral code")
}

func detail(c *models.Campaign, sources []Source) *CampaignDetail {
	d := &CampaignDetail{Campaign: c, Stats: c.Stats.View(), Sources: make([]SourceView, 0, len(sources))}
	for _, s := range sources {
		d.Sources = append(d.Sources, View(s))
	}
	return d
}

// Campaign returns a business's campaign with per-source stats.
func (t *Tracker) Campaign(ctx context.Context, businessID, id uuid.UUID) (*CampaignDetail, error) {
	c, err := t.store.GetCampaign(ctx, businessID, id)
	if err != nil {
		return nil, notFoundOr(err, "campaign")
	}
	sources, err := t.store.ListSources(ctx, c.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load sources", err)
	}
	return detail(c, sources), nil
}

// Campaigns lists a business's campaigns.
func (t *Tracker) Campaigns(ctx context.Context, businessID uuid.UUID) ([]CampaignDetail, error) {
	list, err := t.store.ListCampaigns(ctx, businessID)
	if err != nil {
		return nil, apperr.Internal("failed to list campaigns", err)
	}
	out := make([]CampaignDetail, 0, len(list))
	for i := range list {
		out = append(out, CampaignDetail{Campaign: &list[i], Stats: list[i].Stats.View(), Sources: []SourceView{}})
	}
	return out, nil
}

// resolve finds the active campaign behind code, consulting the cache first.
func (t *Tracker) resolve(ctx context.Context, code string) (*Resolution, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.NotFound("referral code not found")
	}
	if t.deps.Cache != nil {
		res, err := t.deps.Cache.Get(ctx, code)
		if err != nil {
			t.logger.Warn("referral cache get failed", zap.Error(err))
		}
		if res != nil {
			return activeOnly(res)
		}
	}
	res, err := t.store.Resolve(ctx, code)
	if err != nil {
		return nil, notFoundOr(err, "referral code")
	}
	if t.deps.Cache != nil {
		if err := t.deps.Cache.Set(ctx, res); err != nil {
			t.logger.Warn("referral cache set failed", zap.Error(err))
		}
	}
	return activeOnly(res)
}

func activeOnly(res *Resolution) (*Resolution, error) {
	if !res.CampaignActive {
		return nil, apperr.NotFound("referral code not found")
	}
	return res, nil
}

// ClickMeta is the request data captured with a click.
type ClickMeta struct {
	UserAgent string
	IP        string
	Header    http.Header
}

// RecordClick counts one click on code and returns the resolution with a signed context token.
func (t *Tracker) RecordClick(ctx context.Context, code string, meta ClickMeta) (_ *Resolution, _ string, err error) {
	ctx, span := tracing.Start(ctx, "attribution.click", attribute.String("referral_code", code))
	defer func() { tracing.End(span, err) }()

	res, err := t.resolve(ctx, code)
	if err != nil {
		return nil, "", err
	}
	info := models.DeviceInfo{DeviceType: "unknown", Browser: "unknown", OS: "unknown", Country: "unknown", City: "unknown"}
	if t.deps.Devices != nil {
		info = t.deps.Devices.Resolve(meta.UserAgent, meta.IP, meta.Header)
	}
	click := Click{Device: info, IPHash: utils.HashIdentifier(meta.IP), UAHash: utils.HashIdentifier(meta.UserAgent)}
	if err := t.store.RecordClick(ctx, res, click); err != nil {
		return nil, "", apperr.Internal("failed to record click", err)
	}
	metrics.CountAttribution("click", string(res.Kind))

	if t.deps.Rollup != nil {
		if err := t.deps.Rollup.TrackDevice(ctx, res.BusinessID, info.DeviceType); err != nil {
			t.logger.Warn("rollup device failed", zap.Error(err))
		}
		if err := t.deps.Rollup.TrackBrowser(ctx, res.BusinessID, info.Browser); err != nil {
			t.logger.Warn("rollup browser failed", zap.Error(err))
		}
	}
	if err := t.deps.Publisher.Publish(ctx, events.TypeAttributionClick, res.BusinessID, map[string]interface{}{
		"campaignId":   res.CampaignID,
		"voucherId":    res.VoucherID,
		"referralCode": res.ReferralCode,
		"kind":         res.Kind,
		"device":       info,
	}); err != nil {
		t.logger.Warn("publish click event failed", zap.Error(err))
	}

	var token string
	if t.tokens != nil {
		if token, err = t.tokens.Issue(res); err != nil {
			return nil, "", apperr.Internal("failed to sign context", err)
		}
	}
	return res, token, nil
}

// SubmitInput is a claim form submitted after a referral click.
type SubmitInput struct {
	CampaignID   uuid.UUID
	ReferralCode string
	ContextToken string
	Identity     claims.Identity
}

// Submit turns a referral form submission into a claim and records a lead.
func (t *Tracker) Submit(ctx context.Context, in SubmitInput) (*claims.Result, error) {
	if in.ContextToken != "" {
		if t.tokens == nil {
			return nil, apperr.Validation("context tokens are not enabled")
		}
		cc, err := t.tokens.Parse(in.ContextToken)
		if err != nil {
			return nil, apperr.Validation("invalid or expired context token")
		}
		in.CampaignID, in.ReferralCode = cc.CampaignID, cc.ReferralCode
	}
	if in.ReferralCode == "" {
		return nil, apperr.Validation("referralCode is required")
	}
	res, err := t.resolve(ctx, in.ReferralCode)
	if err != nil {
		return nil, err
	}
	if in.CampaignID != uuid.Nil && in.CampaignID != res.CampaignID {
		return nil, apperr.Validation("referral code does not belong to campaign")
	}

	campaignID := res.CampaignID
	result, err := t.deps.Claimer.Claim(ctx, claims.Request{
		VoucherID: res.VoucherID,
		Identity:  in.Identity,
		Method:    models.ClaimMethodLink,
		Source:    models.ClaimSource{Type: string(res.Kind), CampaignID: &campaignID, ReferralCode: res.ReferralCode},
	})
	if err != nil {
		return nil, err
	}
	if err := t.RecordLead(ctx, res.ReferralCode); err != nil {
		t.logger.Warn("record lead failed", zap.Error(err), zap.String("referral_code", res.ReferralCode))
	}
	return result, nil
}

// RecordLead counts one form submission for code.
func (t *Tracker) RecordLead(ctx context.Context, code string) error {
	ok, err := t.store.RecordLead(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("referral code not found")
	}
	metrics.CountAttribution("lead", CodeKind(code))
	return nil
}

// Stats returns the counters and derived rates for code.
func (t *Tracker) Stats(ctx context.Context, code string) (models.StatsView, error) {
	s, err := t.store.Stats(ctx, code)
	if err != nil {
		return models.StatsView{}, notFoundOr(err, "referral code")
	}
	return s.View(), nil
}

// CodeKind recovers the source kind from a code prefix for metric labels.
func CodeKind(code string) string {
	prefix, _, _ := strings.Cut(code, "-")
	for kind, p := range codePrefixes {
		if p == prefix {
			return string(kind)
		}
	}
	return "unknown"
}

func notFoundOr(err error, entity string) error {
	if database.IsNoRows(err) {
		return apperr.NotFound("%s not found", entity)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Internal("failed to load "+entity, err)
}

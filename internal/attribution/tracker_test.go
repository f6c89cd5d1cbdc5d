package attribution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couponhub/backend/internal/apperr"
	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*models.Campaign
	sources   map[string]Source
	clicks    []Click
	dupCodes  int
	resolves  int
}

func newMemStore() *memStore {
	return &memStore{campaigns: map[uuid.UUID]*models.Campaign{}, sources: map[string]Source{}}
}

func (m *memStore) WithTx(_ context.Context, fn func(Store) error) error { return fn(m) }

func (m *memStore) CreateCampaign(_ context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	m.campaigns[c.ID] = c
	return nil
}

func (m *memStore) CreateSource(_ context.Context, s Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dupCodes > 0 {
		m.dupCodes--
		return ErrDuplicateCode
	}
	if _, ok := m.sources[s.Base().ReferralCode]; ok {
		return ErrDuplicateCode
	}
	s.Base().ID = uuid.New()
	m.sources[s.Base().ReferralCode] = s
	return nil
}

func (m *memStore) GetCampaign(_ context.Context, businessID, id uuid.UUID) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.BusinessID != businessID {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

func (m *memStore) ListCampaigns(_ context.Context, businessID uuid.UUID) ([]models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Campaign
	for _, c := range m.campaigns {
		if c.BusinessID == businessID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ListSources(_ context.Context, campaignID uuid.UUID) ([]Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Source
	for _, s := range m.sources {
		if s.Base().CampaignID == campaignID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Resolve(_ context.Context, code string) (*Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolves++
	s, ok := m.sources[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := m.campaigns[s.Base().CampaignID]
	return &Resolution{
		SourceID: s.Base().ID, Kind: s.Kind(), ReferralCode: code,
		CampaignID: c.ID, CampaignActive: c.IsActive, BusinessID: c.BusinessID, VoucherID: c.VoucherID,
	}, nil
}

func (m *memStore) RecordClick(_ context.Context, res *Resolution, click Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[res.ReferralCode].Base().Stats.Clicks++
	m.campaigns[res.CampaignID].Stats.Clicks++
	m.clicks = append(m.clicks, click)
	return nil
}

func (m *memStore) RecordLead(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[code]
	if !ok {
		return false, nil
	}
	s.Base().Stats.Leads++
	m.campaigns[s.Base().CampaignID].Stats.Leads++
	return true, nil
}

func (m *memStore) RecordConversion(_ context.Context, code string, revenue decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[code]
	if !ok {
		return false, nil
	}
	st := &s.Base().Stats
	st.Conversions++
	st.Revenue = st.Revenue.Add(revenue)
	cs := &m.campaigns[s.Base().CampaignID].Stats
	cs.Conversions++
	cs.Revenue = cs.Revenue.Add(revenue)
	return true, nil
}

func (m *memStore) Stats(_ context.Context, code string) (models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[code]
	if !ok {
		return models.Stats{}, pgx.ErrNoRows
	}
	return s.Base().Stats, nil
}

// seed registers a campaign with one influencer source under code.
func (m *memStore) seed(code string, active bool) *models.Campaign {
	c := &models.Campaign{ID: uuid.New(), BusinessID: uuid.New(), VoucherID: uuid.New(), Name: "launch", Type: models.SourceInfluencer, IsActive: active}
	m.campaigns[c.ID] = c
	m.sources[code] = &Influencer{SourceBase: SourceBase{ID: uuid.New(), CampaignID: c.ID, ReferralCode: code}, Name: "ana"}
	return c
}

type mapCache struct{ m map[string]*Resolution }

func (c *mapCache) Get(_ context.Context, code string) (*Resolution, error) { return c.m[code], nil }
func (c *mapCache) Set(_ context.Context, res *Resolution) error {
	c.m[res.ReferralCode] = res
	return nil
}

type stubClaimer struct{ reqs []claims.Request }

func (s *stubClaimer) Claim(_ context.Context, req claims.Request) (*claims.Result, error) {
	s.reqs = append(s.reqs, req)
	if len(s.reqs) > 1 {
		return nil, apperr.AlreadyClaimed("voucher already claimed")
	}
	return &claims.Result{
		Claim:      &models.Claim{ID: uuid.New(), VoucherID: req.VoucherID, Source: req.Source},
		QRPayload:  `{"c":"x"}`,
		UserStatus: claims.UserStatusNew,
	}, nil
}

type stubDevices struct{}

func (stubDevices) Resolve(string, string, http.Header) models.DeviceInfo {
	return models.DeviceInfo{DeviceType: "mobile", Browser: "Safari", OS: "iOS", Country: "US", City: "unknown"}
}

type recordingRollup struct{ devices, browsers []string }

func (r *recordingRollup) TrackDevice(_ context.Context, _ uuid.UUID, d string) error {
	r.devices = append(r.devices, d)
	return nil
}

func (r *recordingRollup) TrackBrowser(_ context.Context, _ uuid.UUID, b string) error {
	r.browsers = append(r.browsers, b)
	return nil
}

func newTestTracker(store Store, deps Deps) *Tracker {
	return NewTracker(store, NewContextTokens("ctx-secret", time.Hour), deps, nil)
}

func TestClickThenConversionStats(t *testing.T) {
	store := newMemStore()
	store.seed("ABC-123", true)
	tr := newTestTracker(store, Deps{})
	ctx := context.Background()

	_, _, err := tr.RecordClick(ctx, "ABC-123", ClickMeta{})
	require.NoError(t, err)
	found, err := store.RecordConversion(ctx, "ABC-123", decimal.NewFromInt(60))
	require.NoError(t, err)
	require.True(t, found)

	s, err := tr.Stats(ctx, "ABC-123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Clicks)
	assert.EqualValues(t, 1, s.Conversions)
	assert.True(t, decimal.NewFromInt(100).Equal(s.ConversionRate), s.ConversionRate.String())

	_, _, err = tr.RecordClick(ctx, "ABC-123", ClickMeta{})
	require.NoError(t, err)
	s, err = tr.Stats(ctx, "ABC-123")
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.Clicks)
	assert.EqualValues(t, 1, s.Conversions)
	assert.True(t, decimal.NewFromInt(50).Equal(s.ConversionRate), s.ConversionRate.String())
	assert.True(t, decimal.NewFromInt(60).Equal(s.AvgOrderValue))
}

func TestLeadIsNotConversion(t *testing.T) {
	store := newMemStore()
	store.seed("INF-AAAAAA", true)
	tr := newTestTracker(store, Deps{})

	require.NoError(t, tr.RecordLead(context.Background(), "INF-AAAAAA"))
	s, err := tr.Stats(context.Background(), "INF-AAAAAA")
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Leads)
	assert.Zero(t, s.Conversions)

	assert.True(t, apperr.IsKind(tr.RecordLead(context.Background(), "NOPE-1"), apperr.KindNotFound))
}

func TestRecordClickSnapshotAndToken(t *testing.T) {
	store := newMemStore()
	c := store.seed("INF-BBBBBB", true)
	rollup := &recordingRollup{}
	tr := newTestTracker(store, Deps{Devices: stubDevices{}, Rollup: rollup})

	res, token, err := tr.RecordClick(context.Background(), " inf-bbbbbb ", ClickMeta{UserAgent: "ua", IP: "203.0.113.1"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, res.CampaignID)
	require.Len(t, store.clicks, 1)
	assert.Equal(t, "mobile", store.clicks[0].Device.DeviceType)
	assert.Len(t, store.clicks[0].IPHash, 64)
	assert.NotContains(t, store.clicks[0].IPHash, "203.0.113.1")
	assert.Equal(t, []string{"mobile"}, rollup.devices)
	assert.Equal(t, []string{"Safari"}, rollup.browsers)

	cc, err := tr.tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, c.VoucherID, cc.VoucherID)
	assert.Equal(t, "INF-BBBBBB", cc.ReferralCode)
}

func TestRecordClickUnknownOrInactive(t *testing.T) {
	store := newMemStore()
	store.seed("INF-CCCCCC", false)
	tr := newTestTracker(store, Deps{})

	_, _, err := tr.RecordClick(context.Background(), "INF-ZZZZZZ", ClickMeta{})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	_, _, err = tr.RecordClick(context.Background(), "INF-CCCCCC", ClickMeta{})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Empty(t, store.clicks)
}

func TestResolveUsesCache(t *testing.T) {
	store := newMemStore()
	store.seed("INF-DDDDDD", true)
	cache := &mapCache{m: map[string]*Resolution{}}
	tr := newTestTracker(store, Deps{Cache: cache})

	for i := 0; i < 3; i++ {
		_, _, err := tr.RecordClick(context.Background(), "INF-DDDDDD", ClickMeta{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.resolves)
	assert.Len(t, store.clicks, 3)
}

func TestSubmitWithContextToken(t *testing.T) {
	store := newMemStore()
	c := store.seed("INF-EEEEEE", true)
	claimer := &stubClaimer{}
	tr := newTestTracker(store, Deps{Claimer: claimer})

	_, token, err := tr.RecordClick(context.Background(), "INF-EEEEEE", ClickMeta{})
	require.NoError(t, err)

	res, err := tr.Submit(context.Background(), SubmitInput{ContextToken: token, Identity: claims.Identity{Email: "a@b.test"}})
	require.NoError(t, err)
	assert.Equal(t, c.VoucherID, res.Claim.VoucherID)
	require.Len(t, claimer.reqs, 1)
	src := claimer.reqs[0].Source
	assert.Equal(t, "influencer", src.Type)
	assert.Equal(t, c.ID, *src.CampaignID)
	assert.Equal(t, "INF-EEEEEE", src.ReferralCode)
	assert.Equal(t, models.ClaimMethodLink, claimer.reqs[0].Method)

	s, err := tr.Stats(context.Background(), "INF-EEEEEE")
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Leads)
	assert.Zero(t, s.Conversions)

	_, err = tr.Submit(context.Background(), SubmitInput{CampaignID: c.ID, ReferralCode: "INF-EEEEEE", Identity: claims.Identity{Email: "a@b.test"}})
	assert.True(t, apperr.IsKind(err, apperr.KindAlreadyClaimed))
	s, _ = tr.Stats(context.Background(), "INF-EEEEEE")
	assert.EqualValues(t, 1, s.Leads, "failed claim is not a lead")
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	store.seed("INF-FFFFFF", true)
	tr := newTestTracker(store, Deps{Claimer: &stubClaimer{}})

	_, err := tr.Submit(context.Background(), SubmitInput{ContextToken: "garbage"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = tr.Submit(context.Background(), SubmitInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = tr.Submit(context.Background(), SubmitInput{CampaignID: uuid.New(), ReferralCode: "INF-FFFFFF"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCreateCampaignMintsCodes(t *testing.T) {
	store := newMemStore()
	store.dupCodes = 1
	tr := newTestTracker(store, Deps{})
	businessID := uuid.New()

	d, err := tr.CreateCampaign(context.Background(), businessID, CampaignInput{
		VoucherID:   uuid.New(),
		Name:        "Spring creators",
		Type:        models.SourceInfluencer,
		Influencers: []InfluencerInput{{Name: "ana", Platform: "instagram"}, {Name: "bo", Platform: "tiktok"}},
	})
	require.NoError(t, err)
	require.Len(t, d.Sources, 2)
	pattern := regexp.MustCompile(`^INF-[0-9A-F]{6}$`)
	seen := map[string]bool{}
	for _, s := range d.Sources {
		code := s.Entry.Base().ReferralCode
		assert.Regexp(t, pattern, code)
		seen[code] = true
	}
	assert.Len(t, seen, 2)

	got, err := tr.Campaign(context.Background(), businessID, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.Sources, 2)

	_, err = tr.Campaign(context.Background(), uuid.New(), d.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestCreateCampaignCodeExhaustion(t *testing.T) {
	store := newMemStore()
	store.dupCodes = maxCodeAttempts
	tr := newTestTracker(store, Deps{})

	_, err := tr.CreateCampaign(context.Background(), uuid.New(), CampaignInput{
		Name: "ads", Type: models.SourceGoogleAds, GoogleAds: &GoogleAdsInput{AdsID: "123-456"},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestBuildSources(t *testing.T) {
	tests := []struct {
		in   CampaignInput
		kind models.SourceKind
		ok   bool
	}{
		{CampaignInput{Type: models.SourceInfluencer}, "", false},
		{CampaignInput{Type: models.SourceGoogleAds, GoogleAds: &GoogleAdsInput{AdsID: "1"}}, models.SourceGoogleAds, true},
		{CampaignInput{Type: models.SourceAgency, Agency: &AgencyInput{Name: "acme"}}, models.SourceAgency, true},
		{CampaignInput{Type: models.SourceBusiness, Business: &BusinessRefInput{ReferringBusinessID: uuid.New()}}, models.SourceBusiness, true},
		{CampaignInput{Type: models.SourceBusiness, Business: &BusinessRefInput{}}, "", false},
		{CampaignInput{Type: "radio"}, "", false},
	}
	for _, tt := range tests {
		sources, err := buildSources(tt.in)
		if !tt.ok {
			assert.True(t, apperr.IsKind(err, apperr.KindValidation), string(tt.in.Type))
			continue
		}
		require.NoError(t, err)
		require.Len(t, sources, 1)
		assert.Equal(t, tt.kind, sources[0].Kind())
	}
}

func TestSourceRowRoundTrip(t *testing.T) {
	ref := uuid.New()
	for _, s := range []Source{
		&Influencer{Name: "ana", Platform: "youtube"},
		&GoogleAds{AdsID: "123", Name: "brand"},
		&Agency{Name: "acme", ContactRef: "ops@acme.test"},
		&BusinessRef{ReferringBusinessID: ref, Name: "cafe"},
	} {
		back := fromRow(SourceBase{}, toRow(s))
		assert.Equal(t, s, back)
	}
}

func TestMintCode(t *testing.T) {
	id := uuid.New()
	at := time.Unix(1700000000, 0)
	a := MintCode(models.SourceAgency, id, "acme", at)
	assert.Equal(t, a, MintCode(models.SourceAgency, id, "acme", at))
	assert.NotEqual(t, a, MintCode(models.SourceAgency, id, "acme", at.Add(1)))
	assert.True(t, strings.HasPrefix(a, "AGY-"))
	assert.Equal(t, "agency", CodeKind(a))
	assert.Equal(t, "unknown", CodeKind("ABC-123"))
}

func TestContextTokens(t *testing.T) {
	tokens := NewContextTokens("s1", time.Hour)
	res := &Resolution{CampaignID: uuid.New(), VoucherID: uuid.New(), BusinessID: uuid.New(), ReferralCode: "BIZ-ABCDEF"}
	raw, err := tokens.Issue(res)
	require.NoError(t, err)

	cc, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, res.CampaignID, cc.CampaignID)

	_, err = NewContextTokens("s2", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidContext)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tokens.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestClickHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	store.seed("INF-GGGGGG", true)
	h := NewHandler(newTestTracker(store, Deps{}), "https://shop.test/")

	r := gin.New()
	r.GET("/attribution/click/:code", h.Click)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/attribution/click/INF-GGGGGG", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://shop.test/claim?ctx="))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/attribution/click/INF-000000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	store.seed("INF-HHHHHH", true)
	h := NewHandler(newTestTracker(store, Deps{Claimer: &stubClaimer{}}), "https://shop.test")

	r := gin.New()
	r.POST("/attribution/submit", h.Submit)
	body := `{"referralCode":"INF-HHHHHH","formData":{"name":"Ana","email":"ana@example.com"}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/attribution/submit", strings.NewReader(body)))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"userStatus":"new"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/attribution/submit", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "AlreadyClaimedError")
}

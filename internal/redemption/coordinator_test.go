package redemption

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couponhub/backend/internal/apperr"
	"github.com/couponhub/backend/internal/metrics"
	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/qrtoken"
)

// world is an in-memory implementation of every repository a redemption touches.
// RunInTx serializes units of work and restores a snapshot when fn fails.
type world struct {
	txMu sync.Mutex
	mu   sync.Mutex

	vouchers     map[uuid.UUID]models.Voucher
	customers    map[uuid.UUID]models.Customer
	claims       map[uuid.UUID]models.Claim
	transactions []models.Transaction
	revenue      decimal.Decimal
	redemptions  int
	qrScans      int
	conversions  map[string]decimal.Decimal

	failRevenue bool
}

func newWorld() *world {
	return &world{
		vouchers:    map[uuid.UUID]models.Voucher{},
		customers:   map[uuid.UUID]models.Customer{},
		claims:      map[uuid.UUID]models.Claim{},
		conversions: map[string]decimal.Decimal{},
	}
}

type snapshot struct {
	vouchers     map[uuid.UUID]models.Voucher
	claims       map[uuid.UUID]models.Claim
	transactions []models.Transaction
	revenue      decimal.Decimal
	redemptions  int
	conversions  map[string]decimal.Decimal
}

func (w *world) snapshot() snapshot {
	s := snapshot{
		vouchers:     make(map[uuid.UUID]models.Voucher, len(w.vouchers)),
		claims:       make(map[uuid.UUID]models.Claim, len(w.claims)),
		transactions: append([]models.Transaction(nil), w.transactions...),
		revenue:      w.revenue,
		redemptions:  w.redemptions,
		conversions:  make(map[string]decimal.Decimal, len(w.conversions)),
	}
	for k, v := range w.vouchers {
		s.vouchers[k] = v
	}
	for k, v := range w.claims {
		s.claims[k] = v
	}
	for k, v := range w.conversions {
		s.conversions[k] = v
	}
	return s
}

func (w *world) restore(s snapshot) {
	w.vouchers, w.claims, w.transactions = s.vouchers, s.claims, s.transactions
	w.revenue, w.redemptions, w.conversions = s.revenue, s.redemptions, s.conversions
}

func (w *world) Repos() Repos {
	return Repos{Vouchers: w, Claims: w, Transactions: w, Rollup: w, Attribution: w}
}

func (w *world) RunInTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	w.mu.Lock()
	snap := w.snapshot()
	w.mu.Unlock()
	if err := fn(ctx, w.Repos()); err != nil {
		w.mu.Lock()
		w.restore(snap)
		w.mu.Unlock()
		return err
	}
	return nil
}

func (w *world) GetForBusiness(_ context.Context, businessID, id uuid.UUID) (*models.Voucher, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.vouchers[id]
	if !ok || v.BusinessID != businessID {
		return nil, pgx.ErrNoRows
	}
	return &v, nil
}

func (w *world) LockForUpdate(_ context.Context, id uuid.UUID) (*models.Voucher, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.vouchers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &v, nil
}

func (w *world) RecordRedemption(_ context.Context, id uuid.UUID, revenue decimal.Decimal, deactivate bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := w.vouchers[id]
	if v.LimitReached() {
		return false, nil
	}
	v.CurrentUsage++
	v.Analytics.Redemptions++
	v.Analytics.TotalRevenue = v.Analytics.TotalRevenue.Add(revenue)
	if deactivate {
		v.IsActive = false
	}
	w.vouchers[id] = v
	return true, nil
}

func (w *world) CountCustomerRedemptions(_ context.Context, voucherID, customerID uuid.UUID) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, t := range w.transactions {
		if t.VoucherID == voucherID && t.UserID == customerID {
			n++
		}
	}
	return n, nil
}

func (w *world) GetCustomer(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.customers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (w *world) FindClaim(_ context.Context, customerID, voucherID, businessID uuid.UUID) (*models.Claim, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.claims {
		if c.CustomerID == customerID && c.VoucherID == voucherID && c.BusinessID == businessID {
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (w *world) MarkExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.claims[id]
	if !c.Due(now) {
		return false, nil
	}
	c.Status = models.ClaimStatusExpired
	w.claims[id] = c
	return true, nil
}

func (w *world) MarkRedeemed(_ context.Context, id, transactionID uuid.UUID, at time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.claims[id]
	if c.Status != models.ClaimStatusClaimed || at.After(c.ExpiryDate) {
		return false, nil
	}
	c.Status = models.ClaimStatusRedeemed
	c.RedeemedDate = &at
	c.TransactionID = &transactionID
	w.claims[id] = c
	return true, nil
}

func (w *world) Insert(_ context.Context, t *models.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, existing := range w.transactions {
		if existing.ReferenceNumber == t.ReferenceNumber {
			return ErrDuplicateReference
		}
	}
	w.transactions = append(w.transactions, *t)
	return nil
}

func (w *world) TrackRevenue(_ context.Context, _ uuid.UUID, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failRevenue {
		return errors.New("rollup unavailable")
	}
	w.revenue = w.revenue.Add(amount)
	return nil
}

func (w *world) TrackRedemption(context.Context, uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.redemptions++
	return nil
}

func (w *world) TrackQRScan(context.Context, uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.qrScans++
	return nil
}

func (w *world) RecordConversion(_ context.Context, code string, revenue decimal.Decimal) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conversions[code] = w.conversions[code].Add(revenue)
	return true, nil
}

func (w *world) voucher(id uuid.UUID) models.Voucher {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vouchers[id]
}

func (w *world) claim(id uuid.UUID) models.Claim {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.claims[id]
}

type fixture struct {
	w        *world
	business uuid.UUID
	voucher  models.Voucher
	now      time.Time
}

func newFixture(mutate func(v *models.Voucher)) *fixture {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	v := models.Voucher{
		ID:            uuid.New(),
		BusinessID:    uuid.New(),
		Code:          "SPRING-AAAA",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		StartDate:     now.AddDate(0, 0, -7),
		EndDate:       now.AddDate(0, 1, 0),
		IsActive:      true,
	}
	if mutate != nil {
		mutate(&v)
	}
	w := newWorld()
	w.vouchers[v.ID] = v
	return &fixture{w: w, business: v.BusinessID, voucher: v, now: now}
}

// addClaim registers a customer holding a claim on the fixture voucher.
func (f *fixture) addClaim(mutate func(c *models.Claim)) (models.Customer, models.Claim) {
	cust := models.Customer{ID: uuid.New(), Name: "Dana", Email: "dana@example.com", Phone: "5550001234"}
	c := models.Claim{
		ID:          uuid.New(),
		CustomerID:  cust.ID,
		VoucherID:   f.voucher.ID,
		BusinessID:  f.business,
		ClaimMethod: models.ClaimMethodLink,
		Status:      models.ClaimStatusClaimed,
		ClaimDate:   f.now.AddDate(0, 0, -1),
		ExpiryDate:  f.voucher.EndDate,
		Source:      models.ClaimSource{Type: models.SourceDirect},
	}
	if mutate != nil {
		mutate(&c)
	}
	f.w.mu.Lock()
	f.w.customers[cust.ID] = cust
	f.w.claims[c.ID] = c
	f.w.mu.Unlock()
	return cust, c
}

func (f *fixture) request(customerID uuid.UUID, amount string) Request {
	return Request{
		VoucherID:  f.voucher.ID,
		CustomerID: customerID,
		BusinessID: f.business,
		Amount:     decimal.RequireFromString(amount),
		Location:   "Main St",
	}
}

type scriptedRefs struct {
	mu     sync.Mutex
	script []string
	n      int
}

func (s *scriptedRefs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) > 0 {
		ref := s.script[0]
		s.script = s.script[1:]
		return ref
	}
	s.n++
	return fmt.Sprintf("TXN-%06d", s.n)
}

type recordingListener struct {
	mu      sync.Mutex
	results []*Result
}

func (l *recordingListener) Redeemed(_ context.Context, res *Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
}

func testSigner(t *testing.T) *qrtoken.Signer {
	t.Helper()
	s, err := qrtoken.NewSigner("test-secret")
	require.NoError(t, err)
	return s
}

func (f *fixture) coordinator(t *testing.T, refs ReferenceGenerator, listener Listener) *Coordinator {
	t.Helper()
	if refs == nil {
		refs = &scriptedRefs{}
	}
	c := NewCoordinator(f.w, refs, testSigner(t), listener, nil)
	c.now = func() time.Time { return f.now }
	return c
}

func TestRedeemConcurrentRequestsProduceOneSale(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	coord := f.coordinator(t, nil, nil)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Redeem(context.Background(), f.request(cust.ID, "100"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.IsKind(err, apperr.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.w.transactions, 1)
	assert.Equal(t, 1, f.w.voucher(f.voucher.ID).CurrentUsage)
	assert.Equal(t, 1, f.w.redemptions)
	assert.Equal(t, models.ClaimStatusRedeemed, f.w.claim(claim.ID).Status)
}

func TestRedeemPercentageDiscountIsCapped(t *testing.T) {
	capAt := decimal.NewFromInt(50)
	f := newFixture(func(v *models.Voucher) {
		v.DiscountValue = decimal.NewFromInt(20)
		v.MaximumDiscount = &capAt
	})
	cust, claim := f.addClaim(nil)

	res, err := f.coordinator(t, nil, nil).Redeem(context.Background(), f.request(cust.ID, "1000"))
	require.NoError(t, err)

	assert.True(t, res.DiscountApplied.Equal(decimal.NewFromInt(50)), res.DiscountApplied.String())
	assert.True(t, res.Transaction.DiscountAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, res.Transaction.FinalAmount.Equal(decimal.NewFromInt(950)))
	assert.Equal(t, claim.ID, res.Transaction.ClaimID)
	assert.Equal(t, "TXN-000001", res.Transaction.ReferenceNumber)
	assert.Equal(t, models.ClaimStatusRedeemed, res.Claim.Status)
	assert.Equal(t, res.Transaction.ID, *res.Claim.TransactionID)
	assert.Equal(t, "d**a@example.com", res.Customer.Email)
	assert.Equal(t, "******1234", res.Customer.Phone)
	assert.True(t, f.w.revenue.Equal(decimal.NewFromInt(1000)))
}

func TestRedeemExpiredClaim(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(func(c *models.Claim) {
		c.ExpiryDate = f.now.Add(-time.Hour)
	})
	coord := f.coordinator(t, nil, nil)

	_, err := coord.Redeem(context.Background(), f.request(cust.ID, "100"))
	assert.True(t, apperr.IsKind(err, apperr.KindExpired), "got %v", err)
	assert.Equal(t, models.ClaimStatusExpired, f.w.claim(claim.ID).Status)

	_, err = coord.Redeem(context.Background(), f.request(cust.ID, "100"))
	assert.True(t, apperr.IsKind(err, apperr.KindExpired), "got %v", err)
	assert.Equal(t, models.ClaimStatusExpired, f.w.claim(claim.ID).Status)
	assert.Empty(t, f.w.transactions)
	assert.Zero(t, f.w.voucher(f.voucher.ID).CurrentUsage)
}

func TestRedeemLastUseDeactivatesVoucher(t *testing.T) {
	one := 1
	f := newFixture(func(v *models.Voucher) { v.UsageLimit.PerCoupon = &one })
	first, _ := f.addClaim(nil)
	second, _ := f.addClaim(nil)
	coord := f.coordinator(t, nil, nil)

	res, err := coord.Redeem(context.Background(), f.request(first.ID, "80"))
	require.NoError(t, err)
	assert.False(t, res.Voucher.IsActive)

	stored := f.w.voucher(f.voucher.ID)
	assert.Equal(t, 1, stored.CurrentUsage)
	assert.False(t, stored.IsActive)

	_, err = coord.Redeem(context.Background(), f.request(second.ID, "80"))
	assert.True(t, apperr.IsKind(err, apperr.KindLimitExceeded), "got %v", err)
	assert.Len(t, f.w.transactions, 1)
}

func TestRedeemFixedDiscountWithMinimumPurchase(t *testing.T) {
	minimum := decimal.NewFromInt(50)
	f := newFixture(func(v *models.Voucher) {
		v.DiscountType = models.DiscountFixed
		v.DiscountValue = decimal.NewFromInt(15)
		v.MinimumPurchase = &minimum
	})
	cust, _ := f.addClaim(nil)
	coord := f.coordinator(t, nil, nil)

	_, err := coord.Redeem(context.Background(), f.request(cust.ID, "40"))
	assert.True(t, apperr.IsKind(err, apperr.KindMinimumPurchase), "got %v", err)
	assert.Empty(t, f.w.transactions)

	res, err := coord.Redeem(context.Background(), f.request(cust.ID, "60"))
	require.NoError(t, err)
	assert.True(t, res.Transaction.DiscountAmount.Equal(decimal.NewFromInt(15)))
	assert.True(t, res.Transaction.Amount.Equal(decimal.NewFromInt(60)))
	assert.True(t, res.Transaction.FinalAmount.Equal(decimal.NewFromInt(45)))
}

func TestRedeemGuards(t *testing.T) {
	tests := []struct {
		name    string
		voucher func(v *models.Voucher)
		claim   func(c *models.Claim)
		req     func(f *fixture, customerID uuid.UUID) Request
		kind    apperr.Kind
	}{
		{
			name: "zero amount",
			req:  func(f *fixture, id uuid.UUID) Request { return f.request(id, "0") },
			kind: apperr.KindValidation,
		},
		{
			name: "other business",
			req: func(f *fixture, id uuid.UUID) Request {
				r := f.request(id, "10")
				r.BusinessID = uuid.New()
				return r
			},
			kind: apperr.KindNotFound,
		},
		{
			name: "unknown customer",
			req:  func(f *fixture, _ uuid.UUID) Request { return f.request(uuid.New(), "10") },
			kind: apperr.KindNotFound,
		},
		{
			name:  "already redeemed",
			claim: func(c *models.Claim) { c.Status = models.ClaimStatusRedeemed },
			kind:  apperr.KindConflict,
		},
		{
			name:    "inactive voucher",
			voucher: func(v *models.Voucher) { v.IsActive = false },
			kind:    apperr.KindNotFound,
		},
		{
			name: "voucher not started",
			voucher: func(v *models.Voucher) {
				v.StartDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			},
			kind: apperr.KindExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.voucher)
			cust, claim := f.addClaim(tt.claim)
			req := f.request(cust.ID, "10")
			if tt.req != nil {
				req = tt.req(f, cust.ID)
			}
			_, err := f.coordinator(t, nil, nil).Redeem(context.Background(), req)
			assert.True(t, apperr.IsKind(err, tt.kind), "want %s, got %v", tt.kind, err)
			assert.Empty(t, f.w.transactions)
			assert.Equal(t, claim.Status, f.w.claim(claim.ID).Status)
		})
	}
}

func TestRedeemWithoutClaim(t *testing.T) {
	f := newFixture(nil)
	cust := models.Customer{ID: uuid.New(), Name: "Lee", Email: "lee@example.com"}
	f.w.customers[cust.ID] = cust

	_, err := f.coordinator(t, nil, nil).Redeem(context.Background(), f.request(cust.ID, "10"))
	assert.True(t, apperr.IsKind(err, apperr.KindNotClaimed), "got %v", err)
}

func TestRedeemPerCustomerLimit(t *testing.T) {
	one := 1
	f := newFixture(func(v *models.Voucher) { v.UsageLimit.PerCustomer = &one })
	cust, _ := f.addClaim(nil)
	f.w.transactions = append(f.w.transactions, models.Transaction{
		ID: uuid.New(), UserID: cust.ID, VoucherID: f.voucher.ID, ReferenceNumber: "TXN-OLD",
	})

	_, err := f.coordinator(t, nil, nil).Redeem(context.Background(), f.request(cust.ID, "10"))
	assert.True(t, apperr.IsKind(err, apperr.KindLimitExceeded), "got %v", err)
}

func TestRedeemRetriesReferenceCollisionOnce(t *testing.T) {
	f := newFixture(nil)
	cust, _ := f.addClaim(nil)
	f.w.transactions = append(f.w.transactions, models.Transaction{ID: uuid.New(), ReferenceNumber: "TXN-TAKEN"})

	refs := &scriptedRefs{script: []string{"TXN-TAKEN", "TXN-FRESH"}}
	res, err := f.coordinator(t, refs, nil).Redeem(context.Background(), f.request(cust.ID, "10"))
	require.NoError(t, err)
	assert.Equal(t, "TXN-FRESH", res.Transaction.ReferenceNumber)
	assert.Len(t, f.w.transactions, 2)
}

func TestRedeemSecondCollisionRollsBack(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	f.w.transactions = append(f.w.transactions, models.Transaction{ID: uuid.New(), ReferenceNumber: "TXN-TAKEN"})

	refs := &scriptedRefs{script: []string{"TXN-TAKEN", "TXN-TAKEN"}}
	_, err := f.coordinator(t, refs, nil).Redeem(context.Background(), f.request(cust.ID, "10"))
	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)

	assert.Len(t, f.w.transactions, 1)
	assert.Equal(t, models.ClaimStatusClaimed, f.w.claim(claim.ID).Status)
	assert.Zero(t, f.w.voucher(f.voucher.ID).CurrentUsage)
}

func TestRedeemRollsBackWhenRollupFails(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	f.w.failRevenue = true
	listener := &recordingListener{}

	_, err := f.coordinator(t, nil, listener).Redeem(context.Background(), f.request(cust.ID, "10"))
	assert.True(t, apperr.IsKind(err, apperr.KindInternal), "got %v", err)

	assert.Empty(t, f.w.transactions)
	assert.Equal(t, models.ClaimStatusClaimed, f.w.claim(claim.ID).Status)
	assert.Zero(t, f.w.voucher(f.voucher.ID).CurrentUsage)
	assert.Empty(t, listener.results)

	f.w.failRevenue = false
	_, err = f.coordinator(t, nil, listener).Redeem(context.Background(), f.request(cust.ID, "10"))
	require.NoError(t, err)
	assert.Len(t, listener.results, 1)
}

func TestRedeemRecordsConversionForAttributedClaim(t *testing.T) {
	f := newFixture(nil)
	campaign := uuid.New()
	cust, _ := f.addClaim(func(c *models.Claim) {
		c.Source = models.ClaimSource{Type: "influencer", CampaignID: &campaign, ReferralCode: "INF-ABC123"}
	})

	conversions := metrics.AttributionEventsTotal.WithLabelValues("conversion", "influencer")
	before := testutil.ToFloat64(conversions)

	_, err := f.coordinator(t, nil, nil).Redeem(context.Background(), f.request(cust.ID, "42.50"))
	require.NoError(t, err)
	assert.True(t, f.w.conversions["INF-ABC123"].Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, before+1, testutil.ToFloat64(conversions))
}

func TestRedeemDirectClaimHasNoConversion(t *testing.T) {
	f := newFixture(nil)
	cust, _ := f.addClaim(nil)

	_, err := f.coordinator(t, nil, nil).Redeem(context.Background(), f.request(cust.ID, "10"))
	require.NoError(t, err)
	assert.Empty(t, f.w.conversions)
}

func (f *fixture) mint(t *testing.T, cust models.Customer, claim models.Claim) (qrtoken.Payload, string) {
	t.Helper()
	p, raw, err := testSigner(t).Mint(qrtoken.Input{
		ClaimID:    claim.ID,
		VoucherID:  claim.VoucherID,
		Code:       f.voucher.Code,
		BusinessID: claim.BusinessID,
		UserID:     cust.ID,
		ExpiresAt:  claim.ExpiryDate,
	})
	require.NoError(t, err)
	return p, raw
}

func TestScanVerifiedPayload(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	_, raw := f.mint(t, cust, claim)

	res, err := f.coordinator(t, nil, nil).Scan(context.Background(), f.business, raw)
	require.NoError(t, err)
	assert.True(t, res.Redeemable)
	assert.Equal(t, claim.ID, res.Claim.ID)
	assert.Equal(t, "Dana", res.Customer.Name)
	assert.NotEqual(t, cust.Email, res.Customer.Email)
	assert.Equal(t, 1, f.w.qrScans)
	assert.Empty(t, f.w.transactions)
}

func TestScanRejectsTamperedPayload(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	_, raw := f.mint(t, cust, claim)
	tampered := strings.Replace(raw, claim.CustomerID.String(), uuid.New().String(), 1)
	require.NotEqual(t, raw, tampered)

	_, err := f.coordinator(t, nil, nil).Scan(context.Background(), f.business, tampered)
	assert.True(t, apperr.IsKind(err, apperr.KindTokenInvalid), "got %v", err)
	assert.Zero(t, f.w.qrScans)
}

func TestScanRejectsOtherBusiness(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	_, raw := f.mint(t, cust, claim)

	_, err := f.coordinator(t, nil, nil).Scan(context.Background(), uuid.New(), raw)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden), "got %v", err)
}

func TestScanRejectsMalformedPayload(t *testing.T) {
	f := newFixture(nil)
	_, err := f.coordinator(t, nil, nil).Scan(context.Background(), f.business, `{"v":"not-a-claim"}`)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
}

func TestScanRejectsPayloadForAnotherClaim(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(nil)
	stale := claim
	stale.ID = uuid.New()
	_, raw := f.mint(t, cust, stale)

	_, err := f.coordinator(t, nil, nil).Scan(context.Background(), f.business, raw)
	assert.True(t, apperr.IsKind(err, apperr.KindIntegrity), "got %v", err)
}

func TestScanAppliesExpiryWithoutWriting(t *testing.T) {
	f := newFixture(nil)
	cust, claim := f.addClaim(func(c *models.Claim) { c.ExpiryDate = f.now.Add(-time.Minute) })
	_, raw := f.mint(t, cust, claim)

	res, err := f.coordinator(t, nil, nil).Scan(context.Background(), f.business, raw)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusExpired, res.Claim.Status)
	assert.False(t, res.Redeemable)
	assert.Equal(t, models.ClaimStatusClaimed, f.w.claim(claim.ID).Status)
}

func TestHandlerRedeem(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(nil)
	cust, _ := f.addClaim(nil)
	h := NewHandler(f.coordinator(t, nil, nil), nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.New())
		c.Set(middleware.ContextUserRole, "business")
		c.Set(middleware.ContextBusinessID, f.business)
	})
	r.POST("/redemption/redeem", h.Redeem)

	body := fmt.Sprintf(`{"voucherId":%q,"customerId":%q,"amount":"200","location":"Main St"}`, f.voucher.ID, cust.ID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/redemption/redeem", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"discountApplied":"20"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/redemption/redeem", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ConflictError")
}

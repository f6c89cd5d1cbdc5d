// Package redemption turns a claimed voucher into a completed sale.
//
// Every write of one redemption (claim transition, transaction row, voucher usage, business rollup and
// campaign conversion) commits in a single database transaction. The claim transition is a
// compare-and-swap on status, so concurrent redeems of the same claim yield exactly one sale.
package redemption

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/apperr"
	"github.com/couponhub/backend/internal/attribution"
	"github.com/couponhub/backend/internal/metrics"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/qrtoken"
	"github.com/couponhub/backend/internal/tracing"
	"github.com/couponhub/backend/pkg/database"
)

// Verifier checks a scanned QR payload's digest.
type Verifier interface {
	Verify(p *qrtoken.Payload) error
}

// Listener is told about committed redemptions. It must not fail the redemption.
type Listener interface {
	Redeemed(ctx context.Context, res *Result)
}

// Request asks to redeem a customer's claim on a voucher for a purchase amount.
type Request struct {
	VoucherID  uuid.UUID
	CustomerID uuid.UUID
	BusinessID uuid.UUID
	Amount     decimal.Decimal
	Location   string
}

// Result is a committed redemption.
type Result struct {
	Transaction     *models.Transaction   `json:"transaction"`
	Voucher         *models.Voucher       `json:"voucher"`
	Customer        models.MaskedCustomer `json:"user"`
	Claim           *models.Claim         `json:"claim"`
	DiscountApplied decimal.Decimal       `json:"discountApplied"`

	converted bool
}

// ScanResult is what the counter sees before confirming a redemption.
type ScanResult struct {
	Voucher    *models.Voucher       `json:"voucher"`
	Customer   models.MaskedCustomer `json:"customer"`
	Claim      *models.Claim         `json:"claim"`
	Redeemable bool                  `json:"redeemable"`
}

// Coordinator runs redemptions and QR scans.
type Coordinator struct {
	store    Store
	refs     ReferenceGenerator
	verifier Verifier
	listener Listener
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator creates a coordinator. listener may be nil.
func NewCoordinator(store Store, refs ReferenceGenerator, verifier Verifier, listener Listener, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		refs:     refs,
		verifier: verifier,
		listener: listener,
		logger:   logger,
		now:      time.Now,
	}
}

// Redeem validates req and commits the redemption atomically.
func (c *Coordinator) Redeem(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "redemption.redeem",
		attribute.String("voucher_id", req.VoucherID.String()),
		attribute.String("business_id", req.BusinessID.String()))
	defer func() {
		tracing.End(span, err)
		result := "ok"
		if err != nil {
			result = string(apperr.KindOf(err))
		}
		metrics.ObserveRedemption(result, time.Since(start).Seconds())
	}()

	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	now := c.now()
	claim, customer, err := c.precheck(ctx, c.store.Repos(), req, now)
	if err != nil {
		return nil, err
	}

	res = &Result{Customer: customer.Masked()}
	err = c.store.RunInTx(ctx, func(ctx context.Context, r Repos) error {
		return c.commit(ctx, r, req, *claim, res, now)
	})
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internal("failed to commit redemption", err)
		}
		c.logger.Info("redemption rejected",
			zap.String("claim_id", claim.ID.String()),
			zap.String("kind", string(apperr.KindOf(err))))
		return nil, err
	}
	c.afterCommit(ctx, res)
	return res, nil
}

// precheck runs the read-only guards. A claim found past its expiry is expired here, outside the
// redemption transaction, so the transition survives the rejection.
func (c *Coordinator) precheck(ctx context.Context, r Repos, req Request, now time.Time) (*models.Claim, *models.Customer, error) {
	v, err := r.Vouchers.GetForBusiness(ctx, req.BusinessID, req.VoucherID)
	if err != nil {
		return nil, nil, notFoundOr(err, "voucher")
	}
	if v.MinimumPurchase != nil && req.Amount.LessThan(*v.MinimumPurchase) {
		return nil, nil, apperr.MinimumPurchase("minimum purchase of %s required", v.MinimumPurchase.StringFixed(2))
	}
	customer, err := r.Claims.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, nil, notFoundOr(err, "customer")
	}
	claim, err := r.Claims.FindClaim(ctx, customer.ID, v.ID, v.BusinessID)
	if database.IsNoRows(err) {
		return nil, nil, apperr.NotClaimed("customer has not claimed voucher %s", v.Code)
	}
	if err != nil {
		return nil, nil, apperr.Internal("failed to load claim", err)
	}
	if err := c.checkClaim(ctx, r, claim, now); err != nil {
		return nil, nil, err
	}
	if err := checkRedeemable(v, now); err != nil {
		return nil, nil, err
	}
	if limit := v.UsageLimit.PerCustomer; limit != nil {
		n, err := r.Vouchers.CountCustomerRedemptions(ctx, v.ID, customer.ID)
		if err != nil {
			return nil, nil, apperr.Internal("failed to count redemptions", err)
		}
		if n >= *limit {
			return nil, nil, apperr.LimitExceeded("customer reached the limit for voucher %s", v.Code)
		}
	}
	return claim, customer, nil
}

func (c *Coordinator) checkClaim(ctx context.Context, r Repos, claim *models.Claim, now time.Time) error {
	switch claim.Status {
	case models.ClaimStatusRedeemed:
		return apperr.Conflict("claim already redeemed")
	case models.ClaimStatusExpired:
		return apperr.Expired("claim expired on %s", claim.ExpiryDate.Format(time.DateOnly))
	}
	if claim.Due(now) {
		if _, err := r.Claims.MarkExpired(ctx, claim.ID, now); err != nil {
			return apperr.Internal("failed to expire claim", err)
		}
		return apperr.Expired("claim expired on %s", claim.ExpiryDate.Format(time.DateOnly))
	}
	return nil
}

// checkRedeemable enforces the voucher's usage limit, active flag and validity window.
func checkRedeemable(v *models.Voucher, now time.Time) error {
	switch {
	case v.LimitReached():
		return apperr.LimitExceeded("voucher %s reached its usage limit", v.Code)
	case !v.IsActive:
		return apperr.NotFound("voucher not available")
	case !v.InWindow(now):
		return apperr.Expired("voucher %s is outside its validity window", v.Code)
	}
	return nil
}

func (c *Coordinator) commit(ctx context.Context, r Repos, req Request, claim models.Claim, res *Result, now time.Time) error {
	v, err := r.Vouchers.LockForUpdate(ctx, req.VoucherID)
	if err != nil {
		return notFoundOr(err, "voucher")
	}
	if err := checkRedeemable(v, now); err != nil {
		return err
	}

	discount := ComputeDiscount(v, req.Amount)
	txn := &models.Transaction{
		ID:             uuid.New(),
		UserID:         claim.CustomerID,
		BusinessID:     v.BusinessID,
		VoucherID:      v.ID,
		ClaimID:        claim.ID,
		Amount:         req.Amount,
		DiscountAmount: discount,
		FinalAmount:    req.Amount.Sub(discount),
		Status:         models.TransactionStatusCompleted,
		Location:       req.Location,
		RedeemedAt:     now,
	}

	ok, err := r.Claims.MarkRedeemed(ctx, claim.ID, txn.ID, now)
	if err != nil {
		return apperr.Internal("failed to redeem claim", err)
	}
	if !ok {
		return apperr.Conflict("claim is no longer redeemable")
	}
	if err := c.insertTransaction(ctx, r.Transactions, txn); err != nil {
		return err
	}

	deactivate := v.ReachesLimitAfterUse()
	ok, err = r.Vouchers.RecordRedemption(ctx, v.ID, req.Amount, deactivate)
	if err != nil {
		return apperr.Internal("failed to update voucher usage", err)
	}
	if !ok {
		return apperr.LimitExceeded("voucher %s reached its usage limit", v.Code)
	}

	if err := r.Rollup.TrackRevenue(ctx, v.BusinessID, req.Amount); err != nil {
		return apperr.Internal("failed to update revenue", err)
	}
	if err := r.Rollup.TrackRedemption(ctx, v.BusinessID); err != nil {
		return apperr.Internal("failed to update redemptions", err)
	}
	if claim.Source.Attributed() {
		found, err := r.Attribution.RecordConversion(ctx, claim.Source.ReferralCode, req.Amount)
		if err != nil {
			return apperr.Internal("failed to record conversion", err)
		}
		if !found {
			c.logger.Warn("referral code on claim has no source", zap.String("referral_code", claim.Source.ReferralCode))
		}
		res.converted = found
	}

	v.CurrentUsage++
	v.Analytics.Redemptions++
	v.Analytics.TotalRevenue = v.Analytics.TotalRevenue.Add(req.Amount)
	if deactivate {
		v.IsActive = false
	}
	claim.Status = models.ClaimStatusRedeemed
	claim.RedeemedDate = &now
	claim.TransactionID = &txn.ID

	res.Transaction = txn
	res.Voucher = v
	res.Claim = &claim
	res.DiscountApplied = discount
	return nil
}

// insertTransaction assigns a reference number and writes txn, regenerating the number once on collision.
func (c *Coordinator) insertTransaction(ctx context.Context, repo TransactionRepo, txn *models.Transaction) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		txn.ReferenceNumber = c.refs.Next()
		err = repo.Insert(ctx, txn)
		if !errors.Is(err, ErrDuplicateReference) {
			break
		}
		c.logger.Warn("transaction reference collision", zap.String("reference", txn.ReferenceNumber), zap.Int("attempt", attempt+1))
	}
	switch {
	case errors.Is(err, ErrDuplicateReference):
		return apperr.Conflict("could not allocate a transaction reference")
	case err != nil:
		return apperr.Internal("failed to write transaction", err)
	}
	return nil
}

func (c *Coordinator) afterCommit(ctx context.Context, res *Result) {
	if res.converted {
		metrics.CountAttribution("conversion", attribution.CodeKind(res.Claim.Source.ReferralCode))
	}
	if c.listener != nil {
		c.listener.Redeemed(ctx, res)
	}
	c.logger.Info("voucher redeemed",
		zap.String("transaction_id", res.Transaction.ID.String()),
		zap.String("reference", res.Transaction.ReferenceNumber),
		zap.String("claim_id", res.Claim.ID.String()),
		zap.String("business_id", res.Transaction.BusinessID.String()),
		zap.String("amount", res.Transaction.Amount.StringFixed(2)),
		zap.String("discount", res.DiscountApplied.StringFixed(2)))
}

// Scan verifies a scanned QR payload for businessID and returns the claim it names. Nothing but the
// QR-scan counter is written.
func (c *Coordinator) Scan(ctx context.Context, businessID uuid.UUID, raw string) (_ *ScanResult, err error) {
	ctx, span := tracing.Start(ctx, "redemption.scan", attribute.String("business_id", businessID.String()))
	defer func() { tracing.End(span, err) }()

	p, err := qrtoken.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("qr payload is not a voucher claim")
	}
	if err := c.verifier.Verify(p); err != nil {
		metrics.QRTamperTotal.Inc()
		c.logger.Warn("qr digest mismatch",
			zap.String("claim_id", p.ClaimID.String()),
			zap.String("business_id", p.BusinessID.String()),
			zap.String("scanned_by", businessID.String()))
		return nil, apperr.Wrap(apperr.KindTokenInvalid, "qr code failed verification", err)
	}
	if p.BusinessID != businessID {
		return nil, apperr.Forbidden("qr code belongs to another business")
	}

	r := c.store.Repos()
	v, err := r.Vouchers.GetForBusiness(ctx, businessID, p.VoucherID)
	if err != nil {
		return nil, notFoundOr(err, "voucher")
	}
	customer, err := r.Claims.GetCustomer(ctx, p.UserID)
	if err != nil {
		return nil, notFoundOr(err, "customer")
	}
	claim, err := r.Claims.FindClaim(ctx, customer.ID, v.ID, businessID)
	if database.IsNoRows(err) {
		return nil, apperr.NotClaimed("customer has not claimed voucher %s", v.Code)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load claim", err)
	}
	if claim.ID != p.ClaimID {
		c.logger.Warn("qr claim mismatch",
			zap.String("claim_id", p.ClaimID.String()),
			zap.String("stored_claim_id", claim.ID.String()),
			zap.String("business_id", businessID.String()))
		return nil, apperr.Integrity("qr code does not match the customer's claim")
	}

	now := c.now()
	claim.Status = claim.EffectiveStatus(now)
	if err := r.Rollup.TrackQRScan(ctx, businessID); err != nil {
		c.logger.Warn("rollup qr scan failed", zap.Error(err), zap.String("business_id", businessID.String()))
	}
	return &ScanResult{
		Voucher:    v,
		Customer:   customer.Masked(),
		Claim:      claim,
		Redeemable: claim.Status == models.ClaimStatusClaimed && checkRedeemable(v, now) == nil,
	}, nil
}

func notFoundOr(err error, entity string) error {
	var ae *apperr.Error
	switch {
	case database.IsNoRows(err):
		return apperr.NotFound("%s not found", entity)
	case errors.As(err, &ae):
		return ae
	}
	return apperr.Internal("failed to load "+entity, err)
}

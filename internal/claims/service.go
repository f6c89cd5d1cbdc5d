// Package claims is the per-customer claim ledger: creation, lookup and expiry.
package claims

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/apperr"
	"github.com/couponhub/backend/internal/metrics"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/qrtoken"
	"github.com/couponhub/backend/internal/tracing"
	"github.com/couponhub/backend/pkg/database"
	"github.com/couponhub/backend/pkg/utils"
)

// User status reported to the claim form.
const (
	UserStatusNew      = "new"
	UserStatusExisting = "existing"
)

// Store is the persistence the ledger needs; *Repository implements it.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindCustomer(ctx context.Context, email, phone string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	CreateClaim(ctx context.Context, c *models.Claim) error
	HasBusinessClaim(ctx context.Context, customerID, businessID uuid.UUID) (bool, error)
	GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Claim, error)
	List(ctx context.Context, businessID uuid.UUID, customerID *uuid.UUID, limit, offset int) ([]models.Claim, error)
	SetQR(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// VoucherReader loads the voucher being claimed.
type VoucherReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
}

// Minter issues the redemption QR payload.
type Minter interface {
	Mint(in qrtoken.Input) (qrtoken.Payload, string, error)
}

// Rollup receives the analytics side effects of a claim.
type Rollup interface {
	TrackNewCustomer(ctx context.Context, businessID uuid.UUID, isGuest bool) error
	TrackSource(ctx context.Context, businessID uuid.UUID, sourceType string) error
}

// Listener is told about committed claims. It must not fail the claim.
type Listener interface {
	ClaimCreated(ctx context.Context, res *Result)
}

// Identity is the contact data from a claim form.
type Identity struct {
	Name  string
	Email string
	Phone string
}

// Request asks to claim one voucher.
type Request struct {
	VoucherID uuid.UUID
	Identity  Identity
	Method    models.ClaimMethod
	Source    models.ClaimSource
}

// Result is a committed claim with the QR payload to hand to the customer.
type Result struct {
	Claim      *models.Claim
	Customer   *models.Customer
	Voucher    *models.Voucher
	QRPayload  string
	UserStatus string
	// NewToBusiness is set on the customer's first claim at the voucher's business.
	NewToBusiness bool
}

// Service implements the claim ledger.
type Service struct {
	store    Store
	vouchers VoucherReader
	minter   Minter
	rollup   Rollup
	listener Listener
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a claim ledger. rollup and listener may be nil.
func NewService(store Store, vouchers VoucherReader, minter Minter, rollup Rollup, listener Listener, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		vouchers: vouchers,
		minter:   minter,
		rollup:   rollup,
		listener: listener,
		logger:   logger,
		now:      time.Now,
	}
}

// Claim creates a claim for req.VoucherID.
func (s *Service) Claim(ctx context.Context, req Request) (*Result, error) {
	v, err := s.vouchers.GetByID(ctx, req.VoucherID)
	if err != nil {
		return nil, s.countFailure(req.Method, notFoundOr(err, "voucher"))
	}
	return s.claim(ctx, v, req)
}

// ClaimByCode creates a claim for the voucher with the given public code.
func (s *Service) ClaimByCode(ctx context.Context, code string, req Request) (*Result, error) {
	v, err := s.vouchers.GetByCode(ctx, code)
	if err != nil {
		return nil, s.countFailure(req.Method, notFoundOr(err, "voucher"))
	}
	req.VoucherID = v.ID
	return s.claim(ctx, v, req)
}

func (s *Service) claim(ctx context.Context, v *models.Voucher, req Request) (_ *Result, err error) {
	ctx, span := tracing.Start(ctx, "claims.claim",
		attribute.String("voucher_id", v.ID.String()),
		attribute.String("method", string(req.Method)),
	)
	defer func() { tracing.End(span, err) }()

	id, err := normalizeIdentity(req.Identity)
	if err != nil {
		return nil, s.countFailure(req.Method, err)
	}
	if !req.Method.Valid() {
		return nil, s.countFailure(req.Method, apperr.Validation("unknown claim method %q", req.Method))
	}
	now := s.now()
	if err := checkClaimable(v, now); err != nil {
		return nil, s.countFailure(req.Method, err)
	}

	var res *Result
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.create(ctx, v, id, req, now)
		if !errors.Is(err, ErrCustomerExists) {
			break
		}
	}
	if errors.Is(err, ErrCustomerExists) {
		err = apperr.Conflict("customer registration conflicted, retry")
	}
	if err != nil {
		return nil, s.countFailure(req.Method, err)
	}

	metrics.CountClaim(string(req.Method), "ok")
	s.afterCommit(ctx, res)
	return res, nil
}

func (s *Service) create(ctx context.Context, v *models.Voucher, id Identity, req Request, now time.Time) (*Result, error) {
	res := &Result{Voucher: v, UserStatus: UserStatusExisting}
	err := s.store.WithTx(ctx, func(tx Store) error {
		customer, err := tx.FindCustomer(ctx, id.Email, id.Phone)
		switch {
		case database.IsNoRows(err):
			customer = &models.Customer{Name: id.Name, Email: id.Email, Phone: id.Phone, IsGuest: true}
			if err := tx.CreateCustomer(ctx, customer); err != nil {
				return err
			}
			res.UserStatus = UserStatusNew
		case err != nil:
			return apperr.Internal("failed to look up customer", err)
		}
		res.Customer = customer
		res.NewToBusiness = res.UserStatus == UserStatusNew
		if !res.NewToBusiness {
			seen, err := tx.HasBusinessClaim(ctx, customer.ID, v.BusinessID)
			if err != nil {
				return apperr.Internal("failed to look up customer claims", err)
			}
			res.NewToBusiness = !seen
		}

		source := req.Source
		if source.Type == "" {
			source.Type = models.SourceDirect
		}
		claim := &models.Claim{
			CustomerID:  customer.ID,
			VoucherID:   v.ID,
			BusinessID:  v.BusinessID,
			ClaimMethod: req.Method,
			Status:      models.ClaimStatusClaimed,
			ClaimDate:   now,
			ExpiryDate:  v.EndDate,
			Source:      source,
		}
		if err := tx.CreateClaim(ctx, claim); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) {
				return apperr.AlreadyClaimed("voucher %s already claimed", v.Code)
			}
			return apperr.Internal("failed to create claim", err)
		}

		payload, raw, err := s.minter.Mint(qrtoken.Input{
			ClaimID:    claim.ID,
			VoucherID:  v.ID,
			Code:       v.Code,
			BusinessID: v.BusinessID,
			UserID:     customer.ID,
			ExpiresAt:  claim.ExpiryDate,
		})
		if err != nil {
			return apperr.Internal("failed to mint qr token", err)
		}
		if err := tx.SetQR(ctx, claim.ID, payload.Hash, now); err != nil {
			return apperr.Internal("failed to store qr hash", err)
		}
		generated := now
		claim.QR = models.ClaimQR{Hash: payload.Hash, GeneratedAt: &generated}
		res.Claim = claim
		res.QRPayload = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) afterCommit(ctx context.Context, res *Result) {
	businessID := res.Claim.BusinessID
	if s.rollup != nil {
		if res.NewToBusiness {
			if err := s.rollup.TrackNewCustomer(ctx, businessID, res.Customer.IsGuest); err != nil {
				s.logger.Warn("rollup new customer failed", zap.Error(err), zap.String("business_id", businessID.String()))
			}
		}
		if err := s.rollup.TrackSource(ctx, businessID, res.Claim.Source.Type); err != nil {
			s.logger.Warn("rollup source failed", zap.Error(err), zap.String("business_id", businessID.String()))
		}
	}
	if s.listener != nil {
		s.listener.ClaimCreated(ctx, res)
	}
	s.logger.Info("voucher claimed",
		zap.String("claim_id", res.Claim.ID.String()),
		zap.String("voucher_id", res.Claim.VoucherID.String()),
		zap.String("business_id", businessID.String()),
		zap.String("method", string(res.Claim.ClaimMethod)),
		zap.String("source", res.Claim.Source.Type))
}

func (s *Service) countFailure(method models.ClaimMethod, err error) error {
	metrics.CountClaim(string(method), string(apperr.KindOf(err)))
	return err
}

// Get returns a business's claim, expiring it first if it is past due.
func (s *Service) Get(ctx context.Context, businessID, id uuid.UUID) (*models.Claim, error) {
	c, err := s.store.GetForBusiness(ctx, businessID, id)
	if err != nil {
		return nil, notFoundOr(err, "claim")
	}
	now := s.now()
	if c.Due(now) {
		if _, err := s.store.MarkExpired(ctx, c.ID, now); err != nil {
			return nil, apperr.Internal("failed to expire claim", err)
		}
		c.Status = models.ClaimStatusExpired
	}
	return c, nil
}

// List returns a business's claims with lazy expiry applied to the returned statuses.
func (s *Service) List(ctx context.Context, businessID uuid.UUID, customerID *uuid.UUID, limit, offset int) ([]models.Claim, error) {
	list, err := s.store.List(ctx, businessID, customerID, limit, offset)
	if err != nil {
		return nil, apperr.Internal("failed to list claims", err)
	}
	now := s.now()
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list, nil
}

// Customer returns a customer by ID.
func (s *Service) Customer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "customer")
	}
	return c, nil
}

// ExpireDue transitions every overdue claim to expired.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ClaimsExpiredTotal.Add(float64(n))
		s.logger.Info("expired overdue claims", zap.Int64("count", n))
	}
	return n, nil
}

// checkClaimable enforces the voucher's active flag, window and usage limit.
func checkClaimable(v *models.Voucher, now time.Time) error {
	switch {
	case v.LimitReached():
		return apperr.LimitExceeded("voucher %s reached its usage limit", v.Code)
	case !v.IsActive:
		return apperr.NotFound("voucher not available")
	case now.After(v.EndDate):
		return apperr.Expired("voucher %s has ended", v.Code)
	case now.Before(v.StartDate):
		return apperr.Validation("voucher %s is not active yet", v.Code)
	}
	return nil
}

func normalizeIdentity(in Identity) (Identity, error) {
	out := Identity{
		Name:  in.Name,
		Email: utils.NormalizeEmail(in.Email),
		Phone: utils.NormalizePhone(in.Phone),
	}
	if out.Email == "" && out.Phone == "" {
		return out, apperr.Validation("email or phone is required")
	}
	if out.Name == "" {
		out.Name = "Guest"
	}
	return out, nil
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

package vouchers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/apperr"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/qrimage"
	"github.com/couponhub/backend/pkg/database"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, v *models.Voucher) error
	GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Voucher, error)
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	List(ctx context.Context, businessID uuid.UUID, f Filter) ([]models.Voucher, error)
	SetActive(ctx context.Context, businessID, id uuid.UUID, active bool) (bool, error)
	SetQRImage(ctx context.Context, id uuid.UUID, url string) error
	IncrementViews(ctx context.Context, id uuid.UUID) error
}

// ImageEncoder renders a payload string as an image.
type ImageEncoder interface {
	Encode(payload string) ([]byte, error)
}

// AssetStore uploads rendered voucher QR images.
type AssetStore interface {
	PutVoucherQR(ctx context.Context, businessID, voucherID string, image []byte, contentType string) (string, error)
}

// Definition is the business input for a new voucher.
type Definition struct {
	Code            string
	Title           string
	Description     string
	DiscountType    models.DiscountType
	DiscountValue   decimal.Decimal
	MinimumPurchase *decimal.Decimal
	MaximumDiscount *decimal.Decimal
	StartDate       time.Time
	EndDate         time.Time
	UsageLimit      models.UsageLimit
	Inactive        bool
}

// DisplayQR is the opaque voucher QR content shown on posters and widgets.
// It identifies the voucher only and is not a redemption token.
type DisplayQR struct {
	Code       string    `json:"code"`
	BusinessID uuid.UUID `json:"businessId"`
	Type       string    `json:"type"`
}

// Service implements voucher definition and lookup.
type Service struct {
	store   Store
	encoder ImageEncoder
	assets  AssetStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a voucher service. encoder and assets may be nil.
func NewService(store Store, encoder ImageEncoder, assets AssetStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, encoder: encoder, assets: assets, logger: logger, now: time.Now}
}

const maxCodeAttempts = 3

var hundred = decimal.NewFromInt(100)

// Validate checks a definition's invariants.
func (d *Definition) Validate() error {
	if d.Title == "" {
		return apperr.Validation("title is required")
	}
	if !d.DiscountType.Valid() {
		return apperr.Validation("discountType must be percentage or fixed")
	}
	if d.DiscountValue.IsNegative() || d.DiscountValue.IsZero() {
		return apperr.Validation("discountValue must be positive")
	}
	if d.DiscountType == models.DiscountPercentage && d.DiscountValue.GreaterThan(hundred) {
		return apperr.Validation("percentage discount must be between 0 and 100")
	}
	if d.MinimumPurchase != nil && d.MinimumPurchase.IsNegative() {
		return apperr.Validation("minimumPurchase must not be negative")
	}
	if d.MaximumDiscount != nil && !d.MaximumDiscount.IsPositive() {
		return apperr.Validation("maximumDiscount must be positive")
	}
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return apperr.Validation("startDate and endDate are required")
	}
	if !d.EndDate.After(d.StartDate) {
		return apperr.Validation("endDate must be after startDate")
	}
	if l := d.UsageLimit.PerCoupon; l != nil && *l < 1 {
		return apperr.Validation("usageLimit.perCoupon must be at least 1")
	}
	if l := d.UsageLimit.PerCustomer; l != nil && *l < 1 {
		return apperr.Validation("usageLimit.perCustomer must be at least 1")
	}
	return nil
}

// Create validates the definition, assigns a unique code and stores the voucher.
func (s *Service) Create(ctx context.Context, businessID uuid.UUID, d Definition) (*models.Voucher, *DisplayQR, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	v := &models.Voucher{
		BusinessID:      businessID,
		Title:           d.Title,
		Description:     d.Description,
		DiscountType:    d.DiscountType,
		DiscountValue:   d.DiscountValue,
		MinimumPurchase: d.MinimumPurchase,
		MaximumDiscount: d.MaximumDiscount,
		StartDate:       d.StartDate,
		EndDate:         d.EndDate,
		IsActive:        !d.Inactive,
		UsageLimit:      d.UsageLimit,
	}

	explicit := NormalizeCode(d.Code)
	for attempt := 0; ; attempt++ {
		code := explicit
		if code == "" {
			var err error
			if code, err = GenerateCode(d.Title); err != nil {
				return nil, nil, apperr.Internal("failed to generate code", err)
			}
		}
		v.Code = code
		err := s.store.Create(ctx, v)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return nil, nil, apperr.Internal("failed to create voucher", err)
		}
		if explicit != "" {
			return nil, nil, apperr.Conflict("voucher code %s already exists", explicit)
		}
		if attempt+1 >= maxCodeAttempts {
			return nil, nil, apperr.Conflict("could not allocate a unique voucher code")
		}
	}

	display := &DisplayQR{Code: v.Code, BusinessID: businessID, Type: "voucher"}
	s.publishDisplayQR(ctx, v, display)
	return v, display, nil
}

func (s *Service) publishDisplayQR(ctx context.Context, v *models.Voucher, display *DisplayQR) {
	if s.encoder == nil || s.assets == nil {
		return
	}
	payload, err := json.Marshal(display)
	if err != nil {
		return
	}
	img, err := s.encoder.Encode(string(payload))
	if err != nil {
		s.logger.Warn("render voucher qr failed", zap.Error(err), zap.String("voucher_id", v.ID.String()))
		return
	}
	url, err := s.assets.PutVoucherQR(ctx, v.BusinessID.String(), v.ID.String(), img, qrimage.ContentType)
	if err != nil {
		s.logger.Warn("upload voucher qr failed", zap.Error(err), zap.String("voucher_id", v.ID.String()))
		return
	}
	if err := s.store.SetQRImage(ctx, v.ID, url); err != nil {
		s.logger.Warn("save voucher qr url failed", zap.Error(err), zap.String("voucher_id", v.ID.String()))
		return
	}
	v.QRImageURL = url
}

// Get returns a business's voucher.
func (s *Service) Get(ctx context.Context, businessID, id uuid.UUID) (*models.Voucher, error) {
	v, err := s.store.GetForBusiness(ctx, businessID, id)
	if err != nil {
		return nil, notFoundOr(err, "voucher")
	}
	return v, nil
}

// FindActive lists a business's vouchers matching filter.
func (s *Service) FindActive(ctx context.Context, businessID uuid.UUID, f Filter) ([]models.Voucher, error) {
	list, err := s.store.List(ctx, businessID, f)
	if err != nil {
		return nil, apperr.Internal("failed to list vouchers", err)
	}
	return list, nil
}

// Toggle activates or deactivates a voucher. Activation past endDate fails with ExpiredError.
func (s *Service) Toggle(ctx context.Context, businessID, id uuid.UUID, activate bool) (*models.Voucher, error) {
	v, err := s.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if activate {
		if s.now().After(v.EndDate) {
			return nil, apperr.Expired("voucher %s ended on %s", v.Code, v.EndDate.Format(time.RFC3339))
		}
		if v.LimitReached() {
			return nil, apperr.LimitExceeded("voucher %s reached its usage limit", v.Code)
		}
	}
	ok, err := s.store.SetActive(ctx, businessID, id, activate)
	if err != nil {
		return nil, apperr.Internal("failed to update voucher", err)
	}
	if !ok {
		return nil, apperr.NotFound("voucher not found")
	}
	v.IsActive = activate
	return v, nil
}

// PublicView returns a voucher by code for the marketplace and counts the view.
func (s *Service) PublicView(ctx context.Context, code string) (*models.Voucher, error) {
	v, err := s.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, notFoundOr(err, "voucher")
	}
	if !v.IsActive || !v.InWindow(s.now()) {
		return nil, apperr.NotFound("voucher not available")
	}
	if err := s.store.IncrementViews(ctx, v.ID); err != nil {
		s.logger.Warn("increment voucher views failed", zap.Error(err), zap.String("voucher_id", v.ID.String()))
	}
	return v, nil
}

func notFoundOr(err error, entity string) error {
	if database.IsNoRows(err) {
		return apperr.NotFound("%s not found", entity)
	}
	return apperr.Internal("failed to load "+entity, err)
}

package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// ErrDuplicateCode is returned by Create when the code is already taken.
var ErrDuplicateCode = errors.New("voucher code already exists")

// Filter narrows List results.
type Filter struct {
	ActiveOnly   bool
	DiscountType models.DiscountType
	Query        string
	Limit        int
	Offset       int
}

// Repository handles voucher persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a voucher repository on a pool or transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const voucherColumns = `id, business_id, code, title, description, discount_type, discount_value,
	minimum_purchase, maximum_discount, start_date, end_date, is_active,
	usage_limit_per_coupon, usage_limit_per_customer, current_usage,
	views, clicks, redemptions, total_revenue, COALESCE(qr_image_url, ''), created_at, updated_at`

func scanVoucher(row interface{ Scan(...any) error }) (*models.Voucher, error) {
	var v models.Voucher
	var discountType string
	var minPurchase, maxDiscount decimal.NullDecimal
	err := row.Scan(&v.ID, &v.BusinessID, &v.Code, &v.Title, &v.Description, &discountType, &v.DiscountValue,
		&minPurchase, &maxDiscount, &v.StartDate, &v.EndDate, &v.IsActive,
		&v.UsageLimit.PerCoupon, &v.UsageLimit.PerCustomer, &v.CurrentUsage,
		&v.Analytics.Views, &v.Analytics.Clicks, &v.Analytics.Redemptions, &v.Analytics.TotalRevenue,
		&v.QRImageURL, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.DiscountType = models.DiscountType(discountType)
	if minPurchase.Valid {
		v.MinimumPurchase = &minPurchase.Decimal
	}
	if maxDiscount.Valid {
		v.MaximumDiscount = &maxDiscount.Decimal
	}
	return &v, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Create inserts a voucher. Returns ErrDuplicateCode on a code collision.
func (r *Repository) Create(ctx context.Context, v *models.Voucher) error {
	const q = `INSERT INTO vouchers (business_id, code, title, description, discount_type, discount_value,
			minimum_purchase, maximum_discount, start_date, end_date, is_active,
			usage_limit_per_coupon, usage_limit_per_customer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, current_usage, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, v.BusinessID, v.Code, v.Title, v.Description, string(v.DiscountType), v.DiscountValue,
		nullDecimal(v.MinimumPurchase), nullDecimal(v.MaximumDiscount), v.StartDate, v.EndDate, v.IsActive,
		v.UsageLimit.PerCoupon, v.UsageLimit.PerCustomer).
		Scan(&v.ID, &v.CurrentUsage, &v.CreatedAt, &v.UpdatedAt)
	if database.IsUniqueViolation(err, "vouchers_code_key") {
		return ErrDuplicateCode
	}
	return err
}

// GetByID returns a voucher by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return scanVoucher(r.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
}

// GetForBusiness returns a voucher only if businessID owns it.
func (r *Repository) GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Voucher, error) {
	return scanVoucher(r.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1 AND business_id = $2`, id, businessID))
}

// GetByCode returns a voucher by its public code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	return scanVoucher(r.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
}

// LockForUpdate reads a voucher with a row lock. Only valid inside a transaction.
func (r *Repository) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return scanVoucher(r.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1 FOR UPDATE`, id))
}

// List returns a business's vouchers, newest first.
func (r *Repository) List(ctx context.Context, businessID uuid.UUID, f Filter) ([]models.Voucher, error) {
	conds := []string{"business_id = $1"}
	args := []interface{}{businessID}
	if f.ActiveOnly {
		conds = append(conds, "is_active AND NOW() BETWEEN start_date AND end_date")
	}
	if f.DiscountType != "" {
		args = append(args, string(f.DiscountType))
		conds = append(conds, fmt.Sprintf("discount_type = $%d", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR code ILIKE $%d)", len(args), len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	q := `SELECT ` + voucherColumns + ` FROM vouchers WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// SetActive flips is_active for a business's voucher. Returns false if no row matched.
func (r *Repository) SetActive(ctx context.Context, businessID, id uuid.UUID, active bool) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE vouchers SET is_active = $1, updated_at = NOW() WHERE id = $2 AND business_id = $3`, active, id, businessID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetQRImage stores the display QR image URL.
func (r *Repository) SetQRImage(ctx context.Context, id uuid.UUID, url string) error {
	_, err := r.db.Exec(ctx, `UPDATE vouchers SET qr_image_url = $1, updated_at = NOW() WHERE id = $2`, url, id)
	return err
}

// IncrementViews bumps the marketplace view counter.
func (r *Repository) IncrementViews(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE vouchers SET views = views + 1 WHERE id = $1`, id)
	return err
}

// IncrementClicks bumps the referral click counter.
func (r *Repository) IncrementClicks(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE vouchers SET clicks = clicks + 1 WHERE id = $1`, id)
	return err
}

// RecordRedemption increments usage and revenue, deactivating the voucher when deactivate is set.
// The usage guard makes the update a no-op once the limit is reached; false is returned then.
func (r *Repository) RecordRedemption(ctx context.Context, id uuid.UUID, revenue decimal.Decimal, deactivate bool) (bool, error) {
	const q = `UPDATE vouchers SET
			current_usage = current_usage + 1,
			redemptions = redemptions + 1,
			total_revenue = total_revenue + $2,
			is_active = CASE WHEN $3 THEN FALSE ELSE is_active END,
			updated_at = NOW()
		WHERE id = $1 AND (usage_limit_per_coupon IS NULL OR current_usage < usage_limit_per_coupon)`
	tag, err := r.db.Exec(ctx, q, id, revenue, deactivate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountCustomerRedemptions returns how many times a customer redeemed a voucher.
func (r *Repository) CountCustomerRedemptions(ctx context.Context, voucherID, customerID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE voucher_id = $1 AND user_id = $2`, voucherID, customerID).Scan(&n)
	return n, err
}

package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

var (
	// ErrAlreadyClaimed is returned by CreateClaim when the customer already holds a claim for the voucher.
	ErrAlreadyClaimed = errors.New("voucher already claimed by customer")
	// ErrCustomerExists is returned by CreateCustomer when the email or phone was taken concurrently.
	ErrCustomerExists = errors.New("customer already exists")
)

// Repository persists customers and their claims.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a claims repository on a pool or transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn with a repository bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(Store) error) error {
	return database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		return fn(NewRepository(tx))
	})
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const customerColumns = `id, name, COALESCE(email, ''), COALESCE(phone, ''), is_guest, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*models.Customer, error) {
	var c models.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.IsGuest, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomer returns a customer by ID.
func (r *Repository) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

// FindCustomer looks a customer up by normalized email or phone. Email wins when both match different rows.
func (r *Repository) FindCustomer(ctx context.Context, email, phone string) (*models.Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers
		WHERE ($1 <> '' AND email = $1) OR ($2 <> '' AND phone = $2)
		ORDER BY (email = $1) DESC NULLS LAST
		LIMIT 1`
	return scanCustomer(r.db.QueryRow(ctx, q, email, phone))
}

// CreateCustomer inserts a customer.
func (r *Repository) CreateCustomer(ctx context.Context, c *models.Customer) error {
	const q = `INSERT INTO customers (name, email, phone, is_guest) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, q, c.Name, nullString(c.Email), nullString(c.Phone), c.IsGuest).Scan(&c.ID, &c.CreatedAt)
	if database.IsUniqueViolation(err, "") {
		return ErrCustomerExists
	}
	return err
}

const claimColumns = `id, customer_id, voucher_id, business_id, claim_method, status, claim_date, expiry_date,
	redeemed_date, source_type, campaign_id, COALESCE(referral_code, ''), COALESCE(qr_hash, ''), qr_generated_at, transaction_id`

func scanClaim(row interface{ Scan(...any) error }) (*models.Claim, error) {
	var c models.Claim
	var method, status string
	err := row.Scan(&c.ID, &c.CustomerID, &c.VoucherID, &c.BusinessID, &method, &status, &c.ClaimDate, &c.ExpiryDate,
		&c.RedeemedDate, &c.Source.Type, &c.Source.CampaignID, &c.Source.ReferralCode, &c.QR.Hash, &c.QR.GeneratedAt,
		&c.TransactionID)
	if err != nil {
		return nil, err
	}
	c.ClaimMethod = models.ClaimMethod(method)
	c.Status = models.ClaimStatus(status)
	return &c, nil
}

// CreateClaim inserts a claim. Returns ErrAlreadyClaimed on the (customer, voucher, business) constraint.
func (r *Repository) CreateClaim(ctx context.Context, c *models.Claim) error {
	sourceType := c.Source.Type
	if sourceType == "" {
		sourceType = models.SourceDirect
	}
	const q = `INSERT INTO claims (customer_id, voucher_id, business_id, claim_method, status, claim_date, expiry_date,
			source_type, campaign_id, referral_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := r.db.QueryRow(ctx, q, c.CustomerID, c.VoucherID, c.BusinessID, string(c.ClaimMethod), string(c.Status),
		c.ClaimDate, c.ExpiryDate, sourceType, c.Source.CampaignID, nullString(c.Source.ReferralCode)).Scan(&c.ID)
	if database.IsUniqueViolation(err, "claims_customer_voucher_business_key") {
		return ErrAlreadyClaimed
	}
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	c.Source.Type = sourceType
	return nil
}

// GetClaim returns a claim by ID.
func (r *Repository) GetClaim(ctx context.Context, id uuid.UUID) (*models.Claim, error) {
	return scanClaim(r.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
}

// GetForBusiness returns a claim only if it belongs to businessID.
func (r *Repository) GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Claim, error) {
	return scanClaim(r.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1 AND business_id = $2`, id, businessID))
}

// FindClaim returns the customer's claim for a voucher at a business.
func (r *Repository) FindClaim(ctx context.Context, customerID, voucherID, businessID uuid.UUID) (*models.Claim, error) {
	const q = `SELECT ` + claimColumns + ` FROM claims WHERE customer_id = $1 AND voucher_id = $2 AND business_id = $3`
	return scanClaim(r.db.QueryRow(ctx, q, customerID, voucherID, businessID))
}

// HasBusinessClaim reports whether the customer already holds any claim at the business.
func (r *Repository) HasBusinessClaim(ctx context.Context, customerID, businessID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE customer_id = $1 AND business_id = $2)`,
		customerID, businessID).Scan(&ok)
	return ok, err
}

// List returns a business's claims, newest first, optionally for one customer.
func (r *Repository) List(ctx context.Context, businessID uuid.UUID, customerID *uuid.UUID, limit, offset int) ([]models.Claim, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `SELECT ` + claimColumns + ` FROM claims
		WHERE business_id = $1 AND ($2::uuid IS NULL OR customer_id = $2)
		ORDER BY claim_date DESC LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, q, businessID, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// SetQR stores the fingerprint of the minted QR token.
func (r *Repository) SetQR(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE claims SET qr_hash = $1, qr_generated_at = $2 WHERE id = $3`, hash, at, id)
	return err
}

// MarkExpired moves a claimed claim past its expiry to expired. Returns false if the claim was not
// in that state, so concurrent callers transition it at most once.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE claims SET status = 'expired'
		WHERE id = $1 AND status = 'claimed' AND expiry_date < $2`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRedeemed is the compare-and-swap that closes a claim. Returns false when the claim is no longer
// claimed or has passed its expiry date.
func (r *Repository) MarkRedeemed(ctx context.Context, id, transactionID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE claims SET status = 'redeemed', redeemed_date = $2, transaction_id = $3
		WHERE id = $1 AND status = 'claimed' AND expiry_date >= $2`, id, at, transactionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireDue expires every claimed claim whose expiry date is before now. Safe to run repeatedly.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE claims SET status = 'expired' WHERE status = 'claimed' AND expiry_date < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

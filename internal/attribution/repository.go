package attribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// ErrDuplicateCode is returned by CreateSource when the referral code is taken.
var ErrDuplicateCode = errors.New("referral code already exists")

// Resolution is what a referral code points at.
type Resolution struct {
	SourceID       uuid.UUID         `json:"sourceId"`
	Kind           models.SourceKind `json:"kind"`
	ReferralCode   string            `json:"referralCode"`
	CampaignID     uuid.UUID         `json:"campaignId"`
	CampaignActive bool              `json:"campaignActive"`
	BusinessID     uuid.UUID         `json:"businessId"`
	VoucherID      uuid.UUID         `json:"voucherId"`
}

// Click is one recorded referral click.
type Click struct {
	Device models.DeviceInfo
	IPHash string
	UAHash string
}

// Repository persists campaigns, their sources and the per-code counters.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an attribution repository on a pool or transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn with a repository bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(Store) error) error {
	return database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		return fn(NewRepository(tx))
	})
}

const campaignColumns = `id, business_id, voucher_id, name, type, is_active, total_clicks, leads, conversions, revenue, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	var c models.Campaign
	var kind string
	err := row.Scan(&c.ID, &c.BusinessID, &c.VoucherID, &c.Name, &kind, &c.IsActive,
		&c.Stats.Clicks, &c.Stats.Leads, &c.Stats.Conversions, &c.Stats.Revenue, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = models.SourceKind(kind)
	return &c, nil
}

// CreateCampaign inserts a campaign.
func (r *Repository) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	const q = `INSERT INTO campaigns (business_id, voucher_id, name, type, is_active)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, q, c.BusinessID, c.VoucherID, c.Name, string(c.Type), c.IsActive).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// CreateSource inserts a source under a savepoint so a code collision leaves the caller's transaction usable.
func (r *Repository) CreateSource(ctx context.Context, s Source) error {
	row := toRow(s)
	base := s.Base()
	return database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		const q = `INSERT INTO attribution_sources (campaign_id, kind, name, platform, external_ref, referral_code)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
		err := tx.QueryRow(ctx, q, base.CampaignID, string(row.Kind), row.Name, row.Platform, row.ExternalRef, base.ReferralCode).
			Scan(&base.ID, &base.CreatedAt)
		if database.IsUniqueViolation(err, "attribution_sources_referral_code_key") {
			return ErrDuplicateCode
		}
		return err
	})
}

// GetCampaign returns a business's campaign.
func (r *Repository) GetCampaign(ctx context.Context, businessID, id uuid.UUID) (*models.Campaign, error) {
	return scanCampaign(r.db.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND business_id = $2`, id, businessID))
}

// ListCampaigns returns a business's campaigns, newest first.
func (r *Repository) ListCampaigns(ctx context.Context, businessID uuid.UUID) ([]models.Campaign, error) {
	rows, err := r.db.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE business_id = $1 ORDER BY created_at DESC`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// ListSources returns a campaign's sources in creation order.
func (r *Repository) ListSources(ctx context.Context, campaignID uuid.UUID) ([]Source, error) {
	const q = `SELECT id, campaign_id, referral_code, kind, name, platform, external_ref,
			clicks, leads, conversions, revenue, created_at
		FROM attribution_sources WHERE campaign_id = $1 ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Source
	for rows.Next() {
		var base SourceBase
		var row sourceRow
		var kind string
		if err := rows.Scan(&base.ID, &base.CampaignID, &base.ReferralCode, &kind, &row.Name, &row.Platform, &row.ExternalRef,
			&base.Stats.Clicks, &base.Stats.Leads, &base.Stats.Conversions, &base.Stats.Revenue, &base.CreatedAt); err != nil {
			return nil, err
		}
		row.Kind = models.SourceKind(kind)
		if s := fromRow(base, row); s != nil {
			list = append(list, s)
		}
	}
	return list, rows.Err()
}

// Resolve looks up the source and campaign behind a referral code.
func (r *Repository) Resolve(ctx context.Context, code string) (*Resolution, error) {
	const q = `SELECT s.id, s.kind, s.referral_code, c.id, c.is_active, c.business_id, c.voucher_id
		FROM attribution_sources s JOIN campaigns c ON c.id = s.campaign_id
		WHERE s.referral_code = $1`
	var res Resolution
	var kind string
	err := r.db.QueryRow(ctx, q, code).Scan(&res.SourceID, &kind, &res.ReferralCode, &res.CampaignID,
		&res.CampaignActive, &res.BusinessID, &res.VoucherID)
	if err != nil {
		return nil, err
	}
	res.Kind = models.SourceKind(kind)
	return &res, nil
}

// RecordClick increments the source, campaign and voucher click counters and stores the device snapshot.
func (r *Repository) RecordClick(ctx context.Context, res *Resolution, click Click) error {
	return database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		if _, err := tx.Exec(ctx, `UPDATE attribution_sources SET clicks = clicks + 1 WHERE id = $1`, res.SourceID); err != nil {
			return fmt.Errorf("source clicks: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE campaigns SET total_clicks = total_clicks + 1, updated_at = NOW() WHERE id = $1`, res.CampaignID); err != nil {
			return fmt.Errorf("campaign clicks: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE vouchers SET clicks = clicks + 1 WHERE id = $1`, res.VoucherID); err != nil {
			return fmt.Errorf("voucher clicks: %w", err)
		}
		d := click.Device
		const q = `INSERT INTO attribution_clicks (source_id, campaign_id, device_type, browser, os, country, city, ip_hash, ua_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, q, res.SourceID, res.CampaignID, d.DeviceType, d.Browser, d.OS, d.Country, d.City,
			click.IPHash, click.UAHash); err != nil {
			return fmt.Errorf("insert click: %w", err)
		}
		return nil
	})
}

// RecordLead counts one form submission for the code. Returns false if the code is unknown.
func (r *Repository) RecordLead(ctx context.Context, code string) (bool, error) {
	var campaignID uuid.UUID
	err := r.db.QueryRow(ctx, `UPDATE attribution_sources SET leads = leads + 1 WHERE referral_code = $1 RETURNING campaign_id`, code).
		Scan(&campaignID)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = r.db.Exec(ctx, `UPDATE campaigns SET leads = leads + 1, updated_at = NOW() WHERE id = $1`, campaignID)
	return err == nil, err
}

// RecordConversion counts one redemption and its revenue for the code. Returns false if the code is unknown.
func (r *Repository) RecordConversion(ctx context.Context, code string, revenue decimal.Decimal) (bool, error) {
	var campaignID uuid.UUID
	err := r.db.QueryRow(ctx, `UPDATE attribution_sources SET conversions = conversions + 1, revenue = revenue + $2
		WHERE referral_code = $1 RETURNING campaign_id`, code, revenue).Scan(&campaignID)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = r.db.Exec(ctx, `UPDATE campaigns SET conversions = conversions + 1, revenue = revenue + $2, updated_at = NOW()
		WHERE id = $1`, campaignID, revenue)
	return err == nil, err
}

// Stats returns the counters for a code.
func (r *Repository) Stats(ctx context.Context, code string) (models.Stats, error) {
	var s models.Stats
	err := r.db.QueryRow(ctx, `SELECT clicks, leads, conversions, revenue FROM attribution_sources WHERE referral_code = $1`, code).
		Scan(&s.Clicks, &s.Leads, &s.Conversions, &s.Revenue)
	return s, err
}

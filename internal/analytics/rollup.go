// Package analytics maintains the per-business rollup counters and rebuilds them from transactions.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// counter names the lifetime column and the matching daily/monthly bucket column.
type counter struct {
	lifetime string
	period   string
}

var (
	counterRevenue     = counter{lifetime: "total_revenue", period: "revenue"}
	counterRedemptions = counter{lifetime: "total_redemptions", period: "redemptions"}
	counterQRScans     = counter{lifetime: "total_qr_scans", period: "qr_scans"}
	counterCustomers   = counter{lifetime: "total_customers", period: "new_customers"}
)

// Rollup applies add-delta updates. Bind it to a transaction to make the updates part of that unit.
type Rollup struct {
	db  database.DBTX
	now func() time.Time
}

// NewRollup creates a rollup writer on a pool or transaction.
func NewRollup(db database.DBTX) *Rollup {
	return &Rollup{db: db, now: time.Now}
}

// bucket returns the UTC day and month keys for t.
func bucket(t time.Time) (day time.Time, year, month int) {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), t.Year(), int(t.Month())
}

func (r *Rollup) add(ctx context.Context, businessID uuid.UUID, c counter, delta interface{}) error {
	day, year, month := bucket(r.now())
	lifetime := fmt.Sprintf(`INSERT INTO business_analytics (business_id, %[1]s) VALUES ($1, $2)
		ON CONFLICT (business_id) DO UPDATE SET %[1]s = business_analytics.%[1]s + EXCLUDED.%[1]s, updated_at = NOW()`, c.lifetime)
	if _, err := r.db.Exec(ctx, lifetime, businessID, delta); err != nil {
		return fmt.Errorf("rollup %s: %w", c.lifetime, err)
	}
	daily := fmt.Sprintf(`INSERT INTO business_analytics_daily (business_id, day, %[1]s) VALUES ($1, $2, $3)
		ON CONFLICT (business_id, day) DO UPDATE SET %[1]s = business_analytics_daily.%[1]s + EXCLUDED.%[1]s`, c.period)
	if _, err := r.db.Exec(ctx, daily, businessID, day, delta); err != nil {
		return fmt.Errorf("rollup daily %s: %w", c.period, err)
	}
	monthly := fmt.Sprintf(`INSERT INTO business_analytics_monthly (business_id, year, month, %[1]s) VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id, year, month) DO UPDATE SET %[1]s = business_analytics_monthly.%[1]s + EXCLUDED.%[1]s`, c.period)
	if _, err := r.db.Exec(ctx, monthly, businessID, year, month, delta); err != nil {
		return fmt.Errorf("rollup monthly %s: %w", c.period, err)
	}
	return nil
}

func (r *Rollup) breakdown(ctx context.Context, businessID uuid.UUID, dimension, key string) error {
	if key == "" {
		key = "unknown"
	}
	const q = `INSERT INTO business_analytics_breakdowns (business_id, dimension, key, count) VALUES ($1, $2, $3, 1)
		ON CONFLICT (business_id, dimension, key) DO UPDATE SET count = business_analytics_breakdowns.count + 1`
	if _, err := r.db.Exec(ctx, q, businessID, dimension, key); err != nil {
		return fmt.Errorf("rollup %s breakdown: %w", dimension, err)
	}
	return nil
}

// TrackRevenue adds amount to lifetime, daily and monthly revenue.
func (r *Rollup) TrackRevenue(ctx context.Context, businessID uuid.UUID, amount decimal.Decimal) error {
	return r.add(ctx, businessID, counterRevenue, amount)
}

// TrackRedemption counts one redemption.
func (r *Rollup) TrackRedemption(ctx context.Context, businessID uuid.UUID) error {
	return r.add(ctx, businessID, counterRedemptions, 1)
}

// TrackQRScan counts one QR scan.
func (r *Rollup) TrackQRScan(ctx context.Context, businessID uuid.UUID) error {
	return r.add(ctx, businessID, counterQRScans, 1)
}

// TrackNewCustomer counts a customer on their first claim at this business. Guests are also counted separately.
func (r *Rollup) TrackNewCustomer(ctx context.Context, businessID uuid.UUID, isGuest bool) error {
	if err := r.add(ctx, businessID, counterCustomers, 1); err != nil {
		return err
	}
	if !isGuest {
		return nil
	}
	const q = `UPDATE business_analytics SET guest_customers = guest_customers + 1, updated_at = NOW() WHERE business_id = $1`
	if _, err := r.db.Exec(ctx, q, businessID); err != nil {
		return fmt.Errorf("rollup guest_customers: %w", err)
	}
	return nil
}

// TrackDevice counts one event from a device type.
func (r *Rollup) TrackDevice(ctx context.Context, businessID uuid.UUID, deviceType string) error {
	return r.breakdown(ctx, businessID, models.DimensionDevice, deviceType)
}

// TrackBrowser counts one event from a browser.
func (r *Rollup) TrackBrowser(ctx context.Context, businessID uuid.UUID, browser string) error {
	return r.breakdown(ctx, businessID, models.DimensionBrowser, browser)
}

// TrackSource counts one claim from an attribution source type.
func (r *Rollup) TrackSource(ctx context.Context, businessID uuid.UUID, sourceType string) error {
	return r.breakdown(ctx, businessID, models.DimensionSource, sourceType)
}

package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// Repository reads the rollup and rebuilds it from transactions.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an analytics repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Summary returns the lifetime counters, buckets overlapping [from, to] and all breakdowns.
func (r *Repository) Summary(ctx context.Context, businessID uuid.UUID, from, to time.Time) (*models.BusinessAnalytics, error) {
	out := &models.BusinessAnalytics{
		BusinessID:   businessID,
		DailyStats:   []models.PeriodStat{},
		MonthlyStats: []models.PeriodStat{},
		Breakdowns:   map[string]map[string]int64{},
	}
	err := r.db.QueryRow(ctx, `SELECT total_revenue, total_redemptions, total_qr_scans, total_customers, guest_customers, updated_at
		FROM business_analytics WHERE business_id = $1`, businessID).
		Scan(&out.TotalRevenue, &out.TotalRedemptions, &out.TotalQRScans, &out.TotalCustomers, &out.GuestCustomers, &out.UpdatedAt)
	if err != nil && !database.IsNoRows(err) {
		return nil, fmt.Errorf("load lifetime: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT day, revenue, redemptions, qr_scans, new_customers
		FROM business_analytics_daily WHERE business_id = $1 AND day BETWEEN $2 AND $3 ORDER BY day`, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load daily: %w", err)
	}
	for rows.Next() {
		var s models.PeriodStat
		var day time.Time
		if err := rows.Scan(&day, &s.Revenue, &s.Redemptions, &s.QRScans, &s.NewCustomers); err != nil {
			rows.Close()
			return nil, err
		}
		s.Date = day.Format("2006-01-02")
		out.DailyStats = append(out.DailyStats, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fromKey := from.Year()*12 + int(from.Month())
	toKey := to.Year()*12 + int(to.Month())
	rows, err = r.db.Query(ctx, `SELECT year, month, revenue, redemptions, qr_scans, new_customers
		FROM business_analytics_monthly WHERE business_id = $1 AND year * 12 + month BETWEEN $2 AND $3
		ORDER BY year, month`, businessID, fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("load monthly: %w", err)
	}
	for rows.Next() {
		var s models.PeriodStat
		if err := rows.Scan(&s.Year, &s.Month, &s.Revenue, &s.Redemptions, &s.QRScans, &s.NewCustomers); err != nil {
			rows.Close()
			return nil, err
		}
		out.MonthlyStats = append(out.MonthlyStats, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `SELECT dimension, key, count FROM business_analytics_breakdowns WHERE business_id = $1`, businessID)
	if err != nil {
		return nil, fmt.Errorf("load breakdowns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dim, key string
		var n int64
		if err := rows.Scan(&dim, &key, &n); err != nil {
			return nil, err
		}
		if out.Breakdowns[dim] == nil {
			out.Breakdowns[dim] = map[string]int64{}
		}
		out.Breakdowns[dim][key] = n
	}
	return out, rows.Err()
}

// Recompute rebuilds revenue and redemption counters and buckets from the transactions table
// in one transaction. QR scan and customer counters have no event log and are left as they are.
func (r *Repository) Recompute(ctx context.Context, businessID uuid.UUID) error {
	return database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		stmts := []string{
			`INSERT INTO business_analytics (business_id, total_revenue, total_redemptions)
				SELECT $1::uuid, COALESCE(SUM(amount), 0), COUNT(*) FROM transactions WHERE business_id = $1
			ON CONFLICT (business_id) DO UPDATE SET
				total_revenue = EXCLUDED.total_revenue,
				total_redemptions = EXCLUDED.total_redemptions,
				updated_at = NOW()`,
			`UPDATE business_analytics_daily SET revenue = 0, redemptions = 0 WHERE business_id = $1`,
			`INSERT INTO business_analytics_daily (business_id, day, revenue, redemptions)
				SELECT $1::uuid, (redeemed_at AT TIME ZONE 'UTC')::date, SUM(amount), COUNT(*)
				FROM transactions WHERE business_id = $1 GROUP BY 2
			ON CONFLICT (business_id, day) DO UPDATE SET
				revenue = EXCLUDED.revenue, redemptions = EXCLUDED.redemptions`,
			`UPDATE business_analytics_monthly SET revenue = 0, redemptions = 0 WHERE business_id = $1`,
			`INSERT INTO business_analytics_monthly (business_id, year, month, revenue, redemptions)
				SELECT $1::uuid,
					EXTRACT(YEAR FROM redeemed_at AT TIME ZONE 'UTC')::int,
					EXTRACT(MONTH FROM redeemed_at AT TIME ZONE 'UTC')::int,
					SUM(amount), COUNT(*)
				FROM transactions WHERE business_id = $1 GROUP BY 2, 3
			ON CONFLICT (business_id, year, month) DO UPDATE SET
				revenue = EXCLUDED.revenue, redemptions = EXCLUDED.redemptions`,
		}
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q, businessID); err != nil {
				return fmt.Errorf("recompute: %w", err)
			}
		}
		return nil
	})
}

package redemption

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/analytics"
	"github.com/couponhub/backend/internal/attribution"
	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/vouchers"
	"github.com/couponhub/backend/pkg/database"
)

// VoucherRepo is the voucher access a redemption needs.
type VoucherRepo interface {
	GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Voucher, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	RecordRedemption(ctx context.Context, id uuid.UUID, revenue decimal.Decimal, deactivate bool) (bool, error)
	CountCustomerRedemptions(ctx context.Context, voucherID, customerID uuid.UUID) (int, error)
}

// ClaimRepo is the claim access a redemption needs. Only the coordinator calls MarkRedeemed.
type ClaimRepo interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindClaim(ctx context.Context, customerID, voucherID, businessID uuid.UUID) (*models.Claim, error)
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkRedeemed(ctx context.Context, id, transactionID uuid.UUID, at time.Time) (bool, error)
}

// TransactionRepo writes the sale.
type TransactionRepo interface {
	Insert(ctx context.Context, t *models.Transaction) error
}

// RollupRepo receives the analytics deltas.
type RollupRepo interface {
	TrackRevenue(ctx context.Context, businessID uuid.UUID, amount decimal.Decimal) error
	TrackRedemption(ctx context.Context, businessID uuid.UUID) error
	TrackQRScan(ctx context.Context, businessID uuid.UUID) error
}

// AttributionRepo receives conversions for attributed claims.
type AttributionRepo interface {
	RecordConversion(ctx context.Context, code string, revenue decimal.Decimal) (bool, error)
}

// Repos is one consistent view of every store a redemption touches.
type Repos struct {
	Vouchers     VoucherRepo
	Claims       ClaimRepo
	Transactions TransactionRepo
	Rollup       RollupRepo
	Attribution  AttributionRepo
}

// Store hands out Repos for plain reads and for one atomic unit of work.
type Store interface {
	Repos() Repos
	RunInTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// PgStore binds every repository to the same pool or pgx transaction.
type PgStore struct {
	db database.DBTX
}

// NewPgStore creates a Postgres-backed store.
func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db}
}

func reposOn(db database.DBTX) Repos {
	return Repos{
		Vouchers:     vouchers.NewRepository(db),
		Claims:       claims.NewRepository(db),
		Transactions: NewTransactionRepository(db),
		Rollup:       analytics.NewRollup(db),
		Attribution:  attribution.NewRepository(db),
	}
}

// Repos implements Store.
func (s *PgStore) Repos() Repos { return reposOn(s.db) }

// RunInTx implements Store. fn's repositories share one transaction that commits only if fn returns nil.
func (s *PgStore) RunInTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return database.WithTx(ctx, s.db, func(tx database.DBTX) error {
		return fn(ctx, reposOn(tx))
	})
}

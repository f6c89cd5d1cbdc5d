package redemption

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// ErrDuplicateReference is returned by Insert when the reference number is taken.
var ErrDuplicateReference = errors.New("duplicate transaction reference")

// TransactionRepository persists redemption transactions. Rows are never updated.
type TransactionRepository struct {
	db database.DBTX
}

// NewTransactionRepository creates a transaction repository on a pool or transaction.
func NewTransactionRepository(db database.DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert writes t under a savepoint so a reference collision can be retried in the same transaction.
func (r *TransactionRepository) Insert(ctx context.Context, t *models.Transaction) error {
	return database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		const q = `INSERT INTO transactions (id, user_id, business_id, voucher_id, claim_id, amount, discount_amount,
				final_amount, status, reference_number, location, redeemed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
		_, err := tx.Exec(ctx, q, t.ID, t.UserID, t.BusinessID, t.VoucherID, t.ClaimID, t.Amount, t.DiscountAmount,
			t.FinalAmount, t.Status, t.ReferenceNumber, t.Location, t.RedeemedAt)
		if database.IsUniqueViolation(err, "transactions_reference_number_key") {
			return ErrDuplicateReference
		}
		return err
	})
}

const transactionColumns = `id, user_id, business_id, voucher_id, claim_id, amount, discount_amount, final_amount,
	status, reference_number, location, redeemed_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.BusinessID, &t.VoucherID, &t.ClaimID, &t.Amount, &t.DiscountAmount,
		&t.FinalAmount, &t.Status, &t.ReferenceNumber, &t.Location, &t.RedeemedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetForBusiness returns one of a business's transactions.
func (r *TransactionRepository) GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND business_id = $2`, id, businessID))
}

// List returns a business's transactions, newest first.
func (r *TransactionRepository) List(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE business_id = $1
		ORDER BY redeemed_at DESC LIMIT $2 OFFSET $3`, businessID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

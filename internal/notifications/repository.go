package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// Repository handles notification_logs persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a notification logs repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const logColumns = `id, business_id, customer_id, claim_id, notification_type, channel, recipient, subject, body,
	status, sent_at, error_message, attempts, created_at`

func scanLog(row interface{ Scan(...any) error }) (*models.NotificationLog, error) {
	var l models.NotificationLog
	var subject, errMsg *string
	if err := row.Scan(&l.ID, &l.BusinessID, &l.CustomerID, &l.ClaimID, &l.NotificationType, &l.Channel, &l.Recipient,
		&subject, &l.Body, &l.Status, &l.SentAt, &errMsg, &l.Attempts, &l.CreatedAt); err != nil {
		return nil, err
	}
	if subject != nil {
		l.Subject = *subject
	}
	if errMsg != nil {
		l.ErrorMessage = *errMsg
	}
	return &l, nil
}

// Create inserts a pending log and fills in its ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, l *models.NotificationLog) error {
	const q = `INSERT INTO notification_logs (business_id, customer_id, claim_id, notification_type, channel, recipient, subject, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`
	if l.Status == "" {
		l.Status = models.NotificationStatusPending
	}
	return r.db.QueryRow(ctx, q, l.BusinessID, l.CustomerID, l.ClaimID, l.NotificationType, l.Channel, l.Recipient,
		l.Subject, l.Body, l.Status).Scan(&l.ID, &l.CreatedAt)
}

// Get returns a log by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error) {
	return scanLog(r.db.QueryRow(ctx, `SELECT `+logColumns+` FROM notification_logs WHERE id = $1`, id))
}

// GetForBusiness returns one of a business's logs.
func (r *Repository) GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.NotificationLog, error) {
	return scanLog(r.db.QueryRow(ctx, `SELECT `+logColumns+` FROM notification_logs WHERE id = $1 AND business_id = $2`, id, businessID))
}

// ListByBusiness returns a business's logs, newest first.
func (r *Repository) ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]*models.NotificationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+logColumns+` FROM notification_logs WHERE business_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, businessID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.NotificationLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE notification_logs SET status = 'sent', sent_at = $2, error_message = NULL,
		attempts = attempts + 1 WHERE id = $1`, id, at)
	return err
}

// MarkFailed records a failed delivery attempt.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.Exec(ctx, `UPDATE notification_logs SET status = 'failed', error_message = $2,
		attempts = attempts + 1 WHERE id = $1`, id, reason)
	return err
}

// MarkPending resets a log before it is queued again.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE notification_logs SET status = 'pending' WHERE id = $1`, id)
	return err
}

package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
)

// Repository handles business and user persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an auth repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, business_id, email, password_hash, full_name, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.BusinessID, &u.Email, &u.Password, &u.FullName, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// List returns all users for admins.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY full_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u.ToPublic())
	}
	return list, rows.Err()
}

// CreateBusinessOwner inserts a business and its owner account in one transaction.
func (r *Repository) CreateBusinessOwner(ctx context.Context, businessName, email, passwordHash, fullName string) (*models.Business, *models.User, error) {
	var b models.Business
	var u *models.User
	err := database.WithTx(ctx, r.db, func(tx database.DBTX) error {
		if err := tx.QueryRow(ctx, `INSERT INTO businesses (name) VALUES ($1) RETURNING id, name, created_at`, businessName).
			Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return err
		}
		var err error
		u, err = scanUser(tx.QueryRow(ctx, `INSERT INTO users (business_id, email, password_hash, full_name, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+userColumns, b.ID, email, passwordHash, fullName, string(models.RoleBusiness)))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &b, u, nil
}

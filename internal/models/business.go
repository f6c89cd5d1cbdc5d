package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the principal's role.
type Role string

const (
	RoleBusiness Role = "business"
	RoleAdmin    Role = "admin"
)

// Business owns vouchers and campaigns.
type Business struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a business operator account.
type User struct {
	ID         uuid.UUID  `json:"id"`
	BusinessID *uuid.UUID `json:"businessId,omitempty"`
	Email      string     `json:"email"`
	Password   string     `json:"-"`
	FullName   string     `json:"fullName"`
	Role       Role       `json:"role"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID         uuid.UUID  `json:"id"`
	BusinessID *uuid.UUID `json:"businessId,omitempty"`
	Email      string     `json:"email"`
	FullName   string     `json:"fullName"`
	Role       Role       `json:"role"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{ID: u.ID, BusinessID: u.BusinessID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

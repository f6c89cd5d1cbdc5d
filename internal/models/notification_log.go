package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationClaimConfirmation = "claim_confirmation"
	NotificationRedemptionReceipt = "redemption_receipt"
)

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// NotificationLog statuses.
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// NotificationLog records one delivery attempt to a customer.
type NotificationLog struct {
	ID               uuid.UUID  `json:"id"`
	BusinessID       uuid.UUID  `json:"businessId"`
	CustomerID       *uuid.UUID `json:"customerId,omitempty"`
	ClaimID          *uuid.UUID `json:"claimId,omitempty"`
	NotificationType string     `json:"notificationType"`
	Channel          string     `json:"channel"`
	Recipient        string     `json:"recipient"`
	Subject          string     `json:"subject,omitempty"`
	Body             string     `json:"body,omitempty"`
	Status           string     `json:"status"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	Attempts         int        `json:"attempts"`
	CreatedAt        time.Time  `json:"createdAt"`
}

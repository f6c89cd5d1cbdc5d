package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TransactionStatusCompleted = "completed"

// Transaction is the sale produced by exactly one successful redemption. Immutable once written.
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"userId"`
	BusinessID      uuid.UUID       `json:"businessId"`
	VoucherID       uuid.UUID       `json:"voucherId"`
	ClaimID         uuid.UUID       `json:"claimId"`
	Amount          decimal.Decimal `json:"amount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	Status          string          `json:"status"`
	ReferenceNumber string          `json:"referenceNumber"`
	Location        string          `json:"location,omitempty"`
	RedeemedAt      time.Time       `json:"redeemedAt"`
}

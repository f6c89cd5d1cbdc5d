// Package notifications fans committed claims and redemptions out to customers, dashboards and the
// event stream, and delivers queued customer messages.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/events"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/realtime"
	"github.com/couponhub/backend/internal/redemption"
	"github.com/couponhub/backend/pkg/queue"
)

// Enqueuer schedules a notification job.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, payload queue.NotificationPayload) error
}

// Broadcaster pushes an event to a business's live dashboards.
type Broadcaster interface {
	Publish(businessID uuid.UUID, event string, payload interface{})
}

// ClaimEvent is the payload of voucher.claimed and claim.created.
type ClaimEvent struct {
	ClaimID      uuid.UUID  `json:"claimId"`
	VoucherID    uuid.UUID  `json:"voucherId"`
	VoucherCode  string     `json:"voucherCode"`
	CustomerID   uuid.UUID  `json:"customerId"`
	Method       string     `json:"method"`
	SourceType   string     `json:"sourceType"`
	CampaignID   *uuid.UUID `json:"campaignId,omitempty"`
	ReferralCode string     `json:"referralCode,omitempty"`
	UserStatus   string     `json:"userStatus"`
	ClaimedAt    time.Time  `json:"claimedAt"`
}

// RedeemEvent is the payload of voucher.redeemed.
type RedeemEvent struct {
	TransactionID   uuid.UUID       `json:"transactionId"`
	ReferenceNumber string          `json:"referenceNumber"`
	ClaimID         uuid.UUID       `json:"claimId"`
	VoucherID       uuid.UUID       `json:"voucherId"`
	VoucherCode     string          `json:"voucherCode"`
	CustomerName    string          `json:"customerName"`
	Amount          decimal.Decimal `json:"amount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	ReferralCode    string          `json:"referralCode,omitempty"`
	RedeemedAt      time.Time       `json:"redeemedAt"`
}

// Dispatcher reacts to committed claims and redemptions. Every side effect is best-effort.
type Dispatcher struct {
	jobs      Enqueuer
	publisher events.Publisher
	live      Broadcaster
	logger    *zap.Logger
}

var (
	_ claims.Listener     = (*Dispatcher)(nil)
	_ redemption.Listener = (*Dispatcher)(nil)
)

// NewDispatcher creates a dispatcher. Any collaborator may be nil.
func NewDispatcher(jobs Enqueuer, publisher events.Publisher, live Broadcaster, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Dispatcher{jobs: jobs, publisher: publisher, live: live, logger: logger}
}

// ClaimCreated implements claims.Listener.
func (d *Dispatcher) ClaimCreated(ctx context.Context, res *claims.Result) {
	c := res.Claim
	ev := ClaimEvent{
		ClaimID:      c.ID,
		VoucherID:    c.VoucherID,
		VoucherCode:  res.Voucher.Code,
		CustomerID:   c.CustomerID,
		Method:       string(c.ClaimMethod),
		SourceType:   c.Source.Type,
		CampaignID:   c.Source.CampaignID,
		ReferralCode: c.Source.ReferralCode,
		UserStatus:   res.UserStatus,
		ClaimedAt:    c.ClaimDate,
	}
	d.publish(ctx, events.TypeVoucherClaimed, c.BusinessID, ev)
	d.broadcast(c.BusinessID, realtime.EventClaimCreated, ev)

	subject, body := claimConfirmation(res)
	d.enqueue(ctx, models.NotificationClaimConfirmation, res.Customer, c, subject, body)
}

// Redeemed implements redemption.Listener.
func (d *Dispatcher) Redeemed(ctx context.Context, res *redemption.Result) {
	t := res.Transaction
	ev := RedeemEvent{
		TransactionID:   t.ID,
		ReferenceNumber: t.ReferenceNumber,
		ClaimID:         t.ClaimID,
		VoucherID:       t.VoucherID,
		VoucherCode:     res.Voucher.Code,
		CustomerName:    res.Customer.Name,
		Amount:          t.Amount,
		DiscountAmount:  t.DiscountAmount,
		FinalAmount:     t.FinalAmount,
		ReferralCode:    res.Claim.Source.ReferralCode,
		RedeemedAt:      t.RedeemedAt,
	}
	d.publish(ctx, events.TypeVoucherRedeemed, t.BusinessID, ev)
	d.broadcast(t.BusinessID, realtime.EventVoucherRedeemed, ev)

	if d.jobs == nil {
		return
	}
	// The result carries masked contact details, so the worker resolves the recipient from the customer.
	subject, body := redemptionReceipt(res)
	customerID, claimID := t.UserID, t.ClaimID
	payload := queue.NotificationPayload{
		NotificationType: models.NotificationRedemptionReceipt,
		BusinessID:       t.BusinessID,
		CustomerID:       &customerID,
		ClaimID:          &claimID,
		Subject:          subject,
		Body:             body,
	}
	if err := d.jobs.EnqueueNotification(ctx, payload); err != nil {
		d.logger.Warn("enqueue notification failed", zap.Error(err), zap.String("type", payload.NotificationType),
			zap.String("claim_id", claimID.String()))
	}
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, businessID uuid.UUID, data interface{}) {
	if err := d.publisher.Publish(ctx, eventType, businessID, data); err != nil {
		d.logger.Warn("publish event failed", zap.Error(err), zap.String("type", eventType),
			zap.String("business_id", businessID.String()))
	}
}

func (d *Dispatcher) broadcast(businessID uuid.UUID, event string, data interface{}) {
	if d.live != nil {
		d.live.Publish(businessID, event, data)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, notificationType string, customer *models.Customer, c *models.Claim, subject, body string) {
	if d.jobs == nil {
		return
	}
	channel, recipient := Route(customer)
	if channel == "" {
		d.logger.Debug("customer has no contact channel", zap.String("customer_id", customer.ID.String()))
		return
	}
	customerID, claimID := customer.ID, c.ID
	payload := queue.NotificationPayload{
		NotificationType: notificationType,
		Channel:          channel,
		BusinessID:       c.BusinessID,
		CustomerID:       &customerID,
		ClaimID:          &claimID,
		Recipient:        recipient,
		Subject:          subject,
		Body:             body,
	}
	if err := d.jobs.EnqueueNotification(ctx, payload); err != nil {
		d.logger.Warn("enqueue notification failed", zap.Error(err), zap.String("type", notificationType),
			zap.String("claim_id", claimID.String()))
	}
}

// Route picks the delivery channel for a customer: email when known, otherwise SMS.
func Route(c *models.Customer) (channel, recipient string) {
	switch {
	case c == nil:
		return "", ""
	case c.Email != "":
		return models.ChannelEmail, c.Email
	case c.Phone != "":
		return models.ChannelSMS, c.Phone
	}
	return "", ""
}

func claimConfirmation(res *claims.Result) (subject, body string) {
	v := res.Voucher
	subject = fmt.Sprintf("Your voucher %s is ready", v.Code)
	body = fmt.Sprintf("Hi %s, you claimed %q. Show your QR code at checkout before %s.",
		res.Customer.Name, v.Title, res.Claim.ExpiryDate.UTC().Format("Jan 2, 2006"))
	return subject, body
}

func redemptionReceipt(res *redemption.Result) (subject, body string) {
	t := res.Transaction
	subject = fmt.Sprintf("Receipt %s", t.ReferenceNumber)
	body = fmt.Sprintf("Hi %s, voucher %s was applied to your purchase of %s. You saved %s and paid %s.",
		res.Customer.Name, res.Voucher.Code, t.Amount.StringFixed(2), t.DiscountAmount.StringFixed(2),
		t.FinalAmount.StringFixed(2))
	return subject, body
}

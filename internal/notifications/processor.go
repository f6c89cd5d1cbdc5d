package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/metrics"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/queue"
)

// LogStore persists delivery attempts; *Repository implements it.
type LogStore interface {
	Create(ctx context.Context, l *models.NotificationLog) error
	Get(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// CustomerLookup resolves the recipient of a job that only names the customer.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// Processor delivers notification jobs and records each attempt in notification_logs.
type Processor struct {
	logs      LogStore
	customers CustomerLookup
	sender    Sender
	logger    *zap.Logger
	now       func() time.Time
}

// NewProcessor creates a notification job processor.
func NewProcessor(logs LogStore, customers CustomerLookup, sender Sender, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{logs: logs, customers: customers, sender: sender, logger: logger, now: time.Now}
}

// Process executes one notification job. A delivery failure is returned so the job is retried; the
// job's payload is rewritten to point at the log so retries update the same row.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var entry *models.NotificationLog
	if payload.LogID != nil {
		l, err := p.logs.Get(ctx, *payload.LogID)
		if err != nil {
			return fmt.Errorf("load notification log %s: %w", payload.LogID, err)
		}
		if l.Status == models.NotificationStatusSent {
			p.logger.Info("notification already sent", zap.String("log_id", l.ID.String()))
			return nil
		}
		entry = l
	} else {
		if err := p.resolveRecipient(ctx, &payload); err != nil {
			return err
		}
		if payload.Channel == "" {
			p.logger.Info("notification skipped, no contact channel", zap.String("type", payload.NotificationType))
			metrics.CountNotification(payload.NotificationType, "skipped")
			return nil
		}
		entry = &models.NotificationLog{
			BusinessID:       payload.BusinessID,
			CustomerID:       payload.CustomerID,
			ClaimID:          payload.ClaimID,
			NotificationType: payload.NotificationType,
			Channel:          payload.Channel,
			Recipient:        payload.Recipient,
			Subject:          payload.Subject,
			Body:             payload.Body,
		}
		if err := p.logs.Create(ctx, entry); err != nil {
			return fmt.Errorf("create notification log: %w", err)
		}
		payload.LogID = &entry.ID
		if raw, err := json.Marshal(payload); err == nil {
			job.Payload = raw
		}
	}

	err := p.sender.Send(ctx, Message{
		Type:      entry.NotificationType,
		Channel:   entry.Channel,
		Recipient: entry.Recipient,
		Subject:   entry.Subject,
		Body:      entry.Body,
	})
	if err != nil {
		metrics.CountNotification(entry.NotificationType, models.NotificationStatusFailed)
		if markErr := p.logs.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			p.logger.Error("mark notification failed", zap.Error(markErr), zap.String("log_id", entry.ID.String()))
		}
		return fmt.Errorf("send %s: %w", entry.NotificationType, err)
	}
	metrics.CountNotification(entry.NotificationType, models.NotificationStatusSent)
	if err := p.logs.MarkSent(ctx, entry.ID, p.now()); err != nil {
		p.logger.Error("mark notification sent", zap.Error(err), zap.String("log_id", entry.ID.String()))
	}
	return nil
}

func (p *Processor) resolveRecipient(ctx context.Context, payload *queue.NotificationPayload) error {
	if payload.Recipient != "" || payload.CustomerID == nil || p.customers == nil {
		return nil
	}
	c, err := p.customers.GetCustomer(ctx, *payload.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", payload.CustomerID, err)
	}
	payload.Channel, payload.Recipient = Route(c)
	return nil
}

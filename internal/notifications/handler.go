package notifications

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/database"
	"github.com/couponhub/backend/pkg/queue"
	"github.com/couponhub/backend/pkg/response"
)

// Reader is the log access the handler needs.
type Reader interface {
	GetForBusiness(ctx context.Context, businessID, id uuid.UUID) (*models.NotificationLog, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]*models.NotificationLog, error)
	MarkPending(ctx context.Context, id uuid.UUID) error
}

// Handler handles notification log HTTP endpoints.
type Handler struct {
	repo   Reader
	jobs   Enqueuer
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(repo Reader, jobs Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jobs: jobs, logger: logger}
}

// List handles GET /notifications?limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var q struct {
		Limit  int `form:"limit"`
		Offset int `form:"offset"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	logs, err := h.repo.ListByBusiness(c.Request.Context(), businessID, q.Limit, q.Offset)
	if err != nil {
		response.Internal(c, "failed to load notification logs")
		return
	}
	response.OK(c, logs)
}

// Resend handles POST /notifications/:id/resend. The existing log is reset to pending and queued again.
func (h *Handler) Resend(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	ctx := c.Request.Context()
	l, err := h.repo.GetForBusiness(ctx, businessID, id)
	if database.IsNoRows(err) {
		response.NotFound(c, "notification not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load notification")
		return
	}
	if err := h.repo.MarkPending(ctx, l.ID); err != nil {
		response.Internal(c, "failed to reset notification")
		return
	}
	if err := h.jobs.EnqueueNotification(ctx, queue.NotificationPayload{
		NotificationType: l.NotificationType,
		Channel:          l.Channel,
		BusinessID:       l.BusinessID,
		CustomerID:       l.CustomerID,
		ClaimID:          l.ClaimID,
		Recipient:        l.Recipient,
		Subject:          l.Subject,
		Body:             l.Body,
		LogID:            &l.ID,
	}); err != nil {
		h.logger.Error("enqueue resend failed", zap.Error(err), zap.String("log_id", l.ID.String()))
		response.Internal(c, "failed to queue notification")
		return
	}
	response.Accepted(c, gin.H{"message": "resend queued", "id": l.ID})
}

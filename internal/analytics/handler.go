package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/queue"
	"github.com/couponhub/backend/pkg/response"
)

const defaultWindow = 30 * 24 * time.Hour

// Reader loads a business's rollup.
type Reader interface {
	Summary(ctx context.Context, businessID uuid.UUID, from, to time.Time) (*models.BusinessAnalytics, error)
}

// Enqueuer schedules a recompute job.
type Enqueuer interface {
	EnqueueAnalyticsRecompute(ctx context.Context, payload queue.AnalyticsPayload) error
}

// Handler handles /analytics endpoints.
type Handler struct {
	reader Reader
	jobs   Enqueuer
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates an analytics handler.
func NewHandler(reader Reader, jobs Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, jobs: jobs, logger: logger, now: time.Now}
}

// parseRange reads from/to as YYYY-MM-DD. Missing bounds default to the last 30 days.
func parseRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if toStr != "" {
		t, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date")
		}
		to = t
	}
	from := to.Add(-defaultWindow)
	if fromStr != "" {
		t, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date")
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	return from, to, nil
}

// Summary handles GET /analytics/summary?from=&to=.
func (h *Handler) Summary(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	from, to, err := parseRange(c.Query("from"), c.Query("to"), h.now())
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	summary, err := h.reader.Summary(c.Request.Context(), businessID, from, to)
	if err != nil {
		h.logger.Error("load analytics summary", zap.Error(err), zap.String("business_id", businessID.String()))
		response.Internal(c, "failed to load analytics")
		return
	}
	response.OK(c, summary)
}

// Recompute handles POST /analytics/recompute.
func (h *Handler) Recompute(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	if err := h.jobs.EnqueueAnalyticsRecompute(c.Request.Context(), queue.AnalyticsPayload{BusinessID: businessID}); err != nil {
		h.logger.Error("enqueue analytics recompute", zap.Error(err), zap.String("business_id", businessID.String()))
		response.Internal(c, "failed to schedule recompute")
		return
	}
	response.Accepted(c, gin.H{"businessId": businessID, "status": "queued"})
}

// Recomputer rebuilds one business's rollup.
type Recomputer interface {
	Recompute(ctx context.Context, businessID uuid.UUID) error
}

// Processor runs analytics recompute jobs.
type Processor struct {
	repo   Recomputer
	logger *zap.Logger
}

// NewProcessor creates a recompute job processor.
func NewProcessor(repo Recomputer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{repo: repo, logger: logger}
}

// Process executes one recompute job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAnalyticsRecompute {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AnalyticsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.repo.Recompute(ctx, payload.BusinessID); err != nil {
		return err
	}
	p.logger.Info("analytics recomputed", zap.String("business_id", payload.BusinessID.String()))
	return nil
}

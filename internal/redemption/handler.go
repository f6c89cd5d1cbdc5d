package redemption

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/response"
)

// TransactionLister lists a business's transactions.
type TransactionLister interface {
	List(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// RedeemRequest is the body for POST /redemption/redeem.
type RedeemRequest struct {
	VoucherID  uuid.UUID       `json:"voucherId" binding:"required"`
	CustomerID uuid.UUID       `json:"customerId" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Location   string          `json:"location"`
}

// ScanRequest is the body for POST /redemption/scan.
type ScanRequest struct {
	QRPayload string `json:"qrPayload" binding:"required"`
}

// Handler handles redemption endpoints.
type Handler struct {
	coord        *Coordinator
	transactions TransactionLister
}

// NewHandler creates a redemption handler.
func NewHandler(coord *Coordinator, transactions TransactionLister) *Handler {
	return &Handler{coord: coord, transactions: transactions}
}

// Redeem handles POST /redemption/redeem.
func (h *Handler) Redeem(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.coord.Redeem(c.Request.Context(), Request{
		VoucherID:  req.VoucherID,
		CustomerID: req.CustomerID,
		BusinessID: businessID,
		Amount:     req.Amount,
		Location:   req.Location,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Scan handles POST /redemption/scan.
func (h *Handler) Scan(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.coord.Scan(c.Request.Context(), businessID, req.QRPayload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Transactions handles GET /transactions?limit=&offset=.
func (h *Handler) Transactions(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var q struct {
		Limit  int `form:"limit"`
		Offset int `form:"offset"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	list, err := h.transactions.List(c.Request.Context(), businessID, q.Limit, q.Offset)
	if err != nil {
		response.Internal(c, "failed to list transactions")
		return
	}
	response.OK(c, list)
}

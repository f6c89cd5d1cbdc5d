package claims

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/response"
)

// ClaimRequest is the body for POST /public/vouchers/:code/claim.
type ClaimRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Method string `json:"method"`
}

// ClaimResponse is returned for every newly created claim.
type ClaimResponse struct {
	ClaimID    uuid.UUID `json:"claimId"`
	VoucherID  uuid.UUID `json:"voucherId"`
	QRPayload  string    `json:"qrPayload"`
	UserStatus string    `json:"userStatus"`
	ExpiryDate string    `json:"expiryDate"`
}

// NewClaimResponse builds the response body for a claim result.
func NewClaimResponse(res *Result) ClaimResponse {
	return ClaimResponse{
		ClaimID:    res.Claim.ID,
		VoucherID:  res.Claim.VoucherID,
		QRPayload:  res.QRPayload,
		UserStatus: res.UserStatus,
		ExpiryDate: res.Claim.ExpiryDate.UTC().Format(time.RFC3339),
	}
}

// Handler handles claim endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a claims handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// PublicClaim handles POST /public/vouchers/:code/claim for marketplace and widget claims.
func (h *Handler) PublicClaim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	method := models.ClaimMethod(req.Method)
	if method == "" {
		method = models.ClaimMethodMarketplace
	}
	res, err := h.svc.ClaimByCode(c.Request.Context(), c.Param("code"), Request{
		Identity: Identity{Name: req.Name, Email: req.Email, Phone: req.Phone},
		Method:   method,
		Source:   models.ClaimSource{Type: models.SourceDirect},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, NewClaimResponse(res))
}

// List handles GET /claims?customerId=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var q struct {
		CustomerID string `form:"customerId"`
		Limit      int    `form:"limit"`
		Offset     int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	var customerID *uuid.UUID
	if q.CustomerID != "" {
		id, err := uuid.Parse(q.CustomerID)
		if err != nil {
			response.BadRequest(c, "invalid customerId")
			return
		}
		customerID = &id
	}
	list, err := h.svc.List(c.Request.Context(), businessID, customerID, q.Limit, q.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /claims/:id.
func (h *Handler) Get(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid claim id")
		return
	}
	claim, err := h.svc.Get(c.Request.Context(), businessID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, claim)
}

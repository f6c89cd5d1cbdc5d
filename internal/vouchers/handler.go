package vouchers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/response"
)

// CreateRequest is the body for POST /vouchers.
type CreateRequest struct {
	Code            string           `json:"code"`
	Title           string           `json:"title" binding:"required"`
	Description     string           `json:"description"`
	DiscountType    string           `json:"discountType" binding:"required"`
	DiscountValue   decimal.Decimal  `json:"discountValue"`
	MinimumPurchase *decimal.Decimal `json:"minimumPurchase"`
	MaximumDiscount *decimal.Decimal `json:"maximumDiscount"`
	StartDate       string           `json:"startDate" binding:"required"`
	EndDate         string           `json:"endDate" binding:"required"`
	UsageLimit      struct {
		PerCoupon   *int `json:"perCoupon"`
		PerCustomer *int `json:"perCustomer"`
	} `json:"usageLimit"`
	Inactive bool `json:"inactive"`
}

// ToggleRequest is the body for PATCH /vouchers/:id/toggle.
type ToggleRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// Handler handles voucher HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a voucher handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /vouchers.
func (h *Handler) Create(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		response.BadRequest(c, "invalid startDate")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		response.BadRequest(c, "invalid endDate")
		return
	}

	v, display, err := h.svc.Create(c.Request.Context(), businessID, Definition{
		Code:            req.Code,
		Title:           req.Title,
		Description:     req.Description,
		DiscountType:    models.DiscountType(req.DiscountType),
		DiscountValue:   req.DiscountValue,
		MinimumPurchase: req.MinimumPurchase,
		MaximumDiscount: req.MaximumDiscount,
		StartDate:       start,
		EndDate:         end,
		UsageLimit:      models.UsageLimit{PerCoupon: req.UsageLimit.PerCoupon, PerCustomer: req.UsageLimit.PerCustomer},
		Inactive:        req.Inactive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"voucher": v, "displayQr": display})
}

// List handles GET /vouchers?active=&discountType=&q=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var q struct {
		Active       bool   `form:"active"`
		DiscountType string `form:"discountType"`
		Query        string `form:"q"`
		Limit        int    `form:"limit"`
		Offset       int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	list, err := h.svc.FindActive(c.Request.Context(), businessID, Filter{
		ActiveOnly:   q.Active,
		DiscountType: models.DiscountType(q.DiscountType),
		Query:        q.Query,
		Limit:        q.Limit,
		Offset:       q.Offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /vouchers/:id.
func (h *Handler) Get(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}
	v, err := h.svc.Get(c.Request.Context(), businessID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}

// Toggle handles PATCH /vouchers/:id/toggle.
func (h *Handler) Toggle(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "active is required")
		return
	}
	v, err := h.svc.Toggle(c.Request.Context(), businessID, id, *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}

// PublicGet handles GET /public/vouchers/:code.
func (h *Handler) PublicGet(c *gin.Context) {
	v, err := h.svc.PublicView(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"code":            v.Code,
		"title":           v.Title,
		"description":     v.Description,
		"discountType":    v.DiscountType,
		"discountValue":   v.DiscountValue,
		"minimumPurchase": v.MinimumPurchase,
		"maximumDiscount": v.MaximumDiscount,
		"endDate":         v.EndDate,
		"qrImageUrl":      v.QRImageURL,
	})
}

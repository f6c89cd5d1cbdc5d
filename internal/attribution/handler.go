package attribution

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/pkg/response"
)

// SubmitRequest is the body for POST /attribution/submit.
type SubmitRequest struct {
	CampaignID   string `json:"campaignId"`
	ReferralCode string `json:"referralCode"`
	Context      string `json:"ctx"`
	FormData     struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"formData"`
}

// Handler handles attribution and campaign endpoints.
type Handler struct {
	tracker   *Tracker
	publicURL string
}

// NewHandler creates an attribution handler. publicURL is the claim landing page host.
func NewHandler(tracker *Tracker, publicURL string) *Handler {
	return &Handler{tracker: tracker, publicURL: strings.TrimRight(publicURL, "/")}
}

// Click handles POST|GET /attribution/click/:code: 302 to the claim page carrying a context token.
func (h *Handler) Click(c *gin.Context) {
	_, token, err := h.tracker.RecordClick(c.Request.Context(), c.Param("code"), ClickMeta{
		UserAgent: c.GetHeader("User-Agent"),
		IP:        c.ClientIP(),
		Header:    c.Request.Header,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusFound, h.publicURL+"/claim?ctx="+url.QueryEscape(token))
}

// Submit handles POST /attribution/submit.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var campaignID uuid.UUID
	if req.CampaignID != "" {
		id, err := uuid.Parse(req.CampaignID)
		if err != nil {
			response.BadRequest(c, "invalid campaignId")
			return
		}
		campaignID = id
	}
	res, err := h.tracker.Submit(c.Request.Context(), SubmitInput{
		CampaignID:   campaignID,
		ReferralCode: req.ReferralCode,
		ContextToken: req.Context,
		Identity:     claims.Identity{Name: req.FormData.Name, Email: req.FormData.Email, Phone: req.FormData.Phone},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, claims.NewClaimResponse(res))
}

// CreateCampaign handles POST /campaigns.
func (h *Handler) CreateCampaign(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	var in CampaignInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.tracker.CreateCampaign(c.Request.Context(), businessID, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, d)
}

// GetCampaign handles GET /campaigns/:id.
func (h *Handler) GetCampaign(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid campaign id")
		return
	}
	d, err := h.tracker.Campaign(c.Request.Context(), businessID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, d)
}

// ListCampaigns handles GET /campaigns.
func (h *Handler) ListCampaigns(c *gin.Context) {
	businessID, _ := middleware.BusinessID(c)
	list, err := h.tracker.Campaigns(c.Request.Context(), businessID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

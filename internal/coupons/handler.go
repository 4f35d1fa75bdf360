package coupons

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-events/backend/internal/middleware"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/response"
)

var errTierNotFound = apperrors.NotFound("TIER_NOT_FOUND", "pricing tier not found")

// TierReader resolves pricing tiers for previews.
type TierReader interface {
	GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error)
}

// PriceRequest is the body for POST /events/:id/coupons/price. An empty code quotes the tier price.
type PriceRequest struct {
	Code       string     `json:"code"`
	TierID     uuid.UUID  `json:"tier_id" binding:"required"`
	ModalityID uuid.UUID  `json:"modality_id" binding:"required"`
	CategoryID uuid.UUID  `json:"category_id" binding:"required"`
	GenderID   *uuid.UUID `json:"gender_id"`
}

// Handler handles coupon HTTP endpoints.
type Handler struct {
	svc   *Service
	tiers TierReader
}

// NewHandler creates a coupons handler.
func NewHandler(svc *Service, tiers TierReader) *Handler {
	return &Handler{svc: svc, tiers: tiers}
}

// Price handles POST /events/:id/coupons/price. It previews the discount; nothing is consumed.
func (h *Handler) Price(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tier, err := h.tiers.GetTier(c.Request.Context(), req.TierID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if tier == nil || tier.EventID != eventID {
		response.Error(c, errTierNotFound)
		return
	}
	q, err := h.svc.Price(c.Request.Context(), req.Code, PricingContext{
		EventID:    eventID,
		ModalityID: req.ModalityID,
		CategoryID: req.CategoryID,
		GenderID:   req.GenderID,
		BasePrice:  tier.Price,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Create handles POST /admin/events/:id/coupons.
func (h *Handler) Create(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, _ := middleware.Principal(c)
	coupon, err := h.svc.Create(c.Request.Context(), p, eventID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, coupon)
}

// List handles GET /admin/events/:id/coupons.
func (h *Handler) List(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	p, _ := middleware.Principal(c)
	list, err := h.svc.ListByEvent(c.Request.Context(), p, eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []*models.Coupon{}
	}
	response.OK(c, list)
}

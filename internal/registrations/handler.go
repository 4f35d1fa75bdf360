package registrations

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/middleware"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/response"
)

// CreateRequest is the body for POST /registrations.
type CreateRequest struct {
	EventID    uuid.UUID  `json:"event_id" binding:"required"`
	ModalityID uuid.UUID  `json:"modality_id" binding:"required"`
	CategoryID uuid.UUID  `json:"category_id" binding:"required"`
	GenderID   *uuid.UUID `json:"gender_id"`
	TierID     uuid.UUID  `json:"tier_id" binding:"required"`
	CouponCode string     `json:"coupon_code"`
}

// Input turns the request into lifecycle input for user.
func (r CreateRequest) Input(userID uuid.UUID) CreateInput {
	return CreateInput{
		UserID:     userID,
		EventID:    r.EventID,
		ModalityID: r.ModalityID,
		CategoryID: r.CategoryID,
		GenderID:   r.GenderID,
		TierID:     r.TierID,
		CouponCode: r.CouponCode,
	}
}

// ApplyCouponRequest is the body for POST /registrations/:id/coupon.
type ApplyCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

// ConfirmRequest is the body for POST /admin/registrations/:id/confirm.
type ConfirmRequest struct {
	Method models.PaymentMethod `json:"method"`
	Amount *decimal.Decimal     `json:"amount"`
}

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RespondError writes err, carrying the existing registration on tuple conflicts.
func RespondError(c *gin.Context, err error) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		response.ConflictWithData(c, conflict.Code, conflict.Error(), gin.H{
			"registration": conflict.Existing,
			"continuation": conflict.Continuation,
		})
		return
	}
	response.Error(c, err)
}

// Create handles POST /registrations.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, _ := middleware.Principal(c)
	res, err := h.svc.Create(c.Request.Context(), req.Input(p.UserID))
	if err != nil {
		RespondError(c, err)
		return
	}
	response.Created(c, res)
}

// Get handles GET /registrations/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := registrationID(c)
	if !ok {
		return
	}
	p, _ := middleware.Principal(c)
	r, err := h.svc.Get(c.Request.Context(), p, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, r)
}

// ApplyCoupon handles POST /registrations/:id/coupon.
func (h *Handler) ApplyCoupon(c *gin.Context) {
	id, ok := registrationID(c)
	if !ok {
		return
	}
	var req ApplyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, _ := middleware.Principal(c)
	res, err := h.svc.ApplyCoupon(c.Request.Context(), p, id, req.Code)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, res)
}

// Cancel handles POST /registrations/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	h.terminate(c, h.svc.Cancel)
}

// Reject handles POST /admin/registrations/:id/reject.
func (h *Handler) Reject(c *gin.Context) {
	h.terminate(c, h.svc.Reject)
}

func (h *Handler) terminate(c *gin.Context, fn func(ctx context.Context, p auth.Principal, id uuid.UUID) (*models.Registration, error)) {
	id, ok := registrationID(c)
	if !ok {
		return
	}
	p, _ := middleware.Principal(c)
	r, err := fn(c.Request.Context(), p, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, r)
}

// Confirm handles POST /admin/registrations/:id/confirm: manual confirmation without a transaction.
func (h *Handler) Confirm(c *gin.Context) {
	id, ok := registrationID(c)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Method != "" && !req.Method.Valid() {
		response.BadRequest(c, "invalid payment method")
		return
	}
	r, err := h.svc.Confirm(c.Request.Context(), id, PaymentMeta{Method: req.Method, Amount: req.Amount})
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, r)
}

// ListTiers handles GET /events/:id/tiers.
func (h *Handler) ListTiers(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	list, err := h.svc.ListTiers(c.Request.Context(), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []*models.PricingTier{}
	}
	response.OK(c, list)
}

// CreateTier handles POST /admin/events/:id/tiers.
func (h *Handler) CreateTier(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req TierInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, _ := middleware.Principal(c)
	t, err := h.svc.CreateTier(c.Request.Context(), p, eventID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, t)
}

func registrationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return uuid.Nil, false
	}
	return id, true
}

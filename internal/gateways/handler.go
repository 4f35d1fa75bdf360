package gateways

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-events/backend/internal/middleware"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/response"
)

// SetActiveRequest is the body for PATCH /admin/gateways/:id/active.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// Handler handles gateway HTTP endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler creates a gateways handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Create handles POST /admin/gateways.
func (h *Handler) Create(c *gin.Context) {
	var req CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, _ := middleware.Principal(c)
	g, err := h.registry.Create(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, g)
}

// List handles GET /admin/gateways.
func (h *Handler) List(c *gin.Context) {
	p, _ := middleware.Principal(c)
	list, err := h.registry.List(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []*models.GatewayConfig{}
	}
	response.OK(c, list)
}

// SetActive handles PATCH /admin/gateways/:id/active.
func (h *Handler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid gateway id")
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, _ := middleware.Principal(c)
	g, err := h.registry.SetActive(c.Request.Context(), p, id, *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, g)
}

// Select handles GET /gateways/select?method=&entity_type=.
func (h *Handler) Select(c *gin.Context) {
	method := models.PaymentMethod(c.Query("method"))
	if !method.Valid() {
		response.BadRequest(c, "invalid payment method")
		return
	}
	kind := models.EntityEventRegistration
	if raw := c.Query("entity_type"); raw != "" {
		if kind = models.ParseEntityKind(raw); kind == models.EntityNone {
			response.BadRequest(c, "invalid entity type")
			return
		}
	}
	g, err := h.registry.SelectGateway(c.Request.Context(), method, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, Public(g))
}

// Package checkout starts a paid registration: it prices the registration, creates it and picks the
// gateway the client should pay through. Payment creation at the provider happens outside this service.
package checkout

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/coupons"
	"github.com/aura-events/backend/internal/gateways"
	"github.com/aura-events/backend/internal/middleware"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/registrations"
	"github.com/aura-events/backend/pkg/response"
	"github.com/aura-events/backend/pkg/validate"
)

// Registrar prices and creates registrations.
type Registrar interface {
	Quote(ctx context.Context, in registrations.CreateInput) (coupons.Quote, error)
	Create(ctx context.Context, in registrations.CreateInput) (*registrations.CreateResult, error)
}

// GatewaySelector picks the gateway for a payment.
type GatewaySelector interface {
	SelectGateway(ctx context.Context, method models.PaymentMethod, kind models.EntityKind) (*models.GatewayConfig, error)
}

// Request is the body for POST /checkout.
type Request struct {
	registrations.CreateRequest
	Method models.PaymentMethod `json:"method" binding:"required" validate:"required,payment_method"`
}

// Result is what the client needs to pay: the registration, its price and the gateway to use.
// Gateway is nil when nothing is due.
type Result struct {
	Registration *models.Registration    `json:"registration"`
	Quote        coupons.Quote           `json:"quote"`
	Gateway      *gateways.PublicGateway `json:"gateway"`
}

// Handler handles checkout.
type Handler struct {
	registrar Registrar
	gateways  GatewaySelector
	validator *validate.Validator
	logger    *zap.Logger
}

// NewHandler creates a checkout handler.
func NewHandler(registrar Registrar, selector GatewaySelector, v *validate.Validator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registrar: registrar, gateways: selector, validator: v, logger: logger}
}

// Checkout handles POST /checkout. The gateway is selected before the registration is created so an
// unpayable method leaves nothing behind. When no gateway fits, the checkout still goes through if nothing
// is due.
func (h *Handler) Checkout(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	p, _ := middleware.Principal(c)
	in := req.Input(p.UserID)

	gw, selectErr := h.gateways.SelectGateway(ctx, req.Method, models.EntityEventRegistration)
	if gw == nil && selectErr == nil {
		selectErr = gateways.ErrNoGatewayAvailable
	}
	if selectErr != nil {
		quote, err := h.registrar.Quote(ctx, in)
		if err != nil {
			registrations.RespondError(c, err)
			return
		}
		if quote.FinalPrice.IsPositive() {
			response.Error(c, selectErr)
			return
		}
	}

	res, err := h.registrar.Create(ctx, in)
	if err != nil {
		registrations.RespondError(c, err)
		return
	}

	out := Result{Registration: res.Registration, Quote: res.Quote}
	if res.Quote.FinalPrice.IsPositive() {
		if gw == nil {
			h.logger.Warn("registration became payable without a gateway",
				zap.String("registration_id", res.Registration.ID.String()), zap.Error(selectErr))
			response.Error(c, selectErr)
			return
		}
		pub := gateways.Public(gw)
		out.Gateway = &pub
	}
	provider := ""
	if out.Gateway != nil {
		provider = string(gw.Provider)
	}
	h.logger.Info("checkout started",
		zap.String("registration_id", res.Registration.ID.String()),
		zap.String("provider", provider),
		zap.String("final_price", res.Quote.FinalPrice.String()))
	response.Created(c, out)
}

package coupons

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/validate"
)

// Store is the admin-side persistence the Service needs.
type Store interface {
	Reader
	Create(ctx context.Context, c *models.Coupon) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Coupon, error)
}

// CreateInput describes a new coupon.
type CreateInput struct {
	Code       string     `json:"code" validate:"required,max=64"`
	Discount   int        `json:"discount" validate:"min=1,max=100"`
	ModalityID *uuid.UUID `json:"modality_id"`
	CategoryID *uuid.UUID `json:"category_id"`
	GenderID   *uuid.UUID `json:"gender_id"`
	MaxUses    int        `json:"max_uses" validate:"min=1"`
	StartDate  time.Time  `json:"start_date" validate:"required"`
	EndDate    time.Time  `json:"end_date" validate:"required,gtefield=StartDate"`
	Active     *bool      `json:"active"`
}

// Service administers coupons and previews prices.
type Service struct {
	store     Store
	engine    *Engine
	validator *validate.Validator
	now       func() time.Time
}

// NewService creates a coupon service.
func NewService(store Store, v *validate.Validator) *Service {
	return &Service{store: store, engine: NewEngine(store), validator: v, now: time.Now}
}

// Create adds a coupon to an event. Only ADMIN and SUPER_ADMIN may do this.
func (s *Service) Create(ctx context.Context, p auth.Principal, eventID uuid.UUID, in CreateInput) (*models.Coupon, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("coupon administration requires an admin role")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	c := &models.Coupon{
		EventID:    eventID,
		Code:       NormalizeCode(in.Code),
		Discount:   in.Discount,
		ModalityID: in.ModalityID,
		CategoryID: in.CategoryID,
		GenderID:   in.GenderID,
		MaxUses:    in.MaxUses,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Active:     in.Active == nil || *in.Active,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListByEvent lists an event's coupons with usage counts.
func (s *Service) ListByEvent(ctx context.Context, p auth.Principal, eventID uuid.UUID) ([]*models.Coupon, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("coupon administration requires an admin role")
	}
	return s.store.ListByEvent(ctx, eventID)
}

// Price quotes code against pc without consuming it. pc.Now defaults to the current time.
func (s *Service) Price(ctx context.Context, code string, pc PricingContext) (Quote, error) {
	if pc.Now.IsZero() {
		pc.Now = s.now()
	}
	return s.engine.ValidateAndPrice(ctx, code, pc)
}

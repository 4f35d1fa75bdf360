package registrations

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
)

// TierInput describes a pricing tier.
type TierInput struct {
	Name       string          `json:"name" validate:"max=120"`
	Price      decimal.Decimal `json:"price"`
	ValidFrom  *time.Time      `json:"valid_from"`
	ValidUntil *time.Time      `json:"valid_until"`
	MaxEntries int             `json:"max_entries" validate:"min=0"`
}

// CreateTier adds a pricing tier to an event. Admins only.
func (s *Service) CreateTier(ctx context.Context, p auth.Principal, eventID uuid.UUID, in TierInput) (*models.PricingTier, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("tier administration requires an admin role")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	if in.Price.IsNegative() {
		return nil, apperrors.Validation("price: must not be negative")
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return nil, apperrors.Validation("valid_until: must not be before valid_from")
	}
	t := &models.PricingTier{
		EventID:    eventID,
		Name:       strings.TrimSpace(in.Name),
		Price:      in.Price.Round(2),
		ValidFrom:  in.ValidFrom,
		ValidUntil: in.ValidUntil,
		MaxEntries: in.MaxEntries,
	}
	if err := s.store.CreateTier(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTiers lists an event's tiers.
func (s *Service) ListTiers(ctx context.Context, eventID uuid.UUID) ([]*models.PricingTier, error) {
	return s.store.ListTiers(ctx, eventID)
}

// GetTier returns a tier, or nil when none exists.
func (s *Service) GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error) {
	return s.store.GetTier(ctx, id)
}

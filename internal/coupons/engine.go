// Package coupons validates discount codes against a registration context and prices them.
package coupons

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/metrics"
)

var (
	ErrCouponNotFound    = apperrors.NotFound("COUPON_NOT_FOUND", "coupon not found")
	ErrCouponInactive    = apperrors.New(apperrors.KindIneligible, "COUPON_INACTIVE", "coupon is not active")
	ErrCouponExpired     = apperrors.New(apperrors.KindIneligible, "COUPON_EXPIRED", "coupon is outside its validity window")
	ErrCouponExhausted   = apperrors.New(apperrors.KindExhausted, "COUPON_EXHAUSTED", "coupon usage limit reached")
	ErrCouponNotEligible = apperrors.New(apperrors.KindIneligible, "COUPON_NOT_ELIGIBLE", "coupon does not apply to this selection")
)

var hundred = decimal.NewFromInt(100)

// PricingContext is the candidate registration a coupon is checked against.
type PricingContext struct {
	EventID    uuid.UUID
	ModalityID uuid.UUID
	CategoryID uuid.UUID
	GenderID   *uuid.UUID
	BasePrice  decimal.Decimal
	Now        time.Time
}

// Quote is the priced outcome. CouponID is nil when no coupon was applied.
type Quote struct {
	CouponID       *uuid.UUID      `json:"coupon_id,omitempty"`
	Code           string          `json:"code,omitempty"`
	BasePrice      decimal.Decimal `json:"base_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
}

// NoDiscount quotes the base price unchanged.
func NoDiscount(basePrice decimal.Decimal) Quote {
	return Quote{BasePrice: basePrice, DiscountAmount: decimal.Zero, FinalPrice: basePrice}
}

// NormalizeCode is the stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate applies the coupon rules in order: existence, active flag, validity window, usage limit,
// then modality/category/gender constraints. A nil constraint matches anything.
func Evaluate(c *models.Coupon, usedCount int, pc PricingContext) (Quote, error) {
	if c == nil || c.EventID != pc.EventID {
		return Quote{}, ErrCouponNotFound
	}
	if !c.Active {
		return Quote{}, ErrCouponInactive
	}
	if pc.Now.Before(c.StartDate) || pc.Now.After(c.EndDate) {
		return Quote{}, ErrCouponExpired
	}
	if usedCount >= c.MaxUses {
		return Quote{}, ErrCouponExhausted
	}
	if !matches(c.ModalityID, &pc.ModalityID) || !matches(c.CategoryID, &pc.CategoryID) || !matches(c.GenderID, pc.GenderID) {
		return Quote{}, ErrCouponNotEligible
	}

	discount := Discount(pc.BasePrice, c.Discount)
	id := c.ID
	return Quote{
		CouponID:       &id,
		Code:           c.Code,
		BasePrice:      pc.BasePrice,
		DiscountAmount: discount,
		FinalPrice:     pc.BasePrice.Sub(discount),
	}, nil
}

// Discount is percent of base rounded to cents, clamped to [0, base].
func Discount(base decimal.Decimal, percent int) decimal.Decimal {
	if base.Sign() <= 0 || percent <= 0 {
		return decimal.Zero
	}
	d := base.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(2)
	if d.GreaterThan(base) {
		return base
	}
	return d
}

func matches(constraint, candidate *uuid.UUID) bool {
	if constraint == nil {
		return true
	}
	return candidate != nil && *constraint == *candidate
}

// Reader loads coupons and their usage counts. Implementations inside a transaction lock the coupon row
// so the count stays valid until the usage row is written.
type Reader interface {
	GetCouponByCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Coupon, error)
	CountCouponUsages(ctx context.Context, couponID uuid.UUID) (int, error)
}

// Engine prices coupons against a Reader.
type Engine struct {
	reader Reader
}

// NewEngine creates an engine over reader.
func NewEngine(reader Reader) *Engine {
	return &Engine{reader: reader}
}

// ValidateAndPrice looks up code for the context's event and evaluates it.
// An empty code returns the undiscounted quote.
func (e *Engine) ValidateAndPrice(ctx context.Context, code string, pc PricingContext) (Quote, error) {
	code = NormalizeCode(code)
	if code == "" {
		return NoDiscount(pc.BasePrice), nil
	}
	c, err := e.reader.GetCouponByCode(ctx, pc.EventID, code)
	if err != nil {
		return Quote{}, err
	}
	used := 0
	if c != nil {
		if used, err = e.reader.CountCouponUsages(ctx, c.ID); err != nil {
			return Quote{}, err
		}
	}
	q, err := Evaluate(c, used, pc)
	if err != nil {
		metrics.CouponApplications.WithLabelValues(apperrors.CodeOf(err)).Inc()
		return Quote{}, err
	}
	metrics.CouponApplications.WithLabelValues("applied").Inc()
	return q, nil
}

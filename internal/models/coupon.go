package models

import (
	"time"

	"github.com/google/uuid"
)

// Coupon is a percentage discount code scoped to one event.
// A nil ModalityID/CategoryID/GenderID matches any value.
type Coupon struct {
	ID         uuid.UUID  `json:"id"`
	EventID    uuid.UUID  `json:"event_id"`
	Code       string     `json:"code"`
	Discount   int        `json:"discount"`
	ModalityID *uuid.UUID `json:"modality_id,omitempty"`
	CategoryID *uuid.UUID `json:"category_id,omitempty"`
	GenderID   *uuid.UUID `json:"gender_id,omitempty"`
	MaxUses    int        `json:"max_uses"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    time.Time  `json:"end_date"`
	Active     bool       `json:"active"`
	UsedCount  int        `json:"used_count"` // computed from coupon_usages
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CouponUsage records one coupon consumed by one registration.
type CouponUsage struct {
	ID             uuid.UUID `json:"id"`
	CouponID       uuid.UUID `json:"coupon_id"`
	RegistrationID uuid.UUID `json:"registration_id"`
	CreatedAt      time.Time `json:"created_at"`
}

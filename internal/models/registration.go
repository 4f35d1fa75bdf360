package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RegistrationStatus is the lifecycle state of an event registration.
type RegistrationStatus string

const (
	RegistrationPendingPayment RegistrationStatus = "PENDING_PAYMENT"
	RegistrationConfirmed      RegistrationStatus = "CONFIRMED"
	RegistrationPaid           RegistrationStatus = "PAID"
	RegistrationExpired        RegistrationStatus = "EXPIRED"
	RegistrationCanceled       RegistrationStatus = "CANCELED"
	RegistrationRejected       RegistrationStatus = "REJECTED"
)

// Active reports whether the status still holds a slot for its (user, event, modality, category) tuple.
func (s RegistrationStatus) Active() bool {
	switch s {
	case RegistrationPendingPayment, RegistrationConfirmed, RegistrationPaid:
		return true
	}
	return false
}

// Settled reports whether the registration has been confirmed or paid.
func (s RegistrationStatus) Settled() bool {
	return s == RegistrationConfirmed || s == RegistrationPaid
}

// Terminal reports whether no further transition is allowed out of the status.
func (s RegistrationStatus) Terminal() bool {
	return s != RegistrationPendingPayment
}

// Registration is an athlete registration for one event modality/category.
type Registration struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	EventID              uuid.UUID          `json:"event_id"`
	ModalityID           uuid.UUID          `json:"modality_id"`
	CategoryID           uuid.UUID          `json:"category_id"`
	GenderID             *uuid.UUID         `json:"gender_id,omitempty"`
	TierID               uuid.UUID          `json:"tier_id"`
	Protocol             *string            `json:"protocol,omitempty"`
	Status               RegistrationStatus `json:"status"`
	CouponID             *uuid.UUID         `json:"coupon_id,omitempty"`
	DiscountAmount       decimal.Decimal    `json:"discount_amount"`
	PaymentTransactionID *uuid.UUID         `json:"payment_transaction_id,omitempty"`
	PaymentMethod        string             `json:"payment_method,omitempty"`
	PaidAmount           *decimal.Decimal   `json:"paid_amount,omitempty"`
	PaidAt               *time.Time         `json:"paid_at,omitempty"`
	ExpiredAt            *time.Time         `json:"expired_at,omitempty"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// ProtocolValue returns the protocol or "" when it has not been assigned yet.
func (r *Registration) ProtocolValue() string {
	if r.Protocol == nil {
		return ""
	}
	return *r.Protocol
}

// PricingTier is a priced registration option for an event.
type PricingTier struct {
	ID         uuid.UUID       `json:"id"`
	EventID    uuid.UUID       `json:"event_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	ValidFrom  *time.Time      `json:"valid_from,omitempty"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	MaxEntries int             `json:"max_entries"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OpenAt reports whether now is inside the tier's validity window. Missing bounds are open.
func (t *PricingTier) OpenAt(now time.Time) bool {
	if t.ValidFrom != nil && now.Before(*t.ValidFrom) {
		return false
	}
	if t.ValidUntil != nil && now.After(*t.ValidUntil) {
		return false
	}
	return true
}

package registrations

import (
	"context"

	"github.com/google/uuid"

	"github.com/aura-events/backend/internal/coupons"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
)

// ErrProtocolTaken is returned by stores when a protocol is already assigned to another registration.
var ErrProtocolTaken = apperrors.Conflict("PROTOCOL_TAKEN", "protocol already in use")

// Tuple is the (user, event, modality, category) key with at most one active registration.
type Tuple struct {
	UserID     uuid.UUID
	EventID    uuid.UUID
	ModalityID uuid.UUID
	CategoryID uuid.UUID
}

// Store is the lifecycle's persistence. WithTx runs fn atomically; fn's error rolls everything back.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetRegistration(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error)
	ListTiers(ctx context.Context, eventID uuid.UUID) ([]*models.PricingTier, error)
	CreateTier(ctx context.Context, t *models.PricingTier) error
	// SetProtocol assigns protocol when the registration has none. It reports false when one was already
	// set and returns ErrProtocolTaken when another registration holds the value.
	SetProtocol(ctx context.Context, id uuid.UUID, protocol string) (bool, error)
}

// Tx is the transactional view. Reads of registrations and coupons lock the row until the transaction ends.
type Tx interface {
	coupons.Reader

	LockTuple(ctx context.Context, t Tuple) error
	FindActive(ctx context.Context, t Tuple) (*models.Registration, error)
	GetRegistration(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error)
	// LockTier serializes capacity checks on a tier until the transaction ends.
	LockTier(ctx context.Context, tierID uuid.UUID) error
	// CountActiveForTier must run under LockTier for the count to hold until commit.
	CountActiveForTier(ctx context.Context, tierID uuid.UUID) (int, error)
	GetCouponByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)

	// InsertRegistration returns ErrProtocolTaken when the protocol collides.
	InsertRegistration(ctx context.Context, r *models.Registration) error
	UpdateRegistration(ctx context.Context, r *models.Registration) error

	InsertCouponUsage(ctx context.Context, couponID, registrationID uuid.UUID) (bool, error)
	DeleteCouponUsage(ctx context.Context, couponID, registrationID uuid.UUID) error

	// LinkTransaction sets the transaction's registration once; see payments.Repository.Link.
	LinkTransaction(ctx context.Context, transactionID, registrationID uuid.UUID, protocol *string) error
}

// StatusPublisher is told about every committed status change.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, r *models.Registration)
}

type nopPublisher struct{}

func (nopPublisher) PublishStatus(context.Context, *models.Registration) {}

// Package registrations owns the registration state machine. It is the only writer of a registration's
// status, coupon and discount fields.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-events/backend/config"
	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/coupons"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/metrics"
	"github.com/aura-events/backend/pkg/validate"
)

var (
	ErrRegistrationNotFound = apperrors.NotFound("REGISTRATION_NOT_FOUND", "registration not found")
	ErrTierNotFound         = apperrors.NotFound("TIER_NOT_FOUND", "pricing tier not found")
	ErrTierClosed           = apperrors.New(apperrors.KindIneligible, "TIER_CLOSED", "pricing tier is not open for registration")
	ErrTierSoldOut          = apperrors.New(apperrors.KindExhausted, "TIER_SOLD_OUT", "pricing tier has no entries left")
	ErrInvalidTransition    = apperrors.Conflict("INVALID_TRANSITION", "registration status does not allow this action")
	ErrRegistrationExpired  = apperrors.Conflict("REGISTRATION_EXPIRED", "registration expired; start a new one")
	ErrCouponAlreadyApplied = apperrors.Conflict("COUPON_ALREADY_APPLIED", "a different coupon is already applied to this registration")
)

// Conflict codes carried by ConflictError.
const (
	CodeAlreadyRegistered = "ALREADY_REGISTERED"
	CodePendingExists     = "PENDING_REGISTRATION_EXISTS"
)

// ConflictError reports an active registration for the same tuple. With Continuation set, Existing is a
// pending registration the caller should resume instead of creating a new one.
type ConflictError struct {
	Code         string
	Existing     *models.Registration
	Continuation bool
}

func (e *ConflictError) Error() string {
	if e.Continuation {
		return "a pending registration already exists; continue its payment"
	}
	return "already registered for this event, modality and category"
}

// ErrorKind classifies the error as a conflict.
func (e *ConflictError) ErrorKind() apperrors.Kind { return apperrors.KindConflict }

// Config tunes the lifecycle.
type Config struct {
	StaleAfter     time.Duration
	ProtocolPrefix string
}

// CreateInput describes a new registration. UserID comes from the authenticated principal.
type CreateInput struct {
	UserID     uuid.UUID  `json:"user_id" validate:"required"`
	EventID    uuid.UUID  `json:"event_id" validate:"required"`
	ModalityID uuid.UUID  `json:"modality_id" validate:"required"`
	CategoryID uuid.UUID  `json:"category_id" validate:"required"`
	GenderID   *uuid.UUID `json:"gender_id"`
	TierID     uuid.UUID  `json:"tier_id" validate:"required"`
	CouponCode string     `json:"coupon_code" validate:"max=64"`
}

// CreateResult is a registration with the quote it was priced at.
type CreateResult struct {
	Registration *models.Registration `json:"registration"`
	Quote        coupons.Quote        `json:"quote"`
}

// PaymentMeta is what a confirmation stamps on the registration. A TransactionID makes the
// registration PAID and links the transaction; without one the registration becomes CONFIRMED.
type PaymentMeta struct {
	TransactionID *uuid.UUID
	Method        models.PaymentMethod
	Amount        *decimal.Decimal
	PaidAt        time.Time
}

// Service runs registration transitions.
type Service struct {
	store     Store
	publisher StatusPublisher
	validator *validate.Validator
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the lifecycle service.
func NewService(store Store, publisher StatusPublisher, v *validate.Validator, cfg Config, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = config.DefaultStaleAfter
	}
	if cfg.ProtocolPrefix == "" {
		cfg.ProtocolPrefix = "EVE"
	}
	return &Service{store: store, publisher: publisher, validator: v, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Stale reports whether r is a pending registration past the staleness window.
func (s *Service) Stale(r *models.Registration, now time.Time) bool {
	return r.Status == models.RegistrationPendingPayment && now.Sub(r.CreatedAt) > s.cfg.StaleAfter
}

// Create registers the user. An active registration for the same tuple is a ConflictError unless it is a
// stale pending one, which is expired first. Zero-price registrations start CONFIRMED.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	now := s.now()
	tuple := Tuple{UserID: in.UserID, EventID: in.EventID, ModalityID: in.ModalityID, CategoryID: in.CategoryID}

	var (
		res     *CreateResult
		changed []*models.Registration
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		changed = nil
		if err := tx.LockTuple(ctx, tuple); err != nil {
			return err
		}
		existing, err := tx.FindActive(ctx, tuple)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status.Settled() {
				return &ConflictError{Code: CodeAlreadyRegistered, Existing: existing}
			}
			if !s.Stale(existing, now) {
				return &ConflictError{Code: CodePendingExists, Existing: existing, Continuation: true}
			}
			if err := s.leavePending(ctx, tx, existing, models.RegistrationExpired, now); err != nil {
				return err
			}
			changed = append(changed, existing)
		}

		tier, err := s.openTier(ctx, tx, in.TierID, in.EventID, now)
		if err != nil {
			return err
		}
		quote, err := coupons.NewEngine(tx).ValidateAndPrice(ctx, in.CouponCode, coupons.PricingContext{
			EventID:    in.EventID,
			ModalityID: in.ModalityID,
			CategoryID: in.CategoryID,
			GenderID:   in.GenderID,
			BasePrice:  tier.Price,
			Now:        now,
		})
		if err != nil {
			return err
		}

		r := &models.Registration{
			UserID:         in.UserID,
			EventID:        in.EventID,
			ModalityID:     in.ModalityID,
			CategoryID:     in.CategoryID,
			GenderID:       in.GenderID,
			TierID:         tier.ID,
			Status:         models.RegistrationPendingPayment,
			CouponID:       quote.CouponID,
			DiscountAmount: quote.DiscountAmount,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if quote.FinalPrice.Sign() <= 0 {
			r.Status = models.RegistrationConfirmed
		}
		if err := s.insertWithProtocol(ctx, tx, r, now); err != nil {
			return err
		}
		if r.CouponID != nil {
			if _, err := tx.InsertCouponUsage(ctx, *r.CouponID, r.ID); err != nil {
				return err
			}
		}
		changed = append(changed, r)
		res = &CreateResult{Registration: r, Quote: quote}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, changed...)
	s.logger.Info("registration created",
		zap.String("registration_id", res.Registration.ID.String()),
		zap.String("protocol", res.Registration.ProtocolValue()),
		zap.String("status", string(res.Registration.Status)),
		zap.String("final_price", res.Quote.FinalPrice.StringFixed(2)))
	return res, nil
}

// Quote prices in without writing anything: the tier must be open and the coupon, when given, must apply.
func (s *Service) Quote(ctx context.Context, in CreateInput) (coupons.Quote, error) {
	if err := s.validator.Struct(in); err != nil {
		return coupons.Quote{}, err
	}
	now := s.now()
	var quote coupons.Quote
	err := s.store.WithTx(ctx, func(tx Tx) error {
		tier, err := s.openTier(ctx, tx, in.TierID, in.EventID, now)
		if err != nil {
			return err
		}
		quote, err = coupons.NewEngine(tx).ValidateAndPrice(ctx, in.CouponCode, coupons.PricingContext{
			EventID:    in.EventID,
			ModalityID: in.ModalityID,
			CategoryID: in.CategoryID,
			GenderID:   in.GenderID,
			BasePrice:  tier.Price,
			Now:        now,
		})
		return err
	})
	return quote, err
}

func (s *Service) openTier(ctx context.Context, tx Tx, tierID, eventID uuid.UUID, now time.Time) (*models.PricingTier, error) {
	tier, err := tx.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if tier == nil || tier.EventID != eventID {
		return nil, ErrTierNotFound
	}
	if !tier.OpenAt(now) {
		return nil, ErrTierClosed
	}
	if tier.MaxEntries > 0 {
		if err := tx.LockTier(ctx, tier.ID); err != nil {
			return nil, err
		}
		n, err := tx.CountActiveForTier(ctx, tier.ID)
		if err != nil {
			return nil, err
		}
		if n >= tier.MaxEntries {
			return nil, ErrTierSoldOut
		}
	}
	return tier, nil
}

func (s *Service) insertWithProtocol(ctx context.Context, tx Tx, r *models.Registration, now time.Time) error {
	for attempt := 0; attempt < protocolAttempts; attempt++ {
		p, err := NewProtocol(s.cfg.ProtocolPrefix, now)
		if err != nil {
			return err
		}
		r.Protocol = &p
		err = tx.InsertRegistration(ctx, r)
		if !errors.Is(err, ErrProtocolTaken) {
			return err
		}
	}
	return apperrors.Wrap(ErrProtocolTaken, apperrors.KindInternal, "PROTOCOL_GENERATION_FAILED", "could not generate a unique protocol")
}

// ApplyCoupon prices a pending registration with code and records the usage. Applying the coupon already on
// the registration returns the current quote without a second usage; a different coupon is a conflict.
func (s *Service) ApplyCoupon(ctx context.Context, p auth.Principal, id uuid.UUID, code string) (*CreateResult, error) {
	code = coupons.NormalizeCode(code)
	if code == "" {
		return nil, apperrors.Validation("coupon code is required")
	}
	now := s.now()
	var (
		res       *CreateResult
		changed   *models.Registration
		expireErr error
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		r, err := s.lockOwned(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if r.Status != models.RegistrationPendingPayment {
			return ErrInvalidTransition
		}
		if s.Stale(r, now) {
			if err := s.leavePending(ctx, tx, r, models.RegistrationExpired, now); err != nil {
				return err
			}
			changed, expireErr = r, ErrRegistrationExpired
			return nil
		}
		tier, err := tx.GetTier(ctx, r.TierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return ErrTierNotFound
		}

		if r.CouponID != nil {
			current, err := tx.GetCouponByID(ctx, *r.CouponID)
			if err != nil {
				return err
			}
			if current == nil || current.Code != code {
				return ErrCouponAlreadyApplied
			}
			res = &CreateResult{Registration: r, Quote: coupons.Quote{
				CouponID:       r.CouponID,
				Code:           current.Code,
				BasePrice:      tier.Price,
				DiscountAmount: r.DiscountAmount,
				FinalPrice:     tier.Price.Sub(r.DiscountAmount),
			}}
			return nil
		}

		quote, err := coupons.NewEngine(tx).ValidateAndPrice(ctx, code, coupons.PricingContext{
			EventID:    r.EventID,
			ModalityID: r.ModalityID,
			CategoryID: r.CategoryID,
			GenderID:   r.GenderID,
			BasePrice:  tier.Price,
			Now:        now,
		})
		if err != nil {
			return err
		}
		r.CouponID = quote.CouponID
		r.DiscountAmount = quote.DiscountAmount
		r.UpdatedAt = now
		if quote.FinalPrice.Sign() <= 0 {
			r.Status = models.RegistrationConfirmed
			changed = r
		}
		if err := tx.UpdateRegistration(ctx, r); err != nil {
			return err
		}
		if _, err := tx.InsertCouponUsage(ctx, *quote.CouponID, r.ID); err != nil {
			return err
		}
		res = &CreateResult{Registration: r, Quote: quote}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed != nil {
		s.published(ctx, changed)
	}
	if expireErr != nil {
		return nil, expireErr
	}
	return res, nil
}

// Confirm marks a pending registration CONFIRMED or PAID and links the paying transaction in the same
// transaction. Confirming a settled registration is a no-op. Expired, canceled and rejected registrations
// return ErrInvalidTransition with the registration; the transaction link is still kept.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, meta PaymentMeta) (*models.Registration, error) {
	now := s.now()
	var (
		out           *models.Registration
		changed       bool
		transitionErr error
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		changed, transitionErr = false, nil
		r, err := tx.GetRegistration(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrRegistrationNotFound
		}
		if meta.TransactionID != nil {
			if err := tx.LinkTransaction(ctx, *meta.TransactionID, r.ID, r.Protocol); err != nil {
				return err
			}
		}
		out = r
		switch {
		case r.Status.Settled():
			return nil
		case r.Status.Terminal():
			transitionErr = fmt.Errorf("confirm %s registration: %w", r.Status, ErrInvalidTransition)
			return nil
		}

		r.Status = models.RegistrationConfirmed
		if meta.TransactionID != nil {
			r.Status = models.RegistrationPaid
			r.PaymentTransactionID = meta.TransactionID
		}
		r.PaymentMethod = string(meta.Method)
		r.PaidAmount = meta.Amount
		paidAt := meta.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		r.PaidAt = &paidAt
		r.UpdatedAt = now
		changed = true
		return tx.UpdateRegistration(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.published(ctx, out)
		s.logger.Info("registration confirmed",
			zap.String("registration_id", out.ID.String()),
			zap.String("status", string(out.Status)))
	}
	return out, transitionErr
}

// Cancel moves a pending registration to CANCELED. Owners and admins may cancel.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*models.Registration, error) {
	return s.terminate(ctx, p, id, models.RegistrationCanceled)
}

// Reject moves a pending registration to REJECTED. Admins only.
func (s *Service) Reject(ctx context.Context, p auth.Principal, id uuid.UUID) (*models.Registration, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("rejecting registrations requires an admin role")
	}
	return s.terminate(ctx, p, id, models.RegistrationRejected)
}

func (s *Service) terminate(ctx context.Context, p auth.Principal, id uuid.UUID, status models.RegistrationStatus) (*models.Registration, error) {
	now := s.now()
	var out *models.Registration
	err := s.store.WithTx(ctx, func(tx Tx) error {
		r, err := s.lockOwned(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if r.Status != models.RegistrationPendingPayment {
			return ErrInvalidTransition
		}
		out = r
		return s.leavePending(ctx, tx, r, status, now)
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, out)
	return out, nil
}

// Get returns a registration, expiring it first when it is a stale pending one.
func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*models.Registration, error) {
	r, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRegistrationNotFound
	}
	if !canAct(p, r) {
		return nil, apperrors.Forbidden("registration belongs to another user")
	}
	now := s.now()
	if !s.Stale(r, now) {
		return r, nil
	}
	expired := false
	err = s.store.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.GetRegistration(ctx, id)
		if err != nil {
			return err
		}
		r = locked
		if locked == nil || !s.Stale(locked, now) {
			return nil
		}
		expired = true
		return s.leavePending(ctx, tx, locked, models.RegistrationExpired, now)
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRegistrationNotFound
	}
	if expired {
		s.published(ctx, r)
	}
	return r, nil
}

// AssignProtocol gives a registration without a protocol the preferred value, or a generated one when
// preferred is empty or taken. It returns the registration's protocol and whether this call assigned it.
func (s *Service) AssignProtocol(ctx context.Context, id uuid.UUID, preferred string) (string, bool, error) {
	if preferred != "" {
		ok, err := s.store.SetProtocol(ctx, id, preferred)
		switch {
		case err == nil && ok:
			return preferred, true, nil
		case err == nil:
			return s.currentProtocol(ctx, id)
		case !errors.Is(err, ErrProtocolTaken):
			return "", false, err
		}
	}
	for attempt := 0; attempt < protocolAttempts; attempt++ {
		p, err := NewProtocol(s.cfg.ProtocolPrefix, s.now())
		if err != nil {
			return "", false, err
		}
		ok, err := s.store.SetProtocol(ctx, id, p)
		if errors.Is(err, ErrProtocolTaken) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		if !ok {
			return s.currentProtocol(ctx, id)
		}
		return p, true, nil
	}
	return "", false, apperrors.Wrap(ErrProtocolTaken, apperrors.KindInternal, "PROTOCOL_GENERATION_FAILED", "could not generate a unique protocol")
}

func (s *Service) currentProtocol(ctx context.Context, id uuid.UUID) (string, bool, error) {
	r, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return "", false, err
	}
	if r == nil {
		return "", false, ErrRegistrationNotFound
	}
	return r.ProtocolValue(), false, nil
}

func (s *Service) lockOwned(ctx context.Context, tx Tx, p auth.Principal, id uuid.UUID) (*models.Registration, error) {
	r, err := tx.GetRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRegistrationNotFound
	}
	if !canAct(p, r) {
		return nil, apperrors.Forbidden("registration belongs to another user")
	}
	return r, nil
}

// leavePending moves r out of PENDING_PAYMENT and releases its coupon usage.
func (s *Service) leavePending(ctx context.Context, tx Tx, r *models.Registration, status models.RegistrationStatus, now time.Time) error {
	r.Status = status
	r.UpdatedAt = now
	if status == models.RegistrationExpired {
		r.ExpiredAt = &now
	} else {
		r.CanceledAt = &now
	}
	if err := tx.UpdateRegistration(ctx, r); err != nil {
		return err
	}
	if r.CouponID != nil {
		return tx.DeleteCouponUsage(ctx, *r.CouponID, r.ID)
	}
	return nil
}

func (s *Service) published(ctx context.Context, regs ...*models.Registration) {
	for _, r := range regs {
		metrics.RegistrationTransitions.WithLabelValues(string(r.Status)).Inc()
		s.publisher.PublishStatus(ctx, r)
	}
}

func canAct(p auth.Principal, r *models.Registration) bool {
	return p.IsAdmin() || (p.UserID != uuid.Nil && p.UserID == r.UserID)
}

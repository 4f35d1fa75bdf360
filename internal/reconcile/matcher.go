// Package reconcile links payment transactions to the registrations they pay for and confirms them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-events/backend/config"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/payments"
	"github.com/aura-events/backend/internal/registrations"
	"github.com/aura-events/backend/pkg/database"
	"github.com/aura-events/backend/pkg/metrics"
)

// Strategy names the heuristic that matched a transaction.
type Strategy string

const (
	StrategyNone       Strategy = "none"
	StrategyLinked     Strategy = "already_linked"
	StrategyDirect     Strategy = "direct"
	StrategyProtocol   Strategy = "protocol"
	StrategyExternalID Strategy = "external_id"
	StrategyAmount     Strategy = "amount_window"
)

// Confidence grades how trustworthy a match is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (s Strategy) confidence() Confidence {
	switch s {
	case StrategyLinked, StrategyDirect, StrategyProtocol:
		return ConfidenceHigh
	case StrategyExternalID:
		return ConfidenceMedium
	case StrategyAmount:
		return ConfidenceLow
	}
	return ""
}

// Store is the storage the matcher reads and the one write it performs.
type Store interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	// ListUnlinkedApproved pages unlinked APPROVED transactions by (created_at, id) after the cursor.
	ListUnlinkedApproved(ctx context.Context, after database.Cursor, limit int) ([]*models.PaymentTransaction, error)
	// LinkTransaction sets registration_id once, copying protocol onto the transaction when it has none.
	LinkTransaction(ctx context.Context, transactionID, registrationID uuid.UUID, protocol *string) error
	ProtocolForRegistration(ctx context.Context, registrationID uuid.UUID) (string, error)

	GetRegistration(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindByProtocols(ctx context.Context, protocols []string) (*models.Registration, error)
	ListForEventWindow(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]*models.Registration, error)
	ListMissingProtocol(ctx context.Context, after database.Cursor, limit int) ([]*models.Registration, error)
	GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error)
}

// Confirmer applies confirmed state through the registration lifecycle.
type Confirmer interface {
	Confirm(ctx context.Context, id uuid.UUID, meta registrations.PaymentMeta) (*models.Registration, error)
	AssignProtocol(ctx context.Context, id uuid.UUID, preferred string) (string, bool, error)
}

// Options tune the amount fallback. A nil AmountEpsilon uses the default; zero means exact amounts.
type Options struct {
	MatchWindow   time.Duration
	AmountEpsilon *decimal.Decimal
}

// Outcome is the result of reconciling one transaction.
type Outcome struct {
	TransactionID  uuid.UUID                 `json:"transaction_id"`
	Matched        bool                      `json:"matched"`
	RegistrationID *uuid.UUID                `json:"registration_id,omitempty"`
	Strategy       Strategy                  `json:"strategy"`
	Confidence     Confidence                `json:"confidence,omitempty"`
	Candidates     int                       `json:"candidates,omitempty"`
	Status         models.RegistrationStatus `json:"status,omitempty"`
	Note           string                    `json:"note,omitempty"`
}

type match struct {
	registration *models.Registration
	strategy     Strategy
	candidates   int
}

// Matcher finds the registration a payment transaction belongs to.
type Matcher struct {
	store     Store
	confirmer Confirmer
	window    time.Duration
	epsilon   decimal.Decimal
	logger    *zap.Logger
}

// NewMatcher creates a matcher. Unset options fall back to the configured defaults.
func NewMatcher(store Store, confirmer Confirmer, opts Options, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{
		store:     store,
		confirmer: confirmer,
		window:    opts.MatchWindow,
		epsilon:   decimal.RequireFromString(config.DefaultAmountEpsilon),
		logger:    logger,
	}
	if m.window <= 0 {
		m.window = config.DefaultMatchWindow
	}
	if opts.AmountEpsilon != nil && !opts.AmountEpsilon.IsNegative() {
		m.epsilon = *opts.AmountEpsilon
	}
	return m
}

// ReconcileOne matches a transaction and applies the result. Approved transactions confirm the registration;
// other statuses are linked only. A transaction that is already linked only re-drives confirmation, so
// repeated calls converge on the same state.
func (m *Matcher) ReconcileOne(ctx context.Context, transactionID uuid.UUID) (*Outcome, error) {
	t, err := m.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, payments.ErrTransactionNotFound
	}

	var found *match
	if t.Linked() {
		found = &match{registration: &models.Registration{ID: *t.RegistrationID}, strategy: StrategyLinked}
	} else if found, err = m.find(ctx, t); err != nil {
		return nil, err
	}
	out := &Outcome{TransactionID: t.ID, Strategy: StrategyNone}
	if found == nil {
		metrics.ReconcileOutcomes.WithLabelValues(string(StrategyNone)).Inc()
		m.logger.Debug("no registration matched", zap.String("transaction_id", t.ID.String()))
		return out, nil
	}

	regID := found.registration.ID
	out.Matched = true
	out.RegistrationID = &regID
	out.Strategy = found.strategy
	out.Confidence = found.strategy.confidence()
	out.Candidates = found.candidates

	if err := m.apply(ctx, t, found, out); err != nil {
		return nil, err
	}
	metrics.ReconcileOutcomes.WithLabelValues(string(out.Strategy)).Inc()
	m.logger.Info("transaction reconciled",
		zap.String("transaction_id", t.ID.String()),
		zap.String("registration_id", regID.String()),
		zap.String("strategy", string(out.Strategy)),
		zap.String("confidence", string(out.Confidence)),
		zap.Int("candidates", out.Candidates))
	return out, nil
}

func (m *Matcher) apply(ctx context.Context, t *models.PaymentTransaction, found *match, out *Outcome) error {
	reg := found.registration
	if found.strategy != StrategyLinked && reg.Protocol == nil {
		// Give the registration a protocol before linking so the transaction can carry it.
		preferred := ""
		if t.Protocol != nil {
			preferred = *t.Protocol
		}
		p, _, err := m.confirmer.AssignProtocol(ctx, reg.ID, preferred)
		if err != nil {
			return fmt.Errorf("assign protocol: %w", err)
		}
		reg.Protocol = &p
	}

	if t.Status != models.TransactionApproved {
		if found.strategy == StrategyLinked {
			out.Note = "transaction is not approved"
			return nil
		}
		if err := m.store.LinkTransaction(ctx, t.ID, reg.ID, reg.Protocol); err != nil {
			return err
		}
		out.Status = reg.Status
		out.Note = fmt.Sprintf("linked without confirmation: transaction is %s", t.Status)
		return nil
	}

	amount := t.Amount
	confirmed, err := m.confirmer.Confirm(ctx, reg.ID, registrations.PaymentMeta{
		TransactionID: &t.ID,
		Method:        t.Method,
		Amount:        &amount,
		PaidAt:        t.UpdatedAt,
	})
	if errors.Is(err, registrations.ErrInvalidTransition) && confirmed != nil {
		out.Status = confirmed.Status
		out.Note = fmt.Sprintf("linked without confirmation: registration is %s", confirmed.Status)
		return nil
	}
	if err != nil {
		return err
	}
	out.Status = confirmed.Status
	return nil
}

// find runs the strategies in priority order and stops at the first hit.
func (m *Matcher) find(ctx context.Context, t *models.PaymentTransaction) (*match, error) {
	if id, ok := t.Entity.Registration(); ok {
		r, err := m.store.GetRegistration(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return &match{registration: r, strategy: StrategyDirect}, nil
		}
	}

	if t.Protocol != nil {
		r, err := m.byProtocol(ctx, *t.Protocol)
		if err != nil || r != nil {
			return wrapMatch(r, StrategyProtocol), err
		}
	}
	if t.ExternalID != nil {
		r, err := m.byProtocol(ctx, *t.ExternalID)
		if err != nil || r != nil {
			return wrapMatch(r, StrategyExternalID), err
		}
	}

	if eventID, ok := t.Entity.Event(); ok {
		return m.byAmount(ctx, t, eventID)
	}
	return nil, nil
}

func (m *Matcher) byProtocol(ctx context.Context, value string) (*models.Registration, error) {
	variants := ProtocolVariants(value)
	if len(variants) == 0 {
		return nil, nil
	}
	return m.store.FindByProtocols(ctx, variants)
}

// byAmount accepts the first registration of the event, created within the window around the transaction,
// whose net price equals the amount within epsilon. Same-price registrations in the window are ambiguous;
// the count is reported as Candidates.
func (m *Matcher) byAmount(ctx context.Context, t *models.PaymentTransaction, eventID uuid.UUID) (*match, error) {
	from, to := t.CreatedAt.Add(-m.window), t.CreatedAt.Add(m.window)
	regs, err := m.store.ListForEventWindow(ctx, eventID, from, to)
	if err != nil {
		return nil, err
	}
	prices := make(map[uuid.UUID]*models.PricingTier)
	var found *match
	for _, r := range regs {
		tier, ok := prices[r.TierID]
		if !ok {
			if tier, err = m.store.GetTier(ctx, r.TierID); err != nil {
				return nil, err
			}
			prices[r.TierID] = tier
		}
		if tier == nil {
			continue
		}
		net := tier.Price.Sub(r.DiscountAmount)
		if net.Sub(t.Amount).Abs().GreaterThan(m.epsilon) {
			continue
		}
		if found == nil {
			found = &match{registration: r, strategy: StrategyAmount}
		}
		found.candidates++
	}
	if found != nil && found.candidates > 1 {
		m.logger.Warn("ambiguous amount match",
			zap.String("transaction_id", t.ID.String()),
			zap.String("registration_id", found.registration.ID.String()),
			zap.Int("candidates", found.candidates))
	}
	return found, nil
}

func wrapMatch(r *models.Registration, s Strategy) *match {
	if r == nil {
		return nil
	}
	return &match{registration: r, strategy: s}
}

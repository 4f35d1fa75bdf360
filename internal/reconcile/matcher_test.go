package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/payments"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestMatcher(s *memStore) *Matcher {
	return NewMatcher(s, &memConfirmer{store: s}, Options{}, nil)
}

func TestProtocolVariants(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"EVE-20250101-1234", []string{"EVE-20250101-1234", "20250101-1234", "REG-20250101-1234"}},
		{"REG-ABC123", []string{"REG-ABC123", "ABC123", "EVE-ABC123"}},
		{"20250101-1234", []string{"20250101-1234", "EVE-20250101-1234", "REG-20250101-1234"}},
		{"PAY-XYZ", []string{"PAY-XYZ", "XYZ", "EVE-XYZ", "REG-XYZ"}},
		{"  EVE-1  ", []string{"EVE-1", "1", "REG-1"}},
		{"eve-1", []string{"eve-1", "EVE-eve-1", "REG-eve-1"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ProtocolVariants(tt.in))
		})
	}
}

func TestReconcileOneStrategies(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(s *memStore, tier *models.PricingTier) (*models.PaymentTransaction, *models.Registration)
		strategy   Strategy
		confidence Confidence
	}{
		{
			name: "direct reference",
			setup: func(s *memStore, tier *models.PricingTier) (*models.PaymentTransaction, *models.Registration) {
				r := s.registration(tier, "EVE-20250101-AAAAAA", t0)
				tx := s.transaction(models.TransactionApproved, "100", t0)
				tx.Entity = models.EntityRef{Kind: models.EntityEventRegistration, ID: r.ID}
				tx.Protocol = strPtr("EVE-WRONG")
				return tx, r
			},
			strategy: StrategyDirect, confidence: ConfidenceHigh,
		},
		{
			name: "protocol under another prefix",
			setup: func(s *memStore, tier *models.PricingTier) (*models.PaymentTransaction, *models.Registration) {
				r := s.registration(tier, "EVE-20250101-1234", t0)
				tx := s.transaction(models.TransactionApproved, "100", t0)
				tx.Protocol = strPtr("REG-20250101-1234")
				return tx, r
			},
			strategy: StrategyProtocol, confidence: ConfidenceHigh,
		},
		{
			name: "direct reference to a missing registration falls through to protocol",
			setup: func(s *memStore, tier *models.PricingTier) (*models.PaymentTransaction, *models.Registration) {
				r := s.registration(tier, "EVE-20250101-1234", t0)
				tx := s.transaction(models.TransactionApproved, "100", t0)
				tx.Entity = models.EntityRef{Kind: models.EntityEventRegistration, ID: uuid.New()}
				tx.Protocol = strPtr("20250101-1234")
				return tx, r
			},
			strategy: StrategyProtocol, confidence: ConfidenceHigh,
		},
		{
			name: "external id as protocol",
			setup: func(s *memStore, tier *models.PricingTier) (*models.PaymentTransaction, *models.Registration) {
				r := s.registration(tier, "EVE-20250101-BBBBBB", t0)
				tx := s.transaction(models.TransactionApproved, "100", t0)
				tx.ExternalID = strPtr("EVE-20250101-BBBBBB")
				return tx, r
			},
			strategy: StrategyExternalID, confidence: ConfidenceMedium,
		},
		{
			name: "amount within the window",
			setup: func(s *memStore, tier *models.PricingTier) (*models.PaymentTransaction, *models.Registration) {
				r := s.registration(tier, "EVE-20250101-CCCCCC", t0.Add(-2*time.Hour))
				tx := s.transaction(models.TransactionApproved, "100.005", t0)
				tx.Entity = models.EntityRef{Kind: models.EntityEvent, ID: tier.EventID}
				return tx, r
			},
			strategy: StrategyAmount, confidence: ConfidenceLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			tier := s.tier(uuid.New(), "100")
			tx, r := tt.setup(s, tier)

			out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
			require.NoError(t, err)
			require.True(t, out.Matched)
			assert.Equal(t, r.ID, *out.RegistrationID)
			assert.Equal(t, tt.strategy, out.Strategy)
			assert.Equal(t, tt.confidence, out.Confidence)
			assert.Equal(t, models.RegistrationPaid, out.Status)

			assert.Equal(t, models.RegistrationPaid, s.reg(r.ID).Status)
			linked := s.tx(tx.ID)
			require.NotNil(t, linked.RegistrationID)
			assert.Equal(t, r.ID, *linked.RegistrationID)
		})
	}
}

func TestReconcileOneNoMatch(t *testing.T) {
	s := newMemStore()
	tier := s.tier(uuid.New(), "100")
	s.registration(tier, "EVE-20250101-AAAAAA", t0)
	tx := s.transaction(models.TransactionApproved, "100", t0)
	tx.Protocol = strPtr("EVE-20250101-ZZZZZZ")

	out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, StrategyNone, out.Strategy)
	assert.Nil(t, s.tx(tx.ID).RegistrationID)
}

func TestReconcileOneUnknownTransaction(t *testing.T) {
	_, err := newTestMatcher(newMemStore()).ReconcileOne(context.Background(), uuid.New())
	assert.ErrorIs(t, err, payments.ErrTransactionNotFound)
}

func TestAmountFallback(t *testing.T) {
	eventID := uuid.New()
	t.Run("discount is subtracted from the tier price", func(t *testing.T) {
		s := newMemStore()
		tier := s.tier(eventID, "100")
		r := s.registration(tier, "EVE-1", t0)
		r.DiscountAmount = decimal.RequireFromString("25")
		tx := s.transaction(models.TransactionApproved, "75.00", t0)
		tx.Entity = models.EntityRef{Kind: models.EntityEvent, ID: eventID}

		out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
		require.NoError(t, err)
		require.True(t, out.Matched)
		assert.Equal(t, r.ID, *out.RegistrationID)
	})

	t.Run("first of several same-price registrations wins and the ambiguity is reported", func(t *testing.T) {
		s := newMemStore()
		tier := s.tier(eventID, "50")
		first := s.registration(tier, "EVE-1", t0.Add(-3*time.Hour))
		s.registration(tier, "EVE-2", t0.Add(-1*time.Hour))
		tx := s.transaction(models.TransactionApproved, "50", t0)
		tx.Entity = models.EntityRef{Kind: models.EntityEvent, ID: eventID}

		out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
		require.NoError(t, err)
		require.True(t, out.Matched)
		assert.Equal(t, first.ID, *out.RegistrationID)
		assert.Equal(t, 2, out.Candidates)
	})

	t.Run("outside the window or the epsilon does not match", func(t *testing.T) {
		s := newMemStore()
		tier := s.tier(eventID, "50")
		s.registration(tier, "EVE-1", t0.Add(-25*time.Hour))
		s.registration(tier, "EVE-2", t0.Add(time.Hour)).DiscountAmount = decimal.RequireFromString("0.02")
		tx := s.transaction(models.TransactionApproved, "50", t0)
		tx.Entity = models.EntityRef{Kind: models.EntityEvent, ID: eventID}

		out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
		require.NoError(t, err)
		assert.False(t, out.Matched)
	})

	t.Run("a zero epsilon demands the exact amount", func(t *testing.T) {
		s := newMemStore()
		tier := s.tier(eventID, "50")
		r := s.registration(tier, "EVE-1", t0)
		near := s.transaction(models.TransactionApproved, "50.01", t0)
		near.Entity = models.EntityRef{Kind: models.EntityEvent, ID: eventID}
		exact := s.transaction(models.TransactionApproved, "50.00", t0)
		exact.Entity = models.EntityRef{Kind: models.EntityEvent, ID: eventID}

		zero := decimal.Zero
		m := NewMatcher(s, &memConfirmer{store: s}, Options{AmountEpsilon: &zero}, nil)
		out, err := m.ReconcileOne(context.Background(), near.ID)
		require.NoError(t, err)
		assert.False(t, out.Matched)

		out, err = m.ReconcileOne(context.Background(), exact.ID)
		require.NoError(t, err)
		require.True(t, out.Matched)
		assert.Equal(t, r.ID, *out.RegistrationID)
	})

	t.Run("only event hints use the amount fallback", func(t *testing.T) {
		s := newMemStore()
		tier := s.tier(eventID, "50")
		s.registration(tier, "EVE-1", t0)
		tx := s.transaction(models.TransactionApproved, "50", t0)

		out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
		require.NoError(t, err)
		assert.False(t, out.Matched)
	})
}

func TestReconcileOneNonApprovedLinksOnly(t *testing.T) {
	s := newMemStore()
	tier := s.tier(uuid.New(), "100")
	r := s.registration(tier, "EVE-20250101-AAAAAA", t0)
	tx := s.transaction(models.TransactionPending, "100", t0)
	tx.Protocol = strPtr("EVE-20250101-AAAAAA")

	out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.NotEmpty(t, out.Note)
	assert.Equal(t, models.RegistrationPendingPayment, s.reg(r.ID).Status)
	assert.Equal(t, r.ID, *s.tx(tx.ID).RegistrationID)
	assert.Zero(t, s.confirm[r.ID])
}

func TestReconcileOneIsIdempotent(t *testing.T) {
	s := newMemStore()
	tier := s.tier(uuid.New(), "100")
	r := s.registration(tier, "EVE-20250101-AAAAAA", t0)
	tx := s.transaction(models.TransactionApproved, "100", t0)
	tx.Protocol = strPtr("EVE-20250101-AAAAAA")
	m := newTestMatcher(s)

	first, err := m.ReconcileOne(context.Background(), tx.ID)
	require.NoError(t, err)
	second, err := m.ReconcileOne(context.Background(), tx.ID)
	require.NoError(t, err)

	assert.Equal(t, StrategyProtocol, first.Strategy)
	assert.Equal(t, StrategyLinked, second.Strategy)
	assert.Equal(t, *first.RegistrationID, *second.RegistrationID)
	assert.Equal(t, models.RegistrationPaid, second.Status)
	assert.Equal(t, models.RegistrationPaid, s.reg(r.ID).Status)
}

func TestReconcileOneTerminalRegistrationIsReported(t *testing.T) {
	s := newMemStore()
	tier := s.tier(uuid.New(), "100")
	r := s.registration(tier, "EVE-20250101-AAAAAA", t0)
	r.Status = models.RegistrationCanceled
	tx := s.transaction(models.TransactionApproved, "100", t0)
	tx.Protocol = strPtr("EVE-20250101-AAAAAA")

	out, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.Equal(t, models.RegistrationCanceled, out.Status)
	assert.Contains(t, out.Note, "CANCELED")
	assert.Equal(t, models.RegistrationCanceled, s.reg(r.ID).Status)
	assert.Equal(t, r.ID, *s.tx(tx.ID).RegistrationID)
}

func TestReconcileOneAssignsProtocolBeforeLinking(t *testing.T) {
	s := newMemStore()
	tier := s.tier(uuid.New(), "100")
	r := s.registration(tier, "", t0)
	tx := s.transaction(models.TransactionApproved, "100", t0)
	tx.Entity = models.EntityRef{Kind: models.EntityEventRegistration, ID: r.ID}
	tx.Protocol = strPtr("EVE-20241231-LEGACY")

	_, err := newTestMatcher(s).ReconcileOne(context.Background(), tx.ID)
	require.NoError(t, err)
	reg := s.reg(r.ID)
	assert.Equal(t, "EVE-20241231-LEGACY", reg.ProtocolValue())
}

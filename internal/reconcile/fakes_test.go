package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/payments"
	"github.com/aura-events/backend/internal/registrations"
	"github.com/aura-events/backend/pkg/database"
)

var errBoom = errors.New("boom")

type memStore struct {
	mu      sync.Mutex
	txs     map[uuid.UUID]*models.PaymentTransaction
	regs    map[uuid.UUID]*models.Registration
	tiers   map[uuid.UUID]*models.PricingTier
	failTx  map[uuid.UUID]bool // GetTransaction fails for these
	confirm map[uuid.UUID]int  // Confirm calls per registration
	pages   int                // ListUnlinkedApproved calls
}

func newMemStore() *memStore {
	return &memStore{
		txs:     make(map[uuid.UUID]*models.PaymentTransaction),
		regs:    make(map[uuid.UUID]*models.Registration),
		tiers:   make(map[uuid.UUID]*models.PricingTier),
		failTx:  make(map[uuid.UUID]bool),
		confirm: make(map[uuid.UUID]int),
	}
}

func (s *memStore) tier(eventID uuid.UUID, price string) *models.PricingTier {
	t := &models.PricingTier{ID: uuid.New(), EventID: eventID, Price: decimal.RequireFromString(price)}
	s.tiers[t.ID] = t
	return t
}

func (s *memStore) registration(tier *models.PricingTier, protocol string, createdAt time.Time) *models.Registration {
	r := &models.Registration{
		ID: uuid.New(), UserID: uuid.New(), EventID: tier.EventID, TierID: tier.ID,
		Status: models.RegistrationPendingPayment, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	if protocol != "" {
		r.Protocol = &protocol
	}
	s.regs[r.ID] = r
	return r
}

func (s *memStore) transaction(status models.TransactionStatus, amount string, createdAt time.Time) *models.PaymentTransaction {
	t := &models.PaymentTransaction{
		ID: uuid.New(), Provider: models.ProviderMercadoPago, Status: status, Method: models.MethodPix,
		Amount: decimal.RequireFromString(amount), CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	s.txs[t.ID] = t
	return t
}

func (s *memStore) reg(id uuid.UUID) models.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.regs[id]
}

func (s *memStore) tx(id uuid.UUID) models.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.txs[id]
}

func (s *memStore) GetTransaction(_ context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTx[id] {
		return nil, errBoom
	}
	t, ok := s.txs[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListUnlinkedApproved(_ context.Context, after database.Cursor, limit int) ([]*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages++
	var out []*models.PaymentTransaction
	for _, t := range s.txs {
		if t.Linked() || t.Status != models.TransactionApproved || !after.Passed(t.CreatedAt, t.ID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return database.After(out[j].CreatedAt, out[j].ID).Less(out[i].CreatedAt, out[i].ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LinkTransaction(_ context.Context, transactionID, registrationID uuid.UUID, protocol *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link(transactionID, registrationID, protocol)
}

func (s *memStore) link(transactionID, registrationID uuid.UUID, protocol *string) error {
	t, ok := s.txs[transactionID]
	if !ok {
		return payments.ErrTransactionNotFound
	}
	if t.RegistrationID != nil {
		if *t.RegistrationID == registrationID {
			return nil
		}
		return payments.ErrTransactionLinked
	}
	id := registrationID
	t.RegistrationID = &id
	if t.Protocol == nil && protocol != nil {
		p := *protocol
		t.Protocol = &p
	}
	return nil
}

func (s *memStore) ProtocolForRegistration(_ context.Context, registrationID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.RegistrationID != nil && *t.RegistrationID == registrationID && t.Protocol != nil {
			return *t.Protocol, nil
		}
	}
	return "", nil
}

func (s *memStore) GetRegistration(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) FindByProtocols(_ context.Context, protocols []string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range protocols {
		for _, r := range s.regs {
			if r.Protocol != nil && *r.Protocol == p {
				cp := *r
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *memStore) ListForEventWindow(_ context.Context, eventID uuid.UUID, from, to time.Time) ([]*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Registration
	for _, r := range s.regs {
		if r.EventID == eventID && !r.CreatedAt.Before(from) && !r.CreatedAt.After(to) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListMissingProtocol(_ context.Context, after database.Cursor, limit int) ([]*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Registration
	for _, r := range s.regs {
		if r.Protocol == nil && after.Passed(r.CreatedAt, r.ID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return database.After(out[j].CreatedAt, out[j].ID).Less(out[i].CreatedAt, out[i].ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetTier(_ context.Context, id uuid.UUID) (*models.PricingTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// memConfirmer mirrors the lifecycle's confirm and protocol rules over memStore.
type memConfirmer struct {
	store *memStore
	seq   int
}

func (c *memConfirmer) Confirm(_ context.Context, id uuid.UUID, meta registrations.PaymentMeta) (*models.Registration, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm[id]++
	r, ok := s.regs[id]
	if !ok {
		return nil, registrations.ErrRegistrationNotFound
	}
	if meta.TransactionID != nil {
		if err := s.link(*meta.TransactionID, id, r.Protocol); err != nil {
			return nil, err
		}
	}
	cp := *r
	switch {
	case r.Status.Settled():
		return &cp, nil
	case r.Status.Terminal():
		return &cp, fmt.Errorf("confirm %s registration: %w", r.Status, registrations.ErrInvalidTransition)
	}
	r.Status = models.RegistrationConfirmed
	if meta.TransactionID != nil {
		r.Status = models.RegistrationPaid
		r.PaymentTransactionID = meta.TransactionID
	}
	cp = *r
	return &cp, nil
}

func (c *memConfirmer) AssignProtocol(_ context.Context, id uuid.UUID, preferred string) (string, bool, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[id]
	if !ok {
		return "", false, registrations.ErrRegistrationNotFound
	}
	if r.Protocol != nil {
		return *r.Protocol, false, nil
	}
	if preferred == "" {
		c.seq++
		preferred = fmt.Sprintf("EVE-20250101-GEN%03d", c.seq)
	}
	r.Protocol = &preferred
	return preferred, true, nil
}

type stubLocker struct{ err error }

func (l stubLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

type stubArchiver struct {
	keys []string
	err  error
}

func (a *stubArchiver) PutJSON(_ context.Context, key string, _ interface{}) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	return "https://reports.example/" + key, nil
}

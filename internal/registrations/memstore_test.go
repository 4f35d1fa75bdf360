package registrations

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/payments"
)

type usageKey struct{ coupon, registration uuid.UUID }

type memState struct {
	regs    map[uuid.UUID]models.Registration
	tiers   map[uuid.UUID]models.PricingTier
	coupons map[uuid.UUID]models.Coupon
	usages  map[usageKey]bool
	txs     map[uuid.UUID]models.PaymentTransaction
}

func (s memState) clone() memState {
	c := memState{
		regs:    make(map[uuid.UUID]models.Registration, len(s.regs)),
		tiers:   make(map[uuid.UUID]models.PricingTier, len(s.tiers)),
		coupons: make(map[uuid.UUID]models.Coupon, len(s.coupons)),
		usages:  make(map[usageKey]bool, len(s.usages)),
		txs:     make(map[uuid.UUID]models.PaymentTransaction, len(s.txs)),
	}
	for k, v := range s.regs {
		c.regs[k] = v
	}
	for k, v := range s.tiers {
		c.tiers[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.usages {
		c.usages[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	return c
}

// memStore runs one transaction at a time and restores the previous state when fn fails.
type memStore struct {
	mu       sync.Mutex
	st       memState
	collide  int // next n protocol inserts report a collision
	inserted int
}

func newMemStore() *memStore {
	return &memStore{st: memState{}.clone()}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(&memTx{m: m, lockedTiers: map[uuid.UUID]bool{}}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *memStore) GetRegistration(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.st.regs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) GetTier(_ context.Context, id uuid.UUID) (*models.PricingTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.st.tiers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) ListTiers(_ context.Context, eventID uuid.UUID) ([]*models.PricingTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PricingTier
	for _, t := range m.st.tiers {
		if t.EventID == eventID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *memStore) CreateTier(_ context.Context, t *models.PricingTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	m.st.tiers[t.ID] = *t
	return nil
}

func (m *memStore) SetProtocol(_ context.Context, id uuid.UUID, protocol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.st.regs {
		if r.Protocol != nil && *r.Protocol == protocol && r.ID != id {
			return false, ErrProtocolTaken
		}
	}
	r, ok := m.st.regs[id]
	if !ok || r.Protocol != nil {
		return false, nil
	}
	r.Protocol = &protocol
	m.st.regs[id] = r
	return true, nil
}

// helpers used by tests to seed and inspect state

func (m *memStore) putRegistration(r models.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.regs[r.ID] = r
}

func (m *memStore) putCoupon(c models.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.coupons[c.ID] = c
}

func (m *memStore) putTier(t models.PricingTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.tiers[t.ID] = t
}

func (m *memStore) putTransaction(t models.PaymentTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.txs[t.ID] = t
}

func (m *memStore) usageCount(couponID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.st.usages {
		if k.coupon == couponID {
			n++
		}
	}
	return n
}

func (m *memStore) transaction(id uuid.UUID) models.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.txs[id]
}

type memTx struct {
	m           *memStore
	lockedTiers map[uuid.UUID]bool
}

func (t *memTx) GetCouponByCode(_ context.Context, eventID uuid.UUID, code string) (*models.Coupon, error) {
	for _, c := range t.m.st.coupons {
		if c.EventID == eventID && c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memTx) CountCouponUsages(_ context.Context, couponID uuid.UUID) (int, error) {
	n := 0
	for k := range t.m.st.usages {
		if k.coupon == couponID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetCouponByID(_ context.Context, id uuid.UUID) (*models.Coupon, error) {
	c, ok := t.m.st.coupons[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) LockTuple(context.Context, Tuple) error { return nil }

func (t *memTx) FindActive(_ context.Context, k Tuple) (*models.Registration, error) {
	for _, r := range t.m.st.regs {
		if r.UserID == k.UserID && r.EventID == k.EventID && r.ModalityID == k.ModalityID &&
			r.CategoryID == k.CategoryID && r.Status.Active() {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetRegistration(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	r, ok := t.m.st.regs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) GetTier(_ context.Context, id uuid.UUID) (*models.PricingTier, error) {
	tier, ok := t.m.st.tiers[id]
	if !ok {
		return nil, nil
	}
	return &tier, nil
}

func (t *memTx) LockTier(_ context.Context, tierID uuid.UUID) error {
	t.lockedTiers[tierID] = true
	return nil
}

func (t *memTx) CountActiveForTier(_ context.Context, tierID uuid.UUID) (int, error) {
	if !t.lockedTiers[tierID] {
		return 0, fmt.Errorf("tier %s counted without its lock", tierID)
	}
	n := 0
	for _, r := range t.m.st.regs {
		if r.TierID == tierID && r.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertRegistration(_ context.Context, r *models.Registration) error {
	if t.m.collide > 0 {
		t.m.collide--
		return ErrProtocolTaken
	}
	for _, other := range t.m.st.regs {
		if other.Protocol != nil && r.Protocol != nil && *other.Protocol == *r.Protocol {
			return ErrProtocolTaken
		}
	}
	r.ID = uuid.New()
	t.m.st.regs[r.ID] = *r
	t.m.inserted++
	return nil
}

func (t *memTx) UpdateRegistration(_ context.Context, r *models.Registration) error {
	t.m.st.regs[r.ID] = *r
	return nil
}

func (t *memTx) InsertCouponUsage(_ context.Context, couponID, registrationID uuid.UUID) (bool, error) {
	k := usageKey{couponID, registrationID}
	if t.m.st.usages[k] {
		return false, nil
	}
	t.m.st.usages[k] = true
	return true, nil
}

func (t *memTx) DeleteCouponUsage(_ context.Context, couponID, registrationID uuid.UUID) error {
	delete(t.m.st.usages, usageKey{couponID, registrationID})
	return nil
}

func (t *memTx) LinkTransaction(_ context.Context, transactionID, registrationID uuid.UUID, protocol *string) error {
	tr, ok := t.m.st.txs[transactionID]
	if !ok {
		return payments.ErrTransactionNotFound
	}
	if tr.RegistrationID != nil {
		if *tr.RegistrationID == registrationID {
			return nil
		}
		return payments.ErrTransactionLinked
	}
	id := registrationID
	tr.RegistrationID = &id
	if tr.Protocol == nil {
		tr.Protocol = protocol
	}
	t.m.st.txs[transactionID] = tr
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []models.RegistrationStatus
}

func (p *recordingPublisher) PublishStatus(_ context.Context, r *models.Registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, r.Status)
}

func (p *recordingPublisher) seen() []models.RegistrationStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RegistrationStatus(nil), p.statuses...)
}

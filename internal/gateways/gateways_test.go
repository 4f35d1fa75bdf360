package gateways

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/validate"
)

func TestNormalizeCredentials(t *testing.T) {
	tests := []struct {
		name     string
		provider models.Provider
		raw      map[string]string
		want     models.Credentials
	}{
		{
			name:     "mercado pago camel case",
			provider: models.ProviderMercadoPago,
			raw:      map[string]string{"accessToken": " APP-1 ", "publicKey": "PK-1", "extra": "x"},
			want:     models.Credentials{KeyAccessToken: "APP-1", KeyPublicKey: "PK-1"},
		},
		{
			name:     "mercado pago sandbox variant",
			provider: models.ProviderMercadoPago,
			raw:      map[string]string{"sandbox_access_token": "TEST-1", "Client-Id": "42"},
			want:     models.Credentials{KeyAccessToken: "TEST-1", KeyClientID: "42"},
		},
		{
			name:     "first non-empty variant wins",
			provider: models.ProviderMercadoPago,
			raw:      map[string]string{"access_token": "A", "accessToken": "B", "sandbox_access_token": ""},
			want:     models.Credentials{KeyAccessToken: "B"},
		},
		{
			name:     "pagseguro",
			provider: models.ProviderPagSeguro,
			raw:      map[string]string{"sellerEmail": "a@b.c", "token": "T"},
			want:     models.Credentials{KeyEmail: "a@b.c", KeyToken: "T"},
		},
		{
			name:     "unknown provider passes through",
			provider: models.Provider("STRIPE"),
			raw:      map[string]string{"secretKey": "sk"},
			want:     models.Credentials{"secretKey": "sk"},
		},
		{
			name:     "nil input",
			provider: models.ProviderMercadoPago,
			raw:      nil,
			want:     models.Credentials{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCredentials(tt.provider, tt.raw))
		})
	}
}

func gw(priority int, created time.Time, methods ...models.PaymentMethod) *models.GatewayConfig {
	return &models.GatewayConfig{
		ID:             uuid.New(),
		Provider:       models.ProviderMercadoPago,
		Active:         true,
		Priority:       priority,
		AllowedMethods: methods,
		EntityTypes:    []models.EntityKind{models.EntityEvent, models.EntityEventRegistration},
		CreatedAt:      created,
	}
}

func TestSelect(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	low := gw(5, t0, models.MethodPix)
	high := gw(10, t0.Add(time.Hour), models.MethodPix)
	inactive := gw(99, t0, models.MethodPix)
	inactive.Active = false
	cardOnly := gw(50, t0, models.MethodCreditCard)

	for i := 0; i < 5; i++ {
		got, err := Select([]*models.GatewayConfig{low, inactive, cardOnly, high}, models.MethodPix, models.EntityEvent)
		require.NoError(t, err)
		assert.Equal(t, high.ID, got.ID)
	}

	older := gw(10, t0, models.MethodPix)
	got, err := Select([]*models.GatewayConfig{high, older}, models.MethodPix, models.EntityEvent)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID, "tie goes to the earliest created")

	_, err = Select([]*models.GatewayConfig{low, high}, models.MethodBoleto, models.EntityEvent)
	assert.ErrorIs(t, err, ErrNoGatewayAvailable)
	_, err = Select([]*models.GatewayConfig{low}, models.MethodPix, models.EntityMembership)
	assert.ErrorIs(t, err, ErrNoGatewayAvailable)
}

func TestRejectDuplicate(t *testing.T) {
	existing := gw(1, time.Now(), models.MethodPix)
	existing.Credentials = models.Credentials{KeyAccessToken: "APP-1", KeyPublicKey: "PK-1"}

	fresh := gw(1, time.Now(), models.MethodPix)
	fresh.Credentials = models.Credentials{KeyAccessToken: "APP-2", KeyPublicKey: "PK-1"}
	assert.ErrorIs(t, RejectDuplicate(fresh, []*models.GatewayConfig{existing}), ErrDuplicateCredentials)

	fresh.Credentials = models.Credentials{KeyAccessToken: "APP-2", KeyPublicKey: "PK-2"}
	assert.NoError(t, RejectDuplicate(fresh, []*models.GatewayConfig{existing}))

	existing.Active = false
	fresh.Credentials = existing.Credentials
	assert.NoError(t, RejectDuplicate(fresh, []*models.GatewayConfig{existing}), "inactive gateways do not block")
	assert.NoError(t, RejectDuplicate(existing, []*models.GatewayConfig{existing}), "self is skipped")
}

// memStore serializes provider-locked sections with one mutex per provider.
type memStore struct {
	mu      sync.Mutex
	locks   map[models.Provider]*sync.Mutex
	configs []*models.GatewayConfig
	clock   time.Time
}

func newMemStore() *memStore {
	return &memStore{locks: map[models.Provider]*sync.Mutex{}, clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memStore) WithProviderLock(ctx context.Context, provider models.Provider, fn func(tx ProviderTx) error) error {
	m.mu.Lock()
	l, ok := m.locks[provider]
	if !ok {
		l = &sync.Mutex{}
		m.locks[provider] = l
	}
	m.mu.Unlock()
	l.Lock()
	defer l.Unlock()
	return fn(m)
}

func (m *memStore) snapshot(keep func(*models.GatewayConfig) bool) []*models.GatewayConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GatewayConfig
	for _, g := range m.configs {
		if keep(g) {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memStore) ListActive(context.Context) ([]*models.GatewayConfig, error) {
	return m.snapshot(func(g *models.GatewayConfig) bool { return g.Active }), nil
}

func (m *memStore) List(context.Context) ([]*models.GatewayConfig, error) {
	return m.snapshot(func(*models.GatewayConfig) bool { return true }), nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*models.GatewayConfig, error) {
	list := m.snapshot(func(g *models.GatewayConfig) bool { return g.ID == id })
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *memStore) ListActiveByProvider(_ context.Context, p models.Provider) ([]*models.GatewayConfig, error) {
	return m.snapshot(func(g *models.GatewayConfig) bool { return g.Active && g.Provider == p }), nil
}

func (m *memStore) Insert(_ context.Context, g *models.GatewayConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = uuid.New()
	m.clock = m.clock.Add(time.Second)
	g.CreatedAt = m.clock
	cp := *g
	m.configs = append(m.configs, &cp)
	return nil
}

func (m *memStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.configs {
		if g.ID == id {
			g.Active = active
		}
	}
	return nil
}

var admin = auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin}

func pixInput(token string, priority int) CreateInput {
	return CreateInput{
		Provider:       "mercado_pago",
		Priority:       priority,
		AllowedMethods: []string{"PIX"},
		EntityTypes:    []string{"EVENT", "EVENT_REGISTRATION"},
		Credentials:    map[string]string{"accessToken": token},
	}
}

func TestRegistryConcurrentDuplicateCreate(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, validate.New(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reg.Create(context.Background(), admin, pixInput("APP-SAME", i))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateCredentials)
	}
	assert.Equal(t, 1, ok)
}

func TestRegistryLifecycle(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, validate.New(), nil)
	ctx := context.Background()

	_, err := reg.Create(ctx, auth.Principal{Role: auth.RoleUser}, pixInput("X", 1))
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	bad := pixInput("X", 1)
	bad.AllowedMethods = []string{"CASH"}
	_, err = reg.Create(ctx, admin, bad)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	low, err := reg.Create(ctx, admin, pixInput("APP-1", 5))
	require.NoError(t, err)
	assert.Equal(t, models.ProviderMercadoPago, low.Provider)
	assert.Equal(t, "APP-1", low.Credentials[KeyAccessToken])

	high, err := reg.Create(ctx, admin, pixInput("APP-2", 10))
	require.NoError(t, err)

	got, err := reg.SelectGateway(ctx, models.MethodPix, models.EntityEvent)
	require.NoError(t, err)
	assert.Equal(t, high.ID, got.ID)

	_, err = reg.SetActive(ctx, admin, high.ID, false)
	require.NoError(t, err)
	got, err = reg.SelectGateway(ctx, models.MethodPix, models.EntityEvent)
	require.NoError(t, err)
	assert.Equal(t, low.ID, got.ID, "selection reads a fresh snapshot")

	inactiveDup := pixInput("APP-1", 1)
	no := false
	inactiveDup.Active = &no
	dup, err := reg.Create(ctx, admin, inactiveDup)
	require.NoError(t, err, "inactive gateways skip the duplicate check")
	_, err = reg.SetActive(ctx, admin, dup.ID, true)
	assert.ErrorIs(t, err, ErrDuplicateCredentials)

	_, err = reg.SetActive(ctx, admin, uuid.New(), true)
	assert.ErrorIs(t, err, ErrGatewayNotFound)
}

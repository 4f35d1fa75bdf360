package gateways

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/metrics"
	"github.com/aura-events/backend/pkg/validate"
)

// ErrGatewayNotFound is returned for unknown gateway ids.
var ErrGatewayNotFound = apperrors.NotFound("GATEWAY_NOT_FOUND", "gateway not found")

// Store persists gateway configs. WithProviderLock serializes writers of one provider.
type Store interface {
	WithProviderLock(ctx context.Context, provider models.Provider, fn func(tx ProviderTx) error) error
	ListActive(ctx context.Context) ([]*models.GatewayConfig, error)
	List(ctx context.Context) ([]*models.GatewayConfig, error)
	Get(ctx context.Context, id uuid.UUID) (*models.GatewayConfig, error)
}

// ProviderTx is the view of the store inside a provider lock.
type ProviderTx interface {
	ListActiveByProvider(ctx context.Context, provider models.Provider) ([]*models.GatewayConfig, error)
	Get(ctx context.Context, id uuid.UUID) (*models.GatewayConfig, error)
	Insert(ctx context.Context, g *models.GatewayConfig) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// CreateInput describes a new gateway.
type CreateInput struct {
	Name           string            `json:"name" validate:"max=120"`
	Provider       string            `json:"provider" validate:"required,max=40"`
	Active         *bool             `json:"active"`
	Priority       int               `json:"priority"`
	AllowedMethods []string          `json:"allowed_methods" validate:"required,min=1,dive,payment_method"`
	EntityTypes    []string          `json:"entity_types" validate:"required,min=1,dive,entity_kind"`
	Credentials    map[string]string `json:"credentials"`
	Sandbox        bool              `json:"sandbox"`
}

// PublicGateway is what clients see of a selected gateway.
type PublicGateway struct {
	ID        uuid.UUID       `json:"id"`
	Provider  models.Provider `json:"provider"`
	Sandbox   bool            `json:"sandbox"`
	PublicKey string          `json:"public_key,omitempty"`
}

// Public strips credentials down to what a browser checkout may hold.
func Public(g *models.GatewayConfig) PublicGateway {
	return PublicGateway{ID: g.ID, Provider: g.Provider, Sandbox: g.Sandbox, PublicKey: g.Credentials[KeyPublicKey]}
}

// Registry manages gateway configs and selects one per payment request.
type Registry struct {
	store     Store
	validator *validate.Validator
	logger    *zap.Logger
}

// NewRegistry creates a registry.
func NewRegistry(store Store, v *validate.Validator, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, validator: v, logger: logger}
}

// Create normalizes credentials and inserts the gateway. Active gateways are checked for duplicate
// credentials under the provider lock so concurrent creates cannot both pass.
func (r *Registry) Create(ctx context.Context, p auth.Principal, in CreateInput) (*models.GatewayConfig, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("gateway administration requires an admin role")
	}
	if err := r.validator.Struct(in); err != nil {
		return nil, err
	}
	provider := models.Provider(strings.ToUpper(strings.TrimSpace(in.Provider)))
	g := &models.GatewayConfig{
		Name:        strings.TrimSpace(in.Name),
		Provider:    provider,
		Active:      in.Active == nil || *in.Active,
		Priority:    in.Priority,
		Credentials: NormalizeCredentials(provider, in.Credentials),
		Sandbox:     in.Sandbox,
	}
	for _, m := range in.AllowedMethods {
		g.AllowedMethods = append(g.AllowedMethods, models.PaymentMethod(m))
	}
	for _, k := range in.EntityTypes {
		g.EntityTypes = append(g.EntityTypes, models.ParseEntityKind(k))
	}

	err := r.store.WithProviderLock(ctx, provider, func(tx ProviderTx) error {
		if g.Active {
			others, err := tx.ListActiveByProvider(ctx, provider)
			if err != nil {
				return err
			}
			if err := RejectDuplicate(g, others); err != nil {
				return err
			}
		}
		return tx.Insert(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("gateway created", zap.String("gateway_id", g.ID.String()), zap.String("provider", string(provider)),
		zap.Int("priority", g.Priority), zap.Bool("active", g.Active))
	return g, nil
}

// SetActive toggles a gateway. Activation re-runs the duplicate check.
func (r *Registry) SetActive(ctx context.Context, p auth.Principal, id uuid.UUID, active bool) (*models.GatewayConfig, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("gateway administration requires an admin role")
	}
	existing, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrGatewayNotFound
	}
	var out *models.GatewayConfig
	err = r.store.WithProviderLock(ctx, existing.Provider, func(tx ProviderTx) error {
		g, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if g == nil {
			return ErrGatewayNotFound
		}
		if active && !g.Active {
			others, err := tx.ListActiveByProvider(ctx, g.Provider)
			if err != nil {
				return err
			}
			if err := RejectDuplicate(g, others); err != nil {
				return err
			}
		}
		if err := tx.SetActive(ctx, id, active); err != nil {
			return err
		}
		g.Active = active
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every gateway for administration.
func (r *Registry) List(ctx context.Context, p auth.Principal) ([]*models.GatewayConfig, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("gateway administration requires an admin role")
	}
	return r.store.List(ctx)
}

// SelectGateway reads a fresh snapshot of active gateways and selects one for method and kind.
func (r *Registry) SelectGateway(ctx context.Context, method models.PaymentMethod, kind models.EntityKind) (*models.GatewayConfig, error) {
	snapshot, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	g, err := Select(snapshot, method, kind)
	if err != nil {
		metrics.GatewaySelections.WithLabelValues("none").Inc()
		return nil, err
	}
	metrics.GatewaySelections.WithLabelValues(string(g.Provider)).Inc()
	return g, nil
}

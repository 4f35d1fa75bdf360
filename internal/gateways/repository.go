package gateways

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/database"
)

const gatewayColumns = `id, name, provider, active, priority, allowed_methods, entity_types, credentials, sandbox, created_at, updated_at`

// Repository handles gateway config persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a gateways repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithProviderLock runs fn in a transaction holding the provider's advisory lock.
func (r *Repository) WithProviderLock(ctx context.Context, provider models.Provider, fn func(tx ProviderTx) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, "gateway:"+string(provider)); err != nil {
			return apperrors.External(err, "lock gateway provider")
		}
		return fn(&txRepository{db: tx})
	})
}

// ListActive returns the active gateways, the snapshot selection runs on.
func (r *Repository) ListActive(ctx context.Context) ([]*models.GatewayConfig, error) {
	return list(ctx, r.pool, `SELECT `+gatewayColumns+` FROM gateway_configs WHERE active ORDER BY priority DESC, created_at`)
}

// List returns all gateways.
func (r *Repository) List(ctx context.Context) ([]*models.GatewayConfig, error) {
	return list(ctx, r.pool, `SELECT `+gatewayColumns+` FROM gateway_configs ORDER BY provider, priority DESC, created_at`)
}

// Get returns a gateway by ID, or nil when none exists.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.GatewayConfig, error) {
	return get(ctx, r.pool, id)
}

type txRepository struct {
	db pgx.Tx
}

func (t *txRepository) ListActiveByProvider(ctx context.Context, provider models.Provider) ([]*models.GatewayConfig, error) {
	return list(ctx, t.db, `SELECT `+gatewayColumns+` FROM gateway_configs WHERE active AND provider = $1`, string(provider))
}

func (t *txRepository) Get(ctx context.Context, id uuid.UUID) (*models.GatewayConfig, error) {
	return get(ctx, t.db, id)
}

func (t *txRepository) Insert(ctx context.Context, g *models.GatewayConfig) error {
	const query = `INSERT INTO gateway_configs (name, provider, active, priority, allowed_methods, entity_types, credentials, sandbox)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	methods := make([]string, len(g.AllowedMethods))
	for i, m := range g.AllowedMethods {
		methods[i] = string(m)
	}
	kinds := make([]string, len(g.EntityTypes))
	for i, k := range g.EntityTypes {
		kinds[i] = string(k)
	}
	creds := map[string]string(g.Credentials)
	if creds == nil {
		creds = map[string]string{}
	}
	err := t.db.QueryRow(ctx, query, g.Name, string(g.Provider), g.Active, g.Priority, methods, kinds, creds, g.Sandbox).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return apperrors.External(err, "insert gateway")
	}
	return nil
}

func (t *txRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const query = `UPDATE gateway_configs SET active = $2, updated_at = NOW() WHERE id = $1`
	if _, err := t.db.Exec(ctx, query, id, active); err != nil {
		return apperrors.External(err, "update gateway")
	}
	return nil
}

func get(ctx context.Context, db database.Querier, id uuid.UUID) (*models.GatewayConfig, error) {
	g, err := scanGateway(db.QueryRow(ctx, `SELECT `+gatewayColumns+` FROM gateway_configs WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.External(err, "get gateway")
	}
	return g, nil
}

func list(ctx context.Context, db database.Querier, query string, args ...any) ([]*models.GatewayConfig, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.External(err, "list gateways")
	}
	defer rows.Close()
	var out []*models.GatewayConfig
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, apperrors.External(err, "scan gateway")
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.External(err, "list gateways")
	}
	return out, nil
}

func scanGateway(row pgx.Row) (*models.GatewayConfig, error) {
	var (
		g        models.GatewayConfig
		provider string
		methods  []string
		kinds    []string
		creds    map[string]string
	)
	if err := row.Scan(&g.ID, &g.Name, &provider, &g.Active, &g.Priority, &methods, &kinds, &creds,
		&g.Sandbox, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Provider = models.Provider(provider)
	for _, m := range methods {
		g.AllowedMethods = append(g.AllowedMethods, models.PaymentMethod(m))
	}
	for _, k := range kinds {
		g.EntityTypes = append(g.EntityTypes, models.ParseEntityKind(k))
	}
	g.Credentials = models.Credentials(creds)
	return &g, nil
}

package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/payments"
	"github.com/aura-events/backend/internal/registrations"
	"github.com/aura-events/backend/pkg/database"
)

// PgStore reads registrations and transactions from Postgres.
type PgStore struct {
	*registrations.Repository
	pool     *pgxpool.Pool
	payments *payments.Repository
}

// NewPgStore creates the Postgres-backed matcher store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		Repository: registrations.NewRepository(pool),
		pool:       pool,
		payments:   payments.NewRepository(pool),
	}
}

func (s *PgStore) GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return s.payments.Get(ctx, id)
}

func (s *PgStore) ListUnlinkedApproved(ctx context.Context, after database.Cursor, limit int) ([]*models.PaymentTransaction, error) {
	return s.payments.ListUnlinkedApprovedAfter(ctx, after, limit)
}

func (s *PgStore) ProtocolForRegistration(ctx context.Context, registrationID uuid.UUID) (string, error) {
	return s.payments.ProtocolForRegistration(ctx, registrationID)
}

// LinkTransaction runs the row-locked compare-and-set inside its own transaction.
func (s *PgStore) LinkTransaction(ctx context.Context, transactionID, registrationID uuid.UUID, protocol *string) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return payments.NewRepository(tx).Link(ctx, transactionID, registrationID, protocol)
	})
}

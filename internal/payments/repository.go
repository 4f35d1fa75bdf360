// Package payments stores payment transactions reported by providers and accepts their webhooks.
package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/database"
)

var (
	ErrTransactionNotFound = apperrors.NotFound("TRANSACTION_NOT_FOUND", "payment transaction not found")
	ErrTransactionLinked   = apperrors.Conflict("TRANSACTION_ALREADY_LINKED", "payment transaction is linked to another registration")
)

const transactionColumns = `id, provider, external_id, status, raw_status, method, amount, protocol,
	entity_type, entity_id, registration_id, created_at, updated_at`

// Repository handles payment transaction persistence over a pool or a transaction.
type Repository struct {
	db database.Querier
}

// NewRepository creates a payments repository.
func NewRepository(db database.Querier) *Repository {
	return &Repository{db: db}
}

// Upsert records a provider report keyed by (provider, external_id). Later reports update status and amount;
// protocol and entity hints are only filled when still empty, and registration_id is never touched.
func (r *Repository) Upsert(ctx context.Context, t *models.PaymentTransaction) error {
	const query = `INSERT INTO payment_transactions (provider, external_id, status, raw_status, method, amount, protocol, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			raw_status = EXCLUDED.raw_status,
			method = COALESCE(NULLIF(EXCLUDED.method, ''), payment_transactions.method),
			amount = EXCLUDED.amount,
			protocol = COALESCE(payment_transactions.protocol, EXCLUDED.protocol),
			entity_type = COALESCE(payment_transactions.entity_type, EXCLUDED.entity_type),
			entity_id = COALESCE(payment_transactions.entity_id, EXCLUDED.entity_id),
			updated_at = NOW()
		RETURNING id, registration_id, created_at, updated_at`
	kind, id := t.Entity.Columns()
	err := r.db.QueryRow(ctx, query, string(t.Provider), t.ExternalID, string(t.Status), t.RawStatus, string(t.Method),
		database.ToNumeric(t.Amount), t.Protocol, kind, id).Scan(&t.ID, &t.RegistrationID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return apperrors.External(err, "upsert payment transaction")
	}
	return nil
}

// Get returns a transaction by ID, or nil when none exists.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.External(err, "get payment transaction")
	}
	return t, nil
}

// ListUnlinked returns transactions without a registration, oldest first. approvedOnly narrows to APPROVED.
func (r *Repository) ListUnlinked(ctx context.Context, approvedOnly bool, limit int) ([]*models.PaymentTransaction, error) {
	return r.listUnlinked(ctx, approvedOnly, database.Cursor{}, limit)
}

// ListUnlinkedApprovedAfter returns the next page of unlinked APPROVED transactions ordered by (created_at, id),
// starting after the cursor.
func (r *Repository) ListUnlinkedApprovedAfter(ctx context.Context, after database.Cursor, limit int) ([]*models.PaymentTransaction, error) {
	return r.listUnlinked(ctx, true, after, limit)
}

func (r *Repository) listUnlinked(ctx context.Context, approvedOnly bool, after database.Cursor, limit int) ([]*models.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE registration_id IS NULL`
	args := []any{limit}
	if approvedOnly {
		args = append(args, string(models.TransactionApproved))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if !after.IsZero() {
		args = append(args, after.CreatedAt, after.ID)
		query += fmt.Sprintf(` AND (created_at, id) > ($%d, $%d)`, len(args)-1, len(args))
	}
	query += ` ORDER BY created_at, id LIMIT $1`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.External(err, "list unlinked transactions")
	}
	defer rows.Close()
	var out []*models.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, apperrors.External(err, "scan payment transaction")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.External(err, "list unlinked transactions")
	}
	return out, nil
}

// Link sets registration_id once. Linking to the same registration again is a no-op; a transaction already
// linked elsewhere yields ErrTransactionLinked. The protocol is copied only when the transaction has none.
func (r *Repository) Link(ctx context.Context, transactionID, registrationID uuid.UUID, protocol *string) error {
	var current *uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT registration_id FROM payment_transactions WHERE id = $1 FOR UPDATE`, transactionID).Scan(&current)
	if database.IsNoRows(err) {
		return ErrTransactionNotFound
	}
	if err != nil {
		return apperrors.External(err, "lock payment transaction")
	}
	if current != nil {
		if *current == registrationID {
			return nil
		}
		return ErrTransactionLinked
	}
	const query = `UPDATE payment_transactions
		SET registration_id = $2, protocol = COALESCE(protocol, $3), updated_at = NOW()
		WHERE id = $1 AND registration_id IS NULL`
	if _, err := r.db.Exec(ctx, query, transactionID, registrationID, protocol); err != nil {
		return apperrors.External(err, "link payment transaction")
	}
	return nil
}

// ProtocolForRegistration returns the protocol carried by the earliest transaction linked to registrationID.
func (r *Repository) ProtocolForRegistration(ctx context.Context, registrationID uuid.UUID) (string, error) {
	const query = `SELECT protocol FROM payment_transactions
		WHERE registration_id = $1 AND protocol IS NOT NULL AND protocol <> ''
		ORDER BY created_at LIMIT 1`
	var p string
	err := r.db.QueryRow(ctx, query, registrationID).Scan(&p)
	if database.IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.External(err, "find linked protocol")
	}
	return p, nil
}

func scanTransaction(row pgx.Row) (*models.PaymentTransaction, error) {
	var (
		t          models.PaymentTransaction
		provider   string
		status     string
		method     string
		amount     pgtype.Numeric
		entityType *string
		entityID   *uuid.UUID
	)
	if err := row.Scan(&t.ID, &provider, &t.ExternalID, &status, &t.RawStatus, &method, &amount, &t.Protocol,
		&entityType, &entityID, &t.RegistrationID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Provider = models.Provider(provider)
	t.Status = models.TransactionStatus(status)
	t.Method = models.PaymentMethod(method)
	t.Amount = database.FromNumeric(amount)
	if entityType != nil && entityID != nil {
		if kind := models.ParseEntityKind(*entityType); kind != models.EntityNone {
			t.Entity = models.EntityRef{Kind: kind, ID: *entityID}
		}
	}
	return &t, nil
}

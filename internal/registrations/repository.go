package registrations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-events/backend/internal/coupons"
	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/internal/payments"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/database"
)

const registrationColumns = `id, user_id, event_id, modality_id, category_id, gender_id, tier_id, protocol, status,
	coupon_id, discount_amount, payment_transaction_id, payment_method, paid_amount, paid_at, expired_at, canceled_at,
	created_at, updated_at`

const activeStatuses = `('PENDING_PAYMENT', 'CONFIRMED', 'PAID')`

const tierColumns = `id, event_id, name, price, valid_from, valid_until, max_entries, created_at`

// Repository handles registration and pricing tier persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txRepository{
			tx:       tx,
			coupons:  coupons.NewRepository(tx).Locking(),
			payments: payments.NewRepository(tx),
		})
	})
}

// GetRegistration returns a registration by ID, or nil when none exists.
func (r *Repository) GetRegistration(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return getRegistration(ctx, r.pool, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
}

// FindByProtocols returns the registration whose protocol equals one of protocols, preferring the earliest
// entry of the list.
func (r *Repository) FindByProtocols(ctx context.Context, protocols []string) (*models.Registration, error) {
	if len(protocols) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + registrationColumns + ` FROM registrations
		WHERE protocol = ANY($1)
		ORDER BY array_position($1, protocol), created_at
		LIMIT 1`
	return getRegistration(ctx, r.pool, query, protocols)
}

// ListForEventWindow returns an event's registrations created in [from, to], oldest first.
func (r *Repository) ListForEventWindow(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]*models.Registration, error) {
	const query = `SELECT ` + registrationColumns + ` FROM registrations
		WHERE event_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at, id`
	return listRegistrations(ctx, r.pool, query, eventID, from, to)
}

// ListMissingProtocol returns the next page of registrations without a protocol ordered by (created_at, id),
// starting after the cursor.
func (r *Repository) ListMissingProtocol(ctx context.Context, after database.Cursor, limit int) ([]*models.Registration, error) {
	if after.IsZero() {
		const query = `SELECT ` + registrationColumns + ` FROM registrations
			WHERE protocol IS NULL ORDER BY created_at, id LIMIT $1`
		return listRegistrations(ctx, r.pool, query, limit)
	}
	const query = `SELECT ` + registrationColumns + ` FROM registrations
		WHERE protocol IS NULL AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id LIMIT $1`
	return listRegistrations(ctx, r.pool, query, limit, after.CreatedAt, after.ID)
}

// SetProtocol assigns protocol when the registration has none.
func (r *Repository) SetProtocol(ctx context.Context, id uuid.UUID, protocol string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE registrations SET protocol = $2, updated_at = NOW() WHERE id = $1 AND protocol IS NULL`, id, protocol)
	if database.IsUniqueViolation(err, "") {
		return false, ErrProtocolTaken
	}
	if err != nil {
		return false, apperrors.External(err, "set registration protocol")
	}
	return tag.RowsAffected() == 1, nil
}

// GetTier returns a pricing tier by ID, or nil when none exists.
func (r *Repository) GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error) {
	return getTier(ctx, r.pool, id)
}

// ListTiers returns an event's pricing tiers.
func (r *Repository) ListTiers(ctx context.Context, eventID uuid.UUID) ([]*models.PricingTier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tierColumns+` FROM pricing_tiers WHERE event_id = $1 ORDER BY valid_from NULLS FIRST, price`, eventID)
	if err != nil {
		return nil, apperrors.External(err, "list tiers")
	}
	defer rows.Close()
	var out []*models.PricingTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, apperrors.External(err, "scan tier")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.External(err, "list tiers")
	}
	return out, nil
}

// CreateTier inserts a pricing tier.
func (r *Repository) CreateTier(ctx context.Context, t *models.PricingTier) error {
	const query = `INSERT INTO pricing_tiers (event_id, name, price, valid_from, valid_until, max_entries)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, t.EventID, t.Name, database.ToNumeric(t.Price), t.ValidFrom, t.ValidUntil, t.MaxEntries).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return apperrors.External(err, "create tier")
	}
	return nil
}

type txRepository struct {
	tx       pgx.Tx
	coupons  *coupons.Repository
	payments *payments.Repository
}

func (t *txRepository) GetCouponByCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Coupon, error) {
	return t.coupons.GetCouponByCode(ctx, eventID, code)
}

func (t *txRepository) CountCouponUsages(ctx context.Context, couponID uuid.UUID) (int, error) {
	return t.coupons.CountCouponUsages(ctx, couponID)
}

func (t *txRepository) GetCouponByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	return t.coupons.GetCouponByID(ctx, id)
}

func (t *txRepository) InsertCouponUsage(ctx context.Context, couponID, registrationID uuid.UUID) (bool, error) {
	return t.coupons.InsertUsage(ctx, couponID, registrationID)
}

func (t *txRepository) DeleteCouponUsage(ctx context.Context, couponID, registrationID uuid.UUID) error {
	return t.coupons.DeleteUsage(ctx, couponID, registrationID)
}

func (t *txRepository) LinkTransaction(ctx context.Context, transactionID, registrationID uuid.UUID, protocol *string) error {
	return t.payments.Link(ctx, transactionID, registrationID, protocol)
}

func (t *txRepository) LockTuple(ctx context.Context, k Tuple) error {
	key := fmt.Sprintf("registration:%s:%s:%s:%s", k.UserID, k.EventID, k.ModalityID, k.CategoryID)
	if err := database.AdvisoryXactLock(ctx, t.tx, key); err != nil {
		return apperrors.External(err, "lock registration tuple")
	}
	return nil
}

func (t *txRepository) FindActive(ctx context.Context, k Tuple) (*models.Registration, error) {
	const query = `SELECT ` + registrationColumns + ` FROM registrations
		WHERE user_id = $1 AND event_id = $2 AND modality_id = $3 AND category_id = $4 AND status IN ` + activeStatuses + `
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`
	return getRegistration(ctx, t.tx, query, k.UserID, k.EventID, k.ModalityID, k.CategoryID)
}

func (t *txRepository) GetRegistration(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return getRegistration(ctx, t.tx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id)
}

func (t *txRepository) GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error) {
	return getTier(ctx, t.tx, id)
}

func (t *txRepository) LockTier(ctx context.Context, tierID uuid.UUID) error {
	if err := database.AdvisoryXactLock(ctx, t.tx, "tier:"+tierID.String()); err != nil {
		return apperrors.External(err, "lock tier")
	}
	return nil
}

func (t *txRepository) CountActiveForTier(ctx context.Context, tierID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM registrations WHERE tier_id = $1 AND status IN `+activeStatuses, tierID).Scan(&n)
	if err != nil {
		return 0, apperrors.External(err, "count tier entries")
	}
	return n, nil
}

func (t *txRepository) InsertRegistration(ctx context.Context, r *models.Registration) error {
	const query = `INSERT INTO registrations (user_id, event_id, modality_id, category_id, gender_id, tier_id, protocol,
			status, coupon_id, discount_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (protocol) DO NOTHING
		RETURNING id`
	err := t.tx.QueryRow(ctx, query, r.UserID, r.EventID, r.ModalityID, r.CategoryID, r.GenderID, r.TierID, r.Protocol,
		string(r.Status), r.CouponID, database.ToNumeric(r.DiscountAmount), r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	switch {
	case database.IsNoRows(err):
		return ErrProtocolTaken
	case database.IsUniqueViolation(err, "uq_registrations_active_tuple"):
		return apperrors.Conflict(CodeAlreadyRegistered, "already registered for this event, modality and category")
	case err != nil:
		return apperrors.External(err, "insert registration")
	}
	return nil
}

func (t *txRepository) UpdateRegistration(ctx context.Context, r *models.Registration) error {
	const query = `UPDATE registrations SET status = $2, coupon_id = $3, discount_amount = $4, payment_transaction_id = $5,
			payment_method = $6, paid_amount = $7, paid_at = $8, expired_at = $9, canceled_at = $10, updated_at = $11
		WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, r.ID, string(r.Status), r.CouponID, database.ToNumeric(r.DiscountAmount),
		r.PaymentTransactionID, r.PaymentMethod, database.NullableNumeric(r.PaidAmount), r.PaidAt, r.ExpiredAt,
		r.CanceledAt, r.UpdatedAt)
	if err != nil {
		return apperrors.External(err, "update registration")
	}
	return nil
}

func getRegistration(ctx context.Context, db database.Querier, query string, args ...any) (*models.Registration, error) {
	r, err := scanRegistration(db.QueryRow(ctx, query, args...))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.External(err, "get registration")
	}
	return r, nil
}

func listRegistrations(ctx context.Context, db database.Querier, query string, args ...any) ([]*models.Registration, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.External(err, "list registrations")
	}
	defer rows.Close()
	var out []*models.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, apperrors.External(err, "scan registration")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.External(err, "list registrations")
	}
	return out, nil
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var (
		r        models.Registration
		status   string
		discount pgtype.Numeric
		paid     pgtype.Numeric
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.EventID, &r.ModalityID, &r.CategoryID, &r.GenderID, &r.TierID, &r.Protocol,
		&status, &r.CouponID, &discount, &r.PaymentTransactionID, &r.PaymentMethod, &paid, &r.PaidAt, &r.ExpiredAt,
		&r.CanceledAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = models.RegistrationStatus(status)
	r.DiscountAmount = database.FromNumeric(discount)
	r.PaidAmount = database.FromNullableNumeric(paid)
	return &r, nil
}

func getTier(ctx context.Context, db database.Querier, id uuid.UUID) (*models.PricingTier, error) {
	t, err := scanTier(db.QueryRow(ctx, `SELECT `+tierColumns+` FROM pricing_tiers WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.External(err, "get tier")
	}
	return t, nil
}

func scanTier(row pgx.Row) (*models.PricingTier, error) {
	var (
		t     models.PricingTier
		price pgtype.Numeric
	)
	if err := row.Scan(&t.ID, &t.EventID, &t.Name, &price, &t.ValidFrom, &t.ValidUntil, &t.MaxEntries, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Price = database.FromNumeric(price)
	return &t, nil
}

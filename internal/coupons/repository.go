package coupons

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/database"
)

// ErrCodeTaken is returned when the event already has a coupon with the same code.
var ErrCodeTaken = apperrors.Conflict("COUPON_CODE_TAKEN", "coupon code already exists for this event")

const couponColumns = `id, event_id, code, discount, modality_id, category_id, gender_id, max_uses,
	start_date, end_date, active, created_at, updated_at`

// Repository handles coupon and coupon usage persistence. Built on a transaction with Locking, reads take
// a row lock on the coupon.
type Repository struct {
	db        database.Querier
	forUpdate bool
}

// NewRepository creates a coupons repository over a pool or a transaction.
func NewRepository(db database.Querier) *Repository {
	return &Repository{db: db}
}

// Locking returns a repository whose coupon reads lock the row until the surrounding transaction ends.
func (r *Repository) Locking() *Repository {
	return &Repository{db: r.db, forUpdate: true}
}

func (r *Repository) lockClause() string {
	if r.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// Create inserts a new coupon. Code must already be normalized.
func (r *Repository) Create(ctx context.Context, c *models.Coupon) error {
	const query = `INSERT INTO coupons (event_id, code, discount, modality_id, category_id, gender_id, max_uses, start_date, end_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query, c.EventID, c.Code, c.Discount, c.ModalityID, c.CategoryID, c.GenderID,
		c.MaxUses, c.StartDate, c.EndDate, c.Active).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return ErrCodeTaken
	}
	if err != nil {
		return apperrors.External(err, "create coupon")
	}
	return nil
}

// ListByEvent returns an event's coupons with their computed usage counts.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Coupon, error) {
	query := `SELECT ` + couponColumns + `,
		(SELECT COUNT(*) FROM coupon_usages u WHERE u.coupon_id = coupons.id)
		FROM coupons WHERE event_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, apperrors.External(err, "list coupons")
	}
	defer rows.Close()
	var list []*models.Coupon
	for rows.Next() {
		var c models.Coupon
		if err := rows.Scan(&c.ID, &c.EventID, &c.Code, &c.Discount, &c.ModalityID, &c.CategoryID, &c.GenderID,
			&c.MaxUses, &c.StartDate, &c.EndDate, &c.Active, &c.CreatedAt, &c.UpdatedAt, &c.UsedCount); err != nil {
			return nil, apperrors.External(err, "scan coupon")
		}
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.External(err, "list coupons")
	}
	return list, nil
}

// GetCouponByCode returns the coupon for (eventID, code), or nil when none exists.
func (r *Repository) GetCouponByCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE event_id = $1 AND code = $2` + r.lockClause()
	return r.getOne(ctx, query, eventID, NormalizeCode(code))
}

// GetCouponByID returns a coupon by ID, or nil when none exists.
func (r *Repository) GetCouponByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1` + r.lockClause()
	return r.getOne(ctx, query, id)
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*models.Coupon, error) {
	var c models.Coupon
	err := r.db.QueryRow(ctx, query, args...).Scan(&c.ID, &c.EventID, &c.Code, &c.Discount, &c.ModalityID,
		&c.CategoryID, &c.GenderID, &c.MaxUses, &c.StartDate, &c.EndDate, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.External(err, "get coupon")
	}
	return &c, nil
}

// CountCouponUsages counts usage rows, the source of truth for usedCount.
func (r *Repository) CountCouponUsages(ctx context.Context, couponID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1`, couponID).Scan(&n); err != nil {
		return 0, apperrors.External(err, "count coupon usages")
	}
	return n, nil
}

// InsertUsage records that registrationID consumed couponID. It reports false when the pair already exists.
func (r *Repository) InsertUsage(ctx context.Context, couponID, registrationID uuid.UUID) (bool, error) {
	const query = `INSERT INTO coupon_usages (coupon_id, registration_id) VALUES ($1, $2)
		ON CONFLICT (coupon_id, registration_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, couponID, registrationID)
	if err != nil {
		return false, apperrors.External(err, "insert coupon usage")
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteUsage releases a registration's usage of a coupon.
func (r *Repository) DeleteUsage(ctx context.Context, couponID, registrationID uuid.UUID) error {
	const query = `DELETE FROM coupon_usages WHERE coupon_id = $1 AND registration_id = $2`
	if _, err := r.db.Exec(ctx, query, couponID, registrationID); err != nil {
		return apperrors.External(err, fmt.Sprintf("release coupon usage for registration %s", registrationID))
	}
	return nil
}

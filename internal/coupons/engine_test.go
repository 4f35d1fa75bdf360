package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newCoupon(eventID uuid.UUID) *models.Coupon {
	return &models.Coupon{
		ID:        uuid.New(),
		EventID:   eventID,
		Code:      "RUN25",
		Discount:  25,
		MaxUses:   2,
		StartDate: now.Add(-24 * time.Hour),
		EndDate:   now.Add(24 * time.Hour),
		Active:    true,
	}
}

func TestEvaluate(t *testing.T) {
	eventID := uuid.New()
	modality := uuid.New()
	category := uuid.New()
	other := uuid.New()
	pc := PricingContext{
		EventID:    eventID,
		ModalityID: modality,
		CategoryID: category,
		BasePrice:  decimal.RequireFromString("100.00"),
		Now:        now,
	}

	tests := []struct {
		name    string
		mutate  func(c *models.Coupon)
		used    int
		wantErr error
	}{
		{name: "applies", mutate: func(*models.Coupon) {}},
		{name: "other event", mutate: func(c *models.Coupon) { c.EventID = other }, wantErr: ErrCouponNotFound},
		{name: "inactive", mutate: func(c *models.Coupon) { c.Active = false }, wantErr: ErrCouponInactive},
		{name: "not started", mutate: func(c *models.Coupon) { c.StartDate = now.Add(time.Minute) }, wantErr: ErrCouponExpired},
		{name: "ended", mutate: func(c *models.Coupon) { c.EndDate = now.Add(-time.Minute) }, wantErr: ErrCouponExpired},
		{name: "window bounds are inclusive", mutate: func(c *models.Coupon) { c.StartDate, c.EndDate = now, now }},
		{name: "exhausted", mutate: func(*models.Coupon) {}, used: 2, wantErr: ErrCouponExhausted},
		{name: "modality mismatch", mutate: func(c *models.Coupon) { c.ModalityID = &other }, wantErr: ErrCouponNotEligible},
		{name: "category match", mutate: func(c *models.Coupon) { c.CategoryID = &category }},
		{name: "gender required but missing", mutate: func(c *models.Coupon) { c.GenderID = &other }, wantErr: ErrCouponNotEligible},
		{name: "inactive wins over exhausted", mutate: func(c *models.Coupon) { c.Active = false }, used: 5, wantErr: ErrCouponInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoupon(eventID)
			tt.mutate(c)
			q, err := Evaluate(c, tt.used, pc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.ID, *q.CouponID)
			assert.True(t, q.DiscountAmount.Equal(decimal.RequireFromString("25.00")), q.DiscountAmount.String())
			assert.True(t, q.FinalPrice.Equal(decimal.RequireFromString("75.00")), q.FinalPrice.String())
		})
	}
}

func TestEvaluateNilCoupon(t *testing.T) {
	_, err := Evaluate(nil, 0, PricingContext{Now: now})
	assert.ErrorIs(t, err, ErrCouponNotFound)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, apperrors.KindExhausted, apperrors.KindOf(ErrCouponExhausted))
	assert.Equal(t, apperrors.KindIneligible, apperrors.KindOf(ErrCouponNotEligible))
	assert.Equal(t, "COUPON_EXPIRED", apperrors.CodeOf(ErrCouponExpired))
}

func TestDiscountNeverExceedsBase(t *testing.T) {
	bases := []string{"0", "0.01", "0.05", "9.99", "33.33", "100", "1234.56"}
	for _, b := range bases {
		base := decimal.RequireFromString(b)
		for pct := 1; pct <= 100; pct++ {
			d := Discount(base, pct)
			final := base.Sub(d)
			require.False(t, d.IsNegative(), "base %s pct %d", b, pct)
			require.False(t, final.IsNegative(), "base %s pct %d", b, pct)
		}
	}
	assert.True(t, Discount(decimal.RequireFromString("100"), 100).Equal(decimal.RequireFromString("100")))
	assert.True(t, Discount(decimal.RequireFromString("10.05"), 50).Equal(decimal.RequireFromString("5.03")))
}

type fakeReader struct {
	coupon *models.Coupon
	used   int
}

func (f *fakeReader) GetCouponByCode(_ context.Context, eventID uuid.UUID, code string) (*models.Coupon, error) {
	if f.coupon == nil || f.coupon.EventID != eventID || f.coupon.Code != code {
		return nil, nil
	}
	return f.coupon, nil
}

func (f *fakeReader) CountCouponUsages(context.Context, uuid.UUID) (int, error) {
	return f.used, nil
}

func TestValidateAndPrice(t *testing.T) {
	eventID := uuid.New()
	r := &fakeReader{coupon: newCoupon(eventID)}
	e := NewEngine(r)
	pc := PricingContext{EventID: eventID, BasePrice: decimal.RequireFromString("100.00"), Now: now}

	q, err := e.ValidateAndPrice(context.Background(), "  run25 ", pc)
	require.NoError(t, err)
	assert.Equal(t, "RUN25", q.Code)
	assert.True(t, q.FinalPrice.Equal(decimal.RequireFromString("75")))

	q, err = e.ValidateAndPrice(context.Background(), "", pc)
	require.NoError(t, err)
	assert.Nil(t, q.CouponID)
	assert.True(t, q.FinalPrice.Equal(pc.BasePrice))

	_, err = e.ValidateAndPrice(context.Background(), "NOPE", pc)
	assert.ErrorIs(t, err, ErrCouponNotFound)

	r.used = 2
	_, err = e.ValidateAndPrice(context.Background(), "RUN25", pc)
	assert.ErrorIs(t, err, ErrCouponExhausted)
}

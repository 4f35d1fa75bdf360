package database

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNumericConversion(t *testing.T) {
	d := decimal.RequireFromString("75.25")
	got := FromNumeric(ToNumeric(d))
	assert.True(t, d.Equal(got), "got %s", got)

	assert.True(t, FromNumeric(pgtype.Numeric{}).IsZero())
	assert.Nil(t, FromNullableNumeric(pgtype.Numeric{}))
	assert.False(t, NullableNumeric(nil).Valid)
}

package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payment struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Method string          `json:"payment_method" validate:"required"`
}

func TestStructUsesJSONNamesAndDecimals(t *testing.T) {
	v := New()

	err := v.Struct(payment{Amount: decimal.Zero})
	require.Error(t, err)

	var verrs Errors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, "amount", verrs[0].Field)
	assert.Equal(t, "amount must be greater than 0", verrs.First())
	assert.Equal(t, "payment_method is required", verrs[1].Message)

	assert.NoError(t, v.Struct(payment{Amount: decimal.RequireFromString("0.01"), Method: "cash"}))
}

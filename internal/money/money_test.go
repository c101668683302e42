package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "$62.50", Format(6250, "usd"))
	assert.Equal(t, "$0.05", Format(5, ""))
	assert.Equal(t, "-$12.50", Format(-1250, "USD"))
	assert.Equal(t, "EUR 10.00", Format(1000, "eur"))
}

func TestParseCents(t *testing.T) {
	cents, err := ParseCents("$62.50")
	require.NoError(t, err)
	assert.Equal(t, int64(6250), cents)

	cents, err = ParseCents("10.005")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), cents)

	_, err = ParseCents("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFractionRoundsHalfUp(t *testing.T) {
	half := decimal.NewFromFloat(0.5)
	assert.Equal(t, int64(2500), Fraction(5000, half))
	assert.Equal(t, int64(2501), Fraction(5001, half))
}

package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	d, err := Parse("123.45670000")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("123.4567")))
	assert.Equal(t, "123.4567", d.StringFixed(4))
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-a-number")
	assert.Error(t, err)
}

func TestRoundQuantityDownNeverRoundsUp(t *testing.T) {
	d := MustParse("10.99999")
	got := RoundQuantityDown(d)
	assert.True(t, got.LessThanOrEqual(d))
	assert.Equal(t, "10.9999", got.StringFixed(4))
}

func TestRoundMoneyHalfEven(t *testing.T) {
	// 0.00005 at scale 4 is exactly halfway between 0.0000 and 0.0001;
	// banker's rounding goes to the even neighbour.
	d := MustParse("0.00005")
	got := RoundMoneyHalfEven(d)
	assert.Equal(t, "0.0000", got.StringFixed(4))
}

func TestParseFXRateRejectsNonPositive(t *testing.T) {
	_, err := ParseFXRate("0")
	assert.Error(t, err)
	_, err = ParseFXRate("-1.5")
	assert.Error(t, err)
	rate, err := ParseFXRate("1.52340000")
	assert.NoError(t, err)
	assert.True(t, rate.IsPositive())
}

package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/pkg/types"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buyFill(symbol string, qty, price string, ts time.Time) types.Fill {
	return types.Fill{Symbol: symbol, Side: types.OrderSideBuy, Quantity: dd(qty), Price: dd(price), Timestamp: ts}
}

func sellFill(symbol string, qty, price string, ts time.Time) types.Fill {
	return types.Fill{Symbol: symbol, Side: types.OrderSideSell, Quantity: dd(qty), Price: dd(price), Timestamp: ts}
}

func TestTaxYearBoundary(t *testing.T) {
	assert.Equal(t, "FY2025", TaxYear(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "FY2026", TaxYear(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFIFOMatchingAcrossTwoParcels(t *testing.T) {
	l := New()
	one := decimal.NewFromInt(1)

	day1 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	sellDay := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := l.RecordFill(buyFill("AAPL", "10", "100", day1), "USD", one, decimal.Zero)
	require.NoError(t, err)
	_, err = l.RecordFill(buyFill("AAPL", "10", "110", day2), "USD", one, decimal.Zero)
	require.NoError(t, err)

	trade, err := l.RecordFill(sellFill("AAPL", "15", "120", sellDay), "USD", one, decimal.NewFromInt(90))
	require.NoError(t, err)

	// Consumes all 10 from parcel 1 (cost 100) and 5 from parcel 2 (cost 110):
	// total cost basis = 10*100 + 5*110 = 1550, avg = 1550/15.
	assert.True(t, trade.CostBasisTotal.Equal(dd("1550")))
	assert.True(t, trade.AcquisitionDate.Equal(day1))
	assert.True(t, trade.CGTGrossGain.Equal(dd("250"))) // 15*120 - 1550 = 1800-1550=250
	assert.True(t, trade.CGTGrossLoss.IsZero())

	assert.True(t, l.OpenQuantity("AAPL").Equal(dd("5")))
}

func TestDiscountEligibilityBoundary(t *testing.T) {
	l := New()
	one := decimal.NewFromInt(1)
	buyDay := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// 366 days later: NOT eligible.
	sell366 := buyDay.AddDate(0, 0, 366)
	_, err := l.RecordFill(buyFill("AAPL", "10", "100", buyDay), "USD", one, decimal.Zero)
	require.NoError(t, err)
	trade, err := l.RecordFill(sellFill("AAPL", "10", "150", sell366), "USD", one, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 366, trade.HoldingPeriodDays)
	assert.False(t, trade.CGTDiscountEligible)
	assert.True(t, trade.CGTNetGain.Equal(trade.CGTGrossGain))

	l2 := New()
	sell367 := buyDay.AddDate(0, 0, 367)
	_, err = l2.RecordFill(buyFill("AAPL", "10", "100", buyDay), "USD", one, decimal.Zero)
	require.NoError(t, err)
	trade2, err := l2.RecordFill(sellFill("AAPL", "10", "150", sell367), "USD", one, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 367, trade2.HoldingPeriodDays)
	assert.True(t, trade2.CGTDiscountEligible)
	assert.True(t, trade2.CGTNetGain.Equal(trade2.CGTGrossGain.Mul(DiscountRate)))
}

func TestGrossLossNotDiscounted(t *testing.T) {
	l := New()
	one := decimal.NewFromInt(1)
	buyDay := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sellDay := buyDay.AddDate(1, 0, 0)

	_, err := l.RecordFill(buyFill("AAPL", "10", "100", buyDay), "USD", one, decimal.Zero)
	require.NoError(t, err)
	trade, err := l.RecordFill(sellFill("AAPL", "10", "90", sellDay), "USD", one, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, trade.CGTGrossLoss.Equal(dd("100")))
	assert.True(t, trade.CGTGrossGain.IsZero())
	assert.True(t, trade.CGTNetGain.Equal(dd("-100")))
}

func TestSellExceedingOpenParcelsErrors(t *testing.T) {
	l := New()
	one := decimal.NewFromInt(1)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := l.RecordFill(buyFill("AAPL", "5", "100", day), "USD", one, decimal.Zero)
	require.NoError(t, err)
	_, err = l.RecordFill(sellFill("AAPL", "10", "100", day), "USD", one, decimal.Zero)
	assert.Error(t, err)
}

func TestMultiCurrencyAUDConversion(t *testing.T) {
	l := New()
	fx := dd("1.5")
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := l.RecordFill(buyFill("AAPL", "10", "100", day), "USD", fx, decimal.Zero)
	require.NoError(t, err)
	sellDay := day.AddDate(1, 0, 1)
	trade, err := l.RecordFill(sellFill("AAPL", "10", "120", sellDay), "USD", fx, decimal.Zero)
	require.NoError(t, err)
	// cost basis in AUD: 10 * (100*1.5) = 1500; proceeds AUD: 10*120*1.5=1800
	assert.True(t, trade.CostBasisTotal.Equal(dd("1500")))
	assert.True(t, trade.TotalValueAUD.Equal(dd("1800")))
	assert.True(t, trade.CGTGrossGain.Equal(dd("300")))
}

func TestRecordFillRejectsInvalidInputs(t *testing.T) {
	l := New()
	day := time.Now()
	_, err := l.RecordFill(buyFill("AAPL", "0", "100", day), "USD", decimal.NewFromInt(1), decimal.Zero)
	assert.Error(t, err)
	_, err = l.RecordFill(buyFill("AAPL", "1", "0", day), "USD", decimal.NewFromInt(1), decimal.Zero)
	assert.Error(t, err)
	_, err = l.RecordFill(buyFill("AAPL", "1", "100", day), "USD", decimal.Zero, decimal.Zero)
	assert.Error(t, err)
	_, err = l.RecordFill(buyFill("AAPL", "1", "100", day), "USD", decimal.NewFromInt(1), dd("101"))
	assert.Error(t, err)
}

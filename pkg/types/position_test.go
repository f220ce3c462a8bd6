package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPositionApplyFillOpensWeightedAverage(t *testing.T) {
	p := &Position{Symbol: "AAPL"}
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideBuy, Quantity: d("10"), Price: d("100")}))
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideBuy, Quantity: d("10"), Price: d("110")}))

	assert.True(t, p.Quantity.Equal(d("20")))
	assert.True(t, p.AvgEntryPrice.Equal(d("105")))
	assert.Equal(t, PositionSideLong, p.Side)
}

func TestPositionApplyFillPartialClose(t *testing.T) {
	p := &Position{Symbol: "AAPL"}
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideBuy, Quantity: d("10"), Price: d("100")}))
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideSell, Quantity: d("4"), Price: d("120")}))

	assert.True(t, p.Quantity.Equal(d("6")))
	// Avg entry price is unchanged by a partial close.
	assert.True(t, p.AvgEntryPrice.Equal(d("100")))
	assert.True(t, p.RealizedPnL.Equal(d("80"))) // 4 * (120-100)
}

func TestPositionApplyFillFlip(t *testing.T) {
	// Long 10 @ 100, sell 15 @ 110: closes the 10 long (realizing P&L on
	// 10 units at the old average) and opens a 5-unit short at 110.
	p := &Position{Symbol: "AAPL"}
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideBuy, Quantity: d("10"), Price: d("100")}))
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideSell, Quantity: d("15"), Price: d("110")}))

	assert.True(t, p.Quantity.Equal(d("-5")), "expected -5, got %s", p.Quantity)
	assert.Equal(t, PositionSideShort, p.Side)
	assert.True(t, p.AvgEntryPrice.Equal(d("110")), "expected flip entry 110, got %s", p.AvgEntryPrice)
	assert.True(t, p.RealizedPnL.Equal(d("100")), "expected 10*(110-100)=100, got %s", p.RealizedPnL)
}

func TestPositionApplyFillFullCloseToZero(t *testing.T) {
	p := &Position{Symbol: "AAPL"}
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideBuy, Quantity: d("10"), Price: d("100")}))
	require.NoError(t, p.ApplyFill(Fill{Side: OrderSideSell, Quantity: d("10"), Price: d("95")}))

	assert.True(t, p.Quantity.IsZero())
	assert.True(t, p.AvgEntryPrice.IsZero())
	assert.Equal(t, PositionSideFlat, p.Side)
	assert.True(t, p.RealizedPnL.Equal(d("-50")))
}

func TestPositionApplyFillRejectsNonPositiveQuantity(t *testing.T) {
	p := &Position{Symbol: "AAPL"}
	err := p.ApplyFill(Fill{Side: OrderSideBuy, Quantity: decimal.Zero, Price: d("100")})
	assert.Error(t, err)
}

func TestPortfolioApplyFillCreatesAndRemovesPosition(t *testing.T) {
	pf, err := NewPortfolio(d("10000"))
	require.NoError(t, err)

	err = pf.ApplyFill(Fill{Symbol: "AAPL", Side: OrderSideBuy, Quantity: d("10"), Price: d("100"), Commission: d("1")}, AssetClassEquity)
	require.NoError(t, err)
	assert.Contains(t, pf.Positions, "AAPL")
	assert.True(t, pf.Cash.Equal(d("8999"))) // 10000 - 1000 - 1

	err = pf.ApplyFill(Fill{Symbol: "AAPL", Side: OrderSideSell, Quantity: d("10"), Price: d("105"), Commission: d("1")}, AssetClassEquity)
	require.NoError(t, err)
	assert.NotContains(t, pf.Positions, "AAPL")
	assert.True(t, pf.TotalRealizedPnL.Equal(d("49"))) // 10*(105-100) - 1 sell commission
	assert.True(t, pf.TotalCommissionPaid.Equal(d("2")))
}

func TestPortfolioDrawdownFloorsAtZero(t *testing.T) {
	pf, err := NewPortfolio(d("1000"))
	require.NoError(t, err)
	pf.UpdatePeakEquity()
	assert.True(t, pf.Drawdown().IsZero())

	pf.Cash = d("1000") // no loss yet, equity still == peak
	pf.UpdatePeakEquity()
	assert.True(t, pf.Drawdown().IsZero())
}

func TestNewPortfolioRejectsNegativeCash(t *testing.T) {
	_, err := NewPortfolio(d("-1"))
	assert.Error(t, err)
}

func TestBarValidation(t *testing.T) {
	ts := time.Now()
	_, err := NewBar(ts, d("10"), d("12"), d("9"), d("11"), d("1000"))
	assert.NoError(t, err)

	_, err = NewBar(ts, d("10"), d("9"), d("9"), d("11"), d("1000"))
	assert.Error(t, err, "high below open/close should be rejected")

	_, err = NewBar(ts, d("10"), d("12"), d("11"), d("11"), d("1000"))
	assert.Error(t, err, "low above open should be rejected")

	_, err = NewBar(ts, d("0"), d("12"), d("9"), d("11"), d("1000"))
	assert.Error(t, err, "zero open should be rejected")

	_, err = NewBar(ts, d("10"), d("12"), d("9"), d("11"), d("-1"))
	assert.Error(t, err, "negative volume should be rejected")
}

func TestClassifySymbol(t *testing.T) {
	assert.Equal(t, AssetClassASX, ClassifySymbol("bhp.ax"))
	assert.Equal(t, AssetClassCrypto, ClassifySymbol("BTCUSDT"))
	assert.Equal(t, AssetClassFutures, ClassifySymbol("ESZ24"))
	assert.Equal(t, AssetClassEquity, ClassifySymbol("AAPL"))
}

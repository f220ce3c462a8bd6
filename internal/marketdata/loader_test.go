package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/pkg/types"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSource struct {
	series types.OHLCVSeries
}

func (f *fakeSource) FetchOHLCV(ctx context.Context, ticker string, start, end time.Time, interval string) (types.OHLCVSeries, error) {
	return f.series, nil
}

func barSeries(n int, start time.Time, base float64) types.OHLCVSeries {
	bars := make([]types.Bar, n)
	price := base
	for i := 0; i < n; i++ {
		price += 0.5
		b, _ := types.NewBar(start.AddDate(0, 0, i), decimal.NewFromFloat(price-0.2), decimal.NewFromFloat(price+1), decimal.NewFromFloat(price-1), decimal.NewFromFloat(price), decimal.NewFromInt(1000))
		bars[i] = b
	}
	return types.OHLCVSeries{Ticker: "AAPL", Interval: "1d", Bars: bars}
}

func TestLoadOHLCVCachesByKey(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{series: barSeries(300, start.AddDate(0, 0, -lookbackDays), 100)}
	loader := NewLoader(src)

	s1, err := loader.LoadOHLCV(context.Background(), "AAPL", start, start.AddDate(0, 1, 0), "1d")
	require.NoError(t, err)
	assert.NotEmpty(t, s1.Bars)

	src.series = types.OHLCVSeries{} // prove the second call hits cache, not source
	s2, err := loader.LoadOHLCV(context.Background(), "AAPL", start, start.AddDate(0, 1, 0), "1d")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestGetPriceOnDateFallsBackToPriorBar(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := barSeries(10, start, 100)
	loader := NewLoader(&fakeSource{})

	// Saturday / gap date with no bar: falls back to the last bar before it.
	gap := start.AddDate(0, 0, 20)
	price, err := loader.GetPriceOnDate(series, gap)
	require.NoError(t, err)
	assert.True(t, price.Equal(series.Bars[len(series.Bars)-1].Close))
}

func TestGetPriceOnDateErrorsBeforeFirstBar(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	series := barSeries(5, start, 100)
	loader := NewLoader(&fakeSource{})
	_, err := loader.GetPriceOnDate(series, start.AddDate(0, 0, -5))
	assert.Error(t, err)
}

func TestGetTradingDays(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := barSeries(5, start, 100)
	loader := NewLoader(&fakeSource{})
	days := loader.GetTradingDays(series, start, start.AddDate(0, 0, 4))
	assert.Len(t, days, 5)
}

func TestLoadIndicatorsWarmupRequirement(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	series := barSeries(300, start, 50)
	ind := LoadIndicators(series)

	require.NotNil(t, ind.SMA20)
	require.NotNil(t, ind.SMA200)
	assert.True(t, ind.SMA20[19].IsPositive())
	for i := 0; i < 19; i++ {
		assert.True(t, ind.SMA20[i].IsZero())
	}

	require.NotNil(t, ind.RSI14)
	assert.True(t, ind.RSI14[14].GreaterThan(decimal.Zero))

	require.NotNil(t, ind.ATR14)
	assert.True(t, ind.ATR14[14].IsPositive())
}

func TestLoadIndicatorsInsufficientHistoryReturnsNil(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := barSeries(5, start, 100)
	ind := LoadIndicators(series)
	assert.Nil(t, ind.SMA20)
	assert.Nil(t, ind.SMA200)
}

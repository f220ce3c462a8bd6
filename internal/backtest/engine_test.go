package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/internal/marketdata"
	"github.com/quantcore/tradingcore/pkg/types"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeSource serves a fixed, steadily-rising daily series so SMA-crossover
// style strategies have something deterministic to decide against.
type fakeSource struct{ bars []types.Bar }

func (f fakeSource) FetchOHLCV(ctx context.Context, ticker string, start, end time.Time, interval string) (types.OHLCVSeries, error) {
	var out []types.Bar
	for _, b := range f.bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return types.OHLCVSeries{Ticker: ticker, Interval: interval, Bars: out}, nil
}

func risingSeries(days int, startPrice string) []types.Bar {
	base := dd(startPrice)
	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, days)
	for i := 0; i < days; i++ {
		price := base.Add(decimal.NewFromInt(int64(i)))
		bars = append(bars, types.Bar{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      price, High: price.Add(dd("1")), Low: price.Sub(dd("1")), Close: price,
			Volume: dd("1000"),
		})
	}
	return bars
}

func TestRunBuyAndHoldProducesPositiveReturnOnRisingMarket(t *testing.T) {
	bars := risingSeries(30, "100")
	source := fakeSource{bars: bars}
	loader := marketdata.NewLoader(source)

	boughtOnce := false
	decide := func(ticker string, day time.Time, bars []types.Bar, ind marketdata.Indicators, idx int) (*Decision, error) {
		if boughtOnce {
			return nil, nil
		}
		boughtOnce = true
		return &Decision{Signal: types.TradingSignal{Symbol: ticker, SignalType: types.SignalTypeBuy}}, nil
	}

	cfg := Config{
		Tickers:                []string{"AAPL"},
		Start:                  bars[0].Timestamp,
		End:                    bars[len(bars)-1].Timestamp,
		InitialCash:            dd("100000"),
		MaxPositionSizePercent: dd("50"),
		Commission:             Commission{Model: CommissionPerTrade, Rate: dd("1")},
	}
	engine := New(loader, cfg, decide)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.EquityCurve)
	final := result.EquityCurve[len(result.EquityCurve)-1].Equity
	assert.True(t, final.GreaterThan(cfg.InitialCash), "expected equity to grow on a rising market, got %s", final)
}

func TestRunClosesOpenPositionsOnLastDay(t *testing.T) {
	bars := risingSeries(10, "50")
	source := fakeSource{bars: bars}
	loader := marketdata.NewLoader(source)

	decide := func(ticker string, day time.Time, bars []types.Bar, ind marketdata.Indicators, idx int) (*Decision, error) {
		if idx == 0 {
			return &Decision{Signal: types.TradingSignal{Symbol: ticker, SignalType: types.SignalTypeBuy}}, nil
		}
		return nil, nil
	}

	cfg := Config{
		Tickers:                []string{"AAPL"},
		Start:                  bars[0].Timestamp,
		End:                    bars[len(bars)-1].Timestamp,
		InitialCash:            dd("10000"),
		MaxPositionSizePercent: dd("100"),
	}
	engine := New(loader, cfg, decide)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	// All-cash by the end: the final equity point carries no position value.
	require.NotEmpty(t, result.EquityCurve)
	assert.True(t, result.EquityCurve[len(result.EquityCurve)-1].PositionsValue.IsZero())
}

func TestEquityCurvePointInvariants(t *testing.T) {
	bars := risingSeries(15, "100")
	source := fakeSource{bars: bars}
	loader := marketdata.NewLoader(source)

	decide := func(ticker string, day time.Time, bars []types.Bar, ind marketdata.Indicators, idx int) (*Decision, error) {
		if idx == 1 {
			return &Decision{Signal: types.TradingSignal{Symbol: ticker, SignalType: types.SignalTypeBuy}}, nil
		}
		return nil, nil
	}

	cfg := Config{
		Tickers:                []string{"AAPL"},
		Start:                  bars[0].Timestamp,
		End:                    bars[len(bars)-1].Timestamp,
		InitialCash:            dd("100000"),
		MaxPositionSizePercent: dd("40"),
	}
	engine := New(loader, cfg, decide)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	peak := cfg.InitialCash
	for _, p := range result.EquityCurve {
		assert.True(t, p.Equity.Equal(p.Cash.Add(p.PositionsValue)), "equity must equal cash+positions_value at %s", p.Date)
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		wantDD := peak.Sub(p.Equity)
		if wantDD.IsNegative() {
			wantDD = decimal.Zero
		}
		assert.True(t, p.Drawdown.Equal(wantDD), "drawdown mismatch at %s: got %s want %s", p.Date, p.Drawdown, wantDD)
	}
}

func TestEquityCurveBenchmarkValueTracksBenchmarkReturns(t *testing.T) {
	bars := risingSeries(5, "100")
	source := fakeSource{bars: bars}
	loader := marketdata.NewLoader(source)

	decide := func(string, time.Time, []types.Bar, marketdata.Indicators, int) (*Decision, error) { return nil, nil }

	cfg := Config{
		Tickers:          []string{"AAPL"},
		Start:            bars[0].Timestamp,
		End:              bars[len(bars)-1].Timestamp,
		InitialCash:      dd("1000"),
		BenchmarkReturns: []decimal.Decimal{dd("0.01"), dd("0.01"), dd("0.01"), dd("0.01"), dd("0.01")},
	}
	engine := New(loader, cfg, decide)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, result.EquityCurve)
	first := result.EquityCurve[0]
	require.NotNil(t, first.BenchmarkValue)
	assert.True(t, first.BenchmarkValue.Equal(dd("1010")))
}

func TestRunErrorsOnNoTickers(t *testing.T) {
	loader := marketdata.NewLoader(fakeSource{})
	engine := New(loader, Config{InitialCash: dd("1000")}, func(string, time.Time, []types.Bar, marketdata.Indicators, int) (*Decision, error) { return nil, nil })
	_, err := engine.Run(context.Background())
	assert.Error(t, err)
}

func TestCommissionModels(t *testing.T) {
	perTrade := Commission{Model: CommissionPerTrade, Rate: dd("5")}
	assert.True(t, perTrade.Compute(dd("100"), dd("10")).Equal(dd("5")))

	perShare := Commission{Model: CommissionPerShare, Rate: dd("0.01")}
	assert.True(t, perShare.Compute(dd("100"), dd("10")).Equal(dd("1")))

	pctNotional := Commission{Model: CommissionPercentOfNotional, Rate: dd("0.1")}
	// 100 shares * $10 = $1000 notional * 0.1% = $1
	assert.True(t, pctNotional.Compute(dd("100"), dd("10")).Equal(dd("1")))

	clamped := Commission{Model: CommissionPerTrade, Rate: dd("0.5"), Min: dd("1")}
	assert.True(t, clamped.Compute(dd("1"), dd("1")).Equal(dd("1")))
}

func TestSlippageAppliesDirectionAware(t *testing.T) {
	s := Slippage{Percent: dd("1")}
	buy := s.Apply(types.OrderSideBuy, dd("100"))
	sell := s.Apply(types.OrderSideSell, dd("100"))
	assert.True(t, buy.Equal(dd("101")))
	assert.True(t, sell.Equal(dd("99")))
}

// Package marketdata implements the Market Data Loader (spec §4.B): OHLCV
// retrieval with a bounded cache, trading-day enumeration, and a bank of
// price/volume indicators computed over a warmed-up lookback window.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantcore/tradingcore/pkg/cache"
	"github.com/quantcore/tradingcore/pkg/types"
)

// lookbackDays is the number of calendar days of history fetched before
// start to warm the indicator bank. On a weekday-only daily series that is
// about 178 bars, fewer than the 200-day SMA needs, so that SMA is still
// zero at the first requested bar.
const lookbackDays = 250

// cacheTTL bounds how long a loaded OHLCV series is reused before a
// refetch; intraday callers (backtests) typically load once and hold the
// series for the run, so this is generous.
const cacheTTL = 15 * time.Minute

// Source fetches raw OHLCV bars for a ticker/interval from an upstream
// provider (a broker's historical endpoint, a vendor API, a local file
// store). Loader is provider-agnostic; callers inject the Source they need.
type Source interface {
	FetchOHLCV(ctx context.Context, ticker string, start, end time.Time, interval string) (types.OHLCVSeries, error)
}

// Loader is the Market Data Loader (spec §4.B).
type Loader struct {
	source Source
	cache  *cache.SeriesCache
	logger *logrus.Entry
}

// NewLoader constructs a Loader backed by source.
func NewLoader(source Source) *Loader {
	return &Loader{
		source: source,
		cache:  cache.NewSeriesCache(cacheTTL),
		logger: logrus.WithField("component", "marketdata_loader"),
	}
}

// LoadOHLCV returns the bar series for [start, end], fetching lookbackDays
// of history ahead of start so indicator warmup has data to work with, and
// caching the extended series under (ticker,start,end,interval).
func (l *Loader) LoadOHLCV(ctx context.Context, ticker string, start, end time.Time, interval string) (types.OHLCVSeries, error) {
	if series, ok := l.cache.Get(ticker, start, end, interval); ok {
		return series, nil
	}

	fetchStart := start.AddDate(0, 0, -lookbackDays)
	series, err := l.source.FetchOHLCV(ctx, ticker, fetchStart, end, interval)
	if err != nil {
		return types.OHLCVSeries{}, fmt.Errorf("marketdata: load ohlcv for %s: %w", ticker, err)
	}

	l.cache.Set(ticker, start, end, interval, series)
	stats := l.cache.Stats()
	l.logger.WithField("ticker", ticker).WithField("hits", stats.Hits).WithField("misses", stats.Misses).Debug("market data cache state after fetch")
	return series, nil
}

// GetPriceOnDate returns the close price on date, falling back to the most
// recent bar on or before date if date itself has no bar (spec §4.B).
func (l *Loader) GetPriceOnDate(series types.OHLCVSeries, date time.Time) (decimal.Decimal, error) {
	var best *types.Bar
	for i := range series.Bars {
		b := series.Bars[i]
		if b.Timestamp.After(date) {
			continue
		}
		if best == nil || b.Timestamp.After(best.Timestamp) {
			best = &series.Bars[i]
		}
	}
	if best == nil {
		return decimal.Zero, fmt.Errorf("marketdata: no price on or before %s for %s", date.Format("2006-01-02"), series.Ticker)
	}
	return best.Close, nil
}

// GetTradingDays returns the set of distinct trading days with a bar in
// [start, end], ascending.
func (l *Loader) GetTradingDays(series types.OHLCVSeries, start, end time.Time) []time.Time {
	var days []time.Time
	var last time.Time
	for _, b := range series.Slice(start, end) {
		y, m, d := b.Timestamp.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, b.Timestamp.Location())
		if !day.Equal(last) {
			days = append(days, day)
			last = day
		}
	}
	return days
}

// Indicators is the full bank of derived series from spec §4.B, each
// index-aligned with the OHLCVSeries it was computed from. A nil slice
// means insufficient history to compute that indicator.
type Indicators struct {
	SMA20  []decimal.Decimal
	SMA50  []decimal.Decimal
	SMA200 []decimal.Decimal
	EMA10  []decimal.Decimal
	EMA20  []decimal.Decimal
	RSI14  []decimal.Decimal

	MACD       []decimal.Decimal
	MACDSignal []decimal.Decimal
	MACDHist   []decimal.Decimal

	BollingerUpper  []decimal.Decimal
	BollingerMiddle []decimal.Decimal
	BollingerLower  []decimal.Decimal

	ATR14 []decimal.Decimal
	MFI14 []decimal.Decimal
}

// LoadIndicators computes the full indicator bank over series, per spec
// §4.B. series must already include the lookback window (LoadOHLCV does
// this automatically); LoadIndicators does not itself fetch more history.
func LoadIndicators(series types.OHLCVSeries) Indicators {
	closes := closesOf(series.Bars)
	return Indicators{
		SMA20:  sma(closes, 20),
		SMA50:  sma(closes, 50),
		SMA200: sma(closes, 200),
		EMA10:  ema(closes, 10),
		EMA20:  ema(closes, 20),
		RSI14:  rsi(closes, 14),

		MACD:       macdLine(closes, 12, 26),
		MACDSignal: macdSignalFromLine(macdLine(closes, 12, 26), 9),
		MACDHist:   macdHistogram(closes),

		BollingerUpper:  bollinger(closes, 20, 2, bollingerUpper),
		BollingerMiddle: bollinger(closes, 20, 2, bollingerMiddle),
		BollingerLower:  bollinger(closes, 20, 2, bollingerLower),

		ATR14: atr(series.Bars, 14),
		MFI14: mfi(series.Bars, 14),
	}
}

func closesOf(bars []types.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// sma computes a simple moving average over window; entries before index
// window-1 are zero, and the result is nil when values is shorter than window.
func sma(values []decimal.Decimal, window int) []decimal.Decimal {
	if len(values) < window {
		return nil
	}
	out := make([]decimal.Decimal, len(values))
	var sum decimal.Decimal
	for i, v := range values {
		sum = sum.Add(v)
		if i >= window {
			sum = sum.Sub(values[i-window])
		}
		if i >= window-1 {
			out[i] = sum.Div(decimal.NewFromInt(int64(window)))
		}
	}
	return out
}

// ema computes an exponential moving average seeded by the window's SMA.
func ema(values []decimal.Decimal, window int) []decimal.Decimal {
	if len(values) < window {
		return nil
	}
	out := make([]decimal.Decimal, len(values))
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(window + 1)))
	var seed decimal.Decimal
	for i := 0; i < window; i++ {
		seed = seed.Add(values[i])
	}
	seed = seed.Div(decimal.NewFromInt(int64(window)))
	out[window-1] = seed
	prev := seed
	for i := window; i < len(values); i++ {
		v := values[i].Sub(prev).Mul(k).Add(prev)
		out[i] = v
		prev = v
	}
	return out
}

// rsi computes the Wilder-smoothed relative strength index.
func rsi(values []decimal.Decimal, period int) []decimal.Decimal {
	if len(values) <= period {
		return nil
	}
	out := make([]decimal.Decimal, len(values))
	var avgGain, avgLoss decimal.Decimal
	for i := 1; i <= period; i++ {
		delta := values[i].Sub(values[i-1])
		if delta.IsPositive() {
			avgGain = avgGain.Add(delta)
		} else {
			avgLoss = avgLoss.Add(delta.Abs())
		}
	}
	avgGain = avgGain.Div(decimal.NewFromInt(int64(period)))
	avgLoss = avgLoss.Div(decimal.NewFromInt(int64(period)))
	out[period] = rsiFromAverages(avgGain, avgLoss)

	periodDec := decimal.NewFromInt(int64(period))
	for i := period + 1; i < len(values); i++ {
		delta := values[i].Sub(values[i-1])
		gain, loss := decimal.Zero, decimal.Zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Abs()
		}
		avgGain = avgGain.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(gain).Div(periodDec)
		avgLoss = avgLoss.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(loss).Div(periodDec)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// macdLine is EMA(fast) - EMA(slow); entries before the slow EMA warms up
// are zero, and the result is nil when either EMA is.
func macdLine(values []decimal.Decimal, fast, slow int) []decimal.Decimal {
	fastEMA := ema(values, fast)
	slowEMA := ema(values, slow)
	if fastEMA == nil || slowEMA == nil {
		return nil
	}
	out := make([]decimal.Decimal, len(values))
	for i := slow - 1; i < len(values); i++ {
		out[i] = fastEMA[i].Sub(slowEMA[i])
	}
	return out
}

// macdSignalFromLine is the EMA of the MACD line.
func macdSignalFromLine(line []decimal.Decimal, signalPeriod int) []decimal.Decimal {
	if line == nil {
		return nil
	}
	trimmed, offset := trimLeadingZeros(line)
	sig := ema(trimmed, signalPeriod)
	if sig == nil {
		return nil
	}
	out := make([]decimal.Decimal, len(line))
	for i, v := range sig {
		if i+offset < len(out) && !v.IsZero() {
			out[i+offset] = v
		}
	}
	return out
}

// trimLeadingZeros drops the unset (zero-value) prefix of an indicator
// slice so downstream EMA warmup windows count from real data only.
func trimLeadingZeros(values []decimal.Decimal) ([]decimal.Decimal, int) {
	for i, v := range values {
		if !v.IsZero() {
			return values[i:], i
		}
	}
	return nil, len(values)
}

func macdHistogram(values []decimal.Decimal) []decimal.Decimal {
	line := macdLine(values, 12, 26)
	signal := macdSignalFromLine(line, 9)
	if line == nil || signal == nil {
		return nil
	}
	out := make([]decimal.Decimal, len(values))
	for i := range values {
		if !line[i].IsZero() && !signal[i].IsZero() {
			out[i] = line[i].Sub(signal[i])
		}
	}
	return out
}

type bollingerBand int

const (
	bollingerUpper bollingerBand = iota
	bollingerMiddle
	bollingerLower
)

// bollinger computes one of the three Bollinger bands over window with
// numStdDev standard deviations.
func bollinger(values []decimal.Decimal, window int, numStdDev float64, band bollingerBand) []decimal.Decimal {
	if len(values) < window {
		return nil
	}
	mid := sma(values, window)
	out := make([]decimal.Decimal, len(values))
	stdDevMul := decimal.NewFromFloat(numStdDev)
	for i := window - 1; i < len(values); i++ {
		slice := values[i-window+1 : i+1]
		stdDev := stdDeviation(slice, mid[i])
		switch band {
		case bollingerMiddle:
			out[i] = mid[i]
		case bollingerUpper:
			out[i] = mid[i].Add(stdDev.Mul(stdDevMul))
		case bollingerLower:
			out[i] = mid[i].Sub(stdDev.Mul(stdDevMul))
		}
	}
	return out
}

func stdDeviation(values []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	var sumSq decimal.Decimal
	for _, v := range values {
		diff := v.Sub(mean)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(values))))
	return decimal.NewFromFloat(variance.InexactFloat64()).Pow(decimal.NewFromFloat(0.5))
}

// atr computes the average true range over period, Wilder-smoothed.
func atr(bars []types.Bar, period int) []decimal.Decimal {
	if len(bars) <= period {
		return nil
	}
	trueRanges := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		if i == 0 {
			trueRanges[i] = b.High.Sub(b.Low)
			continue
		}
		prevClose := bars[i-1].Close
		hl := b.High.Sub(b.Low)
		hc := b.High.Sub(prevClose).Abs()
		lc := b.Low.Sub(prevClose).Abs()
		trueRanges[i] = decimal.Max(hl, hc, lc)
	}

	out := make([]decimal.Decimal, len(bars))
	var sum decimal.Decimal
	for i := 1; i <= period; i++ {
		sum = sum.Add(trueRanges[i])
	}
	periodDec := decimal.NewFromInt(int64(period))
	avg := sum.Div(periodDec)
	out[period] = avg
	for i := period + 1; i < len(bars); i++ {
		avg = avg.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(trueRanges[i]).Div(periodDec)
		out[i] = avg
	}
	return out
}

// mfi computes the money flow index over period.
func mfi(bars []types.Bar, period int) []decimal.Decimal {
	if len(bars) <= period {
		return nil
	}
	typicalPrice := make([]decimal.Decimal, len(bars))
	moneyFlow := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		typicalPrice[i] = b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
		moneyFlow[i] = typicalPrice[i].Mul(b.Volume)
	}

	out := make([]decimal.Decimal, len(bars))
	for i := period; i < len(bars); i++ {
		var posFlow, negFlow decimal.Decimal
		for j := i - period + 1; j <= i; j++ {
			if typicalPrice[j].GreaterThan(typicalPrice[j-1]) {
				posFlow = posFlow.Add(moneyFlow[j])
			} else if typicalPrice[j].LessThan(typicalPrice[j-1]) {
				negFlow = negFlow.Add(moneyFlow[j])
			}
		}
		if negFlow.IsZero() {
			out[i] = decimal.NewFromInt(100)
			continue
		}
		ratio := posFlow.Div(negFlow)
		hundred := decimal.NewFromInt(100)
		out[i] = hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(ratio)))
	}
	return out
}

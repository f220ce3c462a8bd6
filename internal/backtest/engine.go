// Package backtest implements the Backtest Engine (spec §4.J): it
// preloads OHLCV history through the Market Data Loader, walks the primary
// ticker's trading-day sequence, consults a decision callback per ticker,
// applies commission and slippage to form execution prices, fills
// through the shared Portfolio, and hands the resulting equity curve to
// the performance-metrics calculator.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantcore/tradingcore/internal/marketdata"
	"github.com/quantcore/tradingcore/pkg/money"
	"github.com/quantcore/tradingcore/pkg/types"
)

// CommissionModel selects how Commission.Compute prices a trade.
type CommissionModel string

const (
	CommissionPerTrade           CommissionModel = "per_trade"
	CommissionPerShare           CommissionModel = "per_share"
	CommissionPercentOfNotional  CommissionModel = "percent_of_notional"
)

// Commission configures the trade-cost model (spec §4.J step b): a flat,
// per-share, or percent-of-notional fee, with optional min/max clamps.
type Commission struct {
	Model CommissionModel
	Rate  decimal.Decimal // flat fee (per_trade), per-share rate, or percent (e.g. 0.1 = 0.1%)
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// Compute returns the commission owed on a trade of quantity shares at
// price, with the Min/Max clamps applied (a zero Min or Max is no clamp).
func (c Commission) Compute(quantity, price decimal.Decimal) decimal.Decimal {
	var fee decimal.Decimal
	switch c.Model {
	case CommissionPerShare:
		fee = c.Rate.Mul(quantity)
	case CommissionPercentOfNotional:
		fee = quantity.Mul(price).Mul(c.Rate).Div(decimal.NewFromInt(100))
	default: // per_trade
		fee = c.Rate
	}
	if c.Min.IsPositive() && fee.LessThan(c.Min) {
		fee = c.Min
	}
	if c.Max.IsPositive() && fee.GreaterThan(c.Max) {
		fee = c.Max
	}
	return fee
}

// Slippage applies a direction-aware percentage adjustment to the
// execution price (spec §4.J step b).
type Slippage struct {
	Percent decimal.Decimal // e.g. 0.05 = 0.05%
}

// Apply nudges price against the trader: up for buys, down for sells.
func (s Slippage) Apply(side types.OrderSide, price decimal.Decimal) decimal.Decimal {
	if !s.Percent.IsPositive() {
		return price
	}
	adj := price.Mul(s.Percent).Div(decimal.NewFromInt(100))
	if side == types.OrderSideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// Decision is what a DecisionFunc returns for one ticker on one day.
// A nil Decision (and nil error) means "no action today".
type Decision struct {
	Signal              types.TradingSignal
	RecommendedQuantity *decimal.Decimal
}

// DecisionFunc is the per-ticker, per-day strategy callback (spec §4.J
// step 3.a). bars is every bar up to and including the current day,
// oldest first, so a strategy can look back without the engine exposing
// future data.
type DecisionFunc func(ticker string, day time.Time, bars []types.Bar, indicators marketdata.Indicators, barIndex int) (*Decision, error)

// Config is one backtest run's parameters.
type Config struct {
	Tickers                []string
	Start, End             time.Time
	WarmupPeriodDays       int // bars to skip, beyond the loader's own lookback, before trading begins
	InitialCash            decimal.Decimal
	MaxPositionSizePercent decimal.Decimal // used when a Decision carries no RecommendedQuantity
	Commission             Commission
	Slippage               Slippage
	RiskFreeRate           decimal.Decimal    // annual, e.g. 0.02 = 2%
	BenchmarkReturns       []decimal.Decimal  // optional, aligned to the equity curve's daily returns
}

// EquityCurvePoint is one day's mark-to-market snapshot (spec §3). Equity
// always equals Cash + PositionsValue (invariant 7); Drawdown is
// peak-equity-to-date minus Equity, floored at zero.
type EquityCurvePoint struct {
	Date            time.Time
	Equity          decimal.Decimal
	Cash            decimal.Decimal
	PositionsValue  decimal.Decimal
	BenchmarkValue  *decimal.Decimal
	Drawdown        decimal.Decimal
	DrawdownPercent decimal.Decimal
	DailyReturn     decimal.Decimal
}

// TradeRecord is one executed fill, carried alongside the Fill it produced.
type TradeRecord struct {
	Fill      types.Fill
	Commission decimal.Decimal
}

// Result is everything Run produces for one backtest.
type Result struct {
	EquityCurve []EquityCurvePoint
	Trades      []TradeRecord
	Metrics     Metrics
}

// Engine runs one BacktestConfig against a shared Market Data Loader.
type Engine struct {
	loader *marketdata.Loader
	cfg    Config
	decide DecisionFunc
	logger *logrus.Entry
}

// New constructs an Engine.
func New(loader *marketdata.Loader, cfg Config, decide DecisionFunc) *Engine {
	return &Engine{loader: loader, cfg: cfg, decide: decide, logger: logrus.WithField("component", "backtest")}
}

// Run executes the backtest (spec §4.J).
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if len(e.cfg.Tickers) == 0 {
		return nil, fmt.Errorf("backtest: at least one ticker is required")
	}
	if !e.cfg.InitialCash.IsPositive() {
		return nil, fmt.Errorf("backtest: initial cash must be > 0")
	}

	series := make(map[string]types.OHLCVSeries, len(e.cfg.Tickers))
	indicators := make(map[string]marketdata.Indicators, len(e.cfg.Tickers))
	for _, ticker := range e.cfg.Tickers {
		s, err := e.loader.LoadOHLCV(ctx, ticker, e.cfg.Start, e.cfg.End, "1d")
		if err != nil {
			return nil, fmt.Errorf("backtest: loading %s: %w", ticker, err)
		}
		series[ticker] = s
		indicators[ticker] = marketdata.LoadIndicators(s)
	}

	primary := e.cfg.Tickers[0]
	primarySeries := series[primary]
	tradingDays := e.loader.GetTradingDays(primarySeries, e.cfg.Start, e.cfg.End)
	if e.cfg.WarmupPeriodDays > 0 && e.cfg.WarmupPeriodDays < len(tradingDays) {
		tradingDays = tradingDays[e.cfg.WarmupPeriodDays:]
	}

	portfolio, err := types.NewPortfolio(e.cfg.InitialCash)
	if err != nil {
		return nil, err
	}

	var curve []EquityCurvePoint
	var trades []TradeRecord
	prevEquity := e.cfg.InitialCash
	benchmarkValue := e.cfg.InitialCash

	for i, day := range tradingDays {
		isLastDay := i == len(tradingDays)-1

		for _, ticker := range e.cfg.Tickers {
			s := series[ticker]
			bar, ok := s.GetBar(day)
			if !ok {
				continue
			}

			if isLastDay {
				if pos, held := portfolio.Positions[ticker]; held && !pos.Quantity.IsZero() {
					e.closePosition(portfolio, ticker, pos, bar.Close, day, &trades)
				}
				continue
			}

			barIndex := barIndexOf(s, day)
			bars := s.Bars[:barIndex+1]
			decision, err := e.decide(ticker, day, bars, indicators[ticker], barIndex)
			if err != nil {
				e.logger.WithError(err).WithField("ticker", ticker).Warn("decision callback failed; skipping day")
				continue
			}
			if decision == nil {
				continue
			}
			e.applyDecision(portfolio, ticker, *decision, bar.Close, day, &trades)
		}

		for _, ticker := range e.cfg.Tickers {
			if pos, ok := portfolio.Positions[ticker]; ok {
				s := series[ticker]
				if bar, found := s.GetBar(day); found {
					pos.CurrentPrice = bar.Close
				}
			}
		}
		portfolio.UpdatePeakEquity()

		equity := portfolio.Equity()
		dailyReturn := decimal.Zero
		if prevEquity.IsPositive() {
			dailyReturn = equity.Sub(prevEquity).Div(prevEquity)
		}

		drawdown := portfolio.Drawdown()
		drawdownPct := decimal.Zero
		if portfolio.PeakEquity.IsPositive() {
			drawdownPct = drawdown.Div(portfolio.PeakEquity).Mul(decimal.NewFromInt(100))
		}

		var benchmarkPoint *decimal.Decimal
		if i < len(e.cfg.BenchmarkReturns) {
			benchmarkValue = benchmarkValue.Mul(decimal.NewFromInt(1).Add(e.cfg.BenchmarkReturns[i]))
			bv := benchmarkValue
			benchmarkPoint = &bv
		}

		curve = append(curve, EquityCurvePoint{
			Date:            day,
			Equity:          equity,
			Cash:            portfolio.Cash,
			PositionsValue:  equity.Sub(portfolio.Cash),
			BenchmarkValue:  benchmarkPoint,
			Drawdown:        drawdown,
			DrawdownPercent: drawdownPct,
			DailyReturn:     dailyReturn,
		})
		prevEquity = equity
	}

	metrics, err := ComputeMetrics(curve, trades, e.cfg.RiskFreeRate, e.cfg.BenchmarkReturns)
	if err != nil {
		return nil, err
	}
	return &Result{EquityCurve: curve, Trades: trades, Metrics: metrics}, nil
}

func barIndexOf(s types.OHLCVSeries, day time.Time) int {
	y, m, d := day.Date()
	for i, b := range s.Bars {
		by, bm, bd := b.Timestamp.Date()
		if by == y && bm == m && bd == d {
			return i
		}
	}
	return len(s.Bars) - 1
}

// applyDecision executes a BUY or SELL decision at the day's close,
// adjusted for slippage and commission (spec §4.J steps b-d).
func (e *Engine) applyDecision(portfolio *types.Portfolio, ticker string, decision Decision, closePrice decimal.Decimal, day time.Time, trades *[]TradeRecord) {
	var side types.OrderSide
	switch decision.Signal.SignalType {
	case types.SignalTypeBuy:
		side = types.OrderSideBuy
	case types.SignalTypeSell, types.SignalTypeCloseLong:
		side = types.OrderSideSell
	default:
		return
	}
	execPrice := e.cfg.Slippage.Apply(side, closePrice)

	switch side {
	case types.OrderSideBuy:
		if _, held := portfolio.Positions[ticker]; held {
			return // spec §4.J step c: only sizes a fresh buy when no position exists
		}
		quantity := e.sizeBuy(portfolio, decision, execPrice)
		if !quantity.IsPositive() {
			return
		}
		e.fill(portfolio, ticker, types.OrderSideBuy, quantity, execPrice, day, trades)

	case types.OrderSideSell:
		pos, held := portfolio.Positions[ticker]
		if !held || pos.Quantity.IsZero() {
			return
		}
		e.closePosition(portfolio, ticker, pos, execPrice, day, trades)
	}
}

func (e *Engine) sizeBuy(portfolio *types.Portfolio, decision Decision, execPrice decimal.Decimal) decimal.Decimal {
	var quantity decimal.Decimal
	if decision.RecommendedQuantity != nil && decision.RecommendedQuantity.IsPositive() {
		quantity = *decision.RecommendedQuantity
	} else if e.cfg.MaxPositionSizePercent.IsPositive() {
		dollar := portfolio.Cash.Mul(e.cfg.MaxPositionSizePercent).Div(decimal.NewFromInt(100))
		quantity = dollar.Div(execPrice)
	}
	quantity = money.RoundQuantityDown(quantity)

	affordable := portfolio.Cash.Div(execPrice)
	affordable = money.RoundQuantityDown(affordable)
	if quantity.GreaterThan(affordable) {
		quantity = affordable
	}
	return quantity
}

func (e *Engine) closePosition(portfolio *types.Portfolio, ticker string, pos *types.Position, execPrice decimal.Decimal, day time.Time, trades *[]TradeRecord) {
	quantity := pos.Quantity.Abs()
	e.fill(portfolio, ticker, types.OrderSideSell, quantity, execPrice, day, trades)
}

func (e *Engine) fill(portfolio *types.Portfolio, ticker string, side types.OrderSide, quantity, price decimal.Decimal, day time.Time, trades *[]TradeRecord) {
	commission := e.cfg.Commission.Compute(quantity, price)
	f := types.Fill{Symbol: ticker, Side: side, Quantity: quantity, Price: price, Commission: commission, Timestamp: day}
	if err := portfolio.ApplyFill(f, types.AssetClassEquity); err != nil {
		e.logger.WithError(err).WithField("ticker", ticker).Warn("fill rejected")
		return
	}
	*trades = append(*trades, TradeRecord{Fill: f, Commission: commission})
}

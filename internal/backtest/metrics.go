package backtest

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/types"
)

const tradingDaysPerYear = 252.0

// Metrics is the full performance-metrics set (spec §4.J). Inputs are
// decimal.Decimal; internal ratio math (Sharpe, Sortino, regression
// statistics) runs in float64 for numerical convenience and converts
// back at the boundary.
type Metrics struct {
	TotalReturn          decimal.Decimal
	TotalReturnPercent   decimal.Decimal
	AnnualizedReturn     decimal.Decimal
	Volatility           decimal.Decimal
	AnnualizedVolatility decimal.Decimal
	DownsideVolatility   decimal.Decimal
	Sharpe               *decimal.Decimal
	Sortino              *decimal.Decimal
	Calmar               *decimal.Decimal
	MaxDrawdown          decimal.Decimal
	MaxDrawdownPercent   decimal.Decimal
	AvgDrawdown          decimal.Decimal
	MaxDrawdownDuration  int
	WinRate              decimal.Decimal
	ProfitFactor         decimal.Decimal
	AvgWin               decimal.Decimal
	AvgLoss              decimal.Decimal
	AvgHoldingPeriodDays decimal.Decimal
	Alpha                *decimal.Decimal
	Beta                 *decimal.Decimal
	InformationRatio     *decimal.Decimal
}

// ComputeMetrics derives the full metrics set from an equity curve and
// trade list (spec §4.J). An empty curve is an error; zero volatility
// nulls Sharpe/Sortino; zero max drawdown nulls Calmar.
func ComputeMetrics(curve []EquityCurvePoint, trades []TradeRecord, riskFreeRate decimal.Decimal, benchmarkReturns []decimal.Decimal) (Metrics, error) {
	if len(curve) == 0 {
		return Metrics{}, fmt.Errorf("backtest: cannot compute metrics over an empty equity curve")
	}

	initial := curve[0].Equity
	final := curve[len(curve)-1].Equity
	m := Metrics{TotalReturn: final.Sub(initial)}
	if initial.IsPositive() {
		m.TotalReturnPercent = m.TotalReturn.Div(initial).Mul(decimal.NewFromInt(100))
	}

	days := len(curve)
	totalReturnRatio, _ := final.Div(initial).Float64()
	annReturn := 0.0
	if totalReturnRatio > 0 && days > 0 {
		annReturn = math.Pow(totalReturnRatio, tradingDaysPerYear/float64(days)) - 1
	}
	m.AnnualizedReturn = decimal.NewFromFloat(annReturn)

	dailyReturns := make([]float64, 0, len(curve))
	for _, p := range curve {
		f, _ := p.DailyReturn.Float64()
		dailyReturns = append(dailyReturns, f)
	}

	vol := stdev(dailyReturns)
	m.Volatility = decimal.NewFromFloat(vol)
	annVol := vol * math.Sqrt(tradingDaysPerYear)
	m.AnnualizedVolatility = decimal.NewFromFloat(annVol)

	downsideVol := downsideStdev(dailyReturns)
	m.DownsideVolatility = decimal.NewFromFloat(downsideVol)

	rf, _ := riskFreeRate.Float64()
	if annVol > 0 {
		sharpe := (annReturn - rf) / annVol
		m.Sharpe = ptr(decimal.NewFromFloat(sharpe))
	}
	annDownsideVol := downsideVol * math.Sqrt(tradingDaysPerYear)
	if annDownsideVol > 0 {
		sortino := (annReturn - rf) / annDownsideVol
		m.Sortino = ptr(decimal.NewFromFloat(sortino))
	}

	maxDD, maxDDPct, avgDD, maxDDDuration := drawdownStats(curve)
	m.MaxDrawdown = decimal.NewFromFloat(maxDD)
	m.MaxDrawdownPercent = decimal.NewFromFloat(maxDDPct)
	m.AvgDrawdown = decimal.NewFromFloat(avgDD)
	m.MaxDrawdownDuration = maxDDDuration
	if maxDDPct > 0 {
		calmarPct, _ := m.AnnualizedReturn.Mul(decimal.NewFromInt(100)).Float64()
		calmar := calmarPct / maxDDPct
		m.Calmar = ptr(decimal.NewFromFloat(calmar))
	}

	tradeStats(trades, &m)

	if len(benchmarkReturns) > 0 {
		alpha, beta, infoRatio := benchmarkStats(dailyReturns, benchmarkReturns, rf)
		m.Alpha = alpha
		m.Beta = beta
		m.InformationRatio = infoRatio
	}

	return m, nil
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func downsideStdev(values []float64) float64 {
	var downside []float64
	for _, v := range values {
		if v < 0 {
			downside = append(downside, v)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range downside {
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(downside)))
}

// drawdownStats returns (max drawdown $, max drawdown %, average drawdown
// $ over underwater days, max drawdown duration in days).
func drawdownStats(curve []EquityCurvePoint) (float64, float64, float64, int) {
	peak, _ := curve[0].Equity.Float64()
	maxDD, maxDDPct := 0.0, 0.0
	var ddSum float64
	ddDays := 0
	curDuration, maxDuration := 0, 0

	for _, p := range curve {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
		}
		dd := peak - eq
		ddPct := 0.0
		if peak > 0 {
			ddPct = dd / peak * 100
		}
		if dd > maxDD {
			maxDD = dd
		}
		if ddPct > maxDDPct {
			maxDDPct = ddPct
		}
		if dd > 0 {
			ddSum += dd
			ddDays++
			curDuration++
			if curDuration > maxDuration {
				maxDuration = curDuration
			}
		} else {
			curDuration = 0
		}
	}

	avgDD := 0.0
	if ddDays > 0 {
		avgDD = ddSum / float64(ddDays)
	}
	return maxDD, maxDDPct, avgDD, maxDuration
}

// tradeStats fills the win-rate/profit-factor/avg-win/avg-loss/holding
// period fields. Each sell is paired with the earliest still-open buy of
// the same symbol (FIFO) and its P&L is (sell price - buy price) * sell
// quantity - the sell's commission; a sell with no open buy is priced
// against itself, so only its commission counts.
func tradeStats(trades []TradeRecord, m *Metrics) {
	if len(trades) == 0 {
		return
	}
	var wins, losses int
	var winSum, lossSum decimal.Decimal
	var holdingDays decimal.Decimal
	var closedCount int

	openedAt := make(map[string][]TradeRecord)
	for _, t := range trades {
		if t.Fill.Side == types.OrderSideBuy {
			openedAt[t.Fill.Symbol] = append(openedAt[t.Fill.Symbol], t)
			continue
		}
		// sell: pair against the earliest still-open buy for the symbol (FIFO)
		opens := openedAt[t.Fill.Symbol]
		var costBasis decimal.Decimal
		if len(opens) > 0 {
			open := opens[0]
			openedAt[t.Fill.Symbol] = opens[1:]
			costBasis = open.Fill.Price
			holdingDays = holdingDays.Add(decimal.NewFromFloat(t.Fill.Timestamp.Sub(open.Fill.Timestamp).Hours() / 24))
			closedCount++
		} else {
			costBasis = t.Fill.Price
		}
		pnl := t.Fill.Price.Sub(costBasis).Mul(t.Fill.Quantity).Sub(t.Commission)
		if pnl.IsPositive() {
			wins++
			winSum = winSum.Add(pnl)
		} else if pnl.IsNegative() {
			losses++
			lossSum = lossSum.Add(pnl.Abs())
		}
	}

	totalClosed := wins + losses
	if totalClosed > 0 {
		m.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(totalClosed))).Mul(decimal.NewFromInt(100))
	}
	if lossSum.IsPositive() {
		m.ProfitFactor = winSum.Div(lossSum)
	}
	if wins > 0 {
		m.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		m.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}
	if closedCount > 0 {
		m.AvgHoldingPeriodDays = holdingDays.Div(decimal.NewFromInt(int64(closedCount)))
	}
}

// benchmarkStats computes OLS alpha/beta of strategy returns against
// benchmark returns, plus the annualized information ratio.
func benchmarkStats(returns []float64, benchmarkReturns []decimal.Decimal, rf float64) (*decimal.Decimal, *decimal.Decimal, *decimal.Decimal) {
	n := len(returns)
	if len(benchmarkReturns) < n {
		n = len(benchmarkReturns)
	}
	if n < 2 {
		return nil, nil, nil
	}
	bench := make([]float64, n)
	for i := 0; i < n; i++ {
		bench[i], _ = benchmarkReturns[i].Float64()
	}
	strat := returns[:n]

	meanStrat := mean(strat)
	meanBench := mean(bench)

	var covar, varBench float64
	for i := 0; i < n; i++ {
		ds := strat[i] - meanStrat
		db := bench[i] - meanBench
		covar += ds * db
		varBench += db * db
	}
	if varBench == 0 {
		return nil, nil, nil
	}
	beta := covar / varBench
	// Annualized alpha: daily excess over what beta*benchmark predicts.
	dailyAlpha := meanStrat - beta*meanBench
	annualAlpha := dailyAlpha * tradingDaysPerYear

	excess := make([]float64, n)
	for i := 0; i < n; i++ {
		excess[i] = strat[i] - bench[i]
	}
	trackingError := stdev(excess)
	var infoRatio *decimal.Decimal
	if trackingError > 0 {
		annualExcess := mean(excess) * tradingDaysPerYear
		annualTrackingError := trackingError * math.Sqrt(tradingDaysPerYear)
		ir := annualExcess / annualTrackingError
		infoRatio = ptr(decimal.NewFromFloat(ir))
	}

	return ptr(decimal.NewFromFloat(annualAlpha)), ptr(decimal.NewFromFloat(beta)), infoRatio
}

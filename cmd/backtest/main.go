// Command backtest runs the Backtest Engine against CSV-file historical
// data and reports the resulting performance metrics, with exit codes per
// the CLI contract: 0 success, 1 invalid input, 2 execution failure, 3
// risk reject.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/internal/backtest"
	"github.com/quantcore/tradingcore/internal/config"
	"github.com/quantcore/tradingcore/internal/marketdata"
	"github.com/quantcore/tradingcore/internal/risk"
	"github.com/quantcore/tradingcore/pkg/types"
)

const (
	exitSuccess      = 0
	exitInvalidInput = 1
	exitExecFailure  = 2
	exitRiskReject   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dataDir   = flag.String("data", "./backtest_data", "directory of <ticker>.csv historical bars")
		ticker    = flag.String("ticker", "", "ticker to backtest (required)")
		startDate = flag.String("start", "", "start date YYYY-MM-DD (required)")
		endDate   = flag.String("end", "", "end date YYYY-MM-DD (required)")
		capital   = flag.Float64("capital", 100000, "initial cash")
		maxPosPct = flag.Float64("max-position-size-pct", 25, "max position size as percent of cash per buy")
		smaShort  = flag.Int("sma-short", 20, "fast SMA period for the built-in crossover strategy")
		smaLong   = flag.Int("sma-long", 50, "slow SMA period for the built-in crossover strategy")
		output    = flag.String("output", "", "write result JSON to this path instead of stdout")
	)
	flag.Parse()

	logger := config.NewLogger("backtest_cli")

	if *ticker == "" || *startDate == "" || *endDate == "" {
		logger.Error("ticker, start, and end are required")
		return exitInvalidInput
	}
	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		logger.WithError(err).Error("invalid start date")
		return exitInvalidInput
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		logger.WithError(err).Error("invalid end date")
		return exitInvalidInput
	}
	if !end.After(start) {
		logger.Error("end date must be after start date")
		return exitInvalidInput
	}

	source := marketdata.NewFileSource(*dataDir)
	loader := marketdata.NewLoader(source)

	riskManager := risk.NewManager(risk.Limits{
		MaxPositionValue:        decimal.NewFromFloat(*capital * 10),
		MaxConcentrationPercent: decimal.NewFromInt(100),
		MaxTotalPositions:       1,
	})

	cfg := backtest.Config{
		Tickers:                []string{*ticker},
		Start:                  start,
		End:                    end,
		InitialCash:            decimal.NewFromFloat(*capital),
		MaxPositionSizePercent: decimal.NewFromFloat(*maxPosPct),
		Commission:             backtest.Commission{Model: backtest.CommissionPerTrade, Rate: decimal.NewFromFloat(1)},
		Slippage:               backtest.Slippage{Percent: decimal.NewFromFloat(0.05)},
	}

	decide := smaCrossoverStrategy(*smaShort, *smaLong)
	engine := backtest.New(loader, cfg, decide)

	result, err := engine.Run(context.Background())
	if err != nil {
		logger.WithError(err).Error("backtest execution failed")
		return exitExecFailure
	}

	if riskManager.InCoolingOff() {
		logger.Error("risk manager entered cooling-off during the run")
		return exitRiskReject
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.WithError(err).Error("failed to serialize result")
		return exitExecFailure
	}
	if *output != "" {
		if err := os.WriteFile(*output, payload, 0o644); err != nil {
			logger.WithError(err).Error("failed to write result")
			return exitExecFailure
		}
	} else {
		fmt.Println(string(payload))
	}
	return exitSuccess
}

// smaCrossoverStrategy is a minimal illustrative strategy: buy when the
// short SMA crosses above the long SMA, sell on the reverse cross.
func smaCrossoverStrategy(shortPeriod, longPeriod int) backtest.DecisionFunc {
	var wasAbove *bool

	return func(ticker string, day time.Time, bars []types.Bar, ind marketdata.Indicators, barIndex int) (*backtest.Decision, error) {
		var shortSeries, longSeries []decimal.Decimal
		switch shortPeriod {
		case 20:
			shortSeries = ind.SMA20
		case 50:
			shortSeries = ind.SMA50
		default:
			shortSeries = ind.SMA20
		}
		switch longPeriod {
		case 50:
			longSeries = ind.SMA50
		case 200:
			longSeries = ind.SMA200
		default:
			longSeries = ind.SMA50
		}
		if barIndex >= len(shortSeries) || barIndex >= len(longSeries) {
			return nil, nil
		}
		s, l := shortSeries[barIndex], longSeries[barIndex]
		if s.IsZero() || l.IsZero() {
			return nil, nil
		}
		above := s.GreaterThan(l)

		var decision *backtest.Decision
		if wasAbove != nil && above != *wasAbove {
			if above {
				decision = &backtest.Decision{Signal: types.TradingSignal{Symbol: ticker, SignalType: types.SignalTypeBuy, Timestamp: day}}
			} else {
				decision = &backtest.Decision{Signal: types.TradingSignal{Symbol: ticker, SignalType: types.SignalTypeSell, Timestamp: day}}
			}
		}
		wasAbove = &above
		return decision, nil
	}
}

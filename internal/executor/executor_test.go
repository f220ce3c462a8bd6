package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/internal/broker"
	"github.com/quantcore/tradingcore/internal/ordermanager"
	"github.com/quantcore/tradingcore/internal/risk"
	"github.com/quantcore/tradingcore/internal/signalorder"
	"github.com/quantcore/tradingcore/pkg/types"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestExecutor(t *testing.T, limits risk.Limits) (*Executor, *types.Portfolio) {
	t.Helper()
	price := dd("100")
	p := broker.NewPaper(dd("100000"), func(symbol string) (decimal.Decimal, error) { return price, nil }, decimal.Zero, decimal.NewFromInt(1))
	require.NoError(t, p.Connect(context.Background()))

	om := ordermanager.New(p, ordermanager.Config{})
	rm := risk.NewManager(limits)
	cfg := signalorder.ConversionConfig{
		Sizing:             signalorder.SizingConfig{Method: signalorder.SizingFixedQuantity, FixedQuantity: dd("10")},
		DefaultTimeInForce: types.TimeInForceDay,
		QuantityPrecision:  4,
		PricePrecision:     2,
	}
	exec := New(om, rm, cfg, Config{FillTimeout: time.Second})
	portfolio, err := types.NewPortfolio(dd("100000"))
	require.NoError(t, err)
	return exec, portfolio
}

func TestExecuteHappyPathFillsImmediately(t *testing.T) {
	exec, portfolio := newTestExecutor(t, risk.Limits{})
	signal := types.TradingSignal{Symbol: "AAPL", SignalType: types.SignalTypeBuy, Strength: dd("1"), Confidence: dd("1")}

	result := exec.Execute(context.Background(), "sig-1", signal, portfolio, dd("100"), decimal.Zero)
	require.True(t, result.Success)
	require.NotNil(t, result.Order)
	assert.Equal(t, types.OrderStatusFilled, result.Order.Status)

	kinds := make([]EventKind, 0)
	for _, e := range exec.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventSignalReceived)
	assert.Contains(t, kinds, EventOrderBuilt)
	assert.Contains(t, kinds, EventRiskChecked)
	assert.Contains(t, kinds, EventSubmitted)
	assert.Contains(t, kinds, EventFilled)
}

func TestExecuteRiskRejectionStopsBeforeSubmit(t *testing.T) {
	limits := risk.Limits{MaxPositionSize: dd("1")} // 10-share signal exceeds this
	exec, portfolio := newTestExecutor(t, limits)
	signal := types.TradingSignal{Symbol: "AAPL", SignalType: types.SignalTypeBuy, Strength: dd("1"), Confidence: dd("1")}

	result := exec.Execute(context.Background(), "sig-2", signal, portfolio, dd("100"), decimal.Zero)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.Nil(t, result.Order)

	kinds := make([]EventKind, 0)
	for _, e := range exec.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventRejected)
	assert.NotContains(t, kinds, EventSubmitted)
}

func TestExecuteConversionFailureStopsBeforeRisk(t *testing.T) {
	exec, portfolio := newTestExecutor(t, risk.Limits{})
	signal := types.TradingSignal{Symbol: "AAPL", SignalType: types.SignalTypeHold}

	result := exec.Execute(context.Background(), "sig-3", signal, portfolio, dd("100"), decimal.Zero)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)

	kinds := make([]EventKind, 0)
	for _, e := range exec.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.NotContains(t, kinds, EventRiskChecked)
}

func TestExecuteSubmitsBracketChildrenOnFill(t *testing.T) {
	exec, portfolio := newTestExecutor(t, risk.Limits{})
	exec.converterCfg.StopLoss = signalorder.StopLossConfig{Type: signalorder.StopLossPercent, Percent: dd("5")}
	exec.converterCfg.TakeProfit = signalorder.TakeProfitConfig{Type: signalorder.TakeProfitPercent, Percent: dd("5")}

	signal := types.TradingSignal{Symbol: "AAPL", SignalType: types.SignalTypeBuy, Strength: dd("1"), Confidence: dd("1")}
	result := exec.Execute(context.Background(), "sig-4", signal, portfolio, dd("100"), decimal.Zero)
	require.True(t, result.Success)
	require.NotNil(t, result.StopLossOrder)
	require.NotNil(t, result.TakeProfitOrder)
}

func TestRetryDelayHonorsExponentialBackoffCap(t *testing.T) {
	exec, _ := newTestExecutor(t, risk.Limits{})
	policy := RetryPolicy{Mode: RetryExponentialBackoff, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}
	got := exec.retryDelay(policy, 5) // would be 160ms uncapped
	assert.LessOrEqual(t, got, 25*time.Millisecond)
}

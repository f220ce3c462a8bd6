package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curveWithReturns(equities ...string) []EquityCurvePoint {
	curve := make([]EquityCurvePoint, len(equities))
	prev := dd(equities[0])
	for i, e := range equities {
		eq := dd(e)
		ret := decimal.Zero
		if i > 0 && prev.IsPositive() {
			ret = eq.Sub(prev).Div(prev)
		}
		curve[i] = EquityCurvePoint{Date: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC), Equity: eq, DailyReturn: ret}
		prev = eq
	}
	return curve
}

func TestComputeMetricsEmptyCurveErrors(t *testing.T) {
	_, err := ComputeMetrics(nil, nil, decimal.Zero, nil)
	assert.Error(t, err)
}

func TestComputeMetricsZeroVolatilityNullsSharpeAndSortino(t *testing.T) {
	curve := curveWithReturns("100", "100", "100", "100")
	m, err := ComputeMetrics(curve, nil, decimal.Zero, nil)
	require.NoError(t, err)
	assert.Nil(t, m.Sharpe)
	assert.Nil(t, m.Sortino)
}

func TestComputeMetricsZeroDrawdownNullsCalmar(t *testing.T) {
	curve := curveWithReturns("100", "101", "102", "103")
	m, err := ComputeMetrics(curve, nil, decimal.Zero, nil)
	require.NoError(t, err)
	assert.Nil(t, m.Calmar)
}

func TestComputeMetricsDrawdownOnDecliningCurve(t *testing.T) {
	curve := curveWithReturns("100", "90", "80", "95")
	m, err := ComputeMetrics(curve, nil, decimal.Zero, nil)
	require.NoError(t, err)
	assert.True(t, m.MaxDrawdown.GreaterThan(decimal.Zero))
	assert.True(t, m.MaxDrawdownPercent.GreaterThan(decimal.Zero))
	require.NotNil(t, m.Calmar)
}

func TestComputeMetricsTotalReturn(t *testing.T) {
	curve := curveWithReturns("100", "110", "121")
	m, err := ComputeMetrics(curve, nil, decimal.Zero, nil)
	require.NoError(t, err)
	assert.True(t, m.TotalReturn.Equal(dd("21")))
	assert.True(t, m.TotalReturnPercent.Equal(dd("21")))
}

func TestComputeMetricsBenchmarkStatsRequireVariance(t *testing.T) {
	curve := curveWithReturns("100", "105", "110", "108")
	flatBenchmark := []decimal.Decimal{dd("0.01"), dd("0.01"), dd("0.01")}
	m, err := ComputeMetrics(curve, nil, decimal.Zero, flatBenchmark)
	require.NoError(t, err)
	assert.Nil(t, m.Alpha)
	assert.Nil(t, m.Beta)
}

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFillTotalCost(t *testing.T) {
	buy := Fill{Side: OrderSideBuy, Quantity: d("10"), Price: d("100"), Commission: d("2")}
	assert.True(t, buy.TotalCost().Equal(d("1002")))

	sell := Fill{Side: OrderSideSell, Quantity: d("10"), Price: d("100"), Commission: d("2")}
	assert.True(t, sell.TotalCost().Equal(d("998")))
}

func TestOHLCVSeriesGetBarAndSlice(t *testing.T) {
	day := func(n int) time.Time { return time.Date(2025, 1, n, 0, 0, 0, 0, time.UTC) }
	bars := make([]Bar, 0, 5)
	for i := 1; i <= 5; i++ {
		b, err := NewBar(day(i), d("10"), d("12"), d("9"), d("11"), d("100"))
		assert.NoError(t, err)
		bars = append(bars, b)
	}
	s := &OHLCVSeries{Ticker: "AAPL", Bars: bars}

	got, ok := s.GetBar(day(3))
	assert.True(t, ok)
	assert.True(t, got.Timestamp.Equal(day(3)))

	_, ok = s.GetBar(day(10))
	assert.False(t, ok)

	sliced := s.Slice(day(2), day(4))
	assert.Len(t, sliced, 3)
}

package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/pkg/types"
)

func fixedPrice(price decimal.Decimal) PriceProvider {
	return func(symbol string) (decimal.Decimal, error) { return price, nil }
}

func TestPaperSubmitMarketOrderFills(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(100)), decimal.Zero, decimal.NewFromInt(1))

	order, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(100)))

	acc, err := p.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.Cash.Equal(decimal.NewFromInt(9000)))
}

func TestPaperInsufficientFundsRejectsBuy(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(100), fixedPrice(decimal.NewFromInt(100)), decimal.Zero, decimal.NewFromInt(1))

	order, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
	assert.Error(t, err)
	assert.Equal(t, types.ErrKindOrderInsufficient, types.KindOf(err))
	assert.Equal(t, types.OrderStatusRejected, order.Status)
}

func TestPaperLimitOrderDoesNotCrossStaysNew(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(100)), decimal.Zero, decimal.NewFromInt(1))
	limit := decimal.NewFromInt(90)

	order, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10),
		OrderType: types.OrderTypeLimit, LimitPrice: &limit, TimeInForce: types.TimeInForceDay,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusNew, order.Status)
}

func TestPaperSlippageAdjustsFillPrice(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(100)), decimal.NewFromFloat(0.01), decimal.NewFromInt(1))

	order, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
	require.NoError(t, err)
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(101)))
}

func TestPaperResetRestoresCash(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(100)), decimal.Zero, decimal.NewFromInt(1))
	_, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
	require.NoError(t, err)

	p.Reset()
	acc, err := p.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.Cash.Equal(decimal.NewFromInt(10000)))
	positions, err := p.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperClosePosition(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(100)), decimal.Zero, decimal.NewFromInt(1))
	_, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
	require.NoError(t, err)

	order, err := p.ClosePosition(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.OrderSideSell, order.Request.Side)

	_, err = p.GetPosition(ctx, "AAPL")
	assert.Error(t, err)
}

func TestPaperGetQuoteSyntheticSpread(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(1000)), decimal.Zero, decimal.NewFromInt(1))
	q, err := p.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Bid.LessThan(decimal.NewFromInt(1000)))
	assert.True(t, q.Ask.GreaterThan(decimal.NewFromInt(1000)))
}

func TestPaperCancelOrderInvalidTransition(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(decimal.NewFromInt(10000), fixedPrice(decimal.NewFromInt(100)), decimal.Zero, decimal.NewFromInt(1))
	order, err := p.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
	require.NoError(t, err)
	// order is already filled; cancel should fail per the transition matrix.
	err = p.CancelOrder(ctx, order.BrokerOrderID)
	assert.Error(t, err)
}

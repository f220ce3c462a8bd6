package router

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantcore/tradingcore/pkg/types"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubBroker implements types.Broker with fixed asset-class support and
// a canned quote; every other operation is unused by the router and
// returns a zero value.
type stubBroker struct {
	classes []types.AssetClass
	quote   *types.Quote
	quoteErr error
}

func (s *stubBroker) Connect(ctx context.Context) error    { return nil }
func (s *stubBroker) Disconnect(ctx context.Context) error { return nil }
func (s *stubBroker) IsMarketOpen(ctx context.Context) (bool, error) { return true, nil }
func (s *stubBroker) GetAccount(ctx context.Context) (*types.Account, error) { return &types.Account{}, nil }
func (s *stubBroker) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	return nil, nil
}
func (s *stubBroker) CancelOrder(ctx context.Context, brokerOrderID string) error { return nil }
func (s *stubBroker) ReplaceOrder(ctx context.Context, brokerOrderID string, req types.OrderRequest) (*types.Order, error) {
	return nil, nil
}
func (s *stubBroker) GetOrder(ctx context.Context, brokerOrderID string) (*types.Order, error) {
	return nil, nil
}
func (s *stubBroker) GetOrders(ctx context.Context, filter types.OrderListFilter) ([]*types.Order, error) {
	return nil, nil
}
func (s *stubBroker) GetPositions(ctx context.Context) ([]*types.Position, error) { return nil, nil }
func (s *stubBroker) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	return nil, nil
}
func (s *stubBroker) ClosePosition(ctx context.Context, symbol string) (*types.Order, error) {
	return nil, nil
}
func (s *stubBroker) CloseAllPositions(ctx context.Context) ([]*types.Order, error) { return nil, nil }
func (s *stubBroker) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	return s.quote, s.quoteErr
}
func (s *stubBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]*types.Quote, error) {
	return nil, nil
}
func (s *stubBroker) GetAsset(ctx context.Context, symbol string) (*types.Asset, error) {
	return nil, nil
}
func (s *stubBroker) SupportedAssetClasses() []types.AssetClass { return s.classes }
func (s *stubBroker) ValidateOrder(ctx context.Context, req types.OrderRequest) error { return nil }

func TestRouteSelectsBrokerByAssetClass(t *testing.T) {
	r := New(Config{})
	equity := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity, types.AssetClassETF}}
	crypto := &stubBroker{classes: []types.AssetClass{types.AssetClassCrypto}}
	require.NoError(t, r.Register("paper-equity", equity, 0))
	require.NoError(t, r.Register("paper-crypto", crypto, 0))

	b, err := r.Route("AAPL")
	require.NoError(t, err)
	assert.Same(t, types.Broker(equity), b)

	b, err = r.Route("BTCUSDT")
	require.NoError(t, err)
	assert.Same(t, types.Broker(crypto), b)
}

func TestRoutePrefersHigherPriorityOnTie(t *testing.T) {
	r := New(Config{})
	low := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}
	high := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}
	require.NoError(t, r.Register("low", low, 1))
	require.NoError(t, r.Register("high", high, 10))

	b, err := r.Route("AAPL")
	require.NoError(t, err)
	assert.Same(t, types.Broker(high), b)
}

func TestRouteNoBrokerErrorsWithoutFallback(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register("equity-only", &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}, 0))

	_, err := r.Route("BTCUSDT")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindRoutingNoBroker, types.KindOf(err))
}

func TestRouteFallsBackToConfiguredClass(t *testing.T) {
	r := New(Config{Fallback: types.AssetClassEquity})
	equity := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}
	require.NoError(t, r.Register("equity-only", equity, 0))

	b, err := r.Route("ESZ24") // classifies as futures, nothing registered for it
	require.NoError(t, err)
	assert.Same(t, types.Broker(equity), b)
}

func TestRegisterDuplicateNameErrors(t *testing.T) {
	r := New(Config{})
	b := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}
	require.NoError(t, r.Register("paper", b, 0))

	err := r.Register("paper", b, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrKindRoutingDuplicate, types.KindOf(err))
}

func TestHistoryIsBoundedAndRecordsDecisions(t *testing.T) {
	r := New(Config{MaxHistory: 2})
	require.NoError(t, r.Register("paper", &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}, 0))

	_, err := r.Route("AAPL")
	require.NoError(t, err)
	_, err = r.Route("MSFT")
	require.NoError(t, err)
	_, err = r.Route("GOOG")
	require.NoError(t, err)

	hist := r.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "MSFT", hist[0].Symbol)
	assert.Equal(t, "GOOG", hist[1].Symbol)
}

func TestDeregisterRemovesBroker(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register("paper", &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}}, 0))
	r.Deregister("paper")

	_, err := r.Route("AAPL")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindRoutingNoBroker, types.KindOf(err))
}

func TestAggregateQuotesSkipsFailingBrokers(t *testing.T) {
	r := New(Config{})
	ok := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}, quote: &types.Quote{Symbol: "AAPL", Bid: dd("100"), Ask: dd("101")}}
	bad := &stubBroker{classes: []types.AssetClass{types.AssetClassEquity}, quoteErr: assert.AnError}
	require.NoError(t, r.Register("ok", ok, 0))
	require.NoError(t, r.Register("bad", bad, 0))

	quotes, err := r.AggregateQuotes(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Contains(t, quotes, "ok")
}

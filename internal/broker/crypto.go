package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/types"
)

// Crypto is a thin Broker adapter over Binance spot (spec §4.E's crypto
// venue). Spot trading has no server-side positions, and no position state
// is built from account balances: GetPositions returns an empty set and
// GetPosition/ClosePosition return a position error.
type Crypto struct {
	*BaseBroker

	client *binance.Client
}

// NewCrypto constructs a Crypto broker. testnet routes to Binance's
// testnet base URL.
func NewCrypto(apiKey, apiSecret string, testnet bool) *Crypto {
	client := binance.NewClient(apiKey, apiSecret)
	if testnet {
		client.BaseURL = "https://testnet.binance.vision/api"
	}
	return &Crypto{
		BaseBroker: NewBaseBroker("crypto", RateLimits{WeightPerMinute: 1200}),
		client:     client,
	}
}

func (c *Crypto) Connect(ctx context.Context) error {
	if err := c.CheckRateLimit(1); err != nil {
		return err
	}
	if err := c.client.NewPingService().Do(ctx); err != nil {
		return types.NewBrokerError(types.ErrKindConnection, "binance ping failed", err)
	}
	c.SetConnected(true)
	return nil
}

func (c *Crypto) Disconnect(ctx context.Context) error {
	c.SetConnected(false)
	return nil
}

// IsMarketOpen is always true: spot crypto markets never close.
func (c *Crypto) IsMarketOpen(ctx context.Context) (bool, error) { return true, nil }

func (c *Crypto) GetAccount(ctx context.Context) (*types.Account, error) {
	if err := c.CheckRateLimit(10); err != nil {
		return nil, err
	}
	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "get account failed", err)
	}
	var usdValue decimal.Decimal
	for _, b := range account.Balances {
		if b.Asset != "USDT" && b.Asset != "USD" && b.Asset != "BUSD" {
			continue
		}
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		usdValue = usdValue.Add(free).Add(locked)
	}
	return &types.Account{Cash: usdValue, BuyingPower: usdValue, Equity: usdValue, Currency: "USDT"}, nil
}

func (c *Crypto) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderInvalid, err.Error(), err)
	}
	if err := c.CheckRateLimit(2); err != nil {
		return nil, err
	}

	svc := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		Type(binanceOrderType(req.OrderType)).
		Quantity(req.Quantity.String())

	switch req.OrderType {
	case types.OrderTypeLimit:
		svc.TimeInForce(binance.TimeInForceTypeGTC).Price(req.LimitPrice.String())
	case types.OrderTypeStop, types.OrderTypeStopLimit:
		svc.StopPrice(req.StopPrice.String())
		if req.LimitPrice != nil {
			svc.Price(req.LimitPrice.String()).TimeInForce(binance.TimeInForceTypeGTC)
		}
	}
	if req.ClientOrderID != "" {
		svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "binance create order failed", err)
	}

	now := time.Now()
	order := &types.Order{
		Request:       req,
		BrokerOrderID: strconv.FormatInt(res.OrderID, 10),
		Status:        mapBinanceStatus(string(res.Status)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if executed, err := decimal.NewFromString(res.ExecutedQuantity); err == nil {
		order.FilledQuantity = executed
	}
	if price, err := decimal.NewFromString(res.Price); err == nil && price.IsPositive() {
		order.AvgFillPrice = price
	}
	return order, nil
}

func (c *Crypto) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := c.CheckRateLimit(1); err != nil {
		return err
	}
	orderID, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return types.NewBrokerError(types.ErrKindOrderInvalid, "invalid broker order id", err)
	}
	// brokerOrderID alone carries no symbol, and the cancel request is sent
	// with the order id only; ordermanager.CancelOrder also passes just the
	// broker order id, so no symbol reaches Binance's cancel endpoint.
	if _, err := c.client.NewCancelOrderService().OrderID(orderID).Do(ctx); err != nil {
		return types.NewBrokerError(types.ErrKindOrderGeneric, "binance cancel order failed", err)
	}
	return nil
}

func (c *Crypto) ReplaceOrder(ctx context.Context, brokerOrderID string, req types.OrderRequest) (*types.Order, error) {
	if err := c.CancelOrder(ctx, brokerOrderID); err != nil {
		return nil, err
	}
	return c.SubmitOrder(ctx, req)
}

func (c *Crypto) GetOrder(ctx context.Context, brokerOrderID string) (*types.Order, error) {
	return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "crypto broker requires symbol to look up an order; use ordermanager's tracked state", nil)
}

func (c *Crypto) GetOrders(ctx context.Context, filter types.OrderListFilter) ([]*types.Order, error) {
	if err := c.CheckRateLimit(3); err != nil {
		return nil, err
	}
	orders, err := c.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "binance list open orders failed", err)
	}
	out := make([]*types.Order, 0, len(orders))
	for _, o := range orders {
		status := mapBinanceStatus(string(o.Status))
		if filter.Status != nil && status != *filter.Status {
			continue
		}
		quantity, _ := decimal.NewFromString(o.OrigQuantity)
		out = append(out, &types.Order{
			Request:       types.OrderRequest{Symbol: o.Symbol, Quantity: quantity},
			BrokerOrderID: strconv.FormatInt(o.OrderID, 10),
			Status:        status,
		})
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetPositions returns an empty set: spot balances aren't positions in the
// broker/price sense until priced against a quote, and the Broker Router
// only calls this for asset classes it routed to this broker.
func (c *Crypto) GetPositions(ctx context.Context) ([]*types.Position, error) {
	return []*types.Position{}, nil
}

func (c *Crypto) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	return nil, types.NewBrokerError(types.ErrKindPosition, "spot crypto has no broker-tracked positions", nil)
}

func (c *Crypto) ClosePosition(ctx context.Context, symbol string) (*types.Order, error) {
	return nil, types.NewBrokerError(types.ErrKindPosition, "spot crypto has no broker-tracked positions to close", nil)
}

func (c *Crypto) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	return []*types.Order{}, nil
}

func (c *Crypto) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	if err := c.CheckRateLimit(1); err != nil {
		return nil, err
	}
	book, err := c.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil || len(book) == 0 {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "binance book ticker failed", err)
	}
	bid, _ := decimal.NewFromString(book[0].BidPrice)
	ask, _ := decimal.NewFromString(book[0].AskPrice)
	q := &types.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now()}
	c.CacheQuote(symbol, q)
	return q, nil
}

func (c *Crypto) GetQuotes(ctx context.Context, symbols []string) (map[string]*types.Quote, error) {
	out := make(map[string]*types.Quote, len(symbols))
	for _, s := range symbols {
		q, err := c.GetQuote(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (c *Crypto) GetAsset(ctx context.Context, symbol string) (*types.Asset, error) {
	return &types.Asset{Symbol: symbol, AssetClass: types.AssetClassCrypto, Tradable: true}, nil
}

func (c *Crypto) SupportedAssetClasses() []types.AssetClass {
	return []types.AssetClass{types.AssetClassCrypto}
}

func (c *Crypto) ValidateOrder(ctx context.Context, req types.OrderRequest) error {
	return req.Validate()
}

func binanceSide(side types.OrderSide) binance.SideType {
	if side == types.OrderSideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func binanceOrderType(t types.OrderType) binance.OrderType {
	switch t {
	case types.OrderTypeLimit:
		return binance.OrderTypeLimit
	case types.OrderTypeStop:
		return binance.OrderTypeStopLoss
	case types.OrderTypeStopLimit:
		return binance.OrderTypeStopLossLimit
	default:
		return binance.OrderTypeMarket
	}
}

func mapBinanceStatus(status string) types.OrderStatus {
	switch status {
	case "NEW":
		return types.OrderStatusNew
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return types.OrderStatusCancelled
	case "REJECTED":
		return types.OrderStatusRejected
	case "EXPIRED":
		return types.OrderStatusExpired
	default:
		return types.OrderStatusNew
	}
}

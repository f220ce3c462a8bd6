package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/types"
)

// PriceProvider resolves the current simulated market price for a
// symbol. The Backtest Engine supplies one backed by the day's bar;
// live paper-trading would back it with a broker quote feed.
type PriceProvider func(symbol string) (decimal.Decimal, error)

// quoteSpreadBps is the half-spread used to synthesize a bid/ask
// around the simulated price (spec §4.E: "±0.05%").
var quoteSpreadBps = decimal.NewFromFloat(0.0005)

// Paper is the simulated broker used by backtests and paper trading
// (spec §4.E). It is not safe to share across goroutines without the
// embedded mutex discipline already providing that safety.
type Paper struct {
	*BaseBroker

	mu            sync.Mutex
	initialCash   decimal.Decimal
	cash          decimal.Decimal
	positions     map[string]*types.Position
	orders        map[string]*types.Order
	priceProvider PriceProvider

	slippagePct    decimal.Decimal
	fillProbability decimal.Decimal
	rng            *rand.Rand
}

// NewPaper constructs a Paper broker with the given starting cash.
// slippagePct and fillProbability follow spec §4.E (0 slippage, 1.0
// fill probability reproduce a deterministic fill).
func NewPaper(initialCash decimal.Decimal, priceProvider PriceProvider, slippagePct, fillProbability decimal.Decimal) *Paper {
	return &Paper{
		BaseBroker:      NewBaseBroker("paper", RateLimits{}),
		initialCash:     initialCash,
		cash:            initialCash,
		positions:       make(map[string]*types.Position),
		orders:          make(map[string]*types.Order),
		priceProvider:   priceProvider,
		slippagePct:     slippagePct,
		fillProbability: fillProbability,
		rng:             rand.New(rand.NewSource(1)),
	}
}

// SeedRNG overrides the fill-probability source, for deterministic
// tests.
func (p *Paper) SeedRNG(seed int64) { p.rng = rand.New(rand.NewSource(seed)) }

// Reset restores cash to its initial value and clears orders and
// positions (spec §4.E "reset()").
func (p *Paper) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.initialCash
	p.positions = make(map[string]*types.Position)
	p.orders = make(map[string]*types.Order)
}

func (p *Paper) Connect(ctx context.Context) error    { p.SetConnected(true); return nil }
func (p *Paper) Disconnect(ctx context.Context) error { p.SetConnected(false); return nil }
func (p *Paper) IsMarketOpen(ctx context.Context) (bool, error) { return true, nil }

func (p *Paper) GetAccount(ctx context.Context) (*types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.MarketValue())
	}
	return &types.Account{Cash: p.cash, BuyingPower: p.cash, Equity: equity, Currency: "USD"}, nil
}

// SubmitOrder implements the five-step fill algorithm from spec §4.E.
func (p *Paper) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderInvalid, err.Error(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	marketPrice, err := p.priceProvider(req.Symbol)
	if err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "price unavailable", err)
	}

	fillPrice := applySlippage(marketPrice, req.Side, p.slippagePct)

	now := time.Now()
	order := &types.Order{
		Request:     req,
		BrokerOrderID: uuid.NewString(),
		Status:      types.OrderStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	crosses := crossesLimit(req, fillPrice)
	if !crosses {
		p.orders[order.BrokerOrderID] = order
		return order, nil
	}

	if p.fillProbability.LessThan(decimal.NewFromInt(1)) && decimal.NewFromFloat(p.rng.Float64()).GreaterThan(p.fillProbability) {
		p.orders[order.BrokerOrderID] = order
		return order, nil
	}

	if req.Side == types.OrderSideBuy {
		cost := fillPrice.Mul(req.Quantity)
		if cost.GreaterThan(p.cash) {
			order.Status = types.OrderStatusRejected
			order.RejectReason = "insufficient funds"
			p.orders[order.BrokerOrderID] = order
			return order, types.NewBrokerError(types.ErrKindOrderInsufficient, "insufficient cash for order", nil)
		}
	}

	if err := p.applyFillLocked(order, req, fillPrice); err != nil {
		return nil, err
	}

	order.Status = types.OrderStatusFilled
	order.FilledQuantity = req.Quantity
	order.AvgFillPrice = fillPrice
	order.UpdatedAt = time.Now()
	p.orders[order.BrokerOrderID] = order
	return order, nil
}

// applyFillLocked debits/credits cash and updates the position; caller
// holds p.mu.
func (p *Paper) applyFillLocked(order *types.Order, req types.OrderRequest, fillPrice decimal.Decimal) error {
	fill := types.Fill{
		OrderID:   order.BrokerOrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     fillPrice,
		Timestamp: time.Now(),
	}

	pos, ok := p.positions[req.Symbol]
	if !ok {
		pos = &types.Position{Symbol: req.Symbol, AssetClass: types.ClassifySymbol(req.Symbol)}
		p.positions[req.Symbol] = pos
	}
	if err := pos.ApplyFill(fill); err != nil {
		return types.NewBrokerError(types.ErrKindOrderGeneric, "fill application failed", err)
	}
	pos.CurrentPrice = fillPrice

	if req.Side == types.OrderSideBuy {
		p.cash = p.cash.Sub(fill.TotalValue())
	} else {
		p.cash = p.cash.Add(fill.TotalValue())
	}

	if pos.Quantity.IsZero() {
		delete(p.positions, req.Symbol)
	}
	return nil
}

func (p *Paper) CancelOrder(ctx context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[brokerOrderID]
	if !ok {
		return types.NewBrokerError(types.ErrKindOrderGeneric, "order not found", nil)
	}
	if !types.IsValidTransition(order.Status, types.OrderStatusCancelled) {
		return types.NewBrokerError(types.ErrKindOrderInvalid, fmt.Sprintf("cannot cancel order in status %s", order.Status), nil)
	}
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	return nil
}

func (p *Paper) ReplaceOrder(ctx context.Context, brokerOrderID string, req types.OrderRequest) (*types.Order, error) {
	if err := p.CancelOrder(ctx, brokerOrderID); err != nil {
		return nil, err
	}
	return p.SubmitOrder(ctx, req)
}

func (p *Paper) GetOrder(ctx context.Context, brokerOrderID string) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "order not found", nil)
	}
	return order, nil
}

func (p *Paper) GetOrders(ctx context.Context, filter types.OrderListFilter) ([]*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (p *Paper) GetPositions(ctx context.Context) ([]*types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *Paper) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, types.NewBrokerError(types.ErrKindPosition, "no open position", nil)
	}
	return pos, nil
}

func (p *Paper) ClosePosition(ctx context.Context, symbol string) (*types.Order, error) {
	p.mu.Lock()
	pos, ok := p.positions[symbol]
	p.mu.Unlock()
	if !ok {
		return nil, types.NewBrokerError(types.ErrKindPosition, "no open position", nil)
	}
	side := types.OrderSideSell
	if pos.Quantity.IsNegative() {
		side = types.OrderSideBuy
	}
	return p.SubmitOrder(ctx, types.OrderRequest{
		Symbol:    symbol,
		Side:      side,
		Quantity:  pos.Quantity.Abs(),
		OrderType: types.OrderTypeMarket,
		TimeInForce: types.TimeInForceDay,
	})
}

func (p *Paper) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	return types.CloseAllPositionsDefault(ctx, p)
}

func (p *Paper) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	price, err := p.priceProvider(symbol)
	if err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderGeneric, "price unavailable", err)
	}
	spread := price.Mul(quoteSpreadBps)
	q := &types.Quote{
		Symbol:    symbol,
		Bid:       price.Sub(spread),
		Ask:       price.Add(spread),
		Timestamp: time.Now(),
	}
	p.CacheQuote(symbol, q)
	return q, nil
}

func (p *Paper) GetQuotes(ctx context.Context, symbols []string) (map[string]*types.Quote, error) {
	out := make(map[string]*types.Quote, len(symbols))
	for _, s := range symbols {
		q, err := p.GetQuote(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (p *Paper) GetAsset(ctx context.Context, symbol string) (*types.Asset, error) {
	return &types.Asset{Symbol: symbol, AssetClass: types.ClassifySymbol(symbol), Tradable: true}, nil
}

func (p *Paper) SupportedAssetClasses() []types.AssetClass {
	return []types.AssetClass{types.AssetClassEquity, types.AssetClassETF, types.AssetClassCrypto, types.AssetClassFutures, types.AssetClassASX}
}

func (p *Paper) ValidateOrder(ctx context.Context, req types.OrderRequest) error {
	return req.Validate()
}

// applySlippage adjusts a market price by slippagePct: buys pay more,
// sells receive less (spec §4.E step 1).
func applySlippage(price decimal.Decimal, side types.OrderSide, slippagePct decimal.Decimal) decimal.Decimal {
	adj := price.Mul(slippagePct)
	if side == types.OrderSideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// crossesLimit reports whether req would fill at fillPrice: market
// orders always cross; limit orders cross only if the market side
// trades through the limit (spec §4.E step 2).
func crossesLimit(req types.OrderRequest, fillPrice decimal.Decimal) bool {
	if req.OrderType != types.OrderTypeLimit {
		return true
	}
	if req.LimitPrice == nil {
		return false
	}
	if req.Side == types.OrderSideBuy {
		return fillPrice.LessThanOrEqual(*req.LimitPrice)
	}
	return fillPrice.GreaterThanOrEqual(*req.LimitPrice)
}

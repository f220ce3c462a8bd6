package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/types"
)

// FuturesContract carries the exchange/currency/multiplier spec IBKR
// needs to qualify a futures order (spec §4.E: "futures (with contract
// specs: exchange, currency, multiplier)").
type FuturesContract struct {
	Symbol     string
	Exchange   string
	Currency   string
	Multiplier decimal.Decimal
}

// defaultFuturesContracts seeds the lookup table with the handful of
// CME contracts a backtest or paper run is likely to reference; a
// production deployment would populate this from IBKR's contract
// search instead.
var defaultFuturesContracts = map[string]FuturesContract{
	"ES": {Symbol: "ES", Exchange: "CME", Currency: "USD", Multiplier: decimal.NewFromInt(50)},
	"NQ": {Symbol: "NQ", Exchange: "CME", Currency: "USD", Multiplier: decimal.NewFromInt(20)},
	"MES": {Symbol: "MES", Exchange: "CME", Currency: "USD", Multiplier: decimal.NewFromInt(5)},
	"CL": {Symbol: "CL", Exchange: "NYMEX", Currency: "USD", Multiplier: decimal.NewFromInt(1000)},
}

// wsRequest/wsResponse mirror the request/response correlation scheme
// used over the crypto venue's order-management websocket: every
// outbound message carries a generated ID, and Connect's read loop
// dispatches each inbound message to the channel waiting on that ID.
type wsRequest struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

type wsResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`
}

// IBKR wraps Interactive Brokers' streaming API. It adds futures and
// ASX-equity support on top of the common Broker contract.
type IBKR struct {
	*BaseBroker

	wsURL string
	conn  *websocket.Conn
	connMu sync.Mutex

	requestID atomic.Int64
	pending   map[string]chan wsResponse
	pendingMu sync.Mutex

	futuresContracts map[string]FuturesContract
}

// NewIBKR constructs an IBKR client targeting wsURL (the TWS/Gateway
// streaming endpoint).
func NewIBKR(wsURL string, limits RateLimits) *IBKR {
	return &IBKR{
		BaseBroker:       NewBaseBroker("ibkr", limits),
		wsURL:            wsURL,
		pending:          make(map[string]chan wsResponse),
		futuresContracts: defaultFuturesContracts,
	}
}

// RegisterFuturesContract adds or overrides a contract spec.
func (b *IBKR) RegisterFuturesContract(c FuturesContract) {
	b.futuresContracts[c.Symbol] = c
}

func (b *IBKR) Connect(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return types.NewBrokerError(types.ErrKindConnection, "failed to connect to IBKR gateway", err)
	}
	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	b.SetConnected(true)
	go b.readLoop()
	return nil
}

func (b *IBKR) Disconnect(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.SetConnected(false)
	return nil
}

func (b *IBKR) readLoop() {
	for {
		b.connMu.Lock()
		conn := b.conn
		b.connMu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.SetConnected(false)
			return
		}
		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		b.pendingMu.Lock()
		ch, ok := b.pending[resp.ID]
		b.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call sends a request and blocks for its correlated response, or
// until ctx is cancelled.
func (b *IBKR) call(ctx context.Context, method string, params map[string]interface{}) (wsResponse, error) {
	if !b.IsConnected() {
		return wsResponse{}, types.NewBrokerError(types.ErrKindConnection, "not connected", nil)
	}
	if err := b.CheckRateLimit(1); err != nil {
		return wsResponse{}, err
	}

	id := fmt.Sprintf("req_%d", b.requestID.Add(1))
	ch := make(chan wsResponse, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	req := wsRequest{ID: id, Method: method, Params: params}
	b.connMu.Lock()
	conn := b.conn
	b.connMu.Unlock()
	if conn == nil {
		return wsResponse{}, types.NewBrokerError(types.ErrKindConnection, "not connected", nil)
	}
	if err := conn.WriteJSON(req); err != nil {
		return wsResponse{}, types.NewBrokerError(types.ErrKindConnection, "failed to send request", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, types.NewBrokerError(types.ErrKindOrderGeneric, resp.Error.Msg, nil)
		}
		return resp, nil
	case <-ctx.Done():
		return wsResponse{}, types.NewBrokerError(types.ErrKindConnection, "request cancelled", ctx.Err())
	case <-time.After(10 * time.Second):
		return wsResponse{}, types.NewBrokerError(types.ErrKindConnection, "request timed out", nil)
	}
}

func (b *IBKR) IsMarketOpen(ctx context.Context) (bool, error) {
	resp, err := b.call(ctx, "isMarketOpen", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		IsOpen bool `json:"is_open"`
	}
	json.Unmarshal(resp.Result, &out)
	return out.IsOpen, nil
}

func (b *IBKR) GetAccount(ctx context.Context) (*types.Account, error) {
	resp, err := b.call(ctx, "getAccount", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cash, BuyingPower, Equity, Currency string
	}
	json.Unmarshal(resp.Result, &out)
	cash, _ := decimal.NewFromString(out.Cash)
	bp, _ := decimal.NewFromString(out.BuyingPower)
	eq, _ := decimal.NewFromString(out.Equity)
	return &types.Account{Cash: cash, BuyingPower: bp, Equity: eq, Currency: out.Currency}, nil
}

// qualifyContract resolves the exchange/currency for a symbol: ASX
// equities use a ".AX" suffix (spec §4.E); futures look up the
// contract table; everything else defaults to SMART/USD.
func (b *IBKR) qualifyContract(symbol string) (exchange, currency string, multiplier decimal.Decimal) {
	upper := strings.ToUpper(symbol)
	if strings.HasSuffix(upper, ".AX") {
		return "ASX", "AUD", decimal.NewFromInt(1)
	}
	root := symbol
	if len(symbol) > 3 {
		root = symbol[:len(symbol)-3]
	}
	if c, ok := b.futuresContracts[strings.ToUpper(root)]; ok {
		return c.Exchange, c.Currency, c.Multiplier
	}
	return "SMART", "USD", decimal.NewFromInt(1)
}

func (b *IBKR) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderInvalid, err.Error(), err)
	}
	exchange, currency, _ := b.qualifyContract(req.Symbol)

	params := map[string]interface{}{
		"symbol":        req.Symbol,
		"exchange":      exchange,
		"currency":      currency,
		"side":          string(req.Side),
		"quantity":      req.Quantity.String(),
		"order_type":    string(req.OrderType),
		"time_in_force": string(req.TimeInForce),
	}
	if req.LimitPrice != nil {
		params["limit_price"] = req.LimitPrice.String()
	}
	if req.StopPrice != nil {
		params["stop_price"] = req.StopPrice.String()
	}

	resp, err := b.call(ctx, "placeOrder", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	json.Unmarshal(resp.Result, &out)
	status, ok := vendorOrderStatusMap[out.Status]
	if !ok {
		status = types.OrderStatusNew
	}
	return &types.Order{Request: req, BrokerOrderID: out.OrderID, Status: status, UpdatedAt: time.Now()}, nil
}

func (b *IBKR) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := b.call(ctx, "cancelOrder", map[string]interface{}{"order_id": brokerOrderID})
	return err
}

func (b *IBKR) ReplaceOrder(ctx context.Context, brokerOrderID string, req types.OrderRequest) (*types.Order, error) {
	if err := b.CancelOrder(ctx, brokerOrderID); err != nil {
		return nil, err
	}
	return b.SubmitOrder(ctx, req)
}

func (b *IBKR) GetOrder(ctx context.Context, brokerOrderID string) (*types.Order, error) {
	resp, err := b.call(ctx, "getOrder", map[string]interface{}{"order_id": brokerOrderID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Symbol, Status, Qty, FilledQty, AvgFillPrice string
	}
	json.Unmarshal(resp.Result, &out)
	status, ok := vendorOrderStatusMap[out.Status]
	if !ok {
		status = types.OrderStatusNew
	}
	qty, _ := decimal.NewFromString(out.Qty)
	filledQty, _ := decimal.NewFromString(out.FilledQty)
	avgPrice, _ := decimal.NewFromString(out.AvgFillPrice)
	return &types.Order{
		Request:        types.OrderRequest{Symbol: out.Symbol, Quantity: qty},
		BrokerOrderID:  brokerOrderID,
		Status:         status,
		FilledQuantity: filledQty,
		AvgFillPrice:   avgPrice,
		UpdatedAt:      time.Now(),
	}, nil
}

func (b *IBKR) GetOrders(ctx context.Context, filter types.OrderListFilter) ([]*types.Order, error) {
	resp, err := b.call(ctx, "getOrders", nil)
	if err != nil {
		return nil, err
	}
	var out []struct {
		OrderID, Symbol, Status, Qty string
	}
	json.Unmarshal(resp.Result, &out)
	orders := make([]*types.Order, 0, len(out))
	for _, o := range out {
		status, ok := vendorOrderStatusMap[o.Status]
		if !ok {
			status = types.OrderStatusNew
		}
		if filter.Status != nil && status != *filter.Status {
			continue
		}
		qty, _ := decimal.NewFromString(o.Qty)
		orders = append(orders, &types.Order{
			Request:       types.OrderRequest{Symbol: o.Symbol, Quantity: qty},
			BrokerOrderID: o.OrderID,
			Status:        status,
		})
	}
	return orders, nil
}

func (b *IBKR) GetPositions(ctx context.Context) ([]*types.Position, error) {
	resp, err := b.call(ctx, "getPositions", nil)
	if err != nil {
		return nil, err
	}
	var out []struct {
		Symbol, Qty, AvgPrice, CurrentPrice string
	}
	json.Unmarshal(resp.Result, &out)
	positions := make([]*types.Position, 0, len(out))
	for _, p := range out {
		qty, _ := decimal.NewFromString(p.Qty)
		avg, _ := decimal.NewFromString(p.AvgPrice)
		current, _ := decimal.NewFromString(p.CurrentPrice)
		positions = append(positions, &types.Position{
			Symbol: p.Symbol, Quantity: qty, AvgEntryPrice: avg, CurrentPrice: current,
			AssetClass: types.ClassifySymbol(p.Symbol),
		})
	}
	return positions, nil
}

func (b *IBKR) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, types.NewBrokerError(types.ErrKindPosition, "no open position", nil)
}

func (b *IBKR) ClosePosition(ctx context.Context, symbol string) (*types.Order, error) {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	side := types.OrderSideSell
	if pos.Quantity.IsNegative() {
		side = types.OrderSideBuy
	}
	return b.SubmitOrder(ctx, types.OrderRequest{
		Symbol: symbol, Side: side, Quantity: pos.Quantity.Abs(),
		OrderType: types.OrderTypeMarket, TimeInForce: types.TimeInForceDay,
	})
}

func (b *IBKR) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	return types.CloseAllPositionsDefault(ctx, b)
}

func (b *IBKR) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	resp, err := b.call(ctx, "getQuote", map[string]interface{}{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var out struct {
		Bid, Ask string
	}
	json.Unmarshal(resp.Result, &out)
	bid, _ := decimal.NewFromString(out.Bid)
	ask, _ := decimal.NewFromString(out.Ask)
	q := &types.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now()}
	b.CacheQuote(symbol, q)
	return q, nil
}

func (b *IBKR) GetQuotes(ctx context.Context, symbols []string) (map[string]*types.Quote, error) {
	out := make(map[string]*types.Quote, len(symbols))
	for _, s := range symbols {
		q, err := b.GetQuote(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

// GetAsset qualifies the contract and reports the resulting asset class.
// Qualification is a lookup in the local futures-contract table; it makes
// no gateway round trip.
func (b *IBKR) GetAsset(ctx context.Context, symbol string) (*types.Asset, error) {
	exchange, _, _ := b.qualifyContract(symbol)
	class := types.ClassifySymbol(symbol)
	if exchange != "SMART" && exchange != "ASX" {
		class = types.AssetClassFutures
	}
	return &types.Asset{Symbol: symbol, AssetClass: class, Tradable: true}, nil
}

// SupportedAssetClasses: IBKR additionally services futures and ASX
// equities beyond the common set (spec §4.E).
func (b *IBKR) SupportedAssetClasses() []types.AssetClass {
	return []types.AssetClass{types.AssetClassEquity, types.AssetClassETF, types.AssetClassFutures, types.AssetClassASX}
}

func (b *IBKR) ValidateOrder(ctx context.Context, req types.OrderRequest) error {
	return req.Validate()
}

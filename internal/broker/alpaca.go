package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/types"
)

// Alpaca wraps Alpaca's REST trading API. No Go SDK for Alpaca exists
// anywhere in the reference pack, so this client is built directly on
// net/http in the request/response idiom the pack's other REST
// services use, rather than inventing a third-party dependency.
type Alpaca struct {
	*BaseBroker

	httpClient *http.Client
	baseURL    string
	keyID      string
	secretKey  string
}

// NewAlpaca constructs an Alpaca client. baseURL is the paper or live
// trading endpoint (e.g. https://paper-api.alpaca.markets).
func NewAlpaca(baseURL, keyID, secretKey string, limits RateLimits) *Alpaca {
	return &Alpaca{
		BaseBroker: NewBaseBroker("alpaca", limits),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		keyID:      keyID,
		secretKey:  secretKey,
	}
}

func (a *Alpaca) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := a.CheckRateLimit(1); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return types.NewBrokerError(types.ErrKindOrderInvalid, "failed to marshal request body", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return types.NewBrokerError(types.ErrKindConnection, "failed to build request", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return types.NewBrokerError(types.ErrKindConnection, "request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewBrokerError(types.ErrKindAuthentication, "alpaca rejected credentials", nil)
	case http.StatusTooManyRequests:
		retryAfter := time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return types.NewRateLimitError("alpaca rate limit exceeded", retryAfter)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewBrokerError(types.ErrKindConnection, "failed to read response", err)
	}

	if resp.StatusCode >= 400 {
		return types.NewBrokerError(types.ErrKindOrderGeneric, fmt.Sprintf("alpaca error %d: %s", resp.StatusCode, respBody), nil)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return types.NewBrokerError(types.ErrKindOrderGeneric, "failed to decode response", err)
		}
	}
	return nil
}

func (a *Alpaca) Connect(ctx context.Context) error {
	var account alpacaAccount
	if err := a.doRequest(ctx, http.MethodGet, "/v2/account", nil, &account); err != nil {
		return err
	}
	a.SetConnected(true)
	return nil
}

func (a *Alpaca) Disconnect(ctx context.Context) error {
	a.SetConnected(false)
	return nil
}

func (a *Alpaca) IsMarketOpen(ctx context.Context) (bool, error) {
	var clock struct {
		IsOpen bool `json:"is_open"`
	}
	if err := a.doRequest(ctx, http.MethodGet, "/v2/clock", nil, &clock); err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

type alpacaAccount struct {
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
	Currency    string `json:"currency"`
}

func (a *Alpaca) GetAccount(ctx context.Context) (*types.Account, error) {
	var acc alpacaAccount
	if err := a.doRequest(ctx, http.MethodGet, "/v2/account", nil, &acc); err != nil {
		return nil, err
	}
	cash, _ := decimal.NewFromString(acc.Cash)
	buyingPower, _ := decimal.NewFromString(acc.BuyingPower)
	equity, _ := decimal.NewFromString(acc.Equity)
	return &types.Account{Cash: cash, BuyingPower: buyingPower, Equity: equity, Currency: acc.Currency}, nil
}

type alpacaOrder struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	TimeInForce    string `json:"time_in_force"`
	Status         string `json:"status"`
	ClientOrderID  string `json:"client_order_id"`
}

var vendorOrderStatusMap = map[string]types.OrderStatus{
	"new":              types.OrderStatusNew,
	"accepted":         types.OrderStatusNew,
	"pending_new":      types.OrderStatusPendingNew,
	"partially_filled": types.OrderStatusPartiallyFilled,
	"filled":           types.OrderStatusFilled,
	"pending_cancel":   types.OrderStatusPendingCancel,
	"canceled":         types.OrderStatusCancelled,
	"rejected":         types.OrderStatusRejected,
	"expired":          types.OrderStatusExpired,
	"replaced":         types.OrderStatusReplaced,
}

func (a *Alpaca) toOrder(req types.OrderRequest, o alpacaOrder) *types.Order {
	status, ok := vendorOrderStatusMap[o.Status]
	if !ok {
		status = types.OrderStatusNew
	}
	filledQty, _ := decimal.NewFromString(o.FilledQty)
	avgPrice, _ := decimal.NewFromString(o.FilledAvgPrice)
	return &types.Order{
		Request:        req,
		BrokerOrderID:  o.ID,
		Status:         status,
		FilledQuantity: filledQty,
		AvgFillPrice:   avgPrice,
		UpdatedAt:      time.Now(),
	}
}

func (a *Alpaca) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewBrokerError(types.ErrKindOrderInvalid, err.Error(), err)
	}

	body := map[string]interface{}{
		"symbol":        req.Symbol,
		"qty":           req.Quantity.String(),
		"side":          string(req.Side),
		"type":          alpacaOrderType(req.OrderType),
		"time_in_force": string(req.TimeInForce),
	}
	if req.LimitPrice != nil {
		body["limit_price"] = req.LimitPrice.String()
	}
	if req.StopPrice != nil {
		body["stop_price"] = req.StopPrice.String()
	}
	if req.ClientOrderID != "" {
		body["client_order_id"] = req.ClientOrderID
	}

	var out alpacaOrder
	if err := a.doRequest(ctx, http.MethodPost, "/v2/orders", body, &out); err != nil {
		return nil, err
	}
	return a.toOrder(req, out), nil
}

func alpacaOrderType(t types.OrderType) string {
	if t == types.OrderTypeTrailingStop {
		return "trailing_stop"
	}
	return string(t)
}

func (a *Alpaca) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return a.doRequest(ctx, http.MethodDelete, "/v2/orders/"+brokerOrderID, nil, nil)
}

func (a *Alpaca) ReplaceOrder(ctx context.Context, brokerOrderID string, req types.OrderRequest) (*types.Order, error) {
	body := map[string]interface{}{"qty": req.Quantity.String()}
	if req.LimitPrice != nil {
		body["limit_price"] = req.LimitPrice.String()
	}
	var out alpacaOrder
	if err := a.doRequest(ctx, http.MethodPatch, "/v2/orders/"+brokerOrderID, body, &out); err != nil {
		return nil, err
	}
	return a.toOrder(req, out), nil
}

func (a *Alpaca) GetOrder(ctx context.Context, brokerOrderID string) (*types.Order, error) {
	var out alpacaOrder
	if err := a.doRequest(ctx, http.MethodGet, "/v2/orders/"+brokerOrderID, nil, &out); err != nil {
		return nil, err
	}
	qty, _ := decimal.NewFromString(out.Qty)
	req := types.OrderRequest{Symbol: out.Symbol, Quantity: qty, Side: types.OrderSide(out.Side)}
	return a.toOrder(req, out), nil
}

func (a *Alpaca) GetOrders(ctx context.Context, filter types.OrderListFilter) ([]*types.Order, error) {
	path := "/v2/orders?status=all"
	if filter.Limit > 0 {
		path += fmt.Sprintf("&limit=%d", filter.Limit)
	}
	var out []alpacaOrder
	if err := a.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	orders := make([]*types.Order, 0, len(out))
	for _, o := range out {
		qty, _ := decimal.NewFromString(o.Qty)
		req := types.OrderRequest{Symbol: o.Symbol, Quantity: qty, Side: types.OrderSide(o.Side)}
		order := a.toOrder(req, o)
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

type alpacaPosition struct {
	Symbol       string `json:"symbol"`
	Qty          string `json:"qty"`
	Side         string `json:"side"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice string `json:"current_price"`
	UnrealizedPL string `json:"unrealized_pl"`
}

func (a *Alpaca) toPosition(p alpacaPosition) *types.Position {
	qty, _ := decimal.NewFromString(p.Qty)
	if p.Side == "short" {
		qty = qty.Neg()
	}
	avgEntry, _ := decimal.NewFromString(p.AvgEntryPrice)
	current, _ := decimal.NewFromString(p.CurrentPrice)
	return &types.Position{
		Symbol:        p.Symbol,
		Quantity:      qty,
		Side:          types.PositionSide(p.Side),
		AvgEntryPrice: avgEntry,
		CurrentPrice:  current,
		AssetClass:    types.ClassifySymbol(p.Symbol),
	}
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]*types.Position, error) {
	var out []alpacaPosition
	if err := a.doRequest(ctx, http.MethodGet, "/v2/positions", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]*types.Position, 0, len(out))
	for _, p := range out {
		positions = append(positions, a.toPosition(p))
	}
	return positions, nil
}

func (a *Alpaca) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	var out alpacaPosition
	if err := a.doRequest(ctx, http.MethodGet, "/v2/positions/"+symbol, nil, &out); err != nil {
		return nil, err
	}
	return a.toPosition(out), nil
}

func (a *Alpaca) ClosePosition(ctx context.Context, symbol string) (*types.Order, error) {
	var out alpacaOrder
	if err := a.doRequest(ctx, http.MethodDelete, "/v2/positions/"+symbol, nil, &out); err != nil {
		return nil, err
	}
	qty, _ := decimal.NewFromString(out.Qty)
	req := types.OrderRequest{Symbol: symbol, Quantity: qty, Side: types.OrderSide(out.Side)}
	return a.toOrder(req, out), nil
}

func (a *Alpaca) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	var out []alpacaOrder
	if err := a.doRequest(ctx, http.MethodDelete, "/v2/positions", nil, &out); err != nil {
		return nil, err
	}
	orders := make([]*types.Order, 0, len(out))
	for _, o := range out {
		qty, _ := decimal.NewFromString(o.Qty)
		req := types.OrderRequest{Symbol: o.Symbol, Quantity: qty, Side: types.OrderSide(o.Side)}
		orders = append(orders, a.toOrder(req, o))
	}
	return orders, nil
}

func (a *Alpaca) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	var out struct {
		Quote struct {
			BidPrice string `json:"bp"`
			AskPrice string `json:"ap"`
		} `json:"quote"`
	}
	if err := a.doRequest(ctx, http.MethodGet, "/v2/stocks/"+symbol+"/quotes/latest", nil, &out); err != nil {
		return nil, err
	}
	bid, _ := decimal.NewFromString(out.Quote.BidPrice)
	ask, _ := decimal.NewFromString(out.Quote.AskPrice)
	q := &types.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now()}
	a.CacheQuote(symbol, q)
	return q, nil
}

func (a *Alpaca) GetQuotes(ctx context.Context, symbols []string) (map[string]*types.Quote, error) {
	out := make(map[string]*types.Quote, len(symbols))
	for _, s := range symbols {
		q, err := a.GetQuote(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (a *Alpaca) GetAsset(ctx context.Context, symbol string) (*types.Asset, error) {
	var out struct {
		Symbol       string `json:"symbol"`
		Class        string `json:"class"`
		Tradable     bool   `json:"tradable"`
		Fractionable bool   `json:"fractionable"`
	}
	if err := a.doRequest(ctx, http.MethodGet, "/v2/assets/"+symbol, nil, &out); err != nil {
		return nil, err
	}
	class := types.AssetClassEquity
	if out.Class == "crypto" {
		class = types.AssetClassCrypto
	}
	return &types.Asset{Symbol: out.Symbol, AssetClass: class, Tradable: out.Tradable, Fractionable: out.Fractionable}, nil
}

// SupportedAssetClasses: Alpaca services equity, ETF and crypto
// (spec §4.E).
func (a *Alpaca) SupportedAssetClasses() []types.AssetClass {
	return []types.AssetClass{types.AssetClassEquity, types.AssetClassETF, types.AssetClassCrypto}
}

func (a *Alpaca) ValidateOrder(ctx context.Context, req types.OrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	asset, err := a.GetAsset(ctx, req.Symbol)
	if err != nil {
		return err
	}
	if !asset.Tradable {
		return types.NewBrokerError(types.ErrKindOrderInvalid, fmt.Sprintf("%s is not tradable", req.Symbol), nil)
	}
	return nil
}

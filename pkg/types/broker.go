package types

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies broker/order-manager/router failures per spec §7.
type ErrorKind string

const (
	ErrKindConnection          ErrorKind = "connection"
	ErrKindAuthentication      ErrorKind = "authentication"
	ErrKindRateLimit           ErrorKind = "rate_limit"
	ErrKindOrderInvalid        ErrorKind = "order.invalid"
	ErrKindOrderInsufficient   ErrorKind = "order.insufficient_funds"
	ErrKindOrderGeneric        ErrorKind = "order.generic"
	ErrKindPosition            ErrorKind = "position"
	ErrKindRoutingNoBroker     ErrorKind = "routing.no_broker"
	ErrKindRoutingNotFound     ErrorKind = "routing.not_found"
	ErrKindRoutingDuplicate    ErrorKind = "routing.duplicate"
	ErrKindRiskViolation       ErrorKind = "risk.violation"
	ErrKindBacktest            ErrorKind = "backtest"
)

// BrokerError is the typed error every Broker operation returns on failure.
type BrokerError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter *time.Duration // set only for ErrKindRateLimit
	Err        error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewBrokerError constructs a BrokerError.
func NewBrokerError(kind ErrorKind, message string, cause error) *BrokerError {
	return &BrokerError{Kind: kind, Message: message, Err: cause}
}

// NewRateLimitError constructs a rate_limit error carrying an optional
// retry-after hint.
func NewRateLimitError(message string, retryAfter time.Duration) *BrokerError {
	return &BrokerError{Kind: ErrKindRateLimit, Message: message, RetryAfter: &retryAfter}
}

// KindOf extracts the ErrorKind from err, defaulting to order.generic if
// err is not a *BrokerError.
func KindOf(err error) ErrorKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ErrKindOrderGeneric
}

// Quote is a bid/ask snapshot used to resolve an execution price when a
// signal carries none.
type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// Mid is the midpoint of bid and ask.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Account is a broker account snapshot.
type Account struct {
	Cash          decimal.Decimal
	BuyingPower   decimal.Decimal
	Equity        decimal.Decimal
	Currency      string
}

// OrderListFilter narrows GetOrders results.
type OrderListFilter struct {
	Status  *OrderStatus
	Limit   int
	Symbols []string
}

// Asset describes a broker-tradable instrument.
type Asset struct {
	Symbol     string
	AssetClass AssetClass
	Tradable   bool
	Fractionable bool
}

// Broker is the uniform asynchronous interface over every concrete broker
// (spec §4.D). Every operation may suspend (cooperative scheduling point,
// spec §5) and returns a *BrokerError on failure.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsMarketOpen(ctx context.Context) (bool, error)

	GetAccount(ctx context.Context) (*Account, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	ReplaceOrder(ctx context.Context, brokerOrderID string, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, brokerOrderID string) (*Order, error)
	GetOrders(ctx context.Context, filter OrderListFilter) ([]*Order, error)

	GetPositions(ctx context.Context) ([]*Position, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	ClosePosition(ctx context.Context, symbol string) (*Order, error)
	CloseAllPositions(ctx context.Context) ([]*Order, error)

	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]*Quote, error)
	GetAsset(ctx context.Context, symbol string) (*Asset, error)

	// SupportedAssetClasses declares which asset classes this broker can
	// service, consulted by the Broker Router (spec §4.F, invariant 9).
	SupportedAssetClasses() []AssetClass

	// ValidateOrder performs pre-submit checks: tradability, price-sign for
	// conditional orders, and estimated buying-power coverage (spec §4.D).
	ValidateOrder(ctx context.Context, req OrderRequest) error
}

// CancelAllOrders is the default implementation over GetOrders+CancelOrder,
// available to any Broker implementation via composition.
func CancelAllOrders(ctx context.Context, b Broker) error {
	open := OrderStatusNew
	orders, err := b.GetOrders(ctx, OrderListFilter{Status: &open})
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range orders {
		if err := b.CancelOrder(ctx, o.BrokerOrderID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseAllPositionsDefault is the default implementation over
// GetPositions+ClosePosition, available to any Broker implementation.
func CloseAllPositionsDefault(ctx context.Context, b Broker) ([]*Order, error) {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]*Order, 0, len(positions))
	for _, p := range positions {
		o, err := b.ClosePosition(ctx, p.Symbol)
		if err != nil {
			return orders, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

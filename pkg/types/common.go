// Package types holds the data model shared by every component of the
// trading core: the OHLCV bar, the order/fill/position/portfolio family,
// trading signals and per-user settings. Every monetary or quantity field
// is a decimal.Decimal — never a float — per the fixed-precision rule.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is a closed sum type: buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce enumerates the supported time-in-force values.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceOPG TimeInForce = "opg"
	TimeInForceCLS TimeInForce = "cls"
	TimeInForceGTD TimeInForce = "gtd"
)

// OrderStatus is the nine-value state used by the Order Manager's
// transition matrix (spec §4.F).
type OrderStatus string

const (
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusReplaced        OrderStatus = "replaced"
)

// IsTerminal reports whether the status is one of the five terminal states.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusReplaced:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the status is one of the four open states.
func (s OrderStatus) IsOpen() bool {
	return !s.IsTerminal()
}

// PositionSide classifies a position's directionality.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// AssetClass is used by the Broker Router to select a broker (spec §4.F).
type AssetClass string

const (
	AssetClassEquity  AssetClass = "equity"
	AssetClassETF     AssetClass = "etf"
	AssetClassCrypto  AssetClass = "crypto"
	AssetClassFutures AssetClass = "futures"
	AssetClassASX     AssetClass = "asx_equity"
)

// SignalType enumerates trading signal intents.
type SignalType string

const (
	SignalTypeBuy        SignalType = "buy"
	SignalTypeSell       SignalType = "sell"
	SignalTypeHold       SignalType = "hold"
	SignalTypeCloseLong  SignalType = "close_long"
	SignalTypeCloseShort SignalType = "close_short"
)

// Bar is a single OHLCV observation. Invariants (validated by NewBar): all
// prices strictly positive; low <= open,close <= high; volume >= 0.
type Bar struct {
	Timestamp     time.Time
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        decimal.Decimal
	AdjustedClose *decimal.Decimal
}

// NewBar validates and constructs a Bar.
func NewBar(ts time.Time, open, high, low, close, volume decimal.Decimal) (Bar, error) {
	for name, p := range map[string]decimal.Decimal{"open": open, "high": high, "low": low, "close": close} {
		if !p.IsPositive() {
			return Bar{}, fmt.Errorf("types: bar %s must be > 0, got %s", name, p)
		}
	}
	if volume.IsNegative() {
		return Bar{}, fmt.Errorf("types: bar volume must be >= 0, got %s", volume)
	}
	if low.GreaterThan(open) || low.GreaterThan(close) || open.GreaterThan(high) || close.GreaterThan(high) {
		return Bar{}, fmt.Errorf("types: bar invariant violated, low<=open,close<=high required (low=%s open=%s close=%s high=%s)", low, open, close, high)
	}
	return Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: close, Volume: volume}, nil
}

// OHLCVSeries is an ordered sequence of bars for one ticker at one interval.
type OHLCVSeries struct {
	Ticker   string
	Interval string
	Bars     []Bar
}

// GetBar returns the bar whose Timestamp matches date (to the day), if any.
func (s *OHLCVSeries) GetBar(date time.Time) (Bar, bool) {
	y, m, d := date.Date()
	for _, b := range s.Bars {
		by, bm, bd := b.Timestamp.Date()
		if by == y && bm == m && bd == d {
			return b, true
		}
	}
	return Bar{}, false
}

// Slice returns the bars in [start, end], assuming Bars is sorted ascending.
func (s *OHLCVSeries) Slice(start, end time.Time) []Bar {
	out := make([]Bar, 0, len(s.Bars))
	for _, b := range s.Bars {
		if (b.Timestamp.Equal(start) || b.Timestamp.After(start)) && (b.Timestamp.Equal(end) || b.Timestamp.Before(end)) {
			out = append(out, b)
		}
	}
	return out
}

// Fill is a single execution report against an order.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
}

// TotalValue is price * quantity.
func (f Fill) TotalValue() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// TotalCost is the cash impact of the fill: buys add commission to the
// outlay, sells subtract it from the proceeds.
func (f Fill) TotalCost() decimal.Decimal {
	v := f.TotalValue()
	if f.Side == OrderSideBuy {
		return v.Add(f.Commission)
	}
	return v.Sub(f.Commission)
}

// AlertChannel names a notification channel for Settings.AlertPreferences.
type AlertChannel string

const (
	AlertChannelEmail AlertChannel = "email"
	AlertChannelSMS    AlertChannel = "sms"
	AlertChannelPush   AlertChannel = "push"
)

// RateLimit bounds how often alerts are sent on a channel.
type RateLimit struct {
	MaxPerHour      int
	MaxPerDay       int
	MaxPerWeek      int
	CooldownMinutes int
}

// ChannelPrefs is one channel's alerting configuration.
type ChannelPrefs struct {
	Enabled    bool
	Address    string
	AlertTypes map[string]bool
	RateLimit  *RateLimit
}

// AlertPreferences is a nested value enum: channel -> ChannelPrefs.
// Per the REDESIGN note, mutations must reassign the whole map rather than
// mutate a ChannelPrefs in place, so any persistence layer's change
// detection sees a new map value.
type AlertPreferences map[AlertChannel]ChannelPrefs

// RiskProfile is a closed sum type describing a user's declared risk
// appetite.
type RiskProfile string

const (
	RiskProfileConservative RiskProfile = "conservative"
	RiskProfileModerate     RiskProfile = "moderate"
	RiskProfileAggressive   RiskProfile = "aggressive"
)

// Settings is the per-user risk profile (spec §3).
type Settings struct {
	RiskProfile            RiskProfile
	RiskScore              int // 0-10
	MaxPositionPct         decimal.Decimal
	MaxPortfolioRiskPct    decimal.Decimal
	InvestmentHorizonYears int
	AlertPreferences       AlertPreferences
}

// TradingSignal is the input to the Strategy Executor (spec §3, §6).
type TradingSignal struct {
	Symbol        string
	SignalType    SignalType
	Strength      decimal.Decimal
	Confidence    decimal.Decimal // [0,1]
	PriceAtSignal *decimal.Decimal
	TargetPrice   *decimal.Decimal
	StopLossPrice *decimal.Decimal
	Timestamp     time.Time
	Source        string
	Metadata      map[string]interface{}
}

package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is immutable client intent (spec §3). Construction-time
// validation enforces type->required price fields and a positive quantity.
type OrderRequest struct {
	Symbol           string
	Side             OrderSide
	Quantity         decimal.Decimal
	OrderType        OrderType
	LimitPrice       *decimal.Decimal
	StopPrice        *decimal.Decimal
	TrailAmount      *decimal.Decimal
	TrailPercent     *decimal.Decimal
	TimeInForce      TimeInForce
	ClientOrderID    string
	ExtendedHours    bool
	TakeProfitPrice  *decimal.Decimal
	StopLossPrice    *decimal.Decimal
}

// Validate enforces the construction-time invariants from spec §3.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("types: order request requires a symbol")
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("types: order request quantity must be > 0, got %s", r.Quantity)
	}
	switch r.OrderType {
	case OrderTypeLimit:
		if r.LimitPrice == nil || !r.LimitPrice.IsPositive() {
			return fmt.Errorf("types: limit order requires a positive limit_price")
		}
	case OrderTypeStop:
		if r.StopPrice == nil || !r.StopPrice.IsPositive() {
			return fmt.Errorf("types: stop order requires a positive stop_price")
		}
	case OrderTypeStopLimit:
		if r.StopPrice == nil || !r.StopPrice.IsPositive() {
			return fmt.Errorf("types: stop_limit order requires a positive stop_price")
		}
		if r.LimitPrice == nil || !r.LimitPrice.IsPositive() {
			return fmt.Errorf("types: stop_limit order requires a positive limit_price")
		}
	case OrderTypeTrailingStop:
		hasAmount := r.TrailAmount != nil && r.TrailAmount.IsPositive()
		hasPercent := r.TrailPercent != nil && r.TrailPercent.IsPositive()
		if !hasAmount && !hasPercent {
			return fmt.Errorf("types: trailing_stop order requires a positive trail_amount or trail_percent")
		}
	case OrderTypeMarket:
		// no required price fields
	default:
		return fmt.Errorf("types: unknown order type %q", r.OrderType)
	}
	return nil
}

// ValidationResult is the structured outcome of the Order Manager's
// validate_order operation (spec §4.F): separate error and warning lists
// rather than a single broker-facing error, since some findings (e.g. a
// trail percent over 50%, FOK/IOC paired with a market order) are not
// fatal on their own.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError records a fatal validation finding and marks the result invalid.
func (v *ValidationResult) AddError(msg string) {
	v.Valid = false
	v.Errors = append(v.Errors, msg)
}

// AddWarning records a non-fatal validation finding.
func (v *ValidationResult) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// OrderLeg is a child order attached to a parent (bracket stop-loss/take
// profit leg), addressed by client_order_id suffix per spec §4.H.
type OrderLeg struct {
	ClientOrderID string
	Role          string // "stop_loss" | "take_profit"
	Order         *Order
}

// Order is the broker-sourced state for an OrderRequest (spec §3).
type Order struct {
	Request         OrderRequest
	BrokerOrderID   string
	Status          OrderStatus
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SubmittedAt     *time.Time
	RejectReason    string
	ChildLegs       []OrderLeg
	History         []OrderHistoryEntry
}

// OrderHistoryEntry is one recorded lifecycle step (spec §4.F: "records
// the order and one history entry with event submitted"). OutsideMatrix is
// set when From->To is not in the transition matrix but was applied anyway
// because the broker is authoritative (spec §8 invariant 2).
type OrderHistoryEntry struct {
	Event         string
	From          OrderStatus
	To            OrderStatus
	Note          string
	OutsideMatrix bool
	Timestamp     time.Time
}

// RecordHistory appends a history entry for a from->to transition.
func (o *Order) RecordHistory(event string, from, to OrderStatus, note string) {
	o.History = append(o.History, OrderHistoryEntry{
		Event:         event,
		From:          from,
		To:            to,
		Note:          note,
		OutsideMatrix: from != to && !IsValidTransition(from, to),
		Timestamp:     time.Now(),
	})
}

// RemainingQuantity is the quantity not yet filled.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Request.Quantity.Sub(o.FilledQuantity)
}

// orderTransitions is the authoritative transition matrix from spec §4.F.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPendingNew: {
		OrderStatusNew:       true,
		OrderStatusRejected:  true,
		OrderStatusCancelled: true,
	},
	OrderStatusNew: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusPendingCancel:   true,
		OrderStatusCancelled:       true,
		OrderStatusExpired:         true,
		OrderStatusReplaced:        true,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusPendingCancel:   true,
		OrderStatusCancelled:       true,
	},
	OrderStatusPendingCancel: {
		OrderStatusCancelled:       true,
		OrderStatusFilled:          true,
		OrderStatusPartiallyFilled: true,
	},
}

// IsValidTransition reports whether from->to is allowed by the matrix.
// Terminal states (other than the ones above) have no outbound edges.
func IsValidTransition(from, to OrderStatus) bool {
	if from == to && from == OrderStatusPartiallyFilled {
		return true
	}
	edges, ok := orderTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

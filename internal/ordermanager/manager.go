// Package ordermanager implements the Order Manager (spec §4.F): the
// order lifecycle state machine built on pkg/types.IsValidTransition, a
// bounded in-memory order book, and an event taxonomy fanned out to
// registered handlers (and, optionally, a NATS subject per event).
package ordermanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	natsbus "github.com/quantcore/tradingcore/pkg/nats"
	"github.com/quantcore/tradingcore/pkg/types"
)

// EventType names one step of the order lifecycle, matching the subjects
// in pkg/nats.
type EventType string

const (
	EventCreated         EventType = natsbus.OrderEventCreated
	EventSubmitted       EventType = natsbus.OrderEventSubmitted
	EventAccepted        EventType = natsbus.OrderEventAccepted
	EventRejected        EventType = natsbus.OrderEventRejected
	EventPartiallyFilled EventType = natsbus.OrderEventPartiallyFilled
	EventFilled          EventType = natsbus.OrderEventFilled
	EventPendingCancel   EventType = natsbus.OrderEventPendingCancel
	EventCancelled       EventType = natsbus.OrderEventCancelled
	EventReplaced        EventType = natsbus.OrderEventReplaced
	EventExpired         EventType = natsbus.OrderEventExpired
	EventError           EventType = natsbus.OrderEventError
)

// Event is delivered to every registered handler on a lifecycle step.
type Event struct {
	Type      EventType
	Order     *types.Order
	Reason    string
	Timestamp time.Time
}

// EventHandler observes Order Manager events. Handlers run outside the
// Manager's lock (spec §5): a slow or panicking handler must not stall
// order processing. A panic inside a handler is recovered and logged.
type EventHandler func(Event)

// Publisher is the subset of pkg/nats.Client the Order Manager needs to
// fan events out over the bus. Tests can supply a stub.
type Publisher interface {
	PublishOrderEvent(symbol, event string, msg natsbus.OrderEventMessage) error
}

// Config configures a Manager.
type Config struct {
	// MaxOrders bounds the in-memory order book (spec §4.F). Zero means
	// unbounded.
	MaxOrders int

	// SkipValidation disables the ValidateOrder pre-check in SubmitOrder.
	// Default (false) runs it: a caller that has already validated the
	// request upstream (e.g. the Signal-to-Order Converter) may disable
	// it to avoid duplicating the same checks.
	SkipValidation bool
}

// Manager is the Order Manager for one broker (spec §4.F). A trading
// system routing across several brokers runs one Manager per broker, with
// the Broker Router choosing which Manager a new order goes to.
type Manager struct {
	mu        sync.RWMutex
	broker    types.Broker
	orders    map[string]*types.Order // keyed by BrokerOrderID
	insertion []string                // oldest first, for bounded eviction
	maxOrders int

	handlers       []handlerEntry
	nextHandlerID  uint64
	publisher      Publisher
	skipValidation bool
	logger         *logrus.Entry
}

type handlerEntry struct {
	id uint64
	fn EventHandler
}

// New constructs a Manager submitting orders through broker.
func New(broker types.Broker, cfg Config) *Manager {
	return &Manager{
		broker:         broker,
		orders:         make(map[string]*types.Order),
		maxOrders:      cfg.MaxOrders,
		skipValidation: cfg.SkipValidation,
		logger:         logrus.WithField("component", "order_manager"),
	}
}

// OnEvent registers a handler invoked for every lifecycle event. The
// returned function deregisters it; callers that attach a short-lived
// handler (e.g. to await one order) must call it to avoid an unbounded
// handler list.
func (m *Manager) OnEvent(h EventHandler) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.handlers = append(m.handlers, handlerEntry{id: id, fn: h})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, entry := range m.handlers {
			if entry.id == id {
				m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// SetPublisher wires a NATS client so every event is also published on its
// orders.{event}.{symbol} subject (spec §4.F).
func (m *Manager) SetPublisher(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// ValidateOrder runs the Manager-level structural checks on req (spec
// §4.F): required fields per order type, trailing-stop parameters, and
// non-fatal warnings for a trail percent over 50% or FOK/IOC paired with
// a market order. It performs no broker I/O; the broker's own
// tradability/price-sign/buying-power checks run separately inside
// SubmitOrder via types.Broker.ValidateOrder.
func (m *Manager) ValidateOrder(req types.OrderRequest) types.ValidationResult {
	result := types.ValidationResult{Valid: true}

	if !req.Quantity.IsPositive() {
		result.AddError("quantity must be positive")
	}
	if req.Symbol == "" {
		result.AddError("symbol is required")
	}

	switch req.OrderType {
	case types.OrderTypeLimit, types.OrderTypeStopLimit:
		if req.LimitPrice == nil {
			result.AddError(fmt.Sprintf("%s order requires limit_price", req.OrderType))
		} else if !req.LimitPrice.IsPositive() {
			result.AddError("limit price must be positive")
		}
	}
	switch req.OrderType {
	case types.OrderTypeStop, types.OrderTypeStopLimit:
		if req.StopPrice == nil {
			result.AddError(fmt.Sprintf("%s order requires stop_price", req.OrderType))
		} else if !req.StopPrice.IsPositive() {
			result.AddError("stop price must be positive")
		}
	}

	if req.OrderType == types.OrderTypeTrailingStop {
		if req.TrailAmount == nil && req.TrailPercent == nil {
			result.AddError("trailing stop requires trail_amount or trail_percent")
		}
		if req.TrailAmount != nil && !req.TrailAmount.IsPositive() {
			result.AddError("trail amount must be positive")
		}
		if req.TrailPercent != nil {
			if !req.TrailPercent.IsPositive() {
				result.AddError("trail percent must be positive")
			} else if req.TrailPercent.GreaterThan(decimal.NewFromInt(50)) {
				result.AddWarning("trail percent > 50% may execute far from market")
			}
		}
	}

	if (req.TimeInForce == types.TimeInForceFOK || req.TimeInForce == types.TimeInForceIOC) && req.OrderType == types.OrderTypeMarket {
		result.AddWarning(fmt.Sprintf("%s with market order may not execute", req.TimeInForce))
	}

	return result
}

// SubmitOrder validates req (Manager-level ValidateOrder unless disabled
// via Config.SkipValidation, then the broker's own checks), submits it,
// records it, and emits the created/submitted/accepted-or-rejected
// events.
func (m *Manager) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if !m.skipValidation {
		if result := m.ValidateOrder(req); !result.Valid {
			return nil, types.NewBrokerError(types.ErrKindOrderInvalid, fmt.Sprintf("order validation failed: %s", joinErrors(result.Errors)), nil)
		}
	}
	if err := m.broker.ValidateOrder(ctx, req); err != nil {
		return nil, err
	}

	placeholder := &types.Order{Request: req, Status: types.OrderStatusPendingNew, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	placeholder.RecordHistory("created", types.OrderStatusPendingNew, types.OrderStatusPendingNew, "")
	m.emit(Event{Type: EventCreated, Order: placeholder, Timestamp: time.Now()})

	order, err := m.broker.SubmitOrder(ctx, req)
	if err != nil {
		if order == nil {
			order = placeholder
			order.Status = types.OrderStatusRejected
			order.RejectReason = err.Error()
		}
		order.RecordHistory("rejected", types.OrderStatusPendingNew, types.OrderStatusRejected, err.Error())
		m.storeLocked(order)
		m.emit(Event{Type: EventRejected, Order: order, Reason: err.Error(), Timestamp: time.Now()})
		return order, err
	}

	order.RecordHistory("submitted", types.OrderStatusPendingNew, order.Status, "")
	m.storeLocked(order)
	m.emit(Event{Type: EventSubmitted, Order: order, Timestamp: time.Now()})

	switch order.Status {
	case types.OrderStatusRejected:
		m.emit(Event{Type: EventRejected, Order: order, Reason: order.RejectReason, Timestamp: time.Now()})
	case types.OrderStatusFilled:
		m.emit(Event{Type: EventFilled, Order: order, Timestamp: time.Now()})
	case types.OrderStatusPartiallyFilled:
		m.emit(Event{Type: EventPartiallyFilled, Order: order, Timestamp: time.Now()})
	case types.OrderStatusNew:
		m.emit(Event{Type: EventAccepted, Order: order, Timestamp: time.Now()})
	}
	return order, nil
}

// CancelOrder cancels a tracked order and emits pending_cancel/cancelled.
func (m *Manager) CancelOrder(ctx context.Context, brokerOrderID string) error {
	order, ok := m.GetOrder(brokerOrderID)
	if !ok {
		return types.NewBrokerError(types.ErrKindRoutingNotFound, "order not tracked", nil)
	}
	if !types.IsValidTransition(order.Status, types.OrderStatusPendingCancel) {
		return types.NewBrokerError(types.ErrKindOrderInvalid, fmt.Sprintf("cannot cancel order in status %s", order.Status), nil)
	}
	prev := order.Status
	m.updateStatusLocked(order, types.OrderStatusPendingCancel, "")
	order.RecordHistory("pending_cancel", prev, types.OrderStatusPendingCancel, "")
	m.emit(Event{Type: EventPendingCancel, Order: order, Timestamp: time.Now()})

	if err := m.broker.CancelOrder(ctx, brokerOrderID); err != nil {
		m.emit(Event{Type: EventError, Order: order, Reason: err.Error(), Timestamp: time.Now()})
		return err
	}
	m.updateStatusLocked(order, types.OrderStatusCancelled, "")
	order.RecordHistory("cancelled", types.OrderStatusPendingCancel, types.OrderStatusCancelled, "")
	m.emit(Event{Type: EventCancelled, Order: order, Timestamp: time.Now()})
	return nil
}

// ReplaceOrder cancels brokerOrderID and submits req as its replacement,
// emitting a replaced event on success.
func (m *Manager) ReplaceOrder(ctx context.Context, brokerOrderID string, req types.OrderRequest) (*types.Order, error) {
	old, ok := m.GetOrder(brokerOrderID)
	if !ok {
		return nil, types.NewBrokerError(types.ErrKindRoutingNotFound, "order not tracked", nil)
	}
	newOrder, err := m.broker.ReplaceOrder(ctx, brokerOrderID, req)
	if err != nil {
		m.emit(Event{Type: EventError, Order: old, Reason: err.Error(), Timestamp: time.Now()})
		return nil, err
	}
	prev := old.Status
	m.updateStatusLocked(old, types.OrderStatusReplaced, "")
	old.RecordHistory("replaced", prev, types.OrderStatusReplaced, "replaced by "+newOrder.BrokerOrderID)
	newOrder.RecordHistory("created", types.OrderStatusPendingNew, newOrder.Status, "replacement for "+brokerOrderID)
	m.storeLocked(newOrder)
	m.emit(Event{Type: EventReplaced, Order: newOrder, Timestamp: time.Now()})
	return newOrder, nil
}

// UpdateOrderStatus applies a broker-pushed status change (e.g. from a
// fill stream or polling loop). The broker is authoritative: a transition
// outside the matrix is applied anyway, with a warning logged, since the
// broker's view of reality takes precedence over the local state machine.
func (m *Manager) UpdateOrderStatus(brokerOrderID string, status types.OrderStatus, filledQty, avgPrice decimal.Decimal) error {
	order, ok := m.GetOrder(brokerOrderID)
	if !ok {
		return types.NewBrokerError(types.ErrKindRoutingNotFound, "order not tracked", nil)
	}
	prev := order.Status
	if !types.IsValidTransition(prev, status) {
		m.logger.WithFields(logrus.Fields{"order": brokerOrderID, "from": prev, "to": status}).
			Warn("broker pushed an order transition outside the local state matrix; applying anyway")
	}

	m.mu.Lock()
	order.Status = status
	order.FilledQuantity = filledQty
	if avgPrice.IsPositive() {
		order.AvgFillPrice = avgPrice
	}
	order.UpdatedAt = time.Now()
	order.RecordHistory("status_update", prev, status, "broker-pushed")
	m.mu.Unlock()

	m.emit(Event{Type: statusEvent(status), Order: order, Timestamp: time.Now()})
	return nil
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "; ")
}

func statusEvent(status types.OrderStatus) EventType {
	switch status {
	case types.OrderStatusFilled:
		return EventFilled
	case types.OrderStatusPartiallyFilled:
		return EventPartiallyFilled
	case types.OrderStatusCancelled:
		return EventCancelled
	case types.OrderStatusRejected:
		return EventRejected
	case types.OrderStatusExpired:
		return EventExpired
	case types.OrderStatusPendingCancel:
		return EventPendingCancel
	case types.OrderStatusReplaced:
		return EventReplaced
	default:
		return EventAccepted
	}
}

// GetOrder looks up a tracked order by broker order id.
func (m *Manager) GetOrder(brokerOrderID string) (*types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[brokerOrderID]
	return order, ok
}

// GetOrders returns every order currently tracked.
func (m *Manager) GetOrders() []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Order, 0, len(m.orders))
	for _, id := range m.insertion {
		if o, ok := m.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// storeLocked records order and evicts if the book is over capacity.
func (m *Manager) storeLocked(order *types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.BrokerOrderID]; !exists {
		m.insertion = append(m.insertion, order.BrokerOrderID)
	}
	m.orders[order.BrokerOrderID] = order
	m.evictIfNeededLocked()
}

func (m *Manager) updateStatusLocked(order *types.Order, status types.OrderStatus, reason string) {
	m.mu.Lock()
	order.Status = status
	order.RejectReason = reason
	order.UpdatedAt = time.Now()
	m.mu.Unlock()
}

// evictIfNeededLocked drops the oldest terminal order once the book
// exceeds MaxOrders. Caller holds m.mu. Open orders are never evicted:
// if the book is over capacity with no terminal orders to drop, it is
// left over capacity rather than lose track of a live order.
func (m *Manager) evictIfNeededLocked() {
	if m.maxOrders <= 0 {
		return
	}
	for len(m.insertion) > m.maxOrders {
		evicted := false
		for i, id := range m.insertion {
			if order, ok := m.orders[id]; ok && order.Status.IsTerminal() {
				delete(m.orders, id)
				m.insertion = append(m.insertion[:i], m.insertion[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// emit invokes every handler and, if wired, publishes to the bus, all
// outside the Manager's lock.
func (m *Manager) emit(event Event) {
	m.mu.RLock()
	handlers := append([]handlerEntry(nil), m.handlers...)
	publisher := m.publisher
	m.mu.RUnlock()

	for _, entry := range handlers {
		m.safeInvoke(entry.fn, event)
	}
	if publisher != nil && event.Order != nil {
		msg := natsbus.OrderEventMessage{Event: string(event.Type), Order: *event.Order, Reason: event.Reason, Timestamp: event.Timestamp}
		if err := publisher.PublishOrderEvent(event.Order.Request.Symbol, string(event.Type), msg); err != nil {
			m.logger.WithError(err).Warn("failed to publish order event")
		}
	}
}

func (m *Manager) safeInvoke(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warnf("order event handler panicked: %v", r)
		}
	}()
	h(event)
}

package nats

import (
	"fmt"
	"strings"
)

// Subject naming convention: orders.{event}.{symbol}
// Examples:
//   orders.filled.AAPL
//   orders.rejected.BTCUSDT
//   orders.cancelled.*

// OrderEvent names one step of the order lifecycle the Order Manager fans
// out over the bus (spec §4.F).
const (
	OrderEventCreated         = "created"
	OrderEventSubmitted       = "submitted"
	OrderEventAccepted        = "accepted"
	OrderEventRejected        = "rejected"
	OrderEventPartiallyFilled = "partially_filled"
	OrderEventFilled          = "filled"
	OrderEventPendingCancel   = "pending_cancel"
	OrderEventCancelled       = "cancelled"
	OrderEventReplaced        = "replaced"
	OrderEventExpired         = "expired"
	OrderEventError           = "error"
)

// StreamOrders is the JetStream stream name carrying every order event.
const StreamOrders = "ORDERS"

// SubjectBuilder assembles an orders.{event}.{symbol} subject.
type SubjectBuilder struct {
	event  string
	symbol string
}

// NewSubjectBuilder starts a new subject.
func NewSubjectBuilder() *SubjectBuilder { return &SubjectBuilder{} }

// WithEvent sets the order event name.
func (sb *SubjectBuilder) WithEvent(event string) *SubjectBuilder {
	sb.event = event
	return sb
}

// WithSymbol sets the symbol.
func (sb *SubjectBuilder) WithSymbol(symbol string) *SubjectBuilder {
	sb.symbol = symbol
	return sb
}

// Build renders the subject string, defaulting unset fields to a wildcard.
func (sb *SubjectBuilder) Build() string {
	event := sb.event
	if event == "" {
		event = "*"
	}
	symbol := sb.symbol
	if symbol == "" {
		symbol = "*"
	}
	return strings.Join([]string{"orders", event, symbol}, ".")
}

// OrderEventSubject builds the subject for one order event on one symbol.
func OrderEventSubject(event, symbol string) string {
	return NewSubjectBuilder().WithEvent(event).WithSymbol(symbol).Build()
}

// ParseOrderEventSubject splits an orders.{event}.{symbol} subject back into
// its parts.
func ParseOrderEventSubject(subject string) (event, symbol string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "orders" {
		return "", "", fmt.Errorf("nats: invalid order subject %q", subject)
	}
	return parts[1], parts[2], nil
}

// GetStreamSubjects returns the wildcard subjects backing StreamOrders.
func GetStreamSubjects(streamName string) []string {
	if streamName == StreamOrders {
		return []string{"orders.>"}
	}
	return []string{}
}

// SubscribeAllOrdersSubject is the wildcard pattern matching every order
// event across every symbol.
func SubscribeAllOrdersSubject() string { return "orders.>" }

// SubscribeOrderEventSubject is the wildcard pattern matching one event
// across every symbol, e.g. "filled" -> "orders.filled.*".
func SubscribeOrderEventSubject(event string) string {
	return NewSubjectBuilder().WithEvent(event).Build()
}

// SubscribeSymbolSubject is the wildcard pattern matching every event for
// one symbol, e.g. "AAPL" -> "orders.*.AAPL".
func SubscribeSymbolSubject(symbol string) string {
	return NewSubjectBuilder().WithSymbol(symbol).Build()
}

// Package executor implements the Strategy Executor (spec §4.I): it takes
// one TradingSignal through price resolution, Signal→Order conversion,
// risk validation, submission, and bracket-child placement on fill,
// emitting a bounded ExecutionEvent history along the way.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantcore/tradingcore/internal/ordermanager"
	"github.com/quantcore/tradingcore/internal/risk"
	"github.com/quantcore/tradingcore/internal/signalorder"
	"github.com/quantcore/tradingcore/pkg/types"
)

// RetryMode selects how Execute retries a failed submission.
type RetryMode string

const (
	RetryNone                RetryMode = "none"
	RetryFixedDelay          RetryMode = "fixed_delay"
	RetryExponentialBackoff  RetryMode = "exponential_backoff"
)

// RetryPolicy configures submission retries (spec §4.I). RetryOn lists the
// error kinds worth retrying; when it is set, kinds outside it fail
// immediately regardless of Mode. A nil RetryOn retries every kind except
// the hard-coded non-retryable kinds below, which always fail immediately.
type RetryPolicy struct {
	Mode        RetryMode
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	RetryOn     map[types.ErrorKind]bool
}

// nonRetryableKinds never retry no matter the policy (spec §4.I).
var nonRetryableKinds = map[types.ErrorKind]bool{
	types.ErrKindOrderInvalid:      true,
	types.ErrKindOrderInsufficient: true,
	types.ErrKindAuthentication:    true,
}

// EventKind names one step in a signal's execution (spec §4.I).
type EventKind string

const (
	EventSignalReceived  EventKind = "signal_received"
	EventOrderBuilt      EventKind = "order_built"
	EventRiskChecked     EventKind = "risk_checked"
	EventSubmitted       EventKind = "submitted"
	EventPartiallyFilled EventKind = "partially_filled"
	EventFilled          EventKind = "filled"
	EventCancelled       EventKind = "cancelled"
	EventRejected        EventKind = "rejected"
	EventBracketPlaced   EventKind = "bracket_placed"
	EventTimeout         EventKind = "timeout"
	EventError           EventKind = "error"
)

// ExecutionEvent is one entry in the executor's bounded history.
type ExecutionEvent struct {
	Kind      EventKind
	SignalID  string
	OrderID   string
	Timestamp time.Time
	Detail    string
}

// ExecutionResult is what Execute returns once a signal's order reaches a
// terminal state or the fill wait times out.
type ExecutionResult struct {
	SignalID        string
	Success         bool
	Order           *types.Order
	StopLossOrder   *types.Order
	TakeProfitOrder *types.Order
	Errors          []string
}

// Config configures an Executor.
type Config struct {
	Retry           RetryPolicy
	FillTimeout     time.Duration // how long to await a fill before giving up
	MaxEventHistory int
}

// Executor orchestrates one signal at a time through conversion, risk
// checking, submission, and bracket placement (spec §4.I). Multiple
// signals for different symbols may be in flight concurrently; each runs
// its own Execute call.
type Executor struct {
	orderManager  *ordermanager.Manager
	riskManager   *risk.Manager
	converterCfg  signalorder.ConversionConfig
	cfg           Config
	logger        *logrus.Entry

	mu     sync.Mutex
	events []ExecutionEvent
}

// New constructs an Executor wired to an Order Manager and Risk Manager.
func New(om *ordermanager.Manager, rm *risk.Manager, converterCfg signalorder.ConversionConfig, cfg Config) *Executor {
	if cfg.MaxEventHistory <= 0 {
		cfg.MaxEventHistory = 1000
	}
	return &Executor{
		orderManager: om,
		riskManager:  rm,
		converterCfg: converterCfg,
		cfg:          cfg,
		logger:       logrus.WithField("component", "executor"),
	}
}

// Events returns a snapshot of the bounded execution history.
func (e *Executor) Events() []ExecutionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecutionEvent(nil), e.events...)
}

func (e *Executor) record(kind EventKind, signalID, orderID, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ExecutionEvent{Kind: kind, SignalID: signalID, OrderID: orderID, Timestamp: time.Now(), Detail: detail})
	if over := len(e.events) - e.cfg.MaxEventHistory; over > 0 {
		e.events = e.events[over:]
	}
}

// Execute carries one signal through conversion, risk checking, submission
// and (if the order fills within FillTimeout) bracket placement.
// mid is the broker quote mid price used when the signal carries no
// price_at_signal; atr is passed through to ATR-based sizing/stop methods.
func (e *Executor) Execute(ctx context.Context, signalID string, signal types.TradingSignal, portfolio *types.Portfolio, mid, atr decimal.Decimal) ExecutionResult {
	e.record(EventSignalReceived, signalID, "", string(signal.SignalType)+" "+signal.Symbol)

	price := mid
	if signal.PriceAtSignal != nil && signal.PriceAtSignal.IsPositive() {
		price = *signal.PriceAtSignal
	}

	conversion := signalorder.ConvertSignal(signal, portfolio, price, atr, e.converterCfg)
	if !conversion.Success {
		e.record(EventError, signalID, "", "conversion failed")
		return ExecutionResult{SignalID: signalID, Success: false, Errors: conversion.Errors}
	}
	e.record(EventOrderBuilt, signalID, "", fmt.Sprintf("qty=%s", conversion.OrderRequest.Quantity.String()))

	result := e.riskManager.ValidateOrder(*conversion.OrderRequest, portfolio, price)
	if !result.Passed {
		e.record(EventRejected, signalID, "", "risk check failed")
		errs := make([]string, 0, len(result.Violations))
		for _, v := range result.Violations {
			errs = append(errs, v.Message)
		}
		return ExecutionResult{SignalID: signalID, Success: false, Errors: errs}
	}
	e.record(EventRiskChecked, signalID, "", "passed")

	order, err := e.submitWithRetry(ctx, *conversion.OrderRequest)
	if err != nil {
		e.record(EventError, signalID, "", err.Error())
		return ExecutionResult{SignalID: signalID, Success: false, Errors: []string{err.Error()}}
	}
	e.record(EventSubmitted, signalID, order.BrokerOrderID, string(order.Status))

	if order.Status.IsTerminal() {
		switch order.Status {
		case types.OrderStatusFilled:
			e.record(EventFilled, signalID, order.BrokerOrderID, "")
		case types.OrderStatusCancelled:
			e.record(EventCancelled, signalID, order.BrokerOrderID, "")
		case types.OrderStatusRejected:
			e.record(EventRejected, signalID, order.BrokerOrderID, "")
		}
		return e.finalize(ctx, signalID, order, conversion)
	}

	final := e.awaitFill(ctx, signalID, order)
	return e.finalize(ctx, signalID, final, conversion)
}

// submitWithRetry submits req via the Order Manager, retrying according to
// cfg.Retry when the resulting error's kind is retryable.
func (e *Executor) submitWithRetry(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	policy := e.cfg.Retry
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		order, err := e.orderManager.SubmitOrder(ctx, req)
		if err == nil {
			return order, nil
		}
		lastErr = err

		if attempt == maxAttempts || policy.Mode == RetryNone || policy.Mode == "" {
			return order, err
		}
		kind := types.KindOf(err)
		if nonRetryableKinds[kind] {
			return order, err
		}
		if policy.RetryOn != nil && !policy.RetryOn[kind] {
			return order, err
		}

		delay := e.retryDelay(policy, attempt)
		if kind == types.ErrKindRateLimit {
			if be, ok := err.(*types.BrokerError); ok && be.RetryAfter != nil {
				delay = *be.RetryAfter
			}
		}
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (e *Executor) retryDelay(policy RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base
	if policy.Mode == RetryExponentialBackoff {
		delay = base * time.Duration(1<<uint(attempt-1))
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

// awaitFill waits for order to reach a terminal state, via a temporary
// Order Manager event handler, up to FillTimeout. On timeout it issues a
// best-effort cancel.
func (e *Executor) awaitFill(ctx context.Context, signalID string, order *types.Order) *types.Order {
	timeout := e.cfg.FillTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{}, 1)
	unsubscribe := e.orderManager.OnEvent(func(ev ordermanager.Event) {
		if ev.Order == nil || ev.Order.BrokerOrderID != order.BrokerOrderID {
			return
		}
		switch ev.Type {
		case ordermanager.EventPartiallyFilled:
			e.record(EventPartiallyFilled, signalID, order.BrokerOrderID, "")
		case ordermanager.EventFilled:
			e.record(EventFilled, signalID, order.BrokerOrderID, "")
			select {
			case done <- struct{}{}:
			default:
			}
		case ordermanager.EventCancelled:
			e.record(EventCancelled, signalID, order.BrokerOrderID, "")
			select {
			case done <- struct{}{}:
			default:
			}
		case ordermanager.EventRejected:
			e.record(EventRejected, signalID, order.BrokerOrderID, ev.Reason)
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case <-done:
	case <-waitCtx.Done():
		e.record(EventTimeout, signalID, order.BrokerOrderID, "fill wait timed out")
		_ = e.orderManager.CancelOrder(ctx, order.BrokerOrderID)
	}

	if latest, ok := e.orderManager.GetOrder(order.BrokerOrderID); ok {
		return latest
	}
	return order
}

// finalize submits bracket children on a filled order and builds the
// ExecutionResult.
func (e *Executor) finalize(ctx context.Context, signalID string, order *types.Order, conversion signalorder.ConversionResult) ExecutionResult {
	result := ExecutionResult{SignalID: signalID, Order: order}

	switch order.Status {
	case types.OrderStatusFilled, types.OrderStatusPartiallyFilled:
		result.Success = true
		if conversion.StopLossOrder != nil {
			if slOrder, err := e.orderManager.SubmitOrder(ctx, *conversion.StopLossOrder); err != nil {
				result.Errors = append(result.Errors, "stop-loss leg: "+err.Error())
			} else {
				result.StopLossOrder = slOrder
				e.record(EventBracketPlaced, signalID, slOrder.BrokerOrderID, "stop_loss")
			}
		}
		if conversion.TakeProfitOrder != nil {
			if tpOrder, err := e.orderManager.SubmitOrder(ctx, *conversion.TakeProfitOrder); err != nil {
				result.Errors = append(result.Errors, "take-profit leg: "+err.Error())
			} else {
				result.TakeProfitOrder = tpOrder
				e.record(EventBracketPlaced, signalID, tpOrder.BrokerOrderID, "take_profit")
			}
		}
	default:
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("order ended in non-fill status %s", order.Status))
	}
	return result
}

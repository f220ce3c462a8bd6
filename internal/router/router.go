// Package router implements the Broker Router (spec §4.F): symbol→asset-
// class classification, priority-weighted broker selection among
// registered brokers, and a bounded routing-history ring. It does not
// submit orders itself; callers take the returned broker and hand it to
// an Order Manager (internal/ordermanager) scoped to that broker.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantcore/tradingcore/internal/config"
	"github.com/quantcore/tradingcore/pkg/types"
)

// Registration is one broker entered into the router, along with the
// priority used to break ties when more than one broker supports a
// symbol's asset class. Higher priority wins.
type Registration struct {
	Name     string
	Broker   types.Broker
	Priority int
}

// RoutingDecision records one resolved route, kept in the bounded history
// ring for observability and test assertions.
type RoutingDecision struct {
	RequestID  string
	Symbol     string
	AssetClass types.AssetClass
	BrokerName string
	Timestamp  time.Time
}

// Config configures a Router.
type Config struct {
	// MaxHistory bounds the routing-history ring. Zero means unbounded.
	MaxHistory int
	// Fallback is consulted when no registered broker declares support
	// for the classified asset class; empty means routing.no_broker.
	Fallback types.AssetClass
}

// Router selects a broker for a symbol by asset-class classification
// (spec invariant 9: route(symbol) returns a broker whose
// supported_asset_classes contains the classifier's class, or the
// configured fallback). Registrations and routing history are protected
// by a single mutex; reads take the read lock, mutations the write lock
// (spec §5).
type Router struct {
	mu            sync.RWMutex
	registrations []Registration
	byName        map[string]int // name -> index into registrations
	history       []RoutingDecision
	cfg           Config
	logger        *logrus.Entry
}

// New constructs a Router.
func New(cfg Config) *Router {
	return &Router{
		byName: make(map[string]int),
		cfg:    cfg,
		logger: config.NewLogger("router"),
	}
}

// Register adds broker under name with the given priority. Registering a
// name twice is a routing.duplicate error.
func (r *Router) Register(name string, broker types.Broker, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return types.NewBrokerError(types.ErrKindRoutingDuplicate, fmt.Sprintf("broker %q already registered", name), nil)
	}
	r.byName[name] = len(r.registrations)
	r.registrations = append(r.registrations, Registration{Name: name, Broker: broker, Priority: priority})
	return nil
}

// Deregister removes a previously registered broker by name. It is a
// no-op if the name was never registered.
func (r *Router) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, exists := r.byName[name]
	if !exists {
		return
	}
	r.registrations = append(r.registrations[:idx], r.registrations[idx+1:]...)
	delete(r.byName, name)
	for n, i := range r.byName {
		if i > idx {
			r.byName[n] = i - 1
		}
	}
}

// Route classifies symbol via types.ClassifySymbol and returns the
// highest-priority registered broker whose SupportedAssetClasses
// includes that class. Ties fall back to registration order.
func (r *Router) Route(symbol string) (types.Broker, error) {
	return r.RouteClass(symbol, types.ClassifySymbol(symbol))
}

// RouteClass routes symbol using an explicit asset class, bypassing the
// classifier. Useful when a caller already knows the class (e.g. from a
// persisted Portfolio position).
func (r *Router) RouteClass(symbol string, class types.AssetClass) (types.Broker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	broker, name, err := r.selectLocked(class)
	if err != nil {
		return nil, err
	}

	r.recordLocked(RoutingDecision{
		RequestID:  uuid.NewString(),
		Symbol:     symbol,
		AssetClass: class,
		BrokerName: name,
		Timestamp:  time.Now(),
	})
	r.logger.WithFields(logrus.Fields{"symbol": symbol, "class": class, "broker": name}).Debug("routed order")
	return broker, nil
}

// selectLocked must be called with mu held.
func (r *Router) selectLocked(class types.AssetClass) (types.Broker, string, error) {
	var best *Registration
	for i := range r.registrations {
		reg := &r.registrations[i]
		if !supports(reg.Broker, class) {
			continue
		}
		if best == nil || reg.Priority > best.Priority {
			best = reg
		}
	}
	if best != nil {
		return best.Broker, best.Name, nil
	}

	if r.cfg.Fallback != "" && r.cfg.Fallback != class {
		if broker, name, err := r.selectLocked(r.cfg.Fallback); err == nil {
			return broker, name, nil
		}
	}

	return nil, "", types.NewBrokerError(types.ErrKindRoutingNoBroker,
		fmt.Sprintf("no registered broker supports asset class %q", class), nil)
}

func supports(b types.Broker, class types.AssetClass) bool {
	for _, c := range b.SupportedAssetClasses() {
		if c == class {
			return true
		}
	}
	return false
}

// recordLocked must be called with mu held.
func (r *Router) recordLocked(d RoutingDecision) {
	r.history = append(r.history, d)
	if r.cfg.MaxHistory > 0 && len(r.history) > r.cfg.MaxHistory {
		r.history = r.history[len(r.history)-r.cfg.MaxHistory:]
	}
}

// History returns a snapshot of the routing-history ring, oldest first.
func (r *Router) History() []RoutingDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoutingDecision, len(r.history))
	copy(out, r.history)
	return out
}

// Brokers returns the currently registered broker names, in registration
// order.
func (r *Router) Brokers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.registrations))
	for i, reg := range r.registrations {
		names[i] = reg.Name
	}
	return names
}

// AggregateQuotes fetches a quote for symbol from every registered
// broker that supports its asset class, keyed by broker name. A broker
// that errors is omitted rather than failing the whole call; if every
// broker fails the last error is returned.
func (r *Router) AggregateQuotes(ctx context.Context, symbol string) (map[string]*types.Quote, error) {
	class := types.ClassifySymbol(symbol)

	r.mu.RLock()
	var candidates []Registration
	for _, reg := range r.registrations {
		if supports(reg.Broker, class) {
			candidates = append(candidates, reg)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, types.NewBrokerError(types.ErrKindRoutingNoBroker,
			fmt.Sprintf("no registered broker supports asset class %q", class), nil)
	}

	quotes := make(map[string]*types.Quote, len(candidates))
	var lastErr error
	for _, reg := range candidates {
		q, err := reg.Broker.GetQuote(ctx, symbol)
		if err != nil {
			lastErr = err
			r.logger.WithError(err).WithFields(logrus.Fields{"broker": reg.Name, "symbol": symbol}).Warn("quote aggregation: broker failed")
			continue
		}
		quotes[reg.Name] = q
	}
	if len(quotes) == 0 {
		return nil, lastErr
	}
	return quotes, nil
}

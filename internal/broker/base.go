// Package broker implements the concrete Broker adapters (spec §4.E)
// over the pkg/types.Broker contract: a paper simulator and thin
// wrappers around Alpaca, Interactive Brokers, and a crypto venue.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantcore/tradingcore/pkg/types"
)

// BaseBroker carries the state every concrete broker needs regardless
// of venue: a connection flag, a per-venue logger, a rate limiter and a
// quote cache. Concrete brokers embed it.
type BaseBroker struct {
	name        string
	logger      *logrus.Entry
	connected   bool
	mu          sync.RWMutex
	rateLimiter *RateLimiter
	quoteCache  map[string]*types.Quote
	cacheMu     sync.RWMutex
}

// NewBaseBroker constructs a BaseBroker for the named venue.
func NewBaseBroker(name string, limits RateLimits) *BaseBroker {
	return &BaseBroker{
		name:        name,
		logger:      logrus.WithField("broker", name),
		rateLimiter: NewRateLimiter(limits),
		quoteCache:  make(map[string]*types.Quote),
	}
}

// Logger returns the broker's component-scoped logger.
func (b *BaseBroker) Logger() *logrus.Entry { return b.logger }

// IsConnected reports the connection flag.
func (b *BaseBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SetConnected sets the connection flag.
func (b *BaseBroker) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
}

// CheckRateLimit delegates to the embedded RateLimiter, returning a
// typed rate_limit BrokerError on violation.
func (b *BaseBroker) CheckRateLimit(weight int) error {
	if err := b.rateLimiter.CheckLimit(weight); err != nil {
		return types.NewRateLimitError(err.Error(), time.Second)
	}
	return nil
}

// CacheQuote stores the latest quote for a symbol.
func (b *BaseBroker) CacheQuote(symbol string, q *types.Quote) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.quoteCache[symbol] = q
}

// CachedQuote returns the last cached quote for a symbol, if any.
func (b *BaseBroker) CachedQuote(symbol string) (*types.Quote, bool) {
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()
	q, ok := b.quoteCache[symbol]
	return q, ok
}

// RateLimits bounds request volume per venue.
type RateLimits struct {
	WeightPerMinute int
	OrdersPerSecond int
	OrdersPerDay    int
}

// RateLimiter enforces RateLimits with minute/day rolling windows.
type RateLimiter struct {
	limits          RateLimits
	weightCounter   int
	orderCounter    int
	dailyOrderCount int
	lastMinuteReset time.Time
	lastDayReset    time.Time
	mu              sync.Mutex
}

// NewRateLimiter constructs a RateLimiter with fresh windows.
func NewRateLimiter(limits RateLimits) *RateLimiter {
	now := time.Now()
	return &RateLimiter{limits: limits, lastMinuteReset: now, lastDayReset: now}
}

// CheckLimit records weight against the current minute window and
// returns an error if it would exceed WeightPerMinute.
func (r *RateLimiter) CheckLimit(weight int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastMinuteReset) >= time.Minute {
		r.weightCounter = 0
		r.orderCounter = 0
		r.lastMinuteReset = now
	}
	if now.Day() != r.lastDayReset.Day() {
		r.dailyOrderCount = 0
		r.lastDayReset = now
	}

	if r.limits.WeightPerMinute > 0 && r.weightCounter+weight > r.limits.WeightPerMinute {
		return fmt.Errorf("rate limit exceeded: weight %d/%d per minute", r.weightCounter+weight, r.limits.WeightPerMinute)
	}
	r.weightCounter += weight
	return nil
}

// CheckOrderLimit enforces the per-second and per-day order caps,
// separate from the weight budget above.
func (r *RateLimiter) CheckOrderLimit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limits.OrdersPerSecond > 0 && r.orderCounter >= r.limits.OrdersPerSecond {
		return fmt.Errorf("rate limit exceeded: %d orders/second", r.limits.OrdersPerSecond)
	}
	if r.limits.OrdersPerDay > 0 && r.dailyOrderCount >= r.limits.OrdersPerDay {
		return fmt.Errorf("rate limit exceeded: %d orders/day", r.limits.OrdersPerDay)
	}
	r.orderCounter++
	r.dailyOrderCount++
	return nil
}

// Package cache provides a TTL-based in-memory cache. MemoryCache is the
// generic string-keyed store; SeriesCache specializes it to the OHLCV
// series shape (ticker, start, end, interval) -> types.OHLCVSeries that
// the Market Data Loader (internal/marketdata) caches.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantcore/tradingcore/pkg/types"
)

// CacheItem is one stored value plus its absolute expiration time (zero
// meaning "never expires").
type CacheItem struct {
	Value      interface{}
	Expiration int64
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// MemoryCache is a concurrent-safe map with per-key TTL and a background
// sweep for expired entries.
type MemoryCache struct {
	items  sync.Map
	hits   int64
	misses int64
	evicts int64
}

// NewMemoryCache starts a MemoryCache with its background expiry sweep.
func NewMemoryCache() *MemoryCache {
	cache := &MemoryCache{}
	go cache.cleanupExpired()
	return cache
}

// Set stores value under key with the given ttl. A zero ttl never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	expiration := time.Now().Add(ttl).UnixNano()
	if ttl == 0 {
		expiration = 0
	}

	c.items.Store(key, &CacheItem{
		Value:      value,
		Expiration: expiration,
	})
}

// Get returns the value stored under key, or false if absent or expired.
// Lookups are counted in Stats.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	item, exists := c.items.Load(key)
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	cacheItem := item.(*CacheItem)
	if cacheItem.Expiration > 0 && time.Now().UnixNano() > cacheItem.Expiration {
		c.items.Delete(key)
		atomic.AddInt64(&c.misses, 1)
		atomic.AddInt64(&c.evicts, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return cacheItem.Value, true
}

// Delete removes key if present.
func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.items.Range(func(key, value interface{}) bool {
		c.items.Delete(key)
		return true
	})
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evicts),
	}
}

func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UnixNano()
		c.items.Range(func(key, value interface{}) bool {
			item := value.(*CacheItem)
			if item.Expiration > 0 && now > item.Expiration {
				c.items.Delete(key)
				atomic.AddInt64(&c.evicts, 1)
			}
			return true
		})
	}
}

// GetAll returns every unexpired entry, keyed as stored.
func (c *MemoryCache) GetAll() map[string]interface{} {
	result := make(map[string]interface{})
	c.items.Range(func(key, value interface{}) bool {
		item := value.(*CacheItem)
		if item.Expiration == 0 || time.Now().UnixNano() <= item.Expiration {
			result[key.(string)] = item.Value
		}
		return true
	})
	return result
}

// SeriesCache is a MemoryCache specialized for OHLCV series: entries are
// keyed by (ticker, start, end, interval) and Get/Set are typed on
// types.OHLCVSeries directly, so the Market Data Loader never hand-builds
// a key string or type-asserts an interface{} itself.
type SeriesCache struct {
	*MemoryCache
	ttl time.Duration
}

// NewSeriesCache builds a SeriesCache whose entries expire after ttl.
func NewSeriesCache(ttl time.Duration) *SeriesCache {
	return &SeriesCache{MemoryCache: NewMemoryCache(), ttl: ttl}
}

func seriesKey(ticker string, start, end time.Time, interval string) string {
	return ticker + "|" + start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339) + "|" + interval
}

// Get looks up a previously stored series for (ticker, start, end, interval).
func (s *SeriesCache) Get(ticker string, start, end time.Time, interval string) (types.OHLCVSeries, bool) {
	raw, ok := s.MemoryCache.Get(seriesKey(ticker, start, end, interval))
	if !ok {
		return types.OHLCVSeries{}, false
	}
	series, ok := raw.(types.OHLCVSeries)
	return series, ok
}

// Set stores a series for (ticker, start, end, interval) under this
// cache's configured TTL.
func (s *SeriesCache) Set(ticker string, start, end time.Time, interval string, series types.OHLCVSeries) {
	s.MemoryCache.Set(seriesKey(ticker, start, end, interval), series, s.ttl)
}

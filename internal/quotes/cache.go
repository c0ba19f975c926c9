// Package quotes provides the streaming quote cache consumed by the engine.
package quotes

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Field selects which quote fields a subscription streams.
type Field string

const (
	FieldBid    Field = "bid"
	FieldAsk    Field = "ask"
	FieldLast   Field = "last"
	FieldVolume Field = "volume"
)

// Handle identifies an open subscription.
type Handle struct {
	CacheKey string
	TickerID int64
}

// Cache is the latest-quote-per-instrument store, keyed by subscription id.
// Subscribe returns nil when market data capacity is exhausted; the caller
// must roll back any subscriptions it opened earlier in the same load.
type Cache interface {
	Subscribe(contract types.Contract, cacheKey string, fields []Field) *Handle
	Unsubscribe(cacheKey string)
	UnsubscribeAll()
	Get(cacheKey string) *types.Quote
	ResubscribeAll() error
	GetAllSerialized() ([]byte, error)

	// Line accounting for the resource manager.
	ActiveSubscriptions() int
	Capacity() int
}

type subscription struct {
	handle   Handle
	contract types.Contract
	fields   []Field
	quote    types.Quote
	hasQuote bool
}

// StreamCache is an in-memory Cache with a fixed market data line capacity.
type StreamCache struct {
	mu       sync.RWMutex
	capacity int
	nextID   int64
	subs     map[string]*subscription
	logger   *slog.Logger
}

// NewStreamCache creates a cache with the given line capacity.
func NewStreamCache(capacity int, logger *slog.Logger) *StreamCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamCache{
		capacity: capacity,
		nextID:   1,
		subs:     make(map[string]*subscription),
		logger:   logger,
	}
}

// Subscribe opens a streaming subscription. Returns nil when every market
// data line is in use.
func (c *StreamCache) Subscribe(contract types.Contract, cacheKey string, fields []Field) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[cacheKey]; ok {
		return &sub.handle
	}

	if len(c.subs) >= c.capacity {
		c.logger.Warn("market data capacity exhausted",
			"cache_key", cacheKey,
			"capacity", c.capacity,
		)
		return nil
	}

	id := c.nextID
	c.nextID++

	sub := &subscription{
		handle:   Handle{CacheKey: cacheKey, TickerID: id},
		contract: contract,
		fields:   fields,
	}
	c.subs[cacheKey] = sub

	c.logger.Debug("subscribed",
		"cache_key", cacheKey,
		"ticker_id", id,
		"contract", contract.Describe(),
	)

	return &sub.handle
}

// Unsubscribe releases one subscription.
func (c *StreamCache) Unsubscribe(cacheKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[cacheKey]; ok {
		delete(c.subs, cacheKey)
		c.logger.Debug("unsubscribed", "cache_key", cacheKey)
	}
}

// UnsubscribeAll releases every subscription.
func (c *StreamCache) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = make(map[string]*subscription)
}

// Get returns the latest quote for a cache key, or nil when none arrived yet.
func (c *StreamCache) Get(cacheKey string) *types.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sub, ok := c.subs[cacheKey]
	if !ok || !sub.hasQuote {
		return nil
	}
	q := sub.quote
	return &q
}

// Update stores a fresh quote for a cache key. Called by the market data feed.
func (c *StreamCache) Update(cacheKey string, quote types.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[cacheKey]
	if !ok {
		return
	}
	quote.CacheKey = cacheKey
	if quote.Timestamp.IsZero() {
		quote.Timestamp = time.Now()
	}
	sub.quote = quote
	sub.hasQuote = true
}

// ResubscribeAll re-requests every held line after a reconnect.
func (c *StreamCache) ResubscribeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		sub.hasQuote = false
		c.logger.Debug("resubscribed", "cache_key", key, "ticker_id", sub.handle.TickerID)
	}
	return nil
}

// GetAllSerialized returns every cached quote as JSON, for telemetry.
func (c *StreamCache) GetAllSerialized() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]types.Quote, len(c.subs))
	for key, sub := range c.subs {
		if sub.hasQuote {
			out[key] = sub.quote
		}
	}
	return json.Marshal(out)
}

// ActiveSubscriptions returns the number of market data lines held.
func (c *StreamCache) ActiveSubscriptions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Capacity returns the total line capacity.
func (c *StreamCache) Capacity() int {
	return c.capacity
}

var _ Cache = (*StreamCache)(nil)

// Package symbolcache holds exchange symbol metadata with a TTL.
//
// The cache is an explicit object handed to the components that need it.
// Refresh is the only writer; readers get a miss once an entry expires.
package symbolcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chartterm/internal/model"
)

// DefaultTTL is how long metadata stays fresh.
const DefaultTTL = time.Hour

// Fetcher loads metadata for one symbol.
type Fetcher interface {
	FetchSymbolMeta(ctx context.Context, symbol string, market model.Market) (model.SymbolMeta, error)
}

type entry struct {
	meta    model.SymbolMeta
	expires time.Time
}

// Cache maps market+symbol to metadata.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	// OnRefresh is called after each fetch (optional).
	OnRefresh func(symbol string, err error)
}

// New creates a cache that refreshes through f.
func New(f Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		fetcher: f,
		ttl:     ttl,
		now:     time.Now,
	}
}

func key(symbol string, market model.Market) string {
	return string(market) + ":" + strings.ToUpper(symbol)
}

// Get returns fresh metadata if present.
func (c *Cache) Get(symbol string, market model.Market) (model.SymbolMeta, bool) {
	c.mu.RLock()
	e, ok := c.entries[key(symbol, market)]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return model.SymbolMeta{}, false
	}
	return e.meta, true
}

// Refresh fetches metadata and stores it for one TTL.
func (c *Cache) Refresh(ctx context.Context, symbol string, market model.Market) (model.SymbolMeta, error) {
	meta, err := c.fetcher.FetchSymbolMeta(ctx, symbol, market)
	if c.OnRefresh != nil {
		c.OnRefresh(symbol, err)
	}
	if err != nil {
		return model.SymbolMeta{}, fmt.Errorf("symbolcache: refresh %s: %w", symbol, err)
	}
	c.mu.Lock()
	c.entries[key(symbol, market)] = entry{meta: meta, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return meta, nil
}

// Lookup returns cached metadata or refreshes it on a miss.
func (c *Cache) Lookup(ctx context.Context, symbol string, market model.Market) (model.SymbolMeta, error) {
	if meta, ok := c.Get(symbol, market); ok {
		return meta, nil
	}
	return c.Refresh(ctx, symbol, market)
}

// Len returns the number of stored entries, fresh or expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Prune removes expired entries and returns how many were dropped.
func (c *Cache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Package pricecache implements the two-tier read path over the in-memory
// quote cache and the persistent store, plus the store-first write path.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dexwatch/internal/market"
	"dexwatch/internal/metrics"
	"dexwatch/internal/storage"
)

// DefaultTTL bounds how long a cached quote is considered fresh.
const DefaultTTL = 30 * time.Second

type entry struct {
	quote    market.PriceQuote
	cachedAt time.Time
}

// Cache is the owning component for PriceQuote lifetime. Reads never block
// on network I/O: stale data is returned as-is while a refresh is enqueued
// in the background.
type Cache struct {
	store  storage.PriceStore
	ttl    time.Duration
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[market.QuoteKey]entry
	queried map[string]time.Time

	refreshMu sync.RWMutex
	refresh   func(assetID string)
}

// New constructs a Cache. The store may be nil, in which case the cache
// operates memory-only with no durability.
func New(store storage.PriceStore, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   store,
		ttl:     ttl,
		logger:  logger.With().Str("component", "price_cache").Logger(),
		entries: make(map[market.QuoteKey]entry),
		queried: make(map[string]time.Time),
	}
}

// SetRefreshHook installs the background refresh trigger. Installed after
// construction because the refresh queue depends on the aggregation service
// which depends on this cache.
func (c *Cache) SetRefreshHook(refresh func(assetID string)) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.refresh = refresh
}

// Get returns quotes for an asset, optionally narrowed by chain and venue.
// Fresh in-memory entries win; otherwise fresh store rows are returned and
// repopulated into the cache; failing both, whatever stale data exists is
// returned and an asynchronous refresh is enqueued.
func (c *Cache) Get(ctx context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error) {
	now := time.Now().UTC()
	c.markQueried(assetID, now)

	if fresh := c.freshCached(assetID, chainID, venueID, now); len(fresh) > 0 {
		metrics.CacheHits.Inc()
		return fresh, nil
	}
	metrics.CacheMisses.Inc()

	if c.store == nil {
		stale := c.staleCached(assetID, chainID, venueID)
		if len(stale) > 0 {
			c.enqueueRefresh(assetID)
		}
		return stale, nil
	}

	stored, err := c.store.ListQuotes(ctx, assetID, chainID, venueID)
	if err != nil {
		c.logger.Error().Err(err).Str("asset", assetID).Msg("store read failed, serving stale cache")
		return c.staleCached(assetID, chainID, venueID), nil
	}

	fresh := make([]market.PriceQuote, 0, len(stored))
	for _, quote := range stored {
		if now.Sub(quote.ObservedAt) <= c.ttl {
			fresh = append(fresh, quote)
			c.put(quote, quote.ObservedAt)
		}
	}
	if len(fresh) > 0 {
		return fresh, nil
	}

	if len(stored) > 0 {
		c.enqueueRefresh(assetID)
	}
	return stored, nil
}

// Upsert writes the quote to the persistent store first and only updates
// the in-memory entry after the store write succeeds, so readers never
// observe a cache entry newer than the corresponding store row. Freshness
// is judged by the quote's observation time, matching the store read path.
func (c *Cache) Upsert(ctx context.Context, quote market.PriceQuote) error {
	if c.store != nil {
		if err := c.store.UpsertQuote(ctx, quote); err != nil {
			return err
		}
	}
	cachedAt := quote.ObservedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now().UTC()
	}
	c.put(quote, cachedAt)
	return nil
}

// Invalidate drops all cached entries for an asset (manual cache-bust).
func (c *Cache) Invalidate(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.AssetID == assetID {
			delete(c.entries, key)
		}
	}
}

// RecentlyQueried lists assets read through the cache within the window.
// The scheduled cache sweep refreshes these.
func (c *Cache) RecentlyQueried(window time.Duration) []string {
	cutoff := time.Now().UTC().Add(-window)
	c.mu.RLock()
	defer c.mu.RUnlock()
	assets := make([]string, 0, len(c.queried))
	for asset, at := range c.queried {
		if at.After(cutoff) {
			assets = append(assets, asset)
		}
	}
	return assets
}

func (c *Cache) put(quote market.PriceQuote, cachedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[quote.Key()] = entry{quote: quote, cachedAt: cachedAt}
}

func (c *Cache) freshCached(assetID, chainID, venueID string, now time.Time) []market.PriceQuote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quotes := make([]market.PriceQuote, 0)
	for key, e := range c.entries {
		if !matches(key, assetID, chainID, venueID) {
			continue
		}
		if now.Sub(e.cachedAt) <= c.ttl {
			quotes = append(quotes, e.quote)
		}
	}
	return quotes
}

func (c *Cache) staleCached(assetID, chainID, venueID string) []market.PriceQuote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quotes := make([]market.PriceQuote, 0)
	for key, e := range c.entries {
		if matches(key, assetID, chainID, venueID) {
			quotes = append(quotes, e.quote)
		}
	}
	return quotes
}

func (c *Cache) markQueried(assetID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queried[assetID] = at
}

func (c *Cache) enqueueRefresh(assetID string) {
	c.refreshMu.RLock()
	refresh := c.refresh
	c.refreshMu.RUnlock()
	if refresh != nil {
		refresh(assetID)
	}
}

func matches(key market.QuoteKey, assetID, chainID, venueID string) bool {
	if key.AssetID != assetID {
		return false
	}
	if chainID != "" && key.ChainID != chainID {
		return false
	}
	if venueID != "" && key.VenueID != venueID {
		return false
	}
	return true
}

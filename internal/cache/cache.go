// Package cache wraps the process-local bounded caches: market detail and
// order-book views, both LRU with TTL expiry. On a miss, services fall back
// to the store and then to the external adapter. Invalidation is driven by
// the indexer after each upsert.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"market-intel/internal/config"
	"market-intel/pkg/types"
)

// Caches bundles the process-local caches handed to services at boot.
type Caches struct {
	markets *expirable.LRU[string, *types.Market]
	books   *expirable.LRU[string, *types.OrderbookSnapshot]
}

// New constructs bounded caches per config.
func New(cfg config.CacheConfig) *Caches {
	return &Caches{
		markets: expirable.NewLRU[string, *types.Market](cfg.MarketSize, nil, cfg.MarketTTL),
		books:   expirable.NewLRU[string, *types.OrderbookSnapshot](cfg.OrderbookSize, nil, cfg.OrderbookTTL),
	}
}

// Market returns a cached market, if fresh.
func (c *Caches) Market(conditionID string) (*types.Market, bool) {
	return c.markets.Get(conditionID)
}

// PutMarket caches a market view.
func (c *Caches) PutMarket(m *types.Market) {
	c.markets.Add(m.ConditionID, m)
}

// Book returns a cached order-book snapshot, if fresh. Expired snapshots
// (persisted expiry, not just cache TTL) are treated as misses.
func (c *Caches) Book(conditionID string, outcome types.Outcome) (*types.OrderbookSnapshot, bool) {
	snap, ok := c.books.Get(bookCacheKey(conditionID, outcome))
	if !ok {
		return nil, false
	}
	if time.Now().After(snap.ExpiresAt) {
		return nil, false
	}
	return snap, true
}

// PutBook caches a snapshot.
func (c *Caches) PutBook(snap *types.OrderbookSnapshot) {
	c.books.Add(bookCacheKey(snap.ConditionID, snap.Outcome), snap)
}

// Invalidate drops every cached view of a market. Called by the indexer
// after upsert.
func (c *Caches) Invalidate(conditionID string) {
	c.markets.Remove(conditionID)
	c.books.Remove(bookCacheKey(conditionID, types.OutcomeYes))
	c.books.Remove(bookCacheKey(conditionID, types.OutcomeNo))
}

func bookCacheKey(conditionID string, outcome types.Outcome) string {
	return conditionID + "|" + string(outcome)
}

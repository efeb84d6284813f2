// Package bookcache holds the in-memory latest aggregated orderbook per
// token. It is the master copy of orderbook state: REST snapshots replace
// entries wholesale, websocket deltas patch individual levels, and the
// storage flush reads from here.
package bookcache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/polymercado/engine/internal/domain"
)

// entry is one token's book plus its guard. Mutations are serialized per
// token; readers copy under the lock so they always observe a consistent
// before- or after-write state.
type entry struct {
	mu   sync.Mutex
	snap domain.OrderbookSnapshot
	set  bool
}

// Cache is the process-wide latest-book-per-token store.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

func (c *Cache) entryFor(tokenID string) *entry {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[tokenID]; ok {
		return e
	}
	e = &entry{}
	c.entries[tokenID] = e
	return e
}

// ApplySnapshot replaces the stored levels for a token. Snapshots with an
// as_of not newer than the stored one are dropped (out-of-order heals), as
// are snapshots violating level monotonicity.
func (c *Cache) ApplySnapshot(snap domain.OrderbookSnapshot) error {
	if !validSide(snap.Bids, true) || !validSide(snap.Asks, false) {
		return domain.ErrInvalidLevels
	}

	e := c.entryFor(snap.TokenID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set && !snap.AsOf.After(e.snap.AsOf) {
		return domain.ErrStaleSnapshot
	}
	e.snap = cloneSnapshot(snap)
	e.set = true
	return nil
}

// ApplyPriceChange patches aggregated level sizes. For each change the size
// at that price on that side is set to the given size; a size of zero removes
// the level. Changes older than the stored book are dropped. Unknown tokens
// are ignored (a snapshot must arrive first).
func (c *Cache) ApplyPriceChange(tokenID string, changes []domain.PriceChange, asOf time.Time) error {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return domain.ErrNotFound
	}
	if asOf.Before(e.snap.AsOf) {
		return domain.ErrStaleSnapshot
	}

	for _, ch := range changes {
		if ch.Price <= 0 || ch.Size < 0 {
			continue
		}
		switch normalizeSide(ch.Side) {
		case "bid":
			e.snap.Bids = patchLevels(e.snap.Bids, ch.Price, ch.Size, true)
		case "ask":
			e.snap.Asks = patchLevels(e.snap.Asks, ch.Price, ch.Size, false)
		}
	}
	e.snap.AsOf = asOf
	return nil
}

// SetTickSize updates the tick size metadata for a token, if present.
func (c *Cache) SetTickSize(tokenID string, tickSize float64) {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.set {
		e.snap.Meta.TickSize = tickSize
	}
	e.mu.Unlock()
}

// Get returns a copy of the token's latest book.
func (c *Cache) Get(tokenID string) (domain.OrderbookSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if !ok {
		return domain.OrderbookSnapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return domain.OrderbookSnapshot{}, false
	}
	return cloneSnapshot(e.snap), true
}

// Age returns the seconds elapsed since the token's book as_of. ok is false
// when no book is cached.
func (c *Cache) Age(tokenID string, now time.Time) (float64, bool) {
	snap, ok := c.Get(tokenID)
	if !ok {
		return 0, false
	}
	return now.Sub(snap.AsOf).Seconds(), true
}

// TokenIDs returns all tokens with a cached book.
func (c *Cache) TokenIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if e.set {
			out = append(out, id)
		}
	}
	return out
}

// Drop removes tokens from the cache (used when the universe shrinks).
func (c *Cache) Drop(tokenIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tokenIDs {
		delete(c.entries, id)
	}
}

// patchLevels sets the aggregated size at price, removing the level when size
// is zero, and reinserts in order so strict monotonicity is preserved.
func patchLevels(levels []domain.PriceLevel, price, size float64, descending bool) []domain.PriceLevel {
	out := levels[:0]
	for _, lvl := range levels {
		if lvl.Price != price {
			out = append(out, lvl)
		}
	}
	if size > 0 {
		out = append(out, domain.PriceLevel{Price: price, Size: size})
		sort.Slice(out, func(i, j int) bool {
			if descending {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		})
	}
	return out
}

// validSide checks strict price monotonicity and positive sizes.
func validSide(levels []domain.PriceLevel, descending bool) bool {
	for i, lvl := range levels {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			return false
		}
		if i == 0 {
			continue
		}
		if descending && lvl.Price >= levels[i-1].Price {
			return false
		}
		if !descending && lvl.Price <= levels[i-1].Price {
			return false
		}
	}
	return true
}

func normalizeSide(side string) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY", "BID", "BIDS":
		return "bid"
	case "SELL", "ASK", "ASKS":
		return "ask"
	default:
		return ""
	}
}

func cloneSnapshot(snap domain.OrderbookSnapshot) domain.OrderbookSnapshot {
	out := snap
	out.Bids = append([]domain.PriceLevel(nil), snap.Bids...)
	out.Asks = append([]domain.PriceLevel(nil), snap.Asks...)
	return out
}

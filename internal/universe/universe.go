// Package universe holds the tracked-market set shared by the fetch jobs,
// the websocket consumer, and the arbitrage engine. The sync_universe job is
// the single writer; readers get consistent snapshots.
package universe

import (
	"sync"

	"github.com/polymercado/engine/internal/domain"
)

// Tracker is the process-wide tracked universe.
type Tracker struct {
	mu      sync.RWMutex
	markets []domain.Market
	byID    map[string]domain.Market
	tokens  []string
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{byID: make(map[string]domain.Market)}
}

// Set replaces the tracked set.
func (t *Tracker) Set(markets []domain.Market) {
	byID := make(map[string]domain.Market, len(markets))
	var tokens []string
	for _, m := range markets {
		byID[m.ConditionID] = m
		tokens = append(tokens, m.TokenIDs...)
	}
	t.mu.Lock()
	t.markets = markets
	t.byID = byID
	t.tokens = tokens
	t.mu.Unlock()
}

// Markets returns the tracked markets.
func (t *Tracker) Markets() []domain.Market {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Market(nil), t.markets...)
}

// ConditionIDs returns the tracked condition IDs.
func (t *Tracker) ConditionIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.markets))
	for _, m := range t.markets {
		out = append(out, m.ConditionID)
	}
	return out
}

// TokenIDs returns every token of every tracked market.
func (t *Tracker) TokenIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.tokens...)
}

// Get returns a tracked market by condition ID.
func (t *Tracker) Get(conditionID string) (domain.Market, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byID[conditionID]
	return m, ok
}

// Size returns the number of tracked markets.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.markets)
}

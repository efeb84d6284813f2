package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// OrderbookStore persists the latest flushed book per token. The in-memory
// cache is the master copy; these rows exist for audit and the UI.
type OrderbookStore struct {
	pool *pgxpool.Pool
}

// NewOrderbookStore creates a new OrderbookStore backed by the given pool.
func NewOrderbookStore(pool *pgxpool.Pool) *OrderbookStore {
	return &OrderbookStore{pool: pool}
}

// jsonLevel is the stored JSON shape of one price level.
type jsonLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Upsert replaces the stored book for a token, keeping the highest as_of row:
// older snapshots never overwrite newer ones.
func (s *OrderbookStore) Upsert(ctx context.Context, snap domain.OrderbookSnapshot) error {
	bids, _ := json.Marshal(toJSONLevels(snap.Bids))
	asks, _ := json.Marshal(toJSONLevels(snap.Asks))

	const query = `
		INSERT INTO orderbook_latest (
			token_id, condition_id, bids, asks,
			tick_size, min_order_size, neg_risk, as_of, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (token_id) DO UPDATE SET
			condition_id   = EXCLUDED.condition_id,
			bids           = EXCLUDED.bids,
			asks           = EXCLUDED.asks,
			tick_size      = EXCLUDED.tick_size,
			min_order_size = EXCLUDED.min_order_size,
			neg_risk       = EXCLUDED.neg_risk,
			as_of          = EXCLUDED.as_of,
			hash           = EXCLUDED.hash
		WHERE orderbook_latest.as_of < EXCLUDED.as_of`

	_, err := s.pool.Exec(ctx, query,
		snap.TokenID, snap.Meta.ConditionID, bids, asks,
		snap.Meta.TickSize, snap.Meta.MinOrderSize, snap.Meta.NegRisk,
		snap.AsOf, nullStr(snap.Meta.Hash),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert orderbook %s: %w", snap.TokenID, err)
	}
	return nil
}

// Get returns the flushed book for a token.
func (s *OrderbookStore) Get(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token_id, condition_id, bids, asks,
			tick_size, min_order_size, neg_risk, as_of, hash
		FROM orderbook_latest WHERE token_id = $1`, tokenID)

	var snap domain.OrderbookSnapshot
	var bids, asks []byte
	var hash *string
	err := row.Scan(
		&snap.TokenID, &snap.Meta.ConditionID, &bids, &asks,
		&snap.Meta.TickSize, &snap.Meta.MinOrderSize, &snap.Meta.NegRisk,
		&snap.AsOf, &hash,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.OrderbookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderbookSnapshot{}, fmt.Errorf("postgres: get orderbook %s: %w", tokenID, err)
	}
	snap.Meta.Hash = deref(hash)
	snap.Bids = fromJSONLevels(bids)
	snap.Asks = fromJSONLevels(asks)
	snap.AsOf = snap.AsOf.UTC()
	return snap, nil
}

func toJSONLevels(levels []domain.PriceLevel) []jsonLevel {
	out := make([]jsonLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, jsonLevel{Price: lvl.Price, Size: lvl.Size})
	}
	return out
}

func fromJSONLevels(data []byte) []domain.PriceLevel {
	var raw []jsonLevel
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		out = append(out, domain.PriceLevel{Price: lvl.Price, Size: lvl.Size})
	}
	return out
}

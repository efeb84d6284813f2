package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polymercado/engine/internal/domain"
)

// bookMirrorTTL expires mirrored books that stop being refreshed (e.g. when
// a token leaves the tracked universe).
const bookMirrorTTL = time.Hour

// BookMirror mirrors flushed orderbook snapshots into Redis so the web UI
// can render live books without touching the database.
//
// Key schema: mirror:book:{tokenID} -> JSON snapshot.
type BookMirror struct {
	rdb *redis.Client
}

// NewBookMirror creates a BookMirror over an established driver client.
func NewBookMirror(rdb *redis.Client) *BookMirror {
	return &BookMirror{rdb: rdb}
}

func bookMirrorKey(tokenID string) string {
	return "mirror:book:" + tokenID
}

// Mirror stores the snapshot under its token key.
func (m *BookMirror) Mirror(ctx context.Context, snap domain.OrderbookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.TokenID, err)
	}
	if err := m.rdb.Set(ctx, bookMirrorKey(snap.TokenID), data, bookMirrorTTL).Err(); err != nil {
		return fmt.Errorf("redis: mirror book %s: %w", snap.TokenID, err)
	}
	return nil
}

// Get reads a mirrored snapshot back.
func (m *BookMirror) Get(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	data, err := m.rdb.Get(ctx, bookMirrorKey(tokenID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.OrderbookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get mirrored book %s: %w", tokenID, err)
	}
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: decode mirrored book %s: %w", tokenID, err)
	}
	return snap, nil
}

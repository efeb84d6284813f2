// Package feed runs the long-lived CLOB market-channel consumer. It applies
// book snapshots and deltas to the in-memory cache and heals from REST
// snapshots after reconnects and on a fixed schedule.
package feed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polymercado/engine/internal/bookcache"
	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/pipeline"
	"github.com/polymercado/engine/internal/platform/polymarket"
	"github.com/polymercado/engine/internal/universe"
)

// Consumer owns the websocket client and its healing loop.
type Consumer struct {
	runtime *config.Runtime
	tracker *universe.Tracker
	books   *bookcache.Cache
	syncer  *pipeline.BookSyncer
	logger  *slog.Logger

	ws    *polymarket.WSClient
	heals chan []string
}

// NewConsumer creates a Consumer wired to the cache and the REST heal path.
func NewConsumer(runtime *config.Runtime, tracker *universe.Tracker, books *bookcache.Cache, syncer *pipeline.BookSyncer, logger *slog.Logger) *Consumer {
	c := &Consumer{
		runtime: runtime,
		tracker: tracker,
		books:   books,
		syncer:  syncer,
		logger:  logger.With(slog.String("component", "feed")),
		heals:   make(chan []string, 4),
	}

	cfg := runtime.Current()
	c.ws = polymarket.NewWSClient(
		cfg.Websocket.URL,
		cfg.Websocket.FallbackURLs,
		cfg.Websocket.PingSeconds,
		polymarket.WSHandlers{
			OnBook:           c.onBook,
			OnPriceChange:    c.onPriceChange,
			OnTickSizeChange: c.onTickSizeChange,
			OnOther:          c.onOther,
			OnReconnect:      c.requestHeal,
		},
		logger,
	)
	return c
}

// State returns the websocket lifecycle state for the metrics endpoint.
func (c *Consumer) State() polymarket.WSState {
	return c.ws.State()
}

// SubscriptionCount returns the live subscription count.
func (c *Consumer) SubscriptionCount() int {
	return c.ws.SubscriptionCount()
}

// SetUniverse reconciles the subscription set with the tracked universe,
// bounded by the configured asset cap.
func (c *Consumer) SetUniverse(tokenIDs []string) {
	maxAssets := c.runtime.Current().Websocket.MaxAssets
	if len(tokenIDs) > maxAssets {
		c.logger.Warn("tracked tokens exceed websocket cap",
			slog.Int("tracked", len(tokenIDs)),
			slog.Int("cap", maxAssets),
		)
		tokenIDs = tokenIDs[:maxAssets]
	}
	if err := c.ws.SetAssets(tokenIDs); err != nil {
		c.logger.Warn("subscription reconcile failed",
			slog.String("error", err.Error()),
		)
	}
}

// Run drives the websocket session loop, the heal worker, and the periodic
// heal schedule until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.SetUniverse(c.tracker.TokenIDs())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.ws.Run(ctx) })
	g.Go(func() error { return c.healWorker(ctx) })
	g.Go(func() error { return c.healSchedule(ctx) })
	return g.Wait()
}

// requestHeal queues a REST snapshot refresh without blocking the read loop.
func (c *Consumer) requestHeal(tokenIDs []string) {
	select {
	case c.heals <- tokenIDs:
	default:
		// A heal is already queued; snapshots are monotonic so one refresh
		// covers both requests.
	}
}

func (c *Consumer) healWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tokenIDs := <-c.heals:
			if _, err := c.syncer.Refresh(ctx, tokenIDs); err != nil && ctx.Err() == nil {
				c.logger.Warn("book heal failed",
					slog.Int("tokens", len(tokenIDs)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// healSchedule requests a full refresh of all subscribed tokens every
// ORDERBOOK_SNAPSHOT_INTERVAL_SECONDS to recover from missed deltas.
func (c *Consumer) healSchedule(ctx context.Context) error {
	interval := time.Duration(c.runtime.Current().Sync.OrderbookSnapshotIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.requestHeal(c.tracker.TokenIDs())
		}
	}
}

func (c *Consumer) onBook(book polymarket.APIBook) {
	snap := book.ToSnapshot(time.Now().UTC())
	if err := c.books.ApplySnapshot(snap); err != nil {
		// Stale or invalid snapshots leave the cache unchanged.
		c.logger.Debug("book snapshot dropped",
			slog.String("token_id", snap.TokenID),
			slog.String("reason", err.Error()),
		)
	}
}

func (c *Consumer) onPriceChange(msg polymarket.WSPriceChange) {
	now := time.Now().UTC()
	changes := msg.ToChanges(now)
	if len(changes) == 0 {
		return
	}
	asOf := changes[0].AsOf
	if err := c.books.ApplyPriceChange(msg.AssetID, changes, asOf); err != nil {
		// Unknown token or stale delta; the next heal resolves either.
		c.logger.Debug("price change dropped",
			slog.String("token_id", msg.AssetID),
			slog.String("reason", err.Error()),
		)
	}
}

func (c *Consumer) onTickSizeChange(msg polymarket.WSTickSizeChange) {
	if msg.AssetID == "" || !msg.NewTickSize.Valid {
		return
	}
	c.books.SetTickSize(msg.AssetID, msg.NewTickSize.Value)
}

func (c *Consumer) onOther(msgType string, raw []byte) {
	// last_trade_price, best_bid_ask, new_market, market_resolved: observed
	// but not acted on; REST syncs own that state.
	c.logger.Debug("unhandled ws message", slog.String("type", msgType))
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polymercado/engine/internal/bookcache"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/platform/polymarket"
	"github.com/polymercado/engine/internal/universe"
)

// BookMirror receives flushed snapshots for out-of-process readers. The
// Redis book mirror implements it; nil disables mirroring.
type BookMirror interface {
	Mirror(ctx context.Context, snap domain.OrderbookSnapshot) error
}

// BookSyncer polls REST orderbook snapshots for every tracked token. It is
// both the healing path for the websocket consumer and the fallback when the
// websocket is disabled: snapshots land in the in-memory cache (the master
// copy) and are flushed to storage for audit/UI.
type BookSyncer struct {
	clob    *polymarket.ClobClient
	tracker *universe.Tracker
	books   *bookcache.Cache
	store   domain.OrderbookStore
	metrics domain.MetricStore
	mirror  BookMirror
	logger  *slog.Logger
}

// NewBookSyncer creates a BookSyncer. mirror may be nil.
func NewBookSyncer(clob *polymarket.ClobClient, tracker *universe.Tracker, books *bookcache.Cache, store domain.OrderbookStore, metrics domain.MetricStore, mirror BookMirror, logger *slog.Logger) *BookSyncer {
	return &BookSyncer{
		clob:    clob,
		tracker: tracker,
		books:   books,
		store:   store,
		metrics: metrics,
		mirror:  mirror,
		logger:  logger.With(slog.String("component", "books_sync")),
	}
}

// Run refreshes every tracked token's book and returns the number processed.
func (s *BookSyncer) Run(ctx context.Context) (int, error) {
	return s.Refresh(ctx, s.tracker.TokenIDs())
}

// Refresh fetches and applies snapshots for the given tokens. The websocket
// consumer calls this directly after reconnects to heal missed deltas.
func (s *BookSyncer) Refresh(ctx context.Context, tokenIDs []string) (int, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	apiBooks, err := s.clob.GetBooks(ctx, tokenIDs)
	if err != nil {
		return 0, fmt.Errorf("books sync: fetch: %w", err)
	}

	now := time.Now().UTC()
	processed := 0
	dropped := 0
	bestByToken := make(map[string]domain.OrderbookSnapshot, len(apiBooks))

	for i := range apiBooks {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		book := &apiBooks[i]
		if book.AssetID == "" || book.Market == "" {
			dropped++
			continue
		}
		snap := book.ToSnapshot(now)

		switch err := s.books.ApplySnapshot(snap); err {
		case nil:
		case domain.ErrStaleSnapshot:
			// An out-of-order heal; the cache already holds something newer.
			continue
		case domain.ErrInvalidLevels:
			dropped++
			s.logger.WarnContext(ctx, "invalid book dropped",
				slog.String("token_id", snap.TokenID),
			)
			continue
		default:
			return processed, fmt.Errorf("books sync: apply %s: %w", snap.TokenID, err)
		}

		if err := s.store.Upsert(ctx, snap); err != nil {
			return processed, fmt.Errorf("books sync: flush %s: %w", snap.TokenID, err)
		}
		if s.mirror != nil {
			if err := s.mirror.Mirror(ctx, snap); err != nil {
				s.logger.DebugContext(ctx, "book mirror failed",
					slog.String("token_id", snap.TokenID),
					slog.String("error", err.Error()),
				)
			}
		}
		bestByToken[snap.TokenID] = snap
		processed++
	}

	if err := s.emitBestPriceSnapshots(ctx, bestByToken, now); err != nil {
		return processed, err
	}

	s.logger.InfoContext(ctx, "orderbooks refreshed",
		slog.Int("books", processed),
		slog.Int("dropped", dropped),
	)
	return processed, nil
}

// emitBestPriceSnapshots records per-market best bid/ask and spread rows for
// every tracked binary market covered by this refresh.
func (s *BookSyncer) emitBestPriceSnapshots(ctx context.Context, byToken map[string]domain.OrderbookSnapshot, now time.Time) error {
	if len(byToken) == 0 {
		return nil
	}
	var snaps []domain.MetricSnapshot
	for _, market := range s.tracker.Markets() {
		yesToken, noToken, ok := market.BinaryTokens()
		if !ok {
			continue
		}
		yesBook, okYes := byToken[yesToken]
		noBook, okNo := byToken[noToken]
		if !okYes && !okNo {
			continue
		}

		snap := domain.MetricSnapshot{ConditionID: market.ConditionID, TS: now}
		if okYes {
			snap.BestBidYes = nonZeroPtr(yesBook.BestBid())
			snap.BestAskYes = nonZeroPtr(yesBook.BestAsk())
			if snap.BestBidYes != nil && snap.BestAskYes != nil {
				spread := *snap.BestAskYes - *snap.BestBidYes
				snap.SpreadYes = &spread
			}
		}
		if okNo {
			snap.BestBidNo = nonZeroPtr(noBook.BestBid())
			snap.BestAskNo = nonZeroPtr(noBook.BestAsk())
			if snap.BestBidNo != nil && snap.BestAskNo != nil {
				spread := *snap.BestAskNo - *snap.BestBidNo
				snap.SpreadNo = &spread
			}
		}
		snaps = append(snaps, snap)
	}
	if err := s.metrics.AppendBatch(ctx, snaps); err != nil {
		return fmt.Errorf("books sync: best-price snapshots: %w", err)
	}
	return nil
}

func nonZeroPtr(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/platform/polymarket"
	"github.com/polymercado/engine/internal/universe"
)

// oiBatchSize bounds the condition IDs per /oi request.
const oiBatchSize = 50

// OISyncer fetches open interest for the tracked universe and appends metric
// snapshots.
type OISyncer struct {
	data    *polymarket.DataClient
	tracker *universe.Tracker
	metrics domain.MetricStore
	logger  *slog.Logger
}

// NewOISyncer creates an OISyncer.
func NewOISyncer(data *polymarket.DataClient, tracker *universe.Tracker, metrics domain.MetricStore, logger *slog.Logger) *OISyncer {
	return &OISyncer{
		data:    data,
		tracker: tracker,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "oi_sync")),
	}
}

// Run fetches open interest in batches and returns the number of snapshots
// written.
func (s *OISyncer) Run(ctx context.Context) (int, error) {
	conditionIDs := s.tracker.ConditionIDs()
	if len(conditionIDs) == 0 {
		return 0, nil
	}

	processed := 0
	now := time.Now().UTC()
	for start := 0; start < len(conditionIDs); start += oiBatchSize {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		end := start + oiBatchSize
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}

		entries, err := s.data.GetOpenInterest(ctx, conditionIDs[start:end])
		if err != nil {
			return processed, fmt.Errorf("oi sync: batch at %d: %w", start, err)
		}

		var snaps []domain.MetricSnapshot
		for _, entry := range entries {
			if entry.Market == "" || !entry.Value.Valid {
				continue
			}
			snaps = append(snaps, domain.MetricSnapshot{
				ConditionID:  entry.Market,
				TS:           now,
				OpenInterest: entry.Value.Ptr(),
			})
		}
		if err := s.metrics.AppendBatch(ctx, snaps); err != nil {
			return processed, fmt.Errorf("oi sync: append batch at %d: %w", start, err)
		}
		processed += len(snaps)
	}

	s.logger.InfoContext(ctx, "open interest synced", slog.Int("snapshots", processed))
	return processed, nil
}

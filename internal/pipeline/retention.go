package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
)

// ColdStore receives aged-out rows before deletion. The S3 NDJSON writer
// implements it; nil disables archival and rows are simply deleted.
type ColdStore interface {
	PutNDJSON(ctx context.Context, key string, rows []any) error
}

// RetentionJob enforces the time-series policy: minute-granularity metrics
// are kept for the configured window, downsampled to hourly beyond it, and
// dropped entirely (optionally after a cold-storage export) at the end of
// their retention. Old trades age out the same way.
type RetentionJob struct {
	runtime *config.Runtime
	metrics domain.MetricStore
	trades  domain.TradeStore
	cold    ColdStore
	logger  *slog.Logger
}

// NewRetentionJob creates a RetentionJob. cold may be nil.
func NewRetentionJob(runtime *config.Runtime, metrics domain.MetricStore, trades domain.TradeStore, cold ColdStore, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		runtime: runtime,
		metrics: metrics,
		trades:  trades,
		cold:    cold,
		logger:  logger.With(slog.String("component", "retention")),
	}
}

// Run applies the retention policy once and returns the number of rows aged
// out.
func (j *RetentionJob) Run(ctx context.Context) (int, error) {
	cfg := j.runtime.Current()
	now := time.Now().UTC()
	removed := int64(0)

	// Terminal horizon first: export then drop everything past hourly
	// retention.
	hourlyCutoff := now.AddDate(0, 0, -cfg.Retention.MetricsHourlyDays)
	if cfg.Retention.ArchiveToS3 && j.cold != nil {
		snaps, err := j.metrics.ListBefore(ctx, hourlyCutoff)
		if err != nil {
			return 0, fmt.Errorf("retention: list metrics: %w", err)
		}
		if len(snaps) > 0 {
			key := fmt.Sprintf("archive/market_metrics/%s.ndjson", now.Format("2006-01-02T15-04-05"))
			if err := j.cold.PutNDJSON(ctx, key, toAnySlice(snaps)); err != nil {
				return 0, fmt.Errorf("retention: archive metrics: %w", err)
			}
		}
	}
	n, err := j.metrics.DeleteBefore(ctx, hourlyCutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: delete metrics: %w", err)
	}
	removed += n

	// Downsample minute rows past the minute-granularity window to hourly.
	minuteCutoff := now.AddDate(0, 0, -cfg.Retention.MetricsMinuteDays)
	n, err = j.metrics.DownsampleHourly(ctx, minuteCutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: downsample metrics: %w", err)
	}
	removed += n

	// Trades.
	tradeCutoff := now.AddDate(0, 0, -cfg.Retention.TradeDays)
	if cfg.Retention.ArchiveToS3 && j.cold != nil {
		trades, err := j.trades.ListBefore(ctx, tradeCutoff)
		if err != nil {
			return 0, fmt.Errorf("retention: list trades: %w", err)
		}
		if len(trades) > 0 {
			key := fmt.Sprintf("archive/trades/%s.ndjson", now.Format("2006-01-02T15-04-05"))
			if err := j.cold.PutNDJSON(ctx, key, toAnySlice(trades)); err != nil {
				return 0, fmt.Errorf("retention: archive trades: %w", err)
			}
		}
	}
	n, err = j.trades.DeleteBefore(ctx, tradeCutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: delete trades: %w", err)
	}
	removed += n

	if removed > 0 {
		j.logger.InfoContext(ctx, "retention applied", slog.Int64("rows", removed))
	}
	return int(removed), nil
}

func toAnySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}

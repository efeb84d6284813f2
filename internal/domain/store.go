package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	// UpsertBatch inserts or updates markets and returns the condition IDs
	// that were not present before the call (newly discovered markets).
	UpsertBatch(ctx context.Context, markets []Market) (newIDs []string, err error)
	GetByConditionID(ctx context.Context, conditionID string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	ListByConditionIDs(ctx context.Context, conditionIDs []string) ([]Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// TagStore persists the Gamma tag dictionary.
type TagStore interface {
	UpsertBatch(ctx context.Context, tags []Tag) error
	SetSportTags(ctx context.Context, tagIDs []int64) error
	List(ctx context.Context) ([]Tag, error)
}

// TradeStore persists taker-trade prints.
type TradeStore interface {
	// Insert stores one trade; it returns false with a nil error when the
	// trade's TradePK already exists.
	Insert(ctx context.Context, trade Trade) (inserted bool, err error)
	LastTradeTS(ctx context.Context) (time.Time, error)
	ListSince(ctx context.Context, since time.Time, opts ListOpts) ([]Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// WalletStore persists wallet state.
type WalletStore interface {
	Get(ctx context.Context, address string) (Wallet, error)
	Upsert(ctx context.Context, w Wallet) error
	ListTracked(ctx context.Context, now time.Time) ([]Wallet, error)
	ReplaceExposures(ctx context.Context, wallet string, exposures []WalletExposure) error
}

// MetricStore persists the append-only market metrics series.
type MetricStore interface {
	Append(ctx context.Context, snap MetricSnapshot) error
	AppendBatch(ctx context.Context, snaps []MetricSnapshot) error
	Latest(ctx context.Context, conditionID string) (MetricSnapshot, error)
	// SelectUniverse returns up to limit condition IDs whose latest metrics
	// pass any of the thresholds; markets with no metrics yet are included.
	SelectUniverse(ctx context.Context, minVolume, minLiquidity, minOI float64, limit int) ([]string, error)
	ListBefore(ctx context.Context, before time.Time) ([]MetricSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	// DownsampleHourly thins rows older than before to one per market-hour.
	DownsampleHourly(ctx context.Context, before time.Time) (int64, error)
}

// OrderbookStore persists the latest flushed book per token for audit/UI.
type OrderbookStore interface {
	Upsert(ctx context.Context, snap OrderbookSnapshot) error
	Get(ctx context.Context, tokenID string) (OrderbookSnapshot, error)
}

// SignalStore persists signal events.
type SignalStore interface {
	// Insert stores the event unless its dedupe key already exists, in which
	// case it returns false with a nil error.
	Insert(ctx context.Context, ev SignalEvent) (inserted bool, err error)
	LastEmittedAt(ctx context.Context, signalType SignalType, conditionID string) (time.Time, error)
	ListUndispatched(ctx context.Context, limit int) ([]SignalEvent, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]SignalEvent, error)
	CountByTypeSince(ctx context.Context, since time.Time) (map[SignalType]int64, error)
}

// AlertStore persists the per-delivery alert log.
type AlertStore interface {
	Append(ctx context.Context, entry AlertLog) error
	// LatestSent returns the most recent SENT row for a channel and
	// notification key.
	LatestSent(ctx context.Context, channel, notificationKey string) (AlertLog, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]AlertLog, error)
}

// ConfigStore persists runtime configuration overrides.
type ConfigStore interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value, updatedBy string) error
}

// JobStore persists per-job run bookkeeping.
type JobStore interface {
	RecordStart(ctx context.Context, jobName string, at time.Time) error
	RecordResult(ctx context.Context, jobName string, finishedAt time.Time, durationMS float64, runErr error) error
	List(ctx context.Context) ([]JobRun, error)
}

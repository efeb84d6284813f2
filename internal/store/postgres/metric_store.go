package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// MetricStore implements domain.MetricStore using PostgreSQL.
type MetricStore struct {
	pool *pgxpool.Pool
}

// NewMetricStore creates a new MetricStore backed by the given connection pool.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

const metricInsert = `
	INSERT INTO market_metrics_ts (
		condition_id, ts, gamma_volume, gamma_liquidity, open_interest,
		best_bid_yes, best_ask_yes, best_bid_no, best_ask_no,
		spread_yes, spread_no
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const metricCols = `condition_id, ts, gamma_volume, gamma_liquidity, open_interest,
	best_bid_yes, best_ask_yes, best_bid_no, best_ask_no, spread_yes, spread_no`

// Append adds one snapshot row; the series is append-only.
func (s *MetricStore) Append(ctx context.Context, snap domain.MetricSnapshot) error {
	_, err := s.pool.Exec(ctx, metricInsert,
		snap.ConditionID, snap.TS, snap.GammaVolume, snap.GammaLiquidity,
		snap.OpenInterest, snap.BestBidYes, snap.BestAskYes,
		snap.BestBidNo, snap.BestAskNo, snap.SpreadYes, snap.SpreadNo,
	)
	if err != nil {
		return fmt.Errorf("postgres: append metric %s: %w", snap.ConditionID, err)
	}
	return nil
}

// AppendBatch adds snapshot rows in one batch.
func (s *MetricStore) AppendBatch(ctx context.Context, snaps []domain.MetricSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(metricInsert,
			snap.ConditionID, snap.TS, snap.GammaVolume, snap.GammaLiquidity,
			snap.OpenInterest, snap.BestBidYes, snap.BestAskYes,
			snap.BestBidNo, snap.BestAskNo, snap.SpreadYes, snap.SpreadNo,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append metric batch item %d: %w", i, err)
		}
	}
	return nil
}

// Latest returns the most recent snapshot for a market.
func (s *MetricStore) Latest(ctx context.Context, conditionID string) (domain.MetricSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+metricCols+` FROM market_metrics_ts
		 WHERE condition_id = $1 ORDER BY ts DESC LIMIT 1`, conditionID)
	snap, err := scanMetric(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MetricSnapshot{}, domain.ErrNotFound
		}
		return domain.MetricSnapshot{}, fmt.Errorf("postgres: latest metric %s: %w", conditionID, err)
	}
	return snap, nil
}

// SelectUniverse returns up to limit condition IDs of non-closed markets
// whose latest metrics pass any threshold; markets without metrics yet are
// included.
func (s *MetricStore) SelectUniverse(ctx context.Context, minVolume, minLiquidity, minOI float64, limit int) ([]string, error) {
	const query = `
		WITH latest AS (
			SELECT DISTINCT ON (condition_id) condition_id,
				gamma_volume, gamma_liquidity, open_interest
			FROM market_metrics_ts
			ORDER BY condition_id, ts DESC
		)
		SELECT m.condition_id
		FROM markets m
		LEFT JOIN latest l ON l.condition_id = m.condition_id
		WHERE m.closed IS DISTINCT FROM TRUE
		  AND (
			l.condition_id IS NULL
			OR l.gamma_volume >= $1
			OR l.gamma_liquidity >= $2
			OR l.open_interest >= $3
		  )
		ORDER BY COALESCE(l.gamma_volume, 0) DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, minVolume, minLiquidity, minOI, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: select universe: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan universe id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: universe rows: %w", err)
	}
	return ids, nil
}

// ListBefore returns snapshots older than the given time (for archiving).
func (s *MetricStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MetricSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+metricCols+` FROM market_metrics_ts WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list metrics before: %w", err)
	}
	defer rows.Close()

	var snaps []domain.MetricSnapshot
	for rows.Next() {
		snap, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan metric: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: metric rows: %w", err)
	}
	return snaps, nil
}

// DownsampleHourly thins rows older than the given time down to the first
// row per market-hour, implementing the minute-to-hourly retention policy.
func (s *MetricStore) DownsampleHourly(ctx context.Context, before time.Time) (int64, error) {
	const query = `
		DELETE FROM market_metrics_ts
		WHERE ts < $1 AND id NOT IN (
			SELECT MIN(id) FROM market_metrics_ts
			WHERE ts < $1
			GROUP BY condition_id, date_trunc('hour', ts)
		)`
	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: downsample metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBefore deletes snapshots older than the given time.
func (s *MetricStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_metrics_ts WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete metrics before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMetric(row pgx.Row) (domain.MetricSnapshot, error) {
	var snap domain.MetricSnapshot
	err := row.Scan(
		&snap.ConditionID, &snap.TS, &snap.GammaVolume, &snap.GammaLiquidity,
		&snap.OpenInterest, &snap.BestBidYes, &snap.BestAskYes,
		&snap.BestBidNo, &snap.BestAskNo, &snap.SpreadYes, &snap.SpreadNo,
	)
	if err != nil {
		return domain.MetricSnapshot{}, err
	}
	snap.TS = snap.TS.UTC()
	return snap, nil
}

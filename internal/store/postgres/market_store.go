package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketUpsert = `
	INSERT INTO markets (
		condition_id, market_id, event_id, slug, question, title,
		tag_ids, active, closed, neg_risk, outcomes, token_ids,
		start_time, end_time, created_at, updated_at, last_seen_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12,
		$13, $14, $15, $16, $17
	)
	ON CONFLICT (condition_id) DO UPDATE SET
		market_id    = EXCLUDED.market_id,
		event_id     = EXCLUDED.event_id,
		slug         = EXCLUDED.slug,
		question     = EXCLUDED.question,
		title        = EXCLUDED.title,
		tag_ids      = EXCLUDED.tag_ids,
		active       = EXCLUDED.active,
		closed       = EXCLUDED.closed,
		neg_risk     = EXCLUDED.neg_risk,
		outcomes     = EXCLUDED.outcomes,
		token_ids    = EXCLUDED.token_ids,
		start_time   = EXCLUDED.start_time,
		end_time     = EXCLUDED.end_time,
		updated_at   = EXCLUDED.updated_at,
		last_seen_at = EXCLUDED.last_seen_at`

// UpsertBatch inserts or updates markets and returns the condition IDs that
// did not exist before the call. The existence check and the upserts run in
// one transaction so concurrent syncs cannot double-report a discovery.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) ([]string, error) {
	if len(markets) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ConditionID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin market upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	existing := make(map[string]struct{}, len(ids))
	rows, err := tx.Query(ctx,
		`SELECT condition_id FROM markets WHERE condition_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: check existing markets: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan existing market: %w", err)
		}
		existing[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: existing markets rows: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		tagIDs, _ := json.Marshal(m.TagIDs)
		outcomes, _ := json.Marshal(m.Outcomes)
		tokenIDs, _ := json.Marshal(m.TokenIDs)
		batch.Queue(marketUpsert,
			m.ConditionID, nullStr(m.MarketID), nullStr(m.EventID),
			nullStr(m.Slug), nullStr(m.Question), nullStr(m.Title),
			tagIDs, m.Active, m.Closed, m.NegRisk, outcomes, tokenIDs,
			m.StartTime, m.EndTime, m.CreatedAt, m.UpdatedAt, m.LastSeenAt,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range markets {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	br.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit market upsert: %w", err)
	}

	var newIDs []string
	seen := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		if _, dup := seen[m.ConditionID]; dup {
			continue
		}
		seen[m.ConditionID] = struct{}{}
		if _, ok := existing[m.ConditionID]; !ok {
			newIDs = append(newIDs, m.ConditionID)
		}
	}
	return newIDs, nil
}

const marketCols = `condition_id, market_id, event_id, slug, question, title,
	tag_ids, active, closed, neg_risk, outcomes, token_ids,
	start_time, end_time, created_at, updated_at, last_seen_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var marketID, eventID, slug, question, title *string
	var tagIDs, outcomes, tokenIDs []byte
	err := row.Scan(
		&m.ConditionID, &marketID, &eventID, &slug, &question, &title,
		&tagIDs, &m.Active, &m.Closed, &m.NegRisk, &outcomes, &tokenIDs,
		&m.StartTime, &m.EndTime, &m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.MarketID = deref(marketID)
	m.EventID = deref(eventID)
	m.Slug = deref(slug)
	m.Question = deref(question)
	m.Title = deref(title)
	if len(tagIDs) > 0 {
		_ = json.Unmarshal(tagIDs, &m.TagIDs)
	}
	if len(outcomes) > 0 {
		_ = json.Unmarshal(outcomes, &m.Outcomes)
	}
	if len(tokenIDs) > 0 {
		_ = json.Unmarshal(tokenIDs, &m.TokenIDs)
	}
	return m, nil
}

// GetByConditionID retrieves a market by its primary key.
func (s *MarketStore) GetByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE condition_id = $1`, conditionID)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", conditionID, err)
	}
	return m, nil
}

// GetByTokenID retrieves the market owning the given outcome token.
func (s *MarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE token_ids @> to_jsonb($1::text)`, tokenID)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by token %s: %w", tokenID, err)
	}
	return m, nil
}

// ListByConditionIDs returns the markets for the given IDs, in no particular
// order.
func (s *MarketStore) ListByConditionIDs(ctx context.Context, conditionIDs []string) ([]domain.Market, error) {
	if len(conditionIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE condition_id = ANY($1)`, conditionIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by ids: %w", err)
	}
	defer rows.Close()
	return scanMarketRows(rows)
}

// ListActive returns non-closed markets with pagination.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE closed IS DISTINCT FROM TRUE ORDER BY last_seen_at DESC`
	args := []any{}
	if opts.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET $2`
			args = append(args, opts.Offset)
		}
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()
	return scanMarketRows(rows)
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market row: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

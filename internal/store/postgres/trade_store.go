package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `trade_pk, transaction_hash, wallet, condition_id, token_id,
	side, price, size, notional_usd, trade_ts, raw`

// Insert stores one trade. A TradePK collision is not an error: the row is
// left untouched and inserted is false.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) (bool, error) {
	const query = `
		INSERT INTO trades (
			trade_pk, transaction_hash, wallet, condition_id, token_id,
			side, price, size, notional_usd, trade_ts, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trade_pk) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.TradePK, nullStr(t.TransactionHash), nullStr(t.Wallet),
		t.ConditionID, t.TokenID, string(t.Side),
		t.Price, t.Size, t.NotionalUSD, t.TradeTS, t.Raw,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade %s: %w", t.TradePK, err)
	}
	return tag.RowsAffected() > 0, nil
}

// LastTradeTS returns the most recent trade timestamp, or the zero time when
// no trades exist.
func (s *TradeStore) LastTradeTS(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(trade_ts) FROM trades`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: last trade ts: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}

// ListSince returns trades at or after the given instant, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE trade_ts >= $1 ORDER BY trade_ts ASC`
	args := []any{since}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades since: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListByWallet returns a wallet's trades, newest first.
func (s *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE wallet = $1`
	args := []any{wallet}
	argIdx := 2
	if opts.Since != nil {
		query += fmt.Sprintf(" AND trade_ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += ` ORDER BY trade_ts DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by wallet: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListBefore returns all trades strictly older than the given time (for
// archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE trade_ts < $1 ORDER BY trade_ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes trades older than the given time and returns the
// number removed.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE trade_ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var txHash, wallet *string
		var side string
		if err := rows.Scan(
			&t.TradePK, &txHash, &wallet, &t.ConditionID, &t.TokenID,
			&side, &t.Price, &t.Size, &t.NotionalUSD, &t.TradeTS, &t.Raw,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.TransactionHash = deref(txHash)
		t.Wallet = deref(wallet)
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	return trades, nil
}

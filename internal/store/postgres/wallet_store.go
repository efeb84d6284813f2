package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletCols = `wallet, first_seen_at, last_seen_at, first_trade_ts,
	tracked_until, lifetime_notional_usd, last_7d_notional_usd`

// Get retrieves a wallet by its canonical address.
func (s *WalletStore) Get(ctx context.Context, address string) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE wallet = $1`, address)
	w, err := scanWallet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", address, err)
	}
	return w, nil
}

// Upsert inserts or replaces the wallet row. first_seen_at is preserved on
// conflict so platform-relative wallet age never moves backward.
func (s *WalletStore) Upsert(ctx context.Context, w domain.Wallet) error {
	const query = `
		INSERT INTO wallets (
			wallet, first_seen_at, last_seen_at, first_trade_ts,
			tracked_until, lifetime_notional_usd, last_7d_notional_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet) DO UPDATE SET
			last_seen_at          = EXCLUDED.last_seen_at,
			first_trade_ts        = COALESCE(wallets.first_trade_ts, EXCLUDED.first_trade_ts),
			tracked_until         = GREATEST(wallets.tracked_until, EXCLUDED.tracked_until),
			lifetime_notional_usd = EXCLUDED.lifetime_notional_usd,
			last_7d_notional_usd  = EXCLUDED.last_7d_notional_usd`

	var last7d *float64
	if w.Last7dNotionalUSD > 0 {
		last7d = &w.Last7dNotionalUSD
	}
	_, err := s.pool.Exec(ctx, query,
		w.Address, w.FirstSeenAt, w.LastSeenAt, w.FirstTradeTS,
		w.TrackedUntil, w.LifetimeNotionalUSD, last7d,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert wallet %s: %w", w.Address, err)
	}
	return nil
}

// ListTracked returns wallets whose tracking window is still open.
func (s *WalletStore) ListTracked(ctx context.Context, now time.Time) ([]domain.Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletCols+` FROM wallets
		 WHERE tracked_until IS NOT NULL AND tracked_until >= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tracked wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: tracked wallet rows: %w", err)
	}
	return wallets, nil
}

// ReplaceExposures replaces a wallet's exposure rows with the given set in
// one transaction.
func (s *WalletStore) ReplaceExposures(ctx context.Context, wallet string, exposures []domain.WalletExposure) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin exposures: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM wallet_market_exposure WHERE wallet = $1`, wallet); err != nil {
		return fmt.Errorf("postgres: clear exposures %s: %w", wallet, err)
	}

	batch := &pgx.Batch{}
	const insert = `
		INSERT INTO wallet_market_exposure (
			wallet, condition_id, net_shares, avg_entry_price, last_updated_at
		) VALUES ($1, $2, $3, $4, $5)`
	for _, e := range exposures {
		batch.Queue(insert, e.Wallet, e.ConditionID, e.NetShares, e.AvgEntryPrice, e.LastUpdatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range exposures {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("postgres: insert exposure %d for %s: %w", i, wallet, err)
		}
	}
	br.Close()

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit exposures %s: %w", wallet, err)
	}
	return nil
}

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	var last7d *float64
	err := row.Scan(
		&w.Address, &w.FirstSeenAt, &w.LastSeenAt, &w.FirstTradeTS,
		&w.TrackedUntil, &w.LifetimeNotionalUSD, &last7d,
	)
	if err != nil {
		return domain.Wallet{}, err
	}
	if last7d != nil {
		w.Last7dNotionalUSD = *last7d
	}
	return w, nil
}

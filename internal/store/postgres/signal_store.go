package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalCols = `id, signal_type, dedupe_key, created_at, severity, wallet,
	condition_id, payload`

// Insert stores the event unless its dedupe key already exists. A collision
// returns inserted=false with a nil error ("already emitted").
func (s *SignalStore) Insert(ctx context.Context, ev domain.SignalEvent) (bool, error) {
	const query = `
		INSERT INTO signal_events (
			signal_type, dedupe_key, created_at, severity,
			wallet, condition_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		string(ev.SignalType), ev.DedupeKey, ev.CreatedAt, ev.Severity,
		nullStr(ev.Wallet), nullStr(ev.ConditionID), ev.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert signal %s: %w", ev.DedupeKey, err)
	}
	return tag.RowsAffected() > 0, nil
}

// LastEmittedAt returns the creation time of the most recent signal of the
// given type for a market, or the zero time when none exists. The arb engine
// uses this for the per-market cooldown.
func (s *SignalStore) LastEmittedAt(ctx context.Context, signalType domain.SignalType, conditionID string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(created_at) FROM signal_events
		WHERE signal_type = $1 AND condition_id = $2`,
		string(signalType), conditionID,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last emitted %s/%s: %w", signalType, conditionID, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}

// ListUndispatched returns signals with no alert_log row yet, oldest first.
func (s *SignalStore) ListUndispatched(ctx context.Context, limit int) ([]domain.SignalEvent, error) {
	query := `
		SELECT ` + signalCols + ` FROM signal_events se
		WHERE NOT EXISTS (
			SELECT 1 FROM alert_log al WHERE al.signal_event_id = se.id
		)
		ORDER BY se.created_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list undispatched signals: %w", err)
	}
	defer rows.Close()
	return scanSignalRows(rows)
}

// ListRecent returns the newest signals with pagination.
func (s *SignalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SignalEvent, error) {
	query := `SELECT ` + signalCols + ` FROM signal_events`
	args := []any{}
	argIdx := 1
	if opts.Since != nil {
		query += fmt.Sprintf(" WHERE created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent signals: %w", err)
	}
	defer rows.Close()
	return scanSignalRows(rows)
}

// CountByTypeSince returns per-type signal counts since the given instant.
func (s *SignalStore) CountByTypeSince(ctx context.Context, since time.Time) (map[domain.SignalType]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT signal_type, COUNT(*) FROM signal_events
		WHERE created_at >= $1 GROUP BY signal_type`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: count signals: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.SignalType]int64)
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan signal count: %w", err)
		}
		out[domain.SignalType(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: signal count rows: %w", err)
	}
	return out, nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.SignalEvent, error) {
	var events []domain.SignalEvent
	for rows.Next() {
		var ev domain.SignalEvent
		var st string
		var wallet, conditionID *string
		if err := rows.Scan(
			&ev.ID, &st, &ev.DedupeKey, &ev.CreatedAt, &ev.Severity,
			&wallet, &conditionID, &ev.Payload,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		ev.SignalType = domain.SignalType(st)
		ev.Wallet = deref(wallet)
		ev.ConditionID = deref(conditionID)
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: signal rows: %w", err)
	}
	return events, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertCols = `id, signal_event_id, delivery_id, channel, notification_key,
	sent_at, status, severity, error`

// Append adds one delivery-attempt row.
func (s *AlertStore) Append(ctx context.Context, entry domain.AlertLog) error {
	const query = `
		INSERT INTO alert_log (
			signal_event_id, delivery_id, channel, notification_key,
			sent_at, status, severity, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		entry.SignalEventID, entry.DeliveryID, entry.Channel,
		entry.NotificationKey, entry.SentAt, string(entry.Status),
		entry.Severity, nullStr(entry.Error),
	)
	if err != nil {
		return fmt.Errorf("postgres: append alert log: %w", err)
	}
	return nil
}

// LatestSent returns the most recent SENT row for a channel and notification
// key, used by the dedupe-window check.
func (s *AlertStore) LatestSent(ctx context.Context, channel, notificationKey string) (domain.AlertLog, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+alertCols+` FROM alert_log
		WHERE channel = $1 AND notification_key = $2 AND status = 'SENT'
		ORDER BY sent_at DESC LIMIT 1`, channel, notificationKey)

	entry, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AlertLog{}, domain.ErrNotFound
		}
		return domain.AlertLog{}, fmt.Errorf("postgres: latest alert %s/%s: %w", channel, notificationKey, err)
	}
	return entry, nil
}

// ListRecent returns the newest alert rows with pagination.
func (s *AlertStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.AlertLog, error) {
	query := `SELECT ` + alertCols + ` FROM alert_log ORDER BY sent_at DESC`
	args := []any{}
	if opts.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent alerts: %w", err)
	}
	defer rows.Close()

	var entries []domain.AlertLog
	for rows.Next() {
		entry, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert rows: %w", err)
	}
	return entries, nil
}

func scanAlert(row pgx.Row) (domain.AlertLog, error) {
	var entry domain.AlertLog
	var status string
	var severity *int
	var errMsg *string
	err := row.Scan(
		&entry.ID, &entry.SignalEventID, &entry.DeliveryID, &entry.Channel,
		&entry.NotificationKey, &entry.SentAt, &status, &severity, &errMsg,
	)
	if err != nil {
		return domain.AlertLog{}, err
	}
	entry.Status = domain.AlertStatus(status)
	if severity != nil {
		entry.Severity = *severity
	}
	entry.Error = deref(errMsg)
	entry.SentAt = entry.SentAt.UTC()
	return entry, nil
}

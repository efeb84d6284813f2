package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConfigStore implements domain.ConfigStore using PostgreSQL. Values are
// stored as JSON; scalar values are unwrapped to their string form when read
// so they can feed the config override setters.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// All returns every override as key -> string value.
func (s *ConfigStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM app_config`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load app config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan app config: %w", err)
		}
		out[key] = unwrapJSONScalar(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: app config rows: %w", err)
	}
	return out, nil
}

// Set writes one override.
func (s *ConfigStore) Set(ctx context.Context, key, value, updatedBy string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres: marshal config value: %w", err)
	}
	const query = `
		INSERT INTO app_config (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`
	if _, err := s.pool.Exec(ctx, query, key, raw, time.Now().UTC(), nullStr(updatedBy)); err != nil {
		return fmt.Errorf("postgres: set app config %s: %w", key, err)
	}
	return nil
}

// unwrapJSONScalar renders a stored JSON value as the plain string the
// override setters expect: quoted strings lose their quotes, numbers and
// bools keep their literal form.
func unwrapJSONScalar(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymercado/engine/internal/domain"
)

// TagStore implements domain.TagStore using PostgreSQL.
type TagStore struct {
	pool *pgxpool.Pool
}

// NewTagStore creates a new TagStore backed by the given connection pool.
func NewTagStore(pool *pgxpool.Pool) *TagStore {
	return &TagStore{pool: pool}
}

// UpsertBatch inserts or updates tag dictionary entries.
func (s *TagStore) UpsertBatch(ctx context.Context, tags []domain.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO tags (id, label, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			slug  = EXCLUDED.slug`
	for _, t := range tags {
		batch.Queue(query, t.ID, nullStr(t.Label), nullStr(t.Slug))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range tags {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert tag batch item %d: %w", i, err)
		}
	}
	return nil
}

// SetSportTags flags exactly the given tag IDs as sports.
func (s *TagStore) SetSportTags(ctx context.Context, tagIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin sport tags: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE tags SET is_sport = FALSE`); err != nil {
		return fmt.Errorf("postgres: clear sport tags: %w", err)
	}
	if len(tagIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE tags SET is_sport = TRUE WHERE id = ANY($1)`, tagIDs); err != nil {
			return fmt.Errorf("postgres: set sport tags: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// List returns the full tag dictionary.
func (s *TagStore) List(ctx context.Context) ([]domain.Tag, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, label, slug, is_sport FROM tags ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		var label, slug *string
		if err := rows.Scan(&t.ID, &label, &slug, &t.IsSport); err != nil {
			return nil, fmt.Errorf("postgres: scan tag: %w", err)
		}
		t.Label = deref(label)
		t.Slug = deref(slug)
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: tag rows: %w", err)
	}
	return tags, nil
}

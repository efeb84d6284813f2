package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/domain"
	"github.com/polymercado/engine/internal/platform/polymarket"
)

// TagSyncer refreshes the tag dictionary from /tags and flags sport tags
// from /sports.
type TagSyncer struct {
	runtime *config.Runtime
	gamma   *polymarket.GammaClient
	tags    domain.TagStore
	logger  *slog.Logger
}

// NewTagSyncer creates a TagSyncer.
func NewTagSyncer(runtime *config.Runtime, gamma *polymarket.GammaClient, tags domain.TagStore, logger *slog.Logger) *TagSyncer {
	return &TagSyncer{
		runtime: runtime,
		gamma:   gamma,
		tags:    tags,
		logger:  logger.With(slog.String("component", "tags_sync")),
	}
}

// Run pages the tag dictionary and then reconciles the sport flags. A sports
// endpoint failure leaves the existing flags untouched.
func (s *TagSyncer) Run(ctx context.Context) (int, error) {
	cfg := s.runtime.Current()
	processed := 0
	offset := 0

	for page := 0; page < cfg.Sync.TagsMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		apiTags, err := s.gamma.GetTags(ctx, cfg.Sync.TagsPageLimit, offset)
		if err != nil {
			return processed, fmt.Errorf("tags sync: page %d: %w", page, err)
		}
		if len(apiTags) == 0 {
			break
		}

		var batch []domain.Tag
		for _, t := range apiTags {
			if !t.ID.Valid {
				continue
			}
			batch = append(batch, domain.Tag{ID: t.ID.Value, Label: t.Label, Slug: t.Slug})
		}
		if err := s.tags.UpsertBatch(ctx, batch); err != nil {
			return processed, fmt.Errorf("tags sync: upsert page %d: %w", page, err)
		}
		processed += len(batch)

		if len(apiTags) < cfg.Sync.TagsPageLimit {
			break
		}
		offset += cfg.Sync.TagsPageLimit
	}

	sports, err := s.gamma.GetSports(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "sports fetch failed, keeping existing flags",
			slog.String("error", err.Error()),
		)
		return processed, nil
	}

	var sportIDs []int64
	seen := make(map[int64]struct{})
	for _, sport := range sports {
		for _, part := range strings.Split(sport.Tags, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sportIDs = append(sportIDs, id)
		}
	}
	if err := s.tags.SetSportTags(ctx, sportIDs); err != nil {
		return processed, fmt.Errorf("tags sync: sport flags: %w", err)
	}

	s.logger.InfoContext(ctx, "tags synced",
		slog.Int("tags", processed),
		slog.Int("sport_tags", len(sportIDs)),
	)
	return processed, nil
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/polymercado/engine/internal/bookcache"
	"github.com/polymercado/engine/internal/config"
	"github.com/polymercado/engine/internal/universe"
)

// QualityIssue is one finding of the data-quality sweep, surfaced on the
// status endpoint.
type QualityIssue struct {
	CheckName string    `json:"check_name"`
	Severity  int       `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// QualityChecker sweeps the tracked universe for ingestion gaps: markets
// without token IDs, tokens without cached books, and books past their heal
// interval.
type QualityChecker struct {
	runtime *config.Runtime
	tracker *universe.Tracker
	books   *bookcache.Cache
	logger  *slog.Logger

	mu     sync.Mutex
	latest []QualityIssue
}

// NewQualityChecker creates a QualityChecker.
func NewQualityChecker(runtime *config.Runtime, tracker *universe.Tracker, books *bookcache.Cache, logger *slog.Logger) *QualityChecker {
	return &QualityChecker{
		runtime: runtime,
		tracker: tracker,
		books:   books,
		logger:  logger.With(slog.String("component", "quality")),
	}
}

// Latest returns the findings of the most recent sweep.
func (q *QualityChecker) Latest() []QualityIssue {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QualityIssue(nil), q.latest...)
}

// Run executes one sweep and returns the number of issues found.
func (q *QualityChecker) Run(ctx context.Context) (int, error) {
	cfg := q.runtime.Current()
	now := time.Now().UTC()
	var issues []QualityIssue

	var missingTokens []string
	var missingBooks []string
	var staleBooks []string
	staleAfter := float64(2 * cfg.Sync.OrderbookSnapshotIntervalSeconds)

	for _, market := range q.tracker.Markets() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		yesToken, noToken, ok := market.BinaryTokens()
		if !ok {
			missingTokens = append(missingTokens, market.ConditionID)
			continue
		}
		for _, token := range []string{yesToken, noToken} {
			age, cached := q.books.Age(token, now)
			if !cached {
				missingBooks = append(missingBooks, market.ConditionID+":"+token)
				continue
			}
			if age > staleAfter {
				staleBooks = append(staleBooks, market.ConditionID+":"+token)
			}
		}
	}

	if len(missingTokens) > 0 {
		issues = append(issues, QualityIssue{
			CheckName: "missing_token_ids",
			Severity:  3,
			Message: fmt.Sprintf("%d tracked markets missing token ids. Sample: %s",
				len(missingTokens), sample(missingTokens)),
			CreatedAt: now,
		})
	}
	if len(missingBooks) > 0 {
		issues = append(issues, QualityIssue{
			CheckName: "missing_orderbooks",
			Severity:  3,
			Message: fmt.Sprintf("%d tracked tokens have no cached book. Sample: %s",
				len(missingBooks), sample(missingBooks)),
			CreatedAt: now,
		})
	}
	if len(staleBooks) > 0 {
		issues = append(issues, QualityIssue{
			CheckName: "stale_orderbooks",
			Severity:  2,
			Message: fmt.Sprintf("%d tracked tokens past twice the heal interval. Sample: %s",
				len(staleBooks), sample(staleBooks)),
			CreatedAt: now,
		})
	}

	q.mu.Lock()
	q.latest = issues
	q.mu.Unlock()

	for _, issue := range issues {
		q.logger.WarnContext(ctx, "data quality issue",
			slog.String("check", issue.CheckName),
			slog.Int("severity", issue.Severity),
			slog.String("message", issue.Message),
		)
	}
	return len(issues), nil
}

func sample(items []string) string {
	if len(items) > 5 {
		items = items[:5]
	}
	return strings.Join(items, ", ")
}

package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/abelbrown/econpulse/internal/store"
)

// TrendingWindow is how far back trending looks for article activity.
const TrendingWindow = 48 * time.Hour

// statsSource is the query trending needs (interface for testing).
type statsSource interface {
	FindIssueStatsSince(ctx context.Context, since time.Time, limit int) ([]store.IssueStat, error)
}

// Trending returns the top limit issues by TrendingRanker over the last
// TrendingWindow. It reads five times limit candidates before scoring so
// that an older but busier issue can still outrank the newest ones.
func Trending(ctx context.Context, src statsSource, now time.Time, limit int) ([]Scored, error) {
	if limit <= 0 {
		limit = 10
	}
	stats, err := src.FindIssueStatsSince(ctx, now.Add(-TrendingWindow), limit*5)
	if err != nil {
		return nil, fmt.Errorf("load issue stats: %w", err)
	}
	return Rank(stats, TrendingRanker(), &Context{Now: now}, limit), nil
}

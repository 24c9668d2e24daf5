package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/store"
)

// DefaultWindow and DefaultLimit bound the article batch ClusterRecent reads.
const (
	DefaultWindow = 48 * time.Hour
	DefaultLimit  = 1000
)

// issueStore is the persistence the engine needs (interface for testing).
type issueStore interface {
	FindRecentArticles(ctx context.Context, since time.Time, limit int) ([]store.Article, error)
	UpsertIssue(ctx context.Context, issue store.Issue, articles []store.Article) (store.UpsertResult, error)
}

// Result counts what one clustering pass did.
type Result struct {
	Created int
	Updated int
	Skipped int
	// Unclassified counts articles that matched no category group.
	Unclassified int
}

// Engine clusters recent articles and upserts them as issues.
type Engine struct {
	store  issueStore
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewEngine creates an Engine reading the last window of articles, at most
// limit of them. Zero values select DefaultWindow and DefaultLimit.
func NewEngine(s issueStore, window time.Duration, limit int) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Engine{store: s, window: window, limit: limit, now: time.Now}
}

// ClusterRecent loads the recent article batch and clusters it. Failing to
// load articles is the only error it returns; per-cluster failures are
// logged and counted as skipped.
func (e *Engine) ClusterRecent(ctx context.Context) (Result, error) {
	since := e.now().Add(-e.window)
	articles, err := e.store.FindRecentArticles(ctx, since, e.limit)
	if err != nil {
		return Result{}, fmt.Errorf("load recent articles: %w", err)
	}
	return e.ClusterArticles(ctx, articles), nil
}

// ClusterArticles clusters a given batch and persists eligible clusters.
func (e *Engine) ClusterArticles(ctx context.Context, articles []store.Article) Result {
	var res Result

	classified, dropped := Classify(articles)
	res.Unclassified = dropped
	if dropped > 0 {
		logging.Debug("cluster: unclassified articles dropped", "count", dropped)
	}

	for _, c := range Build(classified) {
		if ctx.Err() != nil {
			logging.Warn("cluster: run cancelled", "error", ctx.Err())
			break
		}

		if !Eligible(c) {
			res.Skipped++
			continue
		}

		keywords, ok := IssueKeywords(c)
		if !ok {
			logging.Debug("cluster: not enough keywords", "group", c.Group, "articles", len(c.Articles))
			res.Skipped++
			continue
		}

		created, err := e.persist(ctx, c, keywords)
		if err != nil {
			logging.Error("cluster: upsert failed",
				"group", c.Group,
				"fingerprint", Fingerprint(c.Group, keywords),
				"articles", len(c.Articles),
				"error", err)
			res.Skipped++
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	logging.Info("cluster: run complete",
		"articles", len(articles),
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped)
	return res
}

func (e *Engine) persist(ctx context.Context, c Cluster, keywords []string) (bool, error) {
	first, last := PublishedRange(c)
	issue := store.Issue{
		Group:            c.Group,
		Title:            Title(c.Group, keywords),
		Keywords:         keywords,
		FirstPublishedAt: first,
		LastPublishedAt:  last,
		Status:           store.IssueOpen,
		Fingerprint:      Fingerprint(c.Group, keywords),
	}

	articles := make([]store.Article, len(c.Articles))
	for i, a := range c.Articles {
		articles[i] = a.Article
	}

	res, err := e.store.UpsertIssue(ctx, issue, articles)
	if err != nil {
		return false, err
	}
	return res.Created, nil
}

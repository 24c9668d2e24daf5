package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/store"
)

const (
	// MinTitleLength and MinSummaryLength are in runes.
	MinTitleLength   = 8
	MinSummaryLength = 20

	// Cutoff drops entries published longer ago than this.
	Cutoff = 48 * time.Hour

	articleCategory       = "economy"
	defaultConcurrency    = 4
	defaultFetchTimeout   = 30 * time.Second
	defaultHostRate       = 1.0
	maskedURLFallbackSize = 50
)

// articleSaver is the persistence the collector needs (interface for testing).
type articleSaver interface {
	SaveArticles(ctx context.Context, articles []store.Article) (int, error)
}

// Options tunes a Collector. Zero values fall back to defaults.
type Options struct {
	Timeout     time.Duration
	HostRate    float64 // requests per second per host
	Concurrency int
}

// Collector fetches every configured feed and saves the usable entries.
type Collector struct {
	fetcher     *Fetcher
	store       articleSaver
	feeds       []Feed
	hostRate    rate.Limit
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCollector creates a Collector over feeds.
func NewCollector(s articleSaver, feeds []Feed, opts Options) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.HostRate <= 0 {
		opts.HostRate = defaultHostRate
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Collector{
		fetcher:     NewFetcher(opts.Timeout),
		store:       s,
		feeds:       feeds,
		hostRate:    rate.Limit(opts.HostRate),
		concurrency: opts.Concurrency,
		now:         time.Now,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Collect fetches all feeds in parallel and returns how many new articles
// were saved. A feed that fails to fetch or parse is logged and skipped;
// a store failure aborts the collection and is returned.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	if len(c.feeds) == 0 {
		logging.Info("rss: no feeds configured, skipping collection")
		return 0, nil
	}

	logging.Info("rss: collection started", "feeds", len(c.feeds))
	start := time.Now()

	var (
		mu        sync.Mutex
		saved     int
		succeeded int
		failed    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, feed := range c.feeds {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			n, entries, err := c.collectFeed(gctx, feed)
			if err != nil {
				var fe *feedError
				if !errors.As(err, &fe) {
					return err
				}
				logging.Warn("rss: feed failed", "host", maskURL(feed.URL), "error", fe.err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			logging.Info("rss: feed success", "host", maskURL(feed.URL), "entries", entries, "saved", n)
			mu.Lock()
			saved += n
			succeeded++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return saved, fmt.Errorf("collect: %w", err)
	}
	if ctx.Err() != nil {
		return saved, ctx.Err()
	}

	logging.Info("rss: collection complete",
		"feeds", len(c.feeds),
		"success", succeeded,
		"failed", failed,
		"saved", saved,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return saved, nil
}

// feedError marks a per-feed failure that must not stop the other feeds.
type feedError struct {
	err error
}

func (e *feedError) Error() string { return e.err.Error() }

func (c *Collector) collectFeed(ctx context.Context, feed Feed) (saved, entries int, err error) {
	if err := c.limiter(feed.URL).Wait(ctx); err != nil {
		return 0, 0, &feedError{err: err}
	}

	items, err := c.fetcher.Fetch(ctx, feed)
	if err != nil {
		return 0, 0, &feedError{err: err}
	}

	now := c.now()
	articles := make([]store.Article, 0, len(items))
	for _, item := range items {
		if a, ok := toArticle(item, feed.Publisher, now); ok {
			articles = append(articles, a)
		}
	}
	if len(articles) == 0 {
		return 0, len(items), nil
	}

	n, err := c.store.SaveArticles(ctx, articles)
	if err != nil {
		return 0, len(items), fmt.Errorf("save articles from %s: %w", maskURL(feed.URL), err)
	}
	return n, len(items), nil
}

// limiter returns the shared limiter for the feed's host.
func (c *Collector) limiter(rawURL string) *rate.Limiter {
	host := maskURL(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.hostRate, 1)
		c.limiters[host] = l
	}
	return l
}

// toArticle converts a feed entry, reporting false when the entry is
// unusable: short title or summary, no publish time, too old, or no link.
func toArticle(item *gofeed.Item, publisher string, now time.Time) (store.Article, bool) {
	title := html.UnescapeString(strings.TrimSpace(item.Title))
	summary := cleanText(item.Description)
	if utf8.RuneCountInString(title) < MinTitleLength || utf8.RuneCountInString(summary) < MinSummaryLength {
		return store.Article{}, false
	}

	var published time.Time
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	default:
		return store.Article{}, false
	}
	published = published.UTC().Truncate(time.Second)
	if published.Before(now.Add(-Cutoff)) {
		return store.Article{}, false
	}

	link := strings.TrimSpace(item.Link)
	if link == "" {
		return store.Article{}, false
	}

	return store.Article{
		ID:          store.ArticleID(link),
		Title:       title,
		Summary:     summary,
		Link:        link,
		Publisher:   publisher,
		PublishedAt: published,
		Category:    articleCategory,
	}, true
}

// cleanText strips markup from a feed description and decodes entities.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return html.UnescapeString(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return html.UnescapeString(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// maskURL reduces a feed URL to its host for logging.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Host != "" {
		return u.Host
	}
	r := []rune(raw)
	if len(r) > maskedURLFallbackSize {
		r = r[:maskedURLFallbackSize]
	}
	return string(r)
}

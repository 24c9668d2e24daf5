// Package fetch collects economic news articles from RSS feeds.
//
// Fetcher retrieves and parses a single feed. Collector fans out over all
// configured feeds, filters entries into store.Articles and persists them.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// DefaultUserAgent identifies the collector to feed hosts.
const DefaultUserAgent = "econpulse-news-bot/1.0"

// Feed is one configured RSS source. Publisher is stored on every
// article from the feed regardless of what the feed itself reports.
type Feed struct {
	URL       string `yaml:"url"`
	Publisher string `yaml:"publisher"`
}

// Fetcher retrieves entries from feeds.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher creates a Fetcher with the given HTTP client timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: DefaultUserAgent,
	}
}

// Fetch retrieves and parses one feed. It does NOT store anything;
// the caller decides what to keep.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) ([]*gofeed.Item, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return parsed.Items, nil
}

package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/feeds"

	"github.com/abelbrown/econpulse/internal/store"
)

const rssIssueLimit = 50

// GenerateRSSFeed renders issues as an RSS 2.0 channel.
func GenerateRSSFeed(issues []store.Issue, opts FeedOptions) (string, error) {
	link := strings.TrimRight(opts.Link, "/")

	feed := &feeds.Feed{
		Title:       opts.Title,
		Link:        &feeds.Link{Href: link},
		Description: opts.Description,
	}
	if len(issues) > 0 {
		feed.Created = issues[0].LastPublishedAt
	}

	feed.Items = make([]*feeds.Item, 0, len(issues))
	for _, issue := range issues {
		title := issue.Headline
		if title == "" {
			title = issue.Title
		}
		description := issue.SignalSummary
		if description == "" {
			description = fmt.Sprintf("%s · %s · 기사 %d건, 언론사 %d곳",
				issue.Group.DisplayName(), strings.Join(issue.Keywords, ", "), issue.ArticleCount, issue.PublisherCount)
		}
		issueLink := fmt.Sprintf("%s/api/issues/%d", link, issue.ID)
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       title,
			Link:        &feeds.Link{Href: issueLink},
			Id:          issue.Fingerprint,
			Description: description,
			Created:     issue.FirstPublishedAt,
			Updated:     issue.LastPublishedAt,
		})
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}
	return rss, nil
}

// handleRSS serves the most recently active open issues as RSS.
func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	issues, err := s.store.ListIssues(r.Context(), store.IssueFilter{
		Status: store.IssueOpen,
		Limit:  rssIssueLimit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list issues", err)
		return
	}

	rss, err := GenerateRSSFeed(issues, s.feed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate feed", err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(rss))
}

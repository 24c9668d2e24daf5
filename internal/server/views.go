package server

import (
	"encoding/json"
	"time"

	"github.com/abelbrown/econpulse/internal/lifecycle"
	"github.com/abelbrown/econpulse/internal/store"
)

type issueResponse struct {
	ID               int64              `json:"id"`
	Group            string             `json:"group"`
	GroupName        string             `json:"groupName"`
	Title            string             `json:"title"`
	Headline         string             `json:"headline,omitempty"`
	SignalSummary    string             `json:"signalSummary,omitempty"`
	Keywords         []string           `json:"keywords"`
	FirstPublishedAt time.Time          `json:"firstPublishedAt"`
	LastPublishedAt  time.Time          `json:"lastPublishedAt"`
	ArticleCount     int                `json:"articleCount"`
	PublisherCount   int                `json:"publisherCount"`
	Status           string             `json:"status"`
	Lifecycle        *lifecycleResponse `json:"lifecycle,omitempty"`
}

func newIssueResponse(issue store.Issue) issueResponse {
	return issueResponse{
		ID:               issue.ID,
		Group:            issue.Group.String(),
		GroupName:        issue.Group.DisplayName(),
		Title:            issue.Title,
		Headline:         issue.Headline,
		SignalSummary:    issue.SignalSummary,
		Keywords:         issue.Keywords,
		FirstPublishedAt: issue.FirstPublishedAt,
		LastPublishedAt:  issue.LastPublishedAt,
		ArticleCount:     issue.ArticleCount,
		PublisherCount:   issue.PublisherCount,
		Status:           string(issue.Status),
	}
}

type lifecycleResponse struct {
	Stage string `json:"stage"`
	lifecycle.StageInfo
	ChangePercent       int        `json:"changePercent"`
	PeakArticleCount    int        `json:"peakArticleCount"`
	CurrentArticleCount int        `json:"currentArticleCount"`
	PeakDate            *time.Time `json:"peakDate"`
	StageChangedAt      time.Time  `json:"stageChangedAt"`
}

func newLifecycleResponse(lc store.Lifecycle, stage lifecycle.Stage) *lifecycleResponse {
	return &lifecycleResponse{
		Stage:               string(stage),
		StageInfo:           stage.Info(),
		ChangePercent:       lc.ChangePercent,
		PeakArticleCount:    lc.PeakArticleCount,
		CurrentArticleCount: lc.CurrentArticleCount,
		PeakDate:            lc.PeakDate,
		StageChangedAt:      lc.StageChangedAt,
	}
}

type articleResponse struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Publisher   string    `json:"publisher"`
	PublishedAt time.Time `json:"publishedAt"`
}

type issueDetailResponse struct {
	issueResponse
	Articles []articleResponse `json:"articles"`
	Card     json.RawMessage   `json:"card,omitempty"`
}

type trendingResponse struct {
	issueResponse
	Score            float64 `json:"score"`
	RecentArticles   int     `json:"recentArticles"`
	RecentPublishers int     `json:"recentPublishers"`
}

// Package card turns clustered issues into AI-written summary cards.
//
// The Service picks target issues, builds a prompt from their most
// event-like articles, asks a Generator for card JSON, validates it and
// stores the result. Every HTTP attempt is logged to the store.
package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/store"
)

const (
	DefaultWindow      = 48 * time.Hour
	DefaultLimit       = 50
	MaxArticlesPerCard = 8

	minEvidence = 2
	maxEvidence = 4
	maxImpact   = 5
)

// cardStore is the persistence the card step needs (interface for testing).
type cardStore interface {
	FindCardGenerationTargets(ctx context.Context, since time.Time, limit int) ([]store.Issue, error)
	FindArticlesByIssueID(ctx context.Context, issueID int64) ([]store.Article, error)
	HasActiveCard(ctx context.Context, issueID int64) (bool, error)
	SaveCard(ctx context.Context, card store.Card) error
	SaveCardLog(ctx context.Context, l store.CardGenerationLog) error
	UpdateIssueSummary(ctx context.Context, issueID int64, headline, signalSummary string) error
}

// BatchResult counts the outcome of one GenerateForTargets call.
type BatchResult struct {
	Success int
	Skipped int
	Failed  int
}

// Service generates cards.
type Service struct {
	store  cardStore
	gen    Generator
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewService creates a Service. window and limit select target issues;
// zero values use DefaultWindow and DefaultLimit.
func NewService(s cardStore, gen Generator, window time.Duration, limit int) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{store: s, gen: gen, window: window, limit: limit, now: time.Now}
}

// GenerateForTargets generates cards for recent multi-publisher issues
// that do not already have an ACTIVE card. FAILED cards are retried.
// Per-issue failures are counted; only a failure to load targets is
// returned as an error.
func (s *Service) GenerateForTargets(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	targets, err := s.store.FindCardGenerationTargets(ctx, s.now().Add(-s.window), s.limit)
	if err != nil {
		return res, fmt.Errorf("load card targets: %w", err)
	}
	if len(targets) == 0 {
		logging.Info("card: no generation targets")
		return res, nil
	}
	logging.Info("card: generation started", "targets", len(targets))

	for _, issue := range targets {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		active, err := s.store.HasActiveCard(ctx, issue.ID)
		if err != nil {
			logging.Error("card: active check failed", "issue", issue.ID, "error", err)
			res.Failed++
			continue
		}
		if active {
			logging.Debug("card: active card exists", "issue", issue.ID)
			res.Skipped++
			continue
		}
		if err := s.generate(ctx, issue); err != nil {
			logging.Error("card: generation failed", "issue", issue.ID, "error", err)
			res.Failed++
			continue
		}
		res.Success++
	}

	logging.Info("card: generation complete",
		"success", res.Success,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return res, nil
}

func (s *Service) generate(ctx context.Context, issue store.Issue) error {
	articles, err := s.store.FindArticlesByIssueID(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}
	if len(articles) == 0 {
		return errors.New("no articles found")
	}
	evidence := selectEvidence(articles, s.now(), MaxArticlesPerCard)

	resp, genErr := s.gen.Generate(ctx, BuildPrompt(issue, evidence))
	s.logAttempts(ctx, issue, resp.Attempts)
	if genErr != nil {
		return fmt.Errorf("generate: %w", genErr)
	}

	c := store.Card{
		IssueID:     issue.ID,
		Fingerprint: issue.Fingerprint,
		Status:      store.CardActive,
		Model:       s.gen.Model(),
		Content:     resp.Content,
	}

	content, err := Validate(resp.Content)
	if err != nil {
		c.Status = store.CardFailed
		if saveErr := s.store.SaveCard(ctx, c); saveErr != nil {
			logging.Error("card: failed to store invalid card", "issue", issue.ID, "error", saveErr)
		}
		return fmt.Errorf("invalid card: %w", err)
	}

	if err := s.store.SaveCard(ctx, c); err != nil {
		return fmt.Errorf("save card: %w", err)
	}

	if content.Headline != "" || content.SignalSummary != "" {
		if err := s.store.UpdateIssueSummary(ctx, issue.ID, content.Headline, content.SignalSummary); err != nil {
			logging.Warn("card: headline update failed", "issue", issue.ID, "error", err)
		}
	}
	logging.Info("card: generated", "issue", issue.ID, "headline", content.Headline)
	return nil
}

func (s *Service) logAttempts(ctx context.Context, issue store.Issue, attempts []Attempt) {
	if len(attempts) == 0 {
		// Not configured: nothing reached the API, still record the try.
		attempts = []Attempt{{Err: ErrNotConfigured}}
	}
	for i, a := range attempts {
		entry := store.CardGenerationLog{
			IssueID:     issue.ID,
			Fingerprint: issue.Fingerprint,
			Attempt:     i + 1,
			Success:     a.Err == nil,
			HTTPStatus:  a.HTTPStatus,
			LatencyMs:   a.Latency.Milliseconds(),
		}
		if a.Err != nil {
			entry.ErrorMessage = a.Err.Error()
		}
		if err := s.store.SaveCardLog(ctx, entry); err != nil {
			logging.Warn("card: failed to save generation log", "issue", issue.ID, "error", err)
		}
	}
}

// Content is the parsed subset of a card used outside the raw JSON.
type Content struct {
	Headline      string
	SignalSummary string
	ImpactScore   int
}

// Validate checks card JSON: every required field present, 2 to 4
// evidence items, and an impact score between 0 and 5.
func Validate(raw string) (Content, error) {
	var card map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return Content{}, fmt.Errorf("JSON parse error: %w", err)
	}

	for _, field := range requiredFields {
		if _, ok := card[field]; !ok {
			return Content{}, fmt.Errorf("missing required field: %s", field)
		}
	}

	evidence, ok := card["evidence"].([]interface{})
	if !ok {
		return Content{}, errors.New("evidence must be an array")
	}
	if len(evidence) < minEvidence || len(evidence) > maxEvidence {
		return Content{}, fmt.Errorf("evidence must have %d-%d items, got %d", minEvidence, maxEvidence, len(evidence))
	}

	impact, ok := card["impact"].(map[string]interface{})
	if !ok {
		return Content{}, errors.New("impact must be an object")
	}
	score, ok := impact["score"].(float64)
	if !ok {
		return Content{}, errors.New("impact.score must be a number")
	}
	if int(score) < 0 || int(score) > maxImpact {
		return Content{}, fmt.Errorf("impact.score must be 0-%d, got %d", maxImpact, int(score))
	}

	headline, _ := card["headline"].(string)
	signal, _ := card["signal_summary"].(string)
	return Content{Headline: headline, SignalSummary: signal, ImpactScore: int(score)}, nil
}

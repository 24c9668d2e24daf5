package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/store"
)

const (
	// currentWindow is the rolling window for the current article count.
	currentWindow = 24 * time.Hour
	// historyRetention bounds both the history fed to Classify and the
	// set of issues a sweep visits.
	historyRetention = 7 * 24 * time.Hour
)

// lifecycleStore is the persistence the service needs (interface for testing).
type lifecycleStore interface {
	CountIssueArticlesSince(ctx context.Context, issueID int64, since time.Time) (int, error)
	FindHistorySince(ctx context.Context, issueID int64, since time.Time) ([]store.HistoryRecord, error)
	FindLifecycle(ctx context.Context, issueID int64) (store.Lifecycle, error)
	SaveLifecycle(ctx context.Context, lc store.Lifecycle, recordedAt time.Time) error
	FindActiveIssueIDs(ctx context.Context, since time.Time) ([]int64, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepResult counts one sweep's outcome.
type SweepResult struct {
	Updated int
	Failed  int
	Pruned  int64
}

// Service evaluates and stores issue lifecycles.
type Service struct {
	store lifecycleStore
	now   func() time.Time
}

// NewService creates a Service backed by s.
func NewService(s lifecycleStore) *Service {
	return &Service{store: s, now: time.Now}
}

// Update evaluates one issue, stores its lifecycle row and appends a
// history sample with the current count.
func (s *Service) Update(ctx context.Context, issueID int64) (Result, error) {
	now := s.now()

	current, err := s.store.CountIssueArticlesSince(ctx, issueID, now.Add(-currentWindow))
	if err != nil {
		return Result{}, fmt.Errorf("count current articles: %w", err)
	}

	history, err := s.store.FindHistorySince(ctx, issueID, now.Add(-historyRetention))
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}

	var previous *store.Lifecycle
	prev, err := s.store.FindLifecycle(ctx, issueID)
	switch {
	case err == nil:
		previous = &prev
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, fmt.Errorf("load previous lifecycle: %w", err)
	}

	res := Classify(Input{
		IssueID:  issueID,
		Current:  current,
		History:  history,
		Previous: previous,
		Now:      now,
	})

	err = s.store.SaveLifecycle(ctx, store.Lifecycle{
		IssueID:             issueID,
		Stage:               string(res.Stage),
		ChangePercent:       res.ChangePercent,
		PeakArticleCount:    res.PeakArticleCount,
		CurrentArticleCount: res.CurrentArticleCount,
		PeakDate:            res.PeakDate,
		StageChangedAt:      res.StageChangedAt,
	}, now)
	if err != nil {
		return Result{}, fmt.Errorf("save lifecycle: %w", err)
	}

	logging.Debug("lifecycle: updated",
		"issue", issueID,
		"stage", res.Stage,
		"change_percent", res.ChangePercent,
		"current", current)
	return res, nil
}

// Sweep updates every issue with an article in the retention window, then
// prunes history older than the window. A failing issue is logged and
// does not stop the others. Only failing to list issues is returned.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	ids, err := s.store.FindActiveIssueIDs(ctx, now.Add(-historyRetention))
	if err != nil {
		return SweepResult{}, fmt.Errorf("find active issues: %w", err)
	}

	logging.Info("lifecycle: sweep started", "issues", len(ids))

	var res SweepResult
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, err := s.Update(ctx, id); err != nil {
			logging.Error("lifecycle: update failed", "issue", id, "error", err)
			res.Failed++
			continue
		}
		res.Updated++
	}

	pruned, err := s.store.DeleteHistoryBefore(ctx, now.Add(-historyRetention))
	if err != nil {
		logging.Warn("lifecycle: history prune failed", "error", err)
	} else {
		res.Pruned = pruned
	}

	logging.Info("lifecycle: sweep complete",
		"updated", res.Updated,
		"failed", res.Failed,
		"pruned", res.Pruned)
	return res, nil
}

// Get returns the stored lifecycle of an issue with its stage parsed.
func (s *Service) Get(ctx context.Context, issueID int64) (store.Lifecycle, Stage, error) {
	lc, err := s.store.FindLifecycle(ctx, issueID)
	if err != nil {
		return store.Lifecycle{}, "", err
	}
	stage, err := ParseStage(lc.Stage)
	if err != nil {
		return store.Lifecycle{}, "", err
	}
	return lc, stage, nil
}

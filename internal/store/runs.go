package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// maxErrorMessage caps the stored error text of a pipeline run.
const maxErrorMessage = 5000

// PipelineRun is one recorded pipeline execution.
type PipelineRun struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	DurationMs    int64     `json:"durationMs"`
	RSSSaved      int       `json:"rssSavedCount"`
	IssuesCreated int       `json:"issuesCreatedCount"`
	IssuesUpdated int       `json:"issuesUpdatedCount"`
	IssuesSkipped int       `json:"issuesSkippedCount"`
	CardsCreated  int       `json:"cardsCreatedCount"`
	CardsSkipped  int       `json:"cardsSkippedCount"`
	CardsFailed   int       `json:"cardsFailedCount"`
	Status        string    `json:"status"`
	ErrorStage    string    `json:"errorStage,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
}

// SaveRun records a finished pipeline run.
// Thread-safe: acquires write lock.
func (s *Store) SaveRun(ctx context.Context, run PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := run.ErrorMessage
	if r := []rune(msg); len(r) > maxErrorMessage {
		msg = string(r[:maxErrorMessage])
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			id, started_at, finished_at, duration_ms, rss_saved,
			issues_created, issues_updated, issues_skipped,
			cards_created, cards_skipped, cards_failed,
			status, error_stage, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.DurationMs,
		run.RSSSaved,
		run.IssuesCreated,
		run.IssuesUpdated,
		run.IssuesSkipped,
		run.CardsCreated,
		run.CardsSkipped,
		run.CardsFailed,
		run.Status,
		nullString(run.ErrorStage),
		nullString(msg),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	return nil
}

// FindRecentRuns returns up to limit runs, most recent first.
// Thread-safe: acquires read lock.
func (s *Store) FindRecentRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	query, args, err := sq.Select(
		"id", "started_at", "finished_at", "duration_ms", "rss_saved",
		"issues_created", "issues_updated", "issues_skipped",
		"cards_created", "cards_skipped", "cards_failed",
		"status", "error_stage", "error_message",
	).From("pipeline_runs").OrderBy("started_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var (
			run           PipelineRun
			stage, errMsg sql.NullString
		)
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.DurationMs,
			&run.RSSSaved,
			&run.IssuesCreated,
			&run.IssuesUpdated,
			&run.IssuesSkipped,
			&run.CardsCreated,
			&run.CardsSkipped,
			&run.CardsFailed,
			&run.Status,
			&stage,
			&errMsg,
		); err != nil {
			return nil, err
		}
		run.ErrorStage = stage.String
		run.ErrorMessage = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context) (PipelineRun, error) {
	runs, err := s.FindRecentRuns(ctx, 1)
	if err != nil {
		return PipelineRun{}, err
	}
	if len(runs) == 0 {
		return PipelineRun{}, ErrNotFound
	}
	return runs[0], nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lifecycle is the persisted lifecycle row for one issue.
type Lifecycle struct {
	IssueID             int64
	Stage               string
	ChangePercent       int
	PeakArticleCount    int
	CurrentArticleCount int
	PeakDate            *time.Time
	StageChangedAt      time.Time
	UpdatedAt           time.Time
}

// HistoryRecord is one sample of an issue's rolling article count.
type HistoryRecord struct {
	IssueID      int64
	ArticleCount int
	RecordedAt   time.Time
}

// FindLifecycle returns the lifecycle row for an issue or ErrNotFound.
// Thread-safe: acquires read lock.
func (s *Store) FindLifecycle(ctx context.Context, issueID int64) (Lifecycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		lc       Lifecycle
		peakDate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT issue_id, stage, change_percent, peak_article_count, current_article_count,
			peak_date, stage_changed_at, updated_at
		FROM issue_lifecycles WHERE issue_id = ?
	`, issueID).Scan(
		&lc.IssueID,
		&lc.Stage,
		&lc.ChangePercent,
		&lc.PeakArticleCount,
		&lc.CurrentArticleCount,
		&peakDate,
		&lc.StageChangedAt,
		&lc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lifecycle{}, ErrNotFound
	}
	if err != nil {
		return Lifecycle{}, err
	}
	if peakDate.Valid {
		t := peakDate.Time
		lc.PeakDate = &t
	}
	return lc, nil
}

// SaveLifecycle inserts or replaces the lifecycle row for lc.IssueID and
// appends one history sample with the current count, in one transaction.
// Thread-safe: acquires write lock.
func (s *Store) SaveLifecycle(ctx context.Context, lc Lifecycle, recordedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var peakDate sql.NullTime
	if lc.PeakDate != nil {
		peakDate = sql.NullTime{Time: lc.PeakDate.UTC(), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO issue_lifecycles (
			issue_id, stage, change_percent, peak_article_count, current_article_count,
			peak_date, stage_changed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id) DO UPDATE SET
			stage = excluded.stage,
			change_percent = excluded.change_percent,
			peak_article_count = excluded.peak_article_count,
			current_article_count = excluded.current_article_count,
			peak_date = excluded.peak_date,
			stage_changed_at = excluded.stage_changed_at,
			updated_at = excluded.updated_at
	`,
		lc.IssueID,
		lc.Stage,
		lc.ChangePercent,
		lc.PeakArticleCount,
		lc.CurrentArticleCount,
		peakDate,
		lc.StageChangedAt.UTC(),
		recordedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upsert lifecycle: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO issue_article_histories (issue_id, article_count, recorded_at) VALUES (?, ?, ?)`,
		lc.IssueID, lc.CurrentArticleCount, recordedAt.UTC(),
	); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	return tx.Commit()
}

// FindHistorySince returns an issue's samples recorded at or after since,
// oldest first.
// Thread-safe: acquires read lock.
func (s *Store) FindHistorySince(ctx context.Context, issueID int64, since time.Time) ([]HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, article_count, recorded_at
		FROM issue_article_histories
		WHERE issue_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC
	`, issueID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		if err := rows.Scan(&rec.IssueID, &rec.ArticleCount, &rec.RecordedAt); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

// DeleteHistoryBefore prunes samples recorded before cutoff and returns
// how many rows were removed.
// Thread-safe: acquires write lock.
func (s *Store) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM issue_article_histories WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CardStatus is the outcome stored for an issue's card.
type CardStatus string

const (
	CardActive CardStatus = "ACTIVE"
	CardFailed CardStatus = "FAILED"
)

// Card is the generated summary stored for an issue. Content holds the
// raw model output, which is JSON for ACTIVE cards.
type Card struct {
	IssueID     int64
	Fingerprint string
	Status      CardStatus
	Model       string
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CardGenerationLog records one card generation attempt.
type CardGenerationLog struct {
	IssueID      int64
	Fingerprint  string
	Attempt      int
	Success      bool
	HTTPStatus   int
	ErrorMessage string
	LatencyMs    int64
	CreatedAt    time.Time
}

// HasActiveCard reports whether an issue already has an ACTIVE card.
// Thread-safe: acquires read lock.
func (s *Store) HasActiveCard(ctx context.Context, issueID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cards WHERE issue_id = ? AND status = ?`,
		issueID, string(CardActive),
	).Scan(&n)
	return n > 0, err
}

// SaveCard inserts or replaces the card for card.IssueID.
// Thread-safe: acquires write lock.
func (s *Store) SaveCard(ctx context.Context, card Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (issue_id, fingerprint, status, model, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			model = excluded.model,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, card.IssueID, card.Fingerprint, string(card.Status), card.Model, card.Content, now, now)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

// FindCard returns the card for an issue or ErrNotFound.
// Thread-safe: acquires read lock.
func (s *Store) FindCard(ctx context.Context, issueID int64) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		card           Card
		status         string
		model, content sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT issue_id, fingerprint, status, model, content, created_at, updated_at
		FROM cards WHERE issue_id = ?
	`, issueID).Scan(&card.IssueID, &card.Fingerprint, &status, &model, &content, &card.CreatedAt, &card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, err
	}
	card.Status = CardStatus(status)
	card.Model = model.String
	card.Content = content.String
	return card, nil
}

// SaveCardLog appends a generation attempt record.
// Thread-safe: acquires write lock.
func (s *Store) SaveCardLog(ctx context.Context, l CardGenerationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	var httpStatus sql.NullInt64
	if l.HTTPStatus != 0 {
		httpStatus = sql.NullInt64{Int64: int64(l.HTTPStatus), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_generation_logs (
			issue_id, fingerprint, attempt, success, http_status, error_message, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.IssueID,
		l.Fingerprint,
		l.Attempt,
		boolToInt(l.Success),
		httpStatus,
		nullString(l.ErrorMessage),
		l.LatencyMs,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert card log: %w", err)
	}
	return nil
}

// CountCardLogs returns the number of generation attempts logged for an issue.
// Thread-safe: acquires read lock.
func (s *Store) CountCardLogs(ctx context.Context, issueID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM card_generation_logs WHERE issue_id = ?`, issueID,
	).Scan(&n)
	return n, err
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

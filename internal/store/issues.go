package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/abelbrown/econpulse/internal/category"
)

// IssueStatus is the open/closed state of an issue.
type IssueStatus string

const (
	IssueOpen   IssueStatus = "OPEN"
	IssueClosed IssueStatus = "CLOSED"
)

// Issue is a persisted cluster of related articles, keyed by Fingerprint.
type Issue struct {
	ID               int64
	Group            category.Group
	Title            string
	Keywords         []string
	FirstPublishedAt time.Time
	LastPublishedAt  time.Time
	ArticleCount     int
	PublisherCount   int
	Status           IssueStatus
	Fingerprint      string
	Headline         string
	SignalSummary    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IssueStat is an issue with its activity inside a recent window.
type IssueStat struct {
	Issue
	RecentArticles   int
	RecentPublishers int
}

// UpsertResult reports what UpsertIssue did.
type UpsertResult struct {
	IssueID int64
	Created bool
	// Mapped is the number of article mappings that were new.
	Mapped int
}

// IssueFilter narrows ListIssues. Zero values mean "no filter".
type IssueFilter struct {
	Group  category.Group
	Status IssueStatus
	Since  time.Time
	Limit  int
	Offset int
}

var issueColumns = []string{
	"id", "group_name", "title", "keywords", "first_published_at", "last_published_at",
	"article_count", "publisher_count", "status", "fingerprint", "headline", "signal_summary",
	"created_at", "updated_at",
}

// UpsertIssue creates or updates the issue identified by issue.Fingerprint
// and maps articles to it, all inside one transaction.
//
// On create the issue starts OPEN with the given first/last publish times.
// On update only keywords and last_published_at (kept at the maximum) move;
// title, fingerprint and first_published_at are never rewritten. Mappings
// are insert-or-ignore, and the article/publisher counts are recomputed
// from the mapping table so repeated runs converge on the union.
// Thread-safe: acquires write lock.
func (s *Store) UpsertIssue(ctx context.Context, issue Issue, articles []Article) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if issue.Fingerprint == "" {
		return UpsertResult{}, errors.New("upsert issue: empty fingerprint")
	}

	keywords, err := json.Marshal(issue.Keywords)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode keywords: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	var res UpsertResult

	var lastPublished time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, last_published_at FROM issues WHERE fingerprint = ?`,
		issue.Fingerprint,
	).Scan(&res.IssueID, &lastPublished)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO issues (
				group_name, title, keywords, first_published_at, last_published_at,
				article_count, publisher_count, status, fingerprint, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)
		`,
			issue.Group.String(),
			issue.Title,
			string(keywords),
			issue.FirstPublishedAt.UTC(),
			issue.LastPublishedAt.UTC(),
			string(IssueOpen),
			issue.Fingerprint,
			now,
			now,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert issue: %w", err)
		}
		if res.IssueID, err = result.LastInsertId(); err != nil {
			return UpsertResult{}, fmt.Errorf("insert issue id: %w", err)
		}
		res.Created = true

	case err != nil:
		return UpsertResult{}, fmt.Errorf("find issue by fingerprint: %w", err)

	default:
		if issue.LastPublishedAt.After(lastPublished) {
			lastPublished = issue.LastPublishedAt
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE issues SET keywords = ?, last_published_at = ?, updated_at = ? WHERE id = ?`,
			string(keywords), lastPublished.UTC(), now, res.IssueID,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("update issue: %w", err)
		}
	}

	for _, a := range articles {
		result, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO issue_articles (issue_id, article_link, publisher, published_at, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, res.IssueID, a.Link, a.Publisher, a.PublishedAt.UTC(), now)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("map article %s: %w", a.Link, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			res.Mapped++
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE issues SET
			article_count = (SELECT COUNT(*) FROM issue_articles WHERE issue_id = ?),
			publisher_count = (SELECT COUNT(DISTINCT publisher) FROM issue_articles WHERE issue_id = ?)
		WHERE id = ?
	`, res.IssueID, res.IssueID, res.IssueID); err != nil {
		return UpsertResult{}, fmt.Errorf("recount issue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// FindIssueByFingerprint returns the issue with the given fingerprint or ErrNotFound.
// Thread-safe: acquires read lock.
func (s *Store) FindIssueByFingerprint(ctx context.Context, fingerprint string) (Issue, error) {
	return s.findIssue(ctx, sq.Eq{"fingerprint": fingerprint})
}

// FindIssueByID returns the issue with the given ID or ErrNotFound.
// Thread-safe: acquires read lock.
func (s *Store) FindIssueByID(ctx context.Context, id int64) (Issue, error) {
	return s.findIssue(ctx, sq.Eq{"id": id})
}

func (s *Store) findIssue(ctx context.Context, where sq.Sqlizer) (Issue, error) {
	issues, err := s.selectIssues(ctx, sq.Select(issueColumns...).From("issues").Where(where).Limit(1))
	if err != nil {
		return Issue{}, err
	}
	if len(issues) == 0 {
		return Issue{}, ErrNotFound
	}
	return issues[0], nil
}

// ListIssues returns issues matching f, most recently active first.
// Thread-safe: acquires read lock.
func (s *Store) ListIssues(ctx context.Context, f IssueFilter) ([]Issue, error) {
	b := sq.Select(issueColumns...).From("issues").OrderBy("last_published_at DESC", "id DESC")
	if f.Group.Valid() {
		b = b.Where(sq.Eq{"group_name": f.Group.String()})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"last_published_at": f.Since.UTC()})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	return s.selectIssues(ctx, b)
}

// FindCardGenerationTargets returns issues active since the given time that
// have at least two articles from at least two publishers, newest first.
// Thread-safe: acquires read lock.
func (s *Store) FindCardGenerationTargets(ctx context.Context, since time.Time, limit int) ([]Issue, error) {
	b := sq.Select(issueColumns...).
		From("issues").
		Where(sq.GtOrEq{"last_published_at": since.UTC()}).
		Where(sq.GtOrEq{"publisher_count": 2}).
		Where(sq.GtOrEq{"article_count": 2}).
		OrderBy("last_published_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.selectIssues(ctx, b)
}

// FindArticleLinksByIssueID returns the links mapped to an issue, newest first.
// Thread-safe: acquires read lock.
func (s *Store) FindArticleLinksByIssueID(ctx context.Context, issueID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT article_link FROM issue_articles
		WHERE issue_id = ?
		ORDER BY published_at DESC, article_link
	`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// CountIssueArticlesSince counts articles mapped to an issue that were
// published at or after since.
// Thread-safe: acquires read lock.
func (s *Store) CountIssueArticlesSince(ctx context.Context, issueID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issue_articles WHERE issue_id = ? AND published_at >= ?`,
		issueID, since.UTC(),
	).Scan(&n)
	return n, err
}

// FindActiveIssueIDs returns the IDs of issues with any article mapped
// that was published at or after since, in ascending order.
// Thread-safe: acquires read lock.
func (s *Store) FindActiveIssueIDs(ctx context.Context, since time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT issue_id FROM issue_articles WHERE published_at >= ? ORDER BY issue_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindIssueStatsSince returns issues with articles published at or after
// since, together with the article and publisher counts inside that window.
// Most recently active issues come first.
// Thread-safe: acquires read lock.
func (s *Store) FindIssueStatsSince(ctx context.Context, since time.Time, limit int) ([]IssueStat, error) {
	cols := make([]string, 0, len(issueColumns)+2)
	for _, c := range issueColumns {
		cols = append(cols, "i."+c)
	}
	cols = append(cols, "COUNT(ia.article_link)", "COUNT(DISTINCT ia.publisher)")

	b := sq.Select(cols...).
		From("issues i").
		Join("issue_articles ia ON ia.issue_id = i.id").
		Where(sq.GtOrEq{"ia.published_at": since.UTC()}).
		GroupBy("i.id").
		OrderBy("i.last_published_at DESC", "i.id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stats query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []IssueStat
	for rows.Next() {
		var st IssueStat
		issue, err := scanIssue(rows, &st.RecentArticles, &st.RecentPublishers)
		if err != nil {
			return nil, err
		}
		st.Issue = issue
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// UpdateIssueSummary stores the card-derived headline and signal summary.
// Thread-safe: acquires write lock.
func (s *Store) UpdateIssueSummary(ctx context.Context, issueID int64, headline, signalSummary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET headline = ?, signal_summary = ?, updated_at = ? WHERE id = ?`,
		headline, signalSummary, s.now().UTC(), issueID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIssueStatus opens or closes an issue.
// Thread-safe: acquires write lock.
func (s *Store) SetIssueStatus(ctx context.Context, issueID int64, status IssueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), issueID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// selectIssues runs a built SELECT over issueColumns.
// Acquires read lock.
func (s *Store) selectIssues(ctx context.Context, b sq.SelectBuilder) ([]Issue, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build issue query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// scanIssue scans issueColumns, followed by any extra destinations.
func scanIssue(rows *sql.Rows, extra ...any) (Issue, error) {
	var (
		issue                   Issue
		groupName, keywords     string
		status                  string
		headline, signalSummary sql.NullString
	)
	dest := []any{
		&issue.ID,
		&groupName,
		&issue.Title,
		&keywords,
		&issue.FirstPublishedAt,
		&issue.LastPublishedAt,
		&issue.ArticleCount,
		&issue.PublisherCount,
		&status,
		&issue.Fingerprint,
		&headline,
		&signalSummary,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Issue{}, err
	}

	g, err := category.Parse(groupName)
	if err != nil {
		return Issue{}, err
	}
	issue.Group = g
	issue.Status = IssueStatus(status)
	issue.Headline = headline.String
	issue.SignalSummary = signalSummary.String
	if err := json.Unmarshal([]byte(keywords), &issue.Keywords); err != nil {
		return Issue{}, fmt.Errorf("decode keywords for issue %d: %w", issue.ID, err)
	}
	return issue, nil
}

// Package store provides SQLite persistence for econpulse.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations

	now func() time.Time
}

// Article is one collected news article. Link is the natural key.
type Article struct {
	ID          string
	Title       string
	Summary     string
	Link        string
	Publisher   string
	PublishedAt time.Time
	Category    string
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database, so an
	// in-memory store must stay on a single connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT,
		link TEXT NOT NULL UNIQUE,
		publisher TEXT NOT NULL,
		published_at DATETIME NOT NULL,
		category TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC);

	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_name TEXT NOT NULL,
		title TEXT NOT NULL,
		keywords TEXT NOT NULL,
		first_published_at DATETIME NOT NULL,
		last_published_at DATETIME NOT NULL,
		article_count INTEGER NOT NULL DEFAULT 0,
		publisher_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'OPEN',
		fingerprint TEXT NOT NULL UNIQUE,
		headline TEXT,
		signal_summary TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_last_published ON issues(last_published_at DESC);

	CREATE TABLE IF NOT EXISTS issue_articles (
		issue_id INTEGER NOT NULL,
		article_link TEXT NOT NULL,
		publisher TEXT NOT NULL,
		published_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (issue_id, article_link)
	);

	CREATE INDEX IF NOT EXISTS idx_issue_articles_published ON issue_articles(published_at);

	CREATE TABLE IF NOT EXISTS issue_lifecycles (
		issue_id INTEGER PRIMARY KEY,
		stage TEXT NOT NULL,
		change_percent INTEGER NOT NULL,
		peak_article_count INTEGER NOT NULL,
		current_article_count INTEGER NOT NULL,
		peak_date DATETIME,
		stage_changed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issue_article_histories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL,
		article_count INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_histories_issue ON issue_article_histories(issue_id, recorded_at);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		rss_saved INTEGER NOT NULL,
		issues_created INTEGER NOT NULL,
		issues_updated INTEGER NOT NULL,
		issues_skipped INTEGER NOT NULL,
		cards_created INTEGER NOT NULL,
		cards_skipped INTEGER NOT NULL,
		cards_failed INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_stage TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS cards (
		issue_id INTEGER PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		status TEXT NOT NULL,
		model TEXT,
		content TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS card_generation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		success INTEGER NOT NULL,
		http_status INTEGER,
		error_message TEXT,
		latency_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// ArticleID derives the deterministic article ID from its link.
func ArticleID(link string) string {
	h := sha256.Sum256([]byte(link))
	return hex.EncodeToString(h[:8])
}

// SaveArticles stores articles, returning count of new articles inserted.
// Duplicates (by link) are silently ignored via INSERT OR IGNORE.
// Thread-safe: acquires write lock.
func (s *Store) SaveArticles(ctx context.Context, articles []Article) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO articles (
			id, title, summary, link, publisher, published_at, category, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := s.now().UTC()
	newCount := 0
	for _, a := range articles {
		id := a.ID
		if id == "" {
			id = ArticleID(a.Link)
		}
		result, err := stmt.ExecContext(ctx,
			id,
			a.Title,
			a.Summary,
			a.Link,
			a.Publisher,
			a.PublishedAt.UTC(),
			a.Category,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert article %s: %w", a.Link, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected > 0 {
			newCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newCount, nil
}

// FindRecentArticles returns articles published at or after since,
// newest first, capped at limit.
// Thread-safe: acquires read lock.
func (s *Store) FindRecentArticles(ctx context.Context, since time.Time, limit int) ([]Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, title, summary, link, publisher, published_at, category
		FROM articles
		WHERE published_at >= ?
		ORDER BY published_at DESC
		LIMIT ?
	`
	return s.queryArticles(ctx, query, since.UTC(), limit)
}

// FindArticlesByIssueID returns the articles mapped to an issue, newest first.
// Thread-safe: acquires read lock.
func (s *Store) FindArticlesByIssueID(ctx context.Context, issueID int64) ([]Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT a.id, a.title, a.summary, a.link, a.publisher, a.published_at, a.category
		FROM issue_articles ia
		JOIN articles a ON a.link = ia.article_link
		WHERE ia.issue_id = ?
		ORDER BY a.published_at DESC
	`
	return s.queryArticles(ctx, query, issueID)
}

// queryArticles is a helper that executes a query and scans results into Articles.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) queryArticles(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		var summary, category sql.NullString
		if err := rows.Scan(
			&a.ID,
			&a.Title,
			&summary,
			&a.Link,
			&a.Publisher,
			&a.PublishedAt,
			&category,
		); err != nil {
			return nil, err
		}
		a.Summary = summary.String
		a.Category = category.String
		articles = append(articles, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return articles, nil
}

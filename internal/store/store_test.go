package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/econpulse/internal/category"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func article(link, publisher string, published time.Time) Article {
	return Article{
		Title:       "title " + link,
		Summary:     "summary " + link,
		Link:        link,
		Publisher:   publisher,
		PublishedAt: published,
		Category:    "economy",
	}
}

func TestOpen(t *testing.T) {
	st := openTestStore(t)

	for _, table := range []string{"articles", "issues", "issue_articles", "issue_lifecycles",
		"issue_article_histories", "pipeline_runs", "cards", "card_generation_logs"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not created: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	if err := st.createTables(); err != nil {
		t.Fatalf("second createTables failed: %v", err)
	}
}

func TestSaveArticlesDuplicate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	articles := []Article{
		article("http://a/1", "X", now),
		article("http://a/2", "Y", now),
	}
	n, err := st.SaveArticles(ctx, articles)
	if err != nil {
		t.Fatalf("SaveArticles failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 new articles, got %d", n)
	}

	articles = append(articles, article("http://a/3", "Z", now))
	n, err = st.SaveArticles(ctx, articles)
	if err != nil {
		t.Fatalf("SaveArticles failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 new article on resave, got %d", n)
	}
}

func TestSaveArticlesEmptySlice(t *testing.T) {
	st := openTestStore(t)
	n, err := st.SaveArticles(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("SaveArticles(nil) = %d, %v", n, err)
	}
}

func TestFindRecentArticles(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	_, err := st.SaveArticles(ctx, []Article{
		article("http://a/old", "X", now.Add(-72*time.Hour)),
		article("http://a/mid", "X", now.Add(-10*time.Hour)),
		article("http://a/new", "Y", now.Add(-1*time.Hour)),
	})
	if err != nil {
		t.Fatalf("SaveArticles failed: %v", err)
	}

	got, err := st.FindRecentArticles(ctx, now.Add(-48*time.Hour), 10)
	if err != nil {
		t.Fatalf("FindRecentArticles failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 recent articles, got %d", len(got))
	}
	if got[0].Link != "http://a/new" || got[1].Link != "http://a/mid" {
		t.Errorf("unexpected order: %s, %s", got[0].Link, got[1].Link)
	}
	if !got[0].PublishedAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("published time not preserved: %v", got[0].PublishedAt)
	}
	if got[0].ID != ArticleID("http://a/new") {
		t.Errorf("expected derived ID, got %q", got[0].ID)
	}

	limited, err := st.FindRecentArticles(ctx, now.Add(-48*time.Hour), 1)
	if err != nil {
		t.Fatalf("FindRecentArticles failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to cap results at 1, got %d", len(limited))
	}
}

func testIssue(t0 time.Time) Issue {
	return Issue{
		Group:            category.Rate,
		Title:            "금리 관련 이슈: 금리/동결",
		Keywords:         []string{"금리", "동결", "한은"},
		FirstPublishedAt: t0,
		LastPublishedAt:  t0.Add(time.Hour),
		Fingerprint:      "RATE:금리,동결,한은",
	}
}

func TestUpsertIssueCreate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().Add(-2 * time.Hour).Truncate(time.Second)

	res, err := st.UpsertIssue(ctx, testIssue(t0), []Article{
		article("http://a/1", "X", t0),
		article("http://a/2", "Y", t0.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	if !res.Created || res.Mapped != 2 {
		t.Errorf("expected created with 2 mappings, got %+v", res)
	}

	issue, err := st.FindIssueByFingerprint(ctx, "RATE:금리,동결,한은")
	if err != nil {
		t.Fatalf("FindIssueByFingerprint failed: %v", err)
	}
	if issue.ID != res.IssueID {
		t.Errorf("ID mismatch: %d vs %d", issue.ID, res.IssueID)
	}
	if issue.Group != category.Rate || issue.Status != IssueOpen {
		t.Errorf("unexpected group/status: %s/%s", issue.Group, issue.Status)
	}
	if issue.ArticleCount != 2 || issue.PublisherCount != 2 {
		t.Errorf("expected 2/2 counts, got %d/%d", issue.ArticleCount, issue.PublisherCount)
	}
	if len(issue.Keywords) != 3 || issue.Keywords[0] != "금리" {
		t.Errorf("keywords not round-tripped: %v", issue.Keywords)
	}
}

func TestUpsertIssueConvergesOnUnion(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().Add(-5 * time.Hour).Truncate(time.Second)

	first := []Article{
		article("http://a/1", "X", t0),
		article("http://a/2", "Y", t0.Add(time.Hour)),
	}
	res1, err := st.UpsertIssue(ctx, testIssue(t0), first)
	if err != nil {
		t.Fatalf("first UpsertIssue failed: %v", err)
	}

	second := append(first, article("http://a/3", "Z", t0.Add(3*time.Hour)))
	update := testIssue(t0.Add(30 * time.Minute))
	update.Title = "changed title"
	update.Keywords = []string{"금리", "동결", "한은", "기준금리"}
	update.LastPublishedAt = t0.Add(3 * time.Hour)

	res2, err := st.UpsertIssue(ctx, update, second)
	if err != nil {
		t.Fatalf("second UpsertIssue failed: %v", err)
	}
	if res2.Created {
		t.Error("second upsert should update, not create")
	}
	if res2.IssueID != res1.IssueID {
		t.Errorf("expected same issue ID, got %d and %d", res1.IssueID, res2.IssueID)
	}
	if res2.Mapped != 1 {
		t.Errorf("expected 1 new mapping, got %d", res2.Mapped)
	}

	issues, err := st.ListIssues(ctx, IssueFilter{})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.ArticleCount != 3 || issue.PublisherCount != 3 {
		t.Errorf("expected union counts 3/3, got %d/%d", issue.ArticleCount, issue.PublisherCount)
	}
	if !issue.LastPublishedAt.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("last published not advanced: %v", issue.LastPublishedAt)
	}
	if !issue.FirstPublishedAt.Equal(t0) {
		t.Errorf("first published must not change: %v", issue.FirstPublishedAt)
	}
	if issue.Title != "금리 관련 이슈: 금리/동결" {
		t.Errorf("title must not change on update: %q", issue.Title)
	}
	if len(issue.Keywords) != 4 {
		t.Errorf("keywords should be updated, got %v", issue.Keywords)
	}
}

func TestUpsertIssueLastPublishedNeverMovesBack(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().Add(-5 * time.Hour).Truncate(time.Second)

	if _, err := st.UpsertIssue(ctx, testIssue(t0), nil); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	older := testIssue(t0.Add(-24 * time.Hour))
	if _, err := st.UpsertIssue(ctx, older, nil); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	issue, err := st.FindIssueByFingerprint(ctx, older.Fingerprint)
	if err != nil {
		t.Fatalf("FindIssueByFingerprint failed: %v", err)
	}
	if !issue.LastPublishedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("last published moved backwards: %v", issue.LastPublishedAt)
	}
}

func TestUpsertIssueRejectsEmptyFingerprint(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.UpsertIssue(context.Background(), Issue{Group: category.FX}, nil); err == nil {
		t.Error("expected error for empty fingerprint")
	}
}

func TestFindIssueNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.FindIssueByID(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindCardGenerationTargets(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	mk := func(fp string, last time.Time, articles []Article) int64 {
		issue := testIssue(last.Add(-time.Hour))
		issue.Fingerprint = fp
		issue.LastPublishedAt = last
		res, err := st.UpsertIssue(ctx, issue, articles)
		if err != nil {
			t.Fatalf("UpsertIssue(%s) failed: %v", fp, err)
		}
		return res.IssueID
	}

	good := mk("RATE:good", now.Add(-time.Hour), []Article{
		article("http://g/1", "X", now), article("http://g/2", "Y", now),
	})
	newer := mk("RATE:newer", now, []Article{
		article("http://n/1", "X", now), article("http://n/2", "Y", now),
	})
	mk("RATE:onepub", now, []Article{
		article("http://o/1", "X", now), article("http://o/2", "X", now),
	})
	mk("RATE:stale", now.Add(-72*time.Hour), []Article{
		article("http://s/1", "X", now), article("http://s/2", "Y", now),
	})

	targets, err := st.FindCardGenerationTargets(ctx, now.Add(-48*time.Hour), 50)
	if err != nil {
		t.Fatalf("FindCardGenerationTargets failed: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].ID != newer || targets[1].ID != good {
		t.Errorf("expected newest first, got %d, %d", targets[0].ID, targets[1].ID)
	}
}

func TestFindArticleLinksByIssueID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().Truncate(time.Second)

	articles := []Article{
		article("http://a/old", "X", t0.Add(-time.Hour)),
		article("http://a/new", "Y", t0),
	}
	if _, err := st.SaveArticles(ctx, articles); err != nil {
		t.Fatalf("SaveArticles failed: %v", err)
	}
	res, err := st.UpsertIssue(ctx, testIssue(t0), articles)
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	links, err := st.FindArticleLinksByIssueID(ctx, res.IssueID)
	if err != nil {
		t.Fatalf("FindArticleLinksByIssueID failed: %v", err)
	}
	if len(links) != 2 || links[0] != "http://a/new" {
		t.Errorf("unexpected links: %v", links)
	}

	full, err := st.FindArticlesByIssueID(ctx, res.IssueID)
	if err != nil {
		t.Fatalf("FindArticlesByIssueID failed: %v", err)
	}
	if len(full) != 2 || full[0].Title != "title http://a/new" {
		t.Errorf("unexpected articles: %+v", full)
	}
}

func TestListIssuesFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().Truncate(time.Second)

	rate := testIssue(t0)
	fx := testIssue(t0)
	fx.Group = category.FX
	fx.Fingerprint = "FX:달러,환율,강세"
	for _, is := range []Issue{rate, fx} {
		if _, err := st.UpsertIssue(ctx, is, nil); err != nil {
			t.Fatalf("UpsertIssue failed: %v", err)
		}
	}

	got, err := st.ListIssues(ctx, IssueFilter{Group: category.FX})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(got) != 1 || got[0].Group != category.FX {
		t.Errorf("expected only FX issue, got %+v", got)
	}

	got, err = st.ListIssues(ctx, IssueFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 issue with limit/offset, got %d", len(got))
	}
}

func TestActiveIssuesAndCounts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	active, err := st.UpsertIssue(ctx, testIssue(now), []Article{
		article("http://a/1", "X", now.Add(-2*time.Hour)),
		article("http://a/2", "Y", now.Add(-30*time.Hour)),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	stale := testIssue(now)
	stale.Fingerprint = "RATE:stale"
	if _, err := st.UpsertIssue(ctx, stale, []Article{
		article("http://s/1", "X", now.Add(-10*24*time.Hour)),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	ids, err := st.FindActiveIssueIDs(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("FindActiveIssueIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != active.IssueID {
		t.Errorf("expected only active issue, got %v", ids)
	}

	n, err := st.CountIssueArticlesSince(ctx, active.IssueID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountIssueArticlesSince failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 article in last 24h, got %d", n)
	}
}

func TestFindIssueStatsSince(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	res, err := st.UpsertIssue(ctx, testIssue(now.Add(-3*time.Hour)), []Article{
		article("http://a/1", "X", now.Add(-time.Hour)),
		article("http://a/2", "X", now.Add(-2*time.Hour)),
		article("http://a/3", "Y", now.Add(-3*time.Hour)),
		article("http://a/4", "Z", now.Add(-72*time.Hour)),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	old := testIssue(now.Add(-96 * time.Hour))
	old.Fingerprint = "RATE:old"
	if _, err := st.UpsertIssue(ctx, old, []Article{
		article("http://o/1", "X", now.Add(-96*time.Hour)),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	stats, err := st.FindIssueStatsSince(ctx, now.Add(-48*time.Hour), 10)
	if err != nil {
		t.Fatalf("FindIssueStatsSince failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 issue in window, got %d", len(stats))
	}
	got := stats[0]
	if got.ID != res.IssueID {
		t.Errorf("unexpected issue %d", got.ID)
	}
	if got.RecentArticles != 3 || got.RecentPublishers != 2 {
		t.Errorf("expected 3 articles from 2 publishers, got %d/%d", got.RecentArticles, got.RecentPublishers)
	}
	if got.ArticleCount != 4 {
		t.Errorf("total article count should be unaffected by window, got %d", got.ArticleCount)
	}
}

func TestUpdateIssueSummaryAndStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	res, err := st.UpsertIssue(ctx, testIssue(time.Now()), nil)
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	if err := st.UpdateIssueSummary(ctx, res.IssueID, "headline", "signal"); err != nil {
		t.Fatalf("UpdateIssueSummary failed: %v", err)
	}
	if err := st.SetIssueStatus(ctx, res.IssueID, IssueClosed); err != nil {
		t.Fatalf("SetIssueStatus failed: %v", err)
	}

	issue, err := st.FindIssueByID(ctx, res.IssueID)
	if err != nil {
		t.Fatalf("FindIssueByID failed: %v", err)
	}
	if issue.Headline != "headline" || issue.SignalSummary != "signal" || issue.Status != IssueClosed {
		t.Errorf("unexpected issue state: %+v", issue)
	}

	if err := st.UpdateIssueSummary(ctx, 999, "h", "s"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing issue, got %v", err)
	}
}

func TestLifecycleRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	if _, err := st.FindLifecycle(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	lc := Lifecycle{
		IssueID:             1,
		Stage:               "EMERGING",
		PeakArticleCount:    4,
		CurrentArticleCount: 4,
		StageChangedAt:      now,
	}
	if err := st.SaveLifecycle(ctx, lc, now); err != nil {
		t.Fatalf("SaveLifecycle failed: %v", err)
	}

	got, err := st.FindLifecycle(ctx, 1)
	if err != nil {
		t.Fatalf("FindLifecycle failed: %v", err)
	}
	if got.Stage != "EMERGING" || got.PeakDate != nil {
		t.Errorf("unexpected lifecycle: %+v", got)
	}

	peak := now.Add(-time.Hour)
	lc.Stage = "PEAK"
	lc.ChangePercent = -5
	lc.PeakDate = &peak
	if err := st.SaveLifecycle(ctx, lc, now.Add(time.Minute)); err != nil {
		t.Fatalf("SaveLifecycle failed: %v", err)
	}
	got, err = st.FindLifecycle(ctx, 1)
	if err != nil {
		t.Fatalf("FindLifecycle failed: %v", err)
	}
	if got.Stage != "PEAK" || got.ChangePercent != -5 {
		t.Errorf("lifecycle not updated: %+v", got)
	}
	if got.PeakDate == nil || !got.PeakDate.Equal(peak) {
		t.Errorf("peak date not stored: %v", got.PeakDate)
	}

	history, err := st.FindHistorySince(ctx, 1, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindHistorySince failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected one history sample per save, got %d", len(history))
	}
}

func TestDeleteHistoryBefore(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	for i, age := range []time.Duration{10 * 24 * time.Hour, 8 * 24 * time.Hour, time.Hour} {
		lc := Lifecycle{IssueID: 1, Stage: "DECLINING", CurrentArticleCount: i, StageChangedAt: now.Add(-age)}
		if err := st.SaveLifecycle(ctx, lc, now.Add(-age)); err != nil {
			t.Fatalf("SaveLifecycle failed: %v", err)
		}
	}

	n, err := st.DeleteHistoryBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteHistoryBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned rows, got %d", n)
	}

	history, err := st.FindHistorySince(ctx, 1, time.Time{})
	if err != nil {
		t.Fatalf("FindHistorySince failed: %v", err)
	}
	if len(history) != 1 || history[0].ArticleCount != 2 {
		t.Errorf("unexpected remaining history: %+v", history)
	}
}

func TestPipelineRuns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	if _, err := st.LatestRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no runs, got %v", err)
	}

	for i := 0; i < 3; i++ {
		run := PipelineRun{
			ID:         fmt.Sprintf("run-%d", i),
			StartedAt:  now.Add(time.Duration(i) * time.Minute),
			FinishedAt: now.Add(time.Duration(i)*time.Minute + time.Second),
			DurationMs: 1000,
			Status:     "SUCCESS",
		}
		if i == 2 {
			run.Status = "FAILED"
			run.ErrorStage = "ISSUE_CLUSTER"
			run.ErrorMessage = strings.Repeat("x", maxErrorMessage+100)
		}
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	latest, err := st.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest.ID != "run-2" || latest.ErrorStage != "ISSUE_CLUSTER" {
		t.Errorf("unexpected latest run: %s %s", latest.ID, latest.ErrorStage)
	}
	if len(latest.ErrorMessage) != maxErrorMessage {
		t.Errorf("expected error message truncated to %d, got %d", maxErrorMessage, len(latest.ErrorMessage))
	}

	runs, err := st.FindRecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("FindRecentRuns failed: %v", err)
	}
	if len(runs) != 3 || runs[2].ErrorStage != "" {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestCards(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	active, err := st.HasActiveCard(ctx, 7)
	if err != nil || active {
		t.Fatalf("HasActiveCard on empty = %v, %v", active, err)
	}

	if err := st.SaveCard(ctx, Card{IssueID: 7, Fingerprint: "fp", Status: CardFailed, Content: "not json"}); err != nil {
		t.Fatalf("SaveCard failed: %v", err)
	}
	if active, _ := st.HasActiveCard(ctx, 7); active {
		t.Error("FAILED card must not count as active")
	}

	if err := st.SaveCard(ctx, Card{IssueID: 7, Fingerprint: "fp", Status: CardActive, Model: "m", Content: "{}"}); err != nil {
		t.Fatalf("SaveCard failed: %v", err)
	}
	if active, _ := st.HasActiveCard(ctx, 7); !active {
		t.Error("expected active card after upsert")
	}

	card, err := st.FindCard(ctx, 7)
	if err != nil {
		t.Fatalf("FindCard failed: %v", err)
	}
	if card.Status != CardActive || card.Model != "m" {
		t.Errorf("unexpected card: %+v", card)
	}

	for i := 1; i <= 2; i++ {
		if err := st.SaveCardLog(ctx, CardGenerationLog{IssueID: 7, Fingerprint: "fp", Attempt: i, HTTPStatus: 200}); err != nil {
			t.Fatalf("SaveCardLog failed: %v", err)
		}
	}
	if n, _ := st.CountCardLogs(ctx, 7); n != 2 {
		t.Errorf("expected 2 card logs, got %d", n)
	}
}

func TestConcurrentUpsertSameFingerprint(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().Truncate(time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.UpsertIssue(ctx, testIssue(t0), []Article{
				article(fmt.Sprintf("http://c/%d", i), fmt.Sprintf("P%d", i%3), t0),
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent upsert failed: %v", err)
	}

	issues, err := st.ListIssues(ctx, IssueFilter{})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if issues[0].ArticleCount != 10 || issues[0].PublisherCount != 3 {
		t.Errorf("expected counts 10/3, got %d/%d", issues[0].ArticleCount, issues[0].PublisherCount)
	}
}

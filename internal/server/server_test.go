package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/econpulse/internal/category"
	"github.com/abelbrown/econpulse/internal/coord"
	"github.com/abelbrown/econpulse/internal/store"
)

type fixture struct {
	srv     *Server
	st      *store.Store
	issueID int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	now := time.Now().Add(-time.Hour).Truncate(time.Second)
	articles := []store.Article{
		{Title: "한은 기준금리 동결", Summary: "금통위 결정", Link: "http://a/1", Publisher: "매일경제", PublishedAt: now},
		{Title: "기준금리 3.5% 유지", Summary: "만장일치", Link: "http://a/2", Publisher: "한국경제", PublishedAt: now.Add(-time.Hour)},
	}
	if _, err := st.SaveArticles(ctx, articles); err != nil {
		t.Fatalf("SaveArticles failed: %v", err)
	}
	res, err := st.UpsertIssue(ctx, store.Issue{
		Group:            category.Rate,
		Title:            "금리 관련 이슈: 금리/동결",
		Keywords:         []string{"금리", "동결", "기준금리"},
		FirstPublishedAt: now.Add(-time.Hour),
		LastPublishedAt:  now,
		Fingerprint:      "RATE:금리,기준금리,동결",
	}, articles)
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	return fixture{srv: New(st, FeedOptions{Title: "EconPulse", Link: "http://example.test/", Description: "issues"}), st: st, issueID: res.IssueID}
}

func (f fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "UP" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestPipelineHealth(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		LastRun json.RawMessage `json:"lastRun"`
	}
	decode(t, f.get(t, "/api/health/pipeline"), &body)
	if body.Status != "UNKNOWN" || string(body.LastRun) != "null" {
		t.Errorf("expected UNKNOWN before any run, got %+v", body)
	}

	now := time.Now()
	if err := f.st.SaveRun(context.Background(), store.PipelineRun{
		ID: "run-1", StartedAt: now, FinishedAt: now, Status: "FAILED", ErrorStage: "ISSUE_CLUSTER",
	}); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	decode(t, f.get(t, "/api/health/pipeline"), &body)
	if body.Status != "FAILED" || !strings.Contains(body.Message, "ISSUE_CLUSTER") {
		t.Errorf("unexpected health %+v", body)
	}
}

func TestIssueList(t *testing.T) {
	f := newFixture(t)

	var issues []issueResponse
	rec := f.get(t, "/api/issues?group=rate")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &issues)
	if len(issues) != 1 || issues[0].ID != f.issueID {
		t.Fatalf("unexpected issues %+v", issues)
	}
	if issues[0].Group != "RATE" || issues[0].ArticleCount != 2 || issues[0].Lifecycle != nil {
		t.Errorf("unexpected issue %+v", issues[0])
	}

	decode(t, f.get(t, "/api/issues?group=FX"), &issues)
	if len(issues) != 0 {
		t.Errorf("expected no FX issues, got %d", len(issues))
	}

	for _, bad := range []string{"/api/issues?group=nope", "/api/issues?limit=0", "/api/issues?status=x", "/api/issues?offset=-1"} {
		if rec := f.get(t, bad); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestIssueDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	if err := f.st.SaveLifecycle(ctx, store.Lifecycle{
		IssueID: f.issueID, Stage: "SPREADING", ChangePercent: 0,
		PeakArticleCount: 2, CurrentArticleCount: 2, PeakDate: &now, StageChangedAt: now,
	}, now); err != nil {
		t.Fatalf("SaveLifecycle failed: %v", err)
	}
	if err := f.st.SaveCard(ctx, store.Card{
		IssueID: f.issueID, Fingerprint: "RATE:금리,기준금리,동결", Status: store.CardActive,
		Model: "m", Content: `{"headline":"한은 기준금리 동결"}`,
	}); err != nil {
		t.Fatalf("SaveCard failed: %v", err)
	}

	rec := f.get(t, "/api/issues/"+itoa(f.issueID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ID        int64 `json:"id"`
		Lifecycle struct {
			Stage string `json:"stage"`
			Label string `json:"label"`
		} `json:"lifecycle"`
		Articles []articleResponse `json:"articles"`
		Card     map[string]string `json:"card"`
	}
	decode(t, rec, &body)
	if body.Lifecycle.Stage != "SPREADING" || body.Lifecycle.Label == "" {
		t.Errorf("unexpected lifecycle %+v", body.Lifecycle)
	}
	if len(body.Articles) != 2 || body.Articles[0].Link != "http://a/1" {
		t.Errorf("unexpected articles %+v", body.Articles)
	}
	if body.Card["headline"] != "한은 기준금리 동결" {
		t.Errorf("card not embedded: %v", body.Card)
	}

	if rec := f.get(t, "/api/issues/999"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := f.get(t, "/api/issues/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTrending(t *testing.T) {
	f := newFixture(t)
	var out []trendingResponse
	rec := f.get(t, "/api/trending?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	decode(t, rec, &out)
	if len(out) != 1 || out[0].RecentArticles != 2 || out[0].RecentPublishers != 2 || out[0].Score <= 0 {
		t.Errorf("unexpected trending %+v", out)
	}
}

func TestRSS(t *testing.T) {
	f := newFixture(t)
	if err := f.st.UpdateIssueSummary(context.Background(), f.issueID, "한은, 기준금리 동결", "대출 금리 유지"); err != nil {
		t.Fatalf("UpdateIssueSummary failed: %v", err)
	}

	rec := f.get(t, "/api/issues.rss")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("unexpected content type %s", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"<rss", "EconPulse", "한은, 기준금리 동결", "http://example.test/api/issues/" + itoa(f.issueID)} {
		if !strings.Contains(body, want) {
			t.Errorf("feed missing %q", want)
		}
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestRunJob(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	job := coord.NewJob("pipeline", func(ctx context.Context) {
		runs.Add(1)
		close(started)
		<-release
	})
	f.srv.AddJob(context.Background(), job)

	post := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec
	}

	if rec := post("/api/jobs/pipeline"); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not started")
	}

	if rec := post("/api/jobs/pipeline"); rec.Code != http.StatusConflict {
		t.Errorf("second trigger while running: expected 409, got %d", rec.Code)
	}
	if rec := post("/api/jobs/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", rec.Code)
	}
	if rec := f.get(t, "/api/jobs/pipeline"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET trigger: expected 405, got %d", rec.Code)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for job.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if job.Running() {
		t.Fatal("job did not finish")
	}
	if runs.Load() != 1 {
		t.Errorf("expected exactly 1 run, got %d", runs.Load())
	}
}

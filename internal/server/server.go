// Package server exposes issues, lifecycles, trending and pipeline
// health over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abelbrown/econpulse/internal/category"
	"github.com/abelbrown/econpulse/internal/lifecycle"
	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/pipeline"
	"github.com/abelbrown/econpulse/internal/ranking"
	"github.com/abelbrown/econpulse/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	requestTimeout  = 30 * time.Second
)

// FeedOptions describes the issues RSS channel.
type FeedOptions struct {
	Title       string
	Link        string
	Description string
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	store     *store.Store
	lifecycle *lifecycle.Service
	feed      FeedOptions
	jobs      map[string]trigger
	now       func() time.Time
}

// New creates a new server instance
func New(s *store.Store, feed FeedOptions) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		store:     s,
		lifecycle: lifecycle.NewService(s),
		feed:      feed,
		jobs:      make(map[string]trigger),
		now:       time.Now,
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/health/pipeline", s.handlePipelineHealth)
		r.Get("/issues", s.handleIssueList)
		r.Get("/issues.rss", s.handleRSS)
		r.Get("/issues/{id}", s.handleIssueDetail)
		r.Get("/trending", s.handleTrending)
		r.Post("/jobs/{name}", s.handleRunJob)
	})
}

// Router returns the Chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs each request through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) handlePipelineHealth(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusOK, pipeline.HealthOf(nil))
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load pipeline runs", err)
	default:
		writeJSON(w, http.StatusOK, pipeline.HealthOf(&run))
	}
}

func (s *Server) handleIssueList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IssueFilter{Limit: defaultPageSize}

	if name := q.Get("group"); name != "" {
		g, err := category.Parse(strings.ToUpper(name))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown group", err)
			return
		}
		filter.Group = g
	}
	if status := q.Get("status"); status != "" {
		switch st := store.IssueStatus(status); st {
		case store.IssueOpen, store.IssueClosed:
			filter.Status = st
		default:
			writeError(w, http.StatusBadRequest, "unknown status", nil)
			return
		}
	}
	var ok bool
	if filter.Limit, ok = intParam(q.Get("limit"), defaultPageSize, 1, maxPageSize); !ok {
		writeError(w, http.StatusBadRequest, "invalid limit", nil)
		return
	}
	if filter.Offset, ok = intParam(q.Get("offset"), 0, 0, -1); !ok {
		writeError(w, http.StatusBadRequest, "invalid offset", nil)
		return
	}

	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list issues", err)
		return
	}

	out := make([]issueResponse, 0, len(issues))
	for _, issue := range issues {
		resp := newIssueResponse(issue)
		resp.Lifecycle = s.lifecycleFor(r, issue.ID)
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIssueDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue id", err)
		return
	}

	issue, err := s.store.FindIssueByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "issue not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load issue", err)
		return
	}

	articles, err := s.store.FindArticlesByIssueID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load articles", err)
		return
	}

	resp := issueDetailResponse{issueResponse: newIssueResponse(issue)}
	resp.Lifecycle = s.lifecycleFor(r, id)
	resp.Articles = make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		resp.Articles = append(resp.Articles, articleResponse{
			Title:       a.Title,
			Link:        a.Link,
			Publisher:   a.Publisher,
			PublishedAt: a.PublishedAt,
		})
	}

	c, err := s.store.FindCard(r.Context(), id)
	switch {
	case err == nil && c.Status == store.CardActive && json.Valid([]byte(c.Content)):
		resp.Card = json.RawMessage(c.Content)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		logging.Warn("http: card lookup failed", "issue", id, "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r.URL.Query().Get("limit"), 10, 1, maxPageSize)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit", nil)
		return
	}

	scored, err := ranking.Trending(r.Context(), s.store, s.now(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rank issues", err)
		return
	}

	out := make([]trendingResponse, 0, len(scored))
	for _, sc := range scored {
		out = append(out, trendingResponse{
			issueResponse:    newIssueResponse(sc.Issue),
			Score:            sc.Score,
			RecentArticles:   sc.RecentArticles,
			RecentPublishers: sc.RecentPublishers,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// lifecycleFor returns nil when the issue has not been swept yet.
func (s *Server) lifecycleFor(r *http.Request, issueID int64) *lifecycleResponse {
	lc, stage, err := s.lifecycle.Get(r.Context(), issueID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Warn("http: lifecycle lookup failed", "issue", issueID, "error", err)
		}
		return nil
	}
	return newLifecycleResponse(lc, stage)
}

// intParam parses an optional integer query parameter. max < 0 means
// unbounded.
func intParam(raw string, def, min, max int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, false
	}
	if max >= 0 && n > max {
		n = max
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("http: encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		logging.Error("http: "+msg, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

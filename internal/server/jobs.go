package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abelbrown/econpulse/internal/coord"
)

type trigger struct {
	job *coord.Job
	ctx context.Context
}

// AddJob exposes j at POST /api/jobs/{name}. Triggered runs get ctx, not
// the request context, so they outlive the request. Call before serving.
func (s *Server) AddJob(ctx context.Context, j *coord.Job) {
	s.jobs[j.Name()] = trigger{job: j, ctx: ctx}
}

// handleRunJob starts a registered job in the background. It shares the
// job's run flag with the scheduler, so a running job is not started twice.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	t, ok := s.jobs[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job", nil)
		return
	}
	if t.job.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{"job": name, "status": "already running"})
		return
	}

	go t.job.TryRun(t.ctx)
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
}

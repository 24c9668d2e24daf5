package coord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/abelbrown/econpulse/internal/logging"
)

// Default cron specs, with a leading seconds field.
const (
	DefaultPipelineSpec  = "0 */10 * * * *"
	DefaultLifecycleSpec = "0 0 * * * *"
)

// stopTimeout bounds how long Stop waits for running jobs.
const stopTimeout = 5 * time.Second

// Scheduler triggers Jobs on cron specs.
// Uses context cancellation to signal running jobs on Stop.
type Scheduler struct {
	cron *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []*Job
}

// NewScheduler creates a Scheduler that accepts six-field specs.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		ctx:  context.Background(),
	}
}

// Add registers j to run on spec.
func (s *Scheduler) Add(spec string, j *Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		j.TryRun(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", j.Name(), spec, err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	logging.Info("coord: job scheduled", "job", j.Name(), "spec", spec)
	return nil
}

// Start begins triggering jobs. Jobs receive a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	logging.Info("coord: scheduler started", "jobs", n)
}

// Stop halts triggering, cancels running jobs and waits up to five
// seconds for them to return. It reports whether they all finished.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		logging.Info("coord: scheduler stopped")
		return true
	case <-time.After(stopTimeout):
		logging.Warn("coord: scheduler stop timed out", "timeout", stopTimeout)
		return false
	}
}

// Package coord schedules the background jobs.
//
// Each Job carries its own run flag so overlapping triggers of the same
// job are skipped, not queued. Different jobs may run concurrently.
package coord

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/abelbrown/econpulse/internal/logging"
)

// Job is a named unit of background work guarded by a run flag.
type Job struct {
	name    string
	fn      func(ctx context.Context)
	running atomic.Bool
}

// NewJob creates a Job.
func NewJob(name string, fn func(ctx context.Context)) *Job {
	return &Job{name: name, fn: fn}
}

func (j *Job) Name() string { return j.name }

// Running reports whether the job is executing right now.
func (j *Job) Running() bool { return j.running.Load() }

// TryRun runs the job unless it is already running. It returns false
// when the run was skipped. Scheduled and manual triggers share the flag.
func (j *Job) TryRun(ctx context.Context) (ran bool) {
	if !j.running.CompareAndSwap(false, true) {
		logging.Warn("coord: job already running, skipping", "job", j.name)
		return false
	}
	defer j.running.Store(false)
	ran = true

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("coord: job panicked", "job", j.name, "panic", fmt.Sprint(r))
		}
		logging.Debug("coord: job finished", "job", j.name, "elapsed", time.Since(start).Round(time.Millisecond))
	}()

	j.fn(ctx)
	return ran
}

// Package pipeline runs one collection, clustering and card generation
// pass and records the outcome.
//
// Stage failures degrade the run instead of aborting it where possible:
// a failed collection reuses stale articles (PARTIAL), a failed
// clustering stops before cards (FAILED), and per-issue card failures
// count against the run (PARTIAL).
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/econpulse/internal/card"
	"github.com/abelbrown/econpulse/internal/cluster"
	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/store"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusFailed  Status = "FAILED"
)

// Stage names the step a run failed in.
type Stage string

const (
	StageCollect  Stage = "RSS_COLLECT"
	StageCluster  Stage = "ISSUE_CLUSTER"
	StageGenerate Stage = "CARD_GENERATE"
)

// Collector saves new articles and reports how many.
type Collector interface {
	Collect(ctx context.Context) (int, error)
}

// Clusterer groups recent articles into issues.
type Clusterer interface {
	ClusterRecent(ctx context.Context) (cluster.Result, error)
}

// CardGenerator writes cards for target issues.
type CardGenerator interface {
	GenerateForTargets(ctx context.Context) (card.BatchResult, error)
}

// runRecorder persists run history (interface for testing).
type runRecorder interface {
	SaveRun(ctx context.Context, run store.PipelineRun) error
}

// Orchestrator sequences the pipeline stages.
type Orchestrator struct {
	collector Collector
	clusterer Clusterer
	cards     CardGenerator
	runs      runRecorder
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. cards may be nil, in which
// case the card stage is skipped.
func NewOrchestrator(collector Collector, clusterer Clusterer, cards CardGenerator, runs runRecorder) *Orchestrator {
	return &Orchestrator{
		collector: collector,
		clusterer: clusterer,
		cards:     cards,
		runs:      runs,
		now:       time.Now,
	}
}

// RunOnce executes one pass and returns the recorded run. It never
// fails; the outcome is carried in the run's Status and ErrorStage.
func (o *Orchestrator) RunOnce(ctx context.Context) store.PipelineRun {
	run := store.PipelineRun{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Status:    string(StatusSuccess),
	}
	logging.Info("pipeline: started", "run", run.ID)

	saved, err := timed(StageCollect, func() (int, error) { return o.collector.Collect(ctx) })
	if err != nil {
		logging.Error("pipeline: collection failed", "run", run.ID, "error", err)
		run.Status = string(StatusPartial)
		run.ErrorStage = string(StageCollect)
		run.ErrorMessage = err.Error()
	} else {
		run.RSSSaved = saved
	}

	clustered, err := timed(StageCluster, func() (cluster.Result, error) { return o.clusterer.ClusterRecent(ctx) })
	if err != nil {
		logging.Error("pipeline: clustering failed", "run", run.ID, "error", err)
		run.Status = string(StatusFailed)
		run.ErrorStage = string(StageCluster)
		run.ErrorMessage = err.Error()
		return o.finish(ctx, run)
	}
	run.IssuesCreated = clustered.Created
	run.IssuesUpdated = clustered.Updated
	run.IssuesSkipped = clustered.Skipped

	if o.cards == nil {
		logging.Info("pipeline: card generation disabled", "run", run.ID)
		return o.finish(ctx, run)
	}

	batch, err := timed(StageGenerate, func() (card.BatchResult, error) { return o.cards.GenerateForTargets(ctx) })
	if err != nil {
		logging.Error("pipeline: card generation failed", "run", run.ID, "error", err)
		run.Status = string(StatusFailed)
		run.ErrorStage = string(StageGenerate)
		run.ErrorMessage = err.Error()
		return o.finish(ctx, run)
	}
	run.CardsCreated = batch.Success
	run.CardsSkipped = batch.Skipped
	run.CardsFailed = batch.Failed
	if batch.Failed > 0 && run.Status == string(StatusSuccess) {
		run.Status = string(StatusPartial)
	}
	return o.finish(ctx, run)
}

func (o *Orchestrator) finish(ctx context.Context, run store.PipelineRun) store.PipelineRun {
	run.FinishedAt = o.now()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()

	// Record even when the run was cancelled.
	if err := o.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logging.Error("pipeline: failed to save run", "run", run.ID, "error", err)
	}

	logging.Info("pipeline: finished",
		"run", run.ID,
		"status", run.Status,
		"duration_ms", run.DurationMs,
		"rss_saved", run.RSSSaved,
		"issues_created", run.IssuesCreated,
		"issues_updated", run.IssuesUpdated,
		"cards_created", run.CardsCreated,
		"cards_failed", run.CardsFailed,
		"error_stage", run.ErrorStage)
	return run
}

func timed[T any](stage Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	logging.Debug("pipeline: stage completed", "stage", stage, "elapsed", time.Since(start).Round(time.Millisecond))
	return v, err
}

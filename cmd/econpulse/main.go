// Command econpulse collects economic news, clusters it into issues,
// tracks issue lifecycles and serves the result over HTTP.
//
// Usage:
//
//	econpulse init       Write a default config file
//	econpulse serve      HTTP API plus scheduled pipeline and lifecycle jobs
//	econpulse run        One pipeline pass (collect, cluster, cards)
//	econpulse cluster    Cluster already collected articles
//	econpulse sweep      One lifecycle sweep
//	econpulse close      Mark an issue CLOSED (or OPEN with --reopen)
//	econpulse status     Recent runs and pipeline health
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abelbrown/econpulse/internal/card"
	"github.com/abelbrown/econpulse/internal/cluster"
	"github.com/abelbrown/econpulse/internal/config"
	"github.com/abelbrown/econpulse/internal/coord"
	"github.com/abelbrown/econpulse/internal/fetch"
	"github.com/abelbrown/econpulse/internal/lifecycle"
	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/pipeline"
	"github.com/abelbrown/econpulse/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "econpulse",
	Short:         "econpulse - economic news issue tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigPath(), "config file")
	rootCmd.AddCommand(initCmd, serveCmd, runCmd, clusterCmd, sweepCmd, closeCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "econpulse: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	store     *store.Store
	engine    *cluster.Engine
	lifecycle *lifecycle.Service
	pipeline  *pipeline.Orchestrator

	pipelineJob  *coord.Job
	lifecycleJob *coord.Job
	lastRun      store.PipelineRun
	lastSweep    lifecycle.SweepResult
}

// newApp loads config, initializes logging and opens the store.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(logging.Options{Dir: cfg.Logging.Dir, Level: cfg.Logging.Level}); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logging.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		cfg:       cfg,
		store:     st,
		engine:    cluster.NewEngine(st, cfg.Clustering.Window, cfg.Clustering.Limit),
		lifecycle: lifecycle.NewService(st),
	}

	collector := fetch.NewCollector(st, cfg.RSS.Feeds, fetch.Options{
		Timeout:     cfg.RSS.Timeout,
		HostRate:    cfg.RSS.HostRate,
		Concurrency: cfg.RSS.Concurrency,
	})

	// A nil generator skips the card stage.
	var cards pipeline.CardGenerator
	gemini := card.NewGeminiClient(card.GeminiOptions{
		APIKey:     cfg.Cards.Gemini.APIKey,
		Model:      cfg.Cards.Gemini.Model,
		Timeout:    cfg.Cards.Gemini.Timeout,
		MaxRetries: cfg.Cards.Gemini.MaxRetries,
	})
	if gemini.Available() {
		cards = card.NewService(st, gemini, cfg.Cards.Window, cfg.Cards.Limit)
	} else {
		logging.Warn("econpulse: GEMINI_API_KEY not set, card generation disabled")
	}

	a.pipeline = pipeline.NewOrchestrator(collector, a.engine, cards, st)
	a.pipelineJob = coord.NewJob("pipeline", func(ctx context.Context) {
		a.lastRun = a.pipeline.RunOnce(ctx)
	})
	a.lifecycleJob = coord.NewJob("lifecycle", func(ctx context.Context) {
		res, err := a.lifecycle.Sweep(ctx)
		if err != nil {
			logging.Error("econpulse: lifecycle sweep failed", "error", err)
		}
		a.lastSweep = res
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logging.Warn("econpulse: close store", "error", err)
	}
	logging.Close()
}

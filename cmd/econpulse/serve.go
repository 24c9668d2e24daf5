package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/econpulse/internal/coord"
	"github.com/abelbrown/econpulse/internal/logging"
	"github.com/abelbrown/econpulse/internal/server"
)

const shutdownTimeout = 10 * time.Second

var runOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run scheduled jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&runOnStart, "run-now", false, "run the pipeline once at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := coord.NewScheduler()
	if a.cfg.Schedule.Enabled {
		if err := sched.Add(a.cfg.Schedule.Pipeline, a.pipelineJob); err != nil {
			return err
		}
		if err := sched.Add(a.cfg.Schedule.Lifecycle, a.lifecycleJob); err != nil {
			return err
		}
		sched.Start(ctx)
	} else {
		logging.Info("econpulse: schedule disabled")
	}

	if runOnStart {
		go a.pipelineJob.TryRun(ctx)
	}

	srv := server.New(a.store, server.FeedOptions{
		Title:       a.cfg.Server.FeedTitle,
		Link:        a.cfg.Server.FeedLink,
		Description: a.cfg.Server.FeedDescription,
	})
	srv.AddJob(ctx, a.pipelineJob)
	srv.AddJob(ctx, a.lifecycleJob)
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("econpulse: listening", "addr", a.cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logging.Info("econpulse: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("econpulse: http shutdown", "error", err)
	}
	if !sched.Stop() {
		logging.Warn("econpulse: jobs still running after stop timeout")
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abelbrown/econpulse/internal/config"
	"github.com/abelbrown/econpulse/internal/store"
)

var errSkipped = errors.New("job already running")

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Config already exists: %s\n", configPath)
			return nil
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created config: %s\n", configPath)
		fmt.Fprintln(cmd.OutOrStdout(), "Add rss.feeds entries (url, publisher) and set GEMINI_API_KEY to enable cards.")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline pass (collect, cluster, cards)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.pipelineJob.TryRun(cmd.Context()) {
			return errSkipped
		}
		r := a.lastRun
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s: %s (%dms)\n", r.ID, r.Status, r.DurationMs)
		fmt.Fprintf(out, "  articles saved:  %d\n", r.RSSSaved)
		fmt.Fprintf(out, "  issues:          %d created, %d updated, %d skipped\n", r.IssuesCreated, r.IssuesUpdated, r.IssuesSkipped)
		fmt.Fprintf(out, "  cards:           %d created, %d skipped, %d failed\n", r.CardsCreated, r.CardsSkipped, r.CardsFailed)
		if r.ErrorStage != "" {
			fmt.Fprintf(out, "  error at %s:     %s\n", r.ErrorStage, r.ErrorMessage)
		}
		return nil
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster already collected articles into issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.ClusterRecent(cmd.Context())
		if err != nil {
			return fmt.Errorf("cluster: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Issues: %d created, %d updated, %d skipped (%d articles unclassified)\n",
			res.Created, res.Updated, res.Skipped, res.Unclassified)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recompute the lifecycle stage of every active issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.lifecycleJob.TryRun(cmd.Context()) {
			return errSkipped
		}
		s := a.lastSweep
		fmt.Fprintf(cmd.OutOrStdout(), "Lifecycle: %d updated, %d failed, %d history rows pruned\n", s.Updated, s.Failed, s.Pruned)
		return nil
	},
}

var reopen bool

// closeCmd is the only way an issue leaves OPEN; nothing closes issues
// automatically.
var closeCmd = &cobra.Command{
	Use:   "close <issue-id>",
	Short: "Mark an issue CLOSED (or OPEN again with --reopen)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid issue id %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status := store.IssueClosed
		if reopen {
			status = store.IssueOpen
		}
		if err := a.store.SetIssueStatus(cmd.Context(), id, status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("issue %d not found", id)
			}
			return fmt.Errorf("set status: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Issue %d is now %s\n", id, status)
		return nil
	},
}

func init() {
	closeCmd.Flags().BoolVar(&reopen, "reopen", false, "set the issue back to OPEN")
}

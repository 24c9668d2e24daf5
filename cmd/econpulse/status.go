package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/abelbrown/econpulse/internal/pipeline"
	"github.com/abelbrown/econpulse/internal/store"
)

const statusRunLimit = 5

var (
	colorSuccess = lipgloss.Color("78")  // Green
	colorWarn    = lipgloss.Color("214") // Orange
	colorFail    = lipgloss.Color("196") // Red
	colorMuted   = lipgloss.Color("241") // Gray

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).MarginTop(1)
	labelStyle  = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config, pipeline health and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.FindRecentRuns(cmd.Context(), statusRunLimit)
		if err != nil {
			return fmt.Errorf("load runs: %w", err)
		}
		renderStatus(cmd.OutOrStdout(), a, runs)
		return nil
	},
}

func renderStatus(w io.Writer, a *app, runs []store.PipelineRun) {
	fmt.Fprintln(w, headerStyle.Render("Config"))
	field(w, "File", configPath)
	field(w, "Database", a.cfg.Database.Path)
	field(w, "Feeds", fmt.Sprint(len(a.cfg.RSS.Feeds)))
	if a.cfg.Cards.Gemini.APIKey != "" {
		field(w, "Cards", statusStyle(pipeline.StatusSuccess).Render("enabled")+" "+mutedStyle.Render(a.cfg.Cards.Gemini.Model))
	} else {
		field(w, "Cards", statusStyle(pipeline.StatusPartial).Render("disabled (GEMINI_API_KEY not set)"))
	}
	if a.cfg.Schedule.Enabled {
		field(w, "Schedule", fmt.Sprintf("pipeline %q, lifecycle %q", a.cfg.Schedule.Pipeline, a.cfg.Schedule.Lifecycle))
	} else {
		field(w, "Schedule", "disabled")
	}

	var last *store.PipelineRun
	if len(runs) > 0 {
		last = &runs[0]
	}
	h := pipeline.HealthOf(last)
	fmt.Fprintln(w, headerStyle.Render("Pipeline"))
	field(w, "Health", statusStyle(h.Status).Render(string(h.Status))+" "+mutedStyle.Render(h.Message))

	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Recent runs"))
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-8s %6dms  rss=%d issues=+%d/~%d cards=%d/%d",
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.DurationMs,
			r.RSSSaved,
			r.IssuesCreated,
			r.IssuesUpdated,
			r.CardsCreated,
			r.CardsCreated+r.CardsFailed)
		fmt.Fprintln(w, statusStyle(pipeline.Status(r.Status)).Render(line))
		if r.ErrorStage != "" {
			fmt.Fprintln(w, mutedStyle.Render("  "+r.ErrorStage+": "+firstLine(r.ErrorMessage)))
		}
	}
}

func field(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label)+value)
}

func statusStyle(s pipeline.Status) lipgloss.Style {
	switch s {
	case pipeline.StatusSuccess:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	case pipeline.StatusPartial:
		return lipgloss.NewStyle().Foreground(colorWarn)
	case pipeline.StatusFailed:
		return lipgloss.NewStyle().Foreground(colorFail)
	default:
		return mutedStyle
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/jobflow/internal/dispatch"
)

// RunState tracks the run from /status polling.
type RunState struct {
	Status    dispatch.Status
	Connected bool
	LastCheck time.Time
}

func renderHeader(run RunState, spin spinner.Model, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	st := run.Status

	statusText := theme.Busy.Render("RUNNING")
	switch {
	case !run.Connected:
		statusText = theme.Failed.Render("CONNECTING")
	case st.Finished:
		statusText = theme.Done.Render("FINISHED")
	}

	runID := st.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	if runID == "" {
		runID = "-"
	}

	titleText := fmt.Sprintf(" JOBFLOW WATCH %s", spin.View())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	elapsed := "-"
	if !st.StartedAt.IsZero() {
		elapsed = formatDuration(now.Sub(st.StartedAt))
	}
	statsLine := fmt.Sprintf(" %s  run %s  mode %s  ⏱ %s  workers %d/%d",
		statusText, runID, st.Mode, elapsed, st.Running, st.Workers)

	countsLine := fmt.Sprintf(" consumed %s  dispatched %s  ledger %s  %s",
		humanize.Comma(int64(st.Consumed)),
		humanize.Comma(int64(st.Dispatched)),
		humanize.Comma(int64(st.Ledger)),
		renderFailures(st, theme),
	)

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(pulse.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		countsLine,
		activityLine,
	)
	return theme.Panel.Width(innerWidth).Render(content)
}

func renderFailures(st dispatch.Status, theme Theme) string {
	text := fmt.Sprintf("failed %d  spawn %d  dropped %d", st.WorkerFailures, st.SpawnFailures, st.DroppedRecords)
	if st.WorkerFailures+st.SpawnFailures+st.DroppedRecords > 0 {
		return theme.Failed.Render(text)
	}
	return theme.Dim.Render(text)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

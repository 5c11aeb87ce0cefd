package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/jobflow/internal/events"
)

const eventRows = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Panel.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventRows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Panel.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeWorkerStarted, events.TypeRunStarted:
		typeStyle = theme.Busy
	case events.TypeWorkerSpawnFailed:
		typeStyle = theme.Failed
	case events.TypeWorkerExited:
		typeStyle = theme.Done
		if exitFailed(e) {
			typeStyle = theme.Failed
		}
	case events.TypeLedgerWritten:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func exitFailed(e events.Event) bool {
	var p events.WorkerExited
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return false
	}
	return p.ExitCode != 0 || p.Signal != ""
}

// describeEvent renders the payload of known event types in one line.
func describeEvent(e events.Event) string {
	switch e.Type {
	case events.TypeWorkerStarted:
		var p events.WorkerStarted
		if json.Unmarshal(e.Data, &p) == nil {
			return fmt.Sprintf("slot %d pid %d record %d", p.Slot, p.PID, p.Record)
		}
	case events.TypeWorkerExited:
		var p events.WorkerExited
		if json.Unmarshal(e.Data, &p) == nil {
			how := fmt.Sprintf("exit %d", p.ExitCode)
			if p.Signal != "" {
				how = p.Signal
			}
			return fmt.Sprintf("slot %d pid %d record %d %s %.2fs", p.Slot, p.PID, p.Record, how, p.Seconds)
		}
	case events.TypeWorkerSpawnFailed:
		var p events.SpawnFailed
		if json.Unmarshal(e.Data, &p) == nil {
			return fmt.Sprintf("slot %d record %d: %s", p.Slot, p.Record, p.Error)
		}
	case events.TypeLedgerWritten:
		var p events.LedgerWritten
		if json.Unmarshal(e.Data, &p) == nil {
			return fmt.Sprintf("%d", p.Value)
		}
	case events.TypeRunFinished:
		var p events.RunFinished
		if json.Unmarshal(e.Data, &p) == nil {
			s := fmt.Sprintf("consumed %d dispatched %d", p.Consumed, p.Dispatched)
			if p.Error != "" {
				s += ": " + p.Error
			}
			return s
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}

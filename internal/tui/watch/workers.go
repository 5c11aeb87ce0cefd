package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/jobflow/internal/events"
)

// SlotState tracks one worker slot as seen through events.
type SlotState struct {
	Slot     int
	PID      int
	Record   uint64
	Running  bool
	Started  time.Time
	LastExit string
	Failures int
}

// updateSlots applies a worker event to the slot table.
func updateSlots(slots map[int]*SlotState, e events.Event, now time.Time) {
	switch e.Type {
	case events.TypeWorkerStarted:
		var p events.WorkerStarted
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		s := getOrCreateSlot(slots, p.Slot)
		s.PID = p.PID
		s.Record = p.Record
		s.Running = true
		s.Started = now

	case events.TypeWorkerExited:
		var p events.WorkerExited
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		s := getOrCreateSlot(slots, p.Slot)
		s.Running = false
		s.PID = p.PID
		s.Record = p.Record
		if p.Signal != "" {
			s.LastExit = p.Signal
			s.Failures++
		} else {
			s.LastExit = fmt.Sprintf("exit %d", p.ExitCode)
			if p.ExitCode != 0 {
				s.Failures++
			}
		}

	case events.TypeWorkerSpawnFailed:
		var p events.SpawnFailed
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		s := getOrCreateSlot(slots, p.Slot)
		s.Running = false
		s.Record = p.Record
		s.LastExit = "spawn failed"
		s.Failures++
	}
}

func getOrCreateSlot(slots map[int]*SlotState, slot int) *SlotState {
	s, ok := slots[slot]
	if !ok {
		s = &SlotState{Slot: slot}
		slots[slot] = s
	}
	return s
}

func newSlotTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "SLOT", Width: 5},
			{Title: "ST", Width: 3},
			{Title: "PID", Width: 8},
			{Title: "RECORD", Width: 10},
			{Title: "RUNTIME", Width: 9},
			{Title: "LAST", Width: 14},
			{Title: "FAILS", Width: 6},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// slotRows renders slots ordered by index.
func slotRows(slots map[int]*SlotState, now time.Time) []table.Row {
	keys := make([]int, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		s := slots[k]
		state := "·"
		runtime := ""
		if s.Running {
			state = "▶"
			runtime = formatDuration(now.Sub(s.Started))
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", s.Slot),
			state,
			fmt.Sprintf("%d", s.PID),
			fmt.Sprintf("%d", s.Record),
			runtime,
			s.LastExit,
			fmt.Sprintf("%d", s.Failures),
		})
	}
	return rows
}

func renderSlots(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("WORKERS"),
		t.View(),
	)
	return theme.Panel.Width(innerWidth).Render(content)
}

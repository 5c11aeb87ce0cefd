package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/jobflow/internal/journal"
)

// Source is the read side of the run journal.
type Source interface {
	GetRun(ctx context.Context, id string) (*journal.Run, error)
	ListRuns(ctx context.Context, limit int) ([]journal.Run, error)
	Exits(ctx context.Context, runID string, failedOnly bool) ([]journal.WorkerExit, error)
	Summarize(ctx context.Context, runID string) (journal.Summary, error)
}

// Report is the structured JSON representation of a run report.
type Report struct {
	RunID         string     `json:"run_id"`
	Fingerprint   string     `json:"fingerprint"`
	Mode          string     `json:"mode"`
	Command       []string   `json:"command"`
	Workers       int        `json:"workers"`
	Skip          uint64     `json:"skip"`
	StateFile     string     `json:"statefile,omitempty"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Consumed      uint64     `json:"consumed"`
	Dispatched    uint64     `json:"dispatched"`
	SpawnFailures uint64     `json:"spawn_failures"`
	Error         string     `json:"error,omitempty"`
	Exits         ExitCounts `json:"exits"`
	Failures      []Failure  `json:"failures"`
}

// ExitCounts summarises reaped workers.
type ExitCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Signaled  int `json:"signaled"`
}

// Failure is one worker that exited non-zero or by signal.
type Failure struct {
	Record   uint64  `json:"record"`
	Slot     int     `json:"slot"`
	PID      int     `json:"pid"`
	ExitCode int     `json:"exit_code"`
	Signal   string  `json:"signal,omitempty"`
	Seconds  float64 `json:"seconds"`
}

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, src Source, runID string) (string, error) {
	report, err := gatherReportData(ctx, src, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Mode        : %s\n", report.Mode)
	fmt.Fprintf(&out, "Command     : %s\n", commandLine(report.Command))
	fmt.Fprintf(&out, "Fingerprint : %s\n", shortFingerprint(report.Fingerprint))
	fmt.Fprintf(&out, "Workers     : %d\n", report.Workers)
	if report.StateFile != "" {
		fmt.Fprintf(&out, "Statefile   : %s\n", report.StateFile)
	}
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Local().Format(time.RFC3339))
	if report.FinishedAt != nil {
		fmt.Fprintf(&out, "Duration    : %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	} else {
		fmt.Fprintf(&out, "Duration    : <running>\n")
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Records\n")
	fmt.Fprintf(&out, "  skipped     : %s\n", humanize.Comma(int64(report.Skip)))
	fmt.Fprintf(&out, "  consumed    : %s\n", humanize.Comma(int64(report.Consumed)))
	fmt.Fprintf(&out, "  dispatched  : %s\n", humanize.Comma(int64(report.Dispatched)))
	fmt.Fprintf(&out, "  spawn fails : %s\n", humanize.Comma(int64(report.SpawnFailures)))
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Workers\n")
	fmt.Fprintf(&out, "  reaped      : %d\n", report.Exits.Total)
	fmt.Fprintf(&out, "  succeeded   : %d\n", report.Exits.Succeeded)
	fmt.Fprintf(&out, "  failed      : %d\n", report.Exits.Failed)
	fmt.Fprintf(&out, "  signaled    : %d\n", report.Exits.Signaled)

	if len(report.Failures) > 0 {
		fmt.Fprintf(&out, "\nFailures\n")
		for _, f := range report.Failures {
			how := fmt.Sprintf("exit %d", f.ExitCode)
			if f.Signal != "" {
				how = "signal " + f.Signal
			}
			fmt.Fprintf(&out, "  record %-8d slot %-4d pid %-8d %s (%.2fs)\n", f.Record, f.Slot, f.PID, how, f.Seconds)
		}
	}

	if report.Error != "" {
		fmt.Fprintf(&out, "\nError: %s\n", report.Error)
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON run report.
func BuildJSONReport(ctx context.Context, src Source, runID string) (string, error) {
	report, err := gatherReportData(ctx, src, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// BuildRunList renders the most recent runs, newest first.
func BuildRunList(ctx context.Context, src Source, limit int, now time.Time) (string, error) {
	runs, err := src.ListRuns(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "no runs recorded\n", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%-8s  %-9s  %-10s  %10s  %10s  %-14s  %s\n",
		"RUN", "STATUS", "MODE", "CONSUMED", "DISPATCHED", "STARTED", "COMMAND")
	for _, r := range runs {
		fmt.Fprintf(&out, "%-8s  %-9s  %-10s  %10s  %10s  %-14s  %s\n",
			shortID(r.ID),
			r.Status,
			r.Mode,
			humanize.Comma(int64(r.Consumed)),
			humanize.Comma(int64(r.Dispatched)),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			commandLine(r.Command),
		)
	}
	return out.String(), nil
}

func gatherReportData(ctx context.Context, src Source, runID string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run_id is required")
	}

	run, err := src.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary, err := src.Summarize(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("summarize worker exits: %w", err)
	}
	failed, err := src.Exits(ctx, run.ID, true)
	if err != nil {
		return nil, fmt.Errorf("load failed worker exits: %w", err)
	}

	report := &Report{
		RunID:         run.ID,
		Fingerprint:   run.Fingerprint,
		Mode:          run.Mode,
		Command:       run.Command,
		Workers:       run.Workers,
		Skip:          run.Skip,
		StateFile:     run.StateFile,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Consumed:      run.Consumed,
		Dispatched:    run.Dispatched,
		SpawnFailures: run.SpawnFailures,
		Exits: ExitCounts{
			Total:     summary.Workers,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Signaled:  summary.Signaled,
		},
		Failures: make([]Failure, 0, len(failed)),
	}
	if run.LastError != nil {
		report.Error = *run.LastError
	}
	for _, e := range failed {
		report.Failures = append(report.Failures, Failure{
			Record:   e.Record,
			Slot:     e.Slot,
			PID:      e.PID,
			ExitCode: e.ExitCode,
			Signal:   e.Signal,
			Seconds:  e.FinishedAt.Sub(e.StartedAt).Seconds(),
		})
	}
	return report, nil
}

func commandLine(argv []string) string {
	if len(argv) == 0 {
		return "<cat>"
	}
	return strings.Join(argv, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}

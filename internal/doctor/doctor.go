// Package doctor checks a jobflow run configuration against the host before
// any record is read.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/ledger"
	"github.com/mattjoyce/jobflow/internal/lock"
	"github.com/mattjoyce/jobflow/internal/pool"
	"github.com/mattjoyce/jobflow/internal/storage"
	"github.com/mattjoyce/jobflow/internal/workspace"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a run configuration against the local host.
type Doctor struct {
	cfg *config.Config

	lookPath  func(string) (string, error)
	hardLimit func(config.LimitKind) (uint64, error)
	fsType    func(string) (string, error)
	numCPU    int
}

// New creates a Doctor for a merged configuration.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:       cfg,
		lookPath:  exec.LookPath,
		hardLimit: pool.HardLimit,
		fsType:    storage.FilesystemType,
		numCPU:    runtime.NumCPU(),
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
	d.validateCommand(r)
	d.validateStateFile(r)
	d.validateLimits(r)
	d.validateScratch(r)
	d.validateJournal(r)
	d.validateStatus(r)
	d.warnWorkerCount(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCommand checks that the worker executable resolves.
func (d *Doctor) validateCommand(r *Result) {
	if len(d.cfg.Command) == 0 {
		return
	}
	name := d.cfg.Command[0]
	if strings.ContainsAny(name, "{}") {
		d.addWarning(r, "command", "command[0]", fmt.Sprintf("executable %q contains a placeholder; it is resolved per record", name))
		return
	}
	if _, err := d.lookPath(name); err != nil {
		d.addError(r, "command", "command[0]", fmt.Sprintf("executable %q not found: %v", name, err))
	}
}

// validateStateFile checks that the ledger can be written and is not in use.
func (d *Doctor) validateStateFile(r *Result) {
	path := d.cfg.StateFile
	if path == "" {
		return
	}

	dir := filepath.Dir(path)
	probe, err := os.CreateTemp(dir, ".jobflow-check-*")
	if err != nil {
		d.addError(r, "statefile", "statefile", fmt.Sprintf("directory %s is not writable: %v", dir, err))
		return
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	value, ok, err := ledger.Read(path)
	switch {
	case err != nil:
		d.addError(r, "statefile", "statefile", err.Error())
	case ok && !d.cfg.Resume:
		d.addWarning(r, "statefile", "statefile",
			fmt.Sprintf("ledger holds %d but resume is off; it will be overwritten", value))
	case ok:
		d.addWarning(r, "statefile", "statefile", fmt.Sprintf("run will resume after record %d", value))
	}

	l, err := lock.AcquireRunLock(path)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			d.addError(r, "statefile", "statefile", err.Error())
		} else {
			d.addWarning(r, "statefile", "statefile", fmt.Sprintf("could not probe run lock: %v", err))
		}
		return
	}
	_ = l.Release()
}

// validateLimits checks requested soft limits against the hard maxima.
func (d *Doctor) validateLimits(r *Result) {
	for _, lim := range d.cfg.Limits {
		field := "limits." + string(lim.Kind)
		hard, err := d.hardLimit(lim.Kind)
		if err != nil {
			d.addWarning(r, "limits", field, fmt.Sprintf("cannot read hard limit: %v", err))
			continue
		}
		if lim.Value > hard {
			d.addError(r, "limits", field,
				fmt.Sprintf("%s exceeds the hard limit of %s", lim, formatLimit(lim.Kind, hard)))
		}
	}
}

// validateScratch reports where buffered output will be captured.
func (d *Doctor) validateScratch(r *Result) {
	if !d.cfg.Buffered {
		return
	}
	base := workspace.DefaultBaseDir(d.cfg.TempDir)
	fsType, err := d.fsType(base)
	if err != nil {
		d.addWarning(r, "scratch", "tempdir", fmt.Sprintf("cannot detect filesystem of %s: %v", base, err))
		return
	}
	switch strings.ToLower(fsType) {
	case "tmpfs", "ramfs":
	default:
		d.addWarning(r, "scratch", "tempdir",
			fmt.Sprintf("buffered output goes to %s on %s, not a memory filesystem", base, fsType))
	}
}

// validateJournal checks the journal database location.
func (d *Doctor) validateJournal(r *Result) {
	if d.cfg.Journal.Path == "" {
		return
	}
	if err := storage.CheckJournalPath(d.cfg.Journal.Path); err != nil {
		d.addError(r, "journal", "journal.path", err.Error())
	}
}

// validateStatus checks the status listen address.
func (d *Doctor) validateStatus(r *Result) {
	if d.cfg.Status.Listen == "" {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.Status.Listen); err != nil {
		d.addError(r, "status", "status.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.Status.Listen, err))
	}
}

// warnWorkerCount flags worker counts far above the CPU count.
func (d *Doctor) warnWorkerCount(r *Result) {
	if d.numCPU > 0 && d.cfg.Workers > 16*d.numCPU {
		d.addWarning(r, "workers", "workers",
			fmt.Sprintf("%d workers on %d CPUs", d.cfg.Workers, d.numCPU))
	}
}

func formatLimit(kind config.LimitKind, v uint64) string {
	switch kind {
	case config.LimitCPUTime, config.LimitOpenFiles:
		return fmt.Sprintf("%d", v)
	default:
		return humanize.IBytes(v)
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/ledger"
	"github.com/mattjoyce/jobflow/internal/log"
)

// runFlags are shared by the root command and check.
type runFlags struct {
	configPath string

	workers       int
	skip          uint64
	count         uint64
	resume        bool
	stateFile     string
	delayedFlush  bool
	delayedSpinup int
	buffered      bool
	joinOutput    bool
	bulk          config.ByteSize
	limits        config.LimitList
	eof           string
	tempDir       string

	journal      string
	statusListen string
	logLevel     string
	logFormat    string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.configPath, "config", "", "Config file (.yaml or .toml); default: $JOBFLOW_CONFIG, ./jobflow.yaml, ./jobflow.toml")

	fs.IntVarP(&f.workers, "threads", "j", 1, "Number of worker slots")
	fs.Uint64Var(&f.skip, "skip", 0, "Skip the first N records")
	fs.Uint64Var(&f.count, "count", 0, "Dispatch at most N records after skip (0 = all)")
	fs.BoolVar(&f.resume, "resume", false, "Resume after the record recorded in --statefile")
	fs.StringVar(&f.stateFile, "statefile", "", "Record the index of the last dispatched record here")
	fs.BoolVar(&f.delayedFlush, "delayedflush", false, "Write the statefile only when all slots are busy and at the end")
	fs.IntVar(&f.delayedSpinup, "delayedspinup", 0, "Sleep up to N ms before each of the first 2*threads launches")
	fs.BoolVar(&f.buffered, "buffered", false, "Capture worker output and print it when the worker exits")
	fs.BoolVar(&f.joinOutput, "joinoutput", false, "With --buffered, send worker stderr to its stdout")
	fs.Var(&f.bulk, "bulk", "Read input in chunks of this size, e.g. 64K (multiple of 4096)")
	fs.Var(&f.limits, "limits", "Worker resource limits, e.g. mem=1G,nofile=64 (repeatable)")
	fs.StringVar(&f.eof, "eof", "", "Stop reading input at a line equal to this string")
	fs.StringVar(&f.tempDir, "tempdir", "", "Base directory for buffered output")

	fs.StringVar(&f.journal, "journal", "", "Record runs and worker exit statuses in this sqlite database")
	fs.StringVar(&f.statusListen, "status-listen", "", "Serve /healthz, /status and /events on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
}

// loadConfig merges defaults, the config file and explicitly set flags.
// args, when non-empty, replace the configured command.
func (f *runFlags) loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		discovered, err := config.DiscoverConfigFile()
		if err != nil {
			return nil, err
		}
		path = discovered
	}

	cfg := config.Defaults()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs := cmd.Flags()
	if fs.Changed("threads") {
		cfg.Workers = f.workers
	}
	if fs.Changed("skip") {
		cfg.Skip = f.skip
	}
	if fs.Changed("count") {
		cfg.Count = f.count
	}
	if fs.Changed("resume") {
		cfg.Resume = f.resume
	}
	if fs.Changed("statefile") {
		cfg.StateFile = f.stateFile
	}
	if fs.Changed("delayedflush") {
		cfg.DelayedFlush = f.delayedFlush
	}
	if fs.Changed("delayedspinup") {
		cfg.DelayedSpinup = f.delayedSpinup
	}
	if fs.Changed("buffered") {
		cfg.Buffered = f.buffered
	}
	if fs.Changed("joinoutput") {
		cfg.JoinOutput = f.joinOutput
	}
	if fs.Changed("bulk") {
		cfg.Bulk = f.bulk
	}
	if fs.Changed("limits") {
		cfg.Limits = f.limits
	}
	if fs.Changed("eof") {
		cfg.EOFSentinel = f.eof
	}
	if fs.Changed("tempdir") {
		cfg.TempDir = f.tempDir
	}
	if fs.Changed("journal") {
		cfg.Journal.Path = f.journal
	}
	if fs.Changed("status-listen") {
		cfg.Status.Listen = f.statusListen
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if len(args) > 0 {
		cfg.Command = append([]string(nil), args...)
	}
	return cfg, nil
}

// buildConfig returns the validated configuration of a run. With resume set,
// the ledger value replaces the skip count.
func (f *runFlags) buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := f.loadConfig(cmd, args)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Resume {
		value, ok, err := ledger.Read(cfg.StateFile)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Setup(cfg.Log.Level, cfg.Log.Format)
			log.Info("resuming from statefile", "statefile", cfg.StateFile, "skip", value, "configured_skip", cfg.Skip)
			cfg.Skip = value
		}
	}
	return cfg, nil
}

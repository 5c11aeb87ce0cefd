package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/jobflow/internal/doctor"
	"github.com/mattjoyce/jobflow/internal/inspect"
	"github.com/mattjoyce/jobflow/internal/journal"
	"github.com/mattjoyce/jobflow/internal/storage"
	"github.com/mattjoyce/jobflow/internal/tui/watch"
)

func newCheckCmd(f *runFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check [flags] [command [args...]]",
		Short: "Check a run configuration without reading input",
		Long: `Check validates the merged configuration and probes the host: the command
resolves on PATH, the statefile directory is writable and unlocked, resource
limits fit under the hard limits, and the scratch and journal locations are
usable. Exits 1 when any error is found.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.loadConfig(cmd, args)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()

			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return fmt.Errorf("render check JSON: %w", err)
				}
				fmt.Fprintln(os.Stdout, out)
			} else {
				fmt.Fprint(os.Stdout, doctor.FormatHuman(result))
			}
			if !result.Valid {
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	return cmd
}

func newJournalCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded runs and worker exit statuses",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, f, func(ctx context.Context, j *journal.Journal) error {
				out, err := inspect.BuildRunList(ctx, j, limit, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, out)
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	var jsonOut bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run report with failed workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, f, func(ctx context.Context, j *journal.Journal) error {
				var (
					out string
					err error
				)
				if jsonOut {
					out, err = inspect.BuildJSONReport(ctx, j, args[0])
					out += "\n"
				} else {
					out, err = inspect.BuildReport(ctx, j, args[0])
				}
				if errors.Is(err, journal.ErrRunNotFound) {
					return fmt.Errorf("run %s not found in journal", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, out)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")

	cmd.AddCommand(list, show)
	return cmd
}

func withJournal(cmd *cobra.Command, f *runFlags, fn func(context.Context, *journal.Journal) error) error {
	cfg, err := f.loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return fmt.Errorf("no journal configured (use --journal or journal.path)")
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return fmt.Errorf("journal %s: %w", cfg.Journal.Path, err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, journal.New(db))
}

func newWatchCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor a run started with --status-listen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch.Run(url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8089", "Base URL of the run's status endpoint")
	return cmd
}

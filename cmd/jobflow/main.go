package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitError carries a process exit status for errors already reported.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdin))
}

func runCLI(cliArgs []string, stdin io.Reader) int {
	root := newRootCmd(stdin)
	root.SetArgs(cliArgs)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "jobflow: %v\n", err)
	return 1
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	f := &runFlags{}

	root := &cobra.Command{
		Use:   "jobflow [flags] [command [args...]]",
		Short: "Run a command once per input line, N at a time",
		Long: `jobflow reads records (lines) from stdin and dispatches them to a pool of
worker processes.

Without a command, records are copied to stdout (after --skip and --count).
If any argument contains {} or {.}, one process is started per record with
the placeholder replaced:

  {}    the record
  {.}   the record without its last extension
  {#}   the 1-based record index

Otherwise the command is started once per worker and records are streamed
round-robin to the workers' stdin.

Flags must come before the command. To run a program named like a jobflow
subcommand, put -- before it.

Examples:
  find . -name '*.log' | jobflow -j 8 gzip {}
  seq 1000000 | jobflow -j 4 --bulk 64K ./worker.sh
  jobflow -j 4 --statefile run.state --resume curl -sO {} < urls.txt`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.buildConfig(cmd, args)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return execute(ctx, cfg, stdin, os.Stdout, os.Stderr)
		},
	}
	root.Flags().SetInterspersed(false)
	f.register(root)

	root.AddCommand(
		newCheckCmd(f),
		newJournalCmd(f),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func currentVersionInfo() versionInfo {
	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "unknown" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	return info
}

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()
			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("render version JSON: %w", err)
				}
				fmt.Fprintln(os.Stdout, string(data))
				return nil
			}
			fmt.Fprintf(os.Stdout, "jobflow %s\n", info.Version)
			fmt.Fprintf(os.Stdout, "commit: %s\n", info.Commit)
			fmt.Fprintf(os.Stdout, "built_at: %s\n", info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output version metadata as JSON")
	return cmd
}

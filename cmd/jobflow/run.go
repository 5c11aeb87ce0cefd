package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/jobflow/internal/api"
	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/dispatch"
	"github.com/mattjoyce/jobflow/internal/events"
	"github.com/mattjoyce/jobflow/internal/journal"
	"github.com/mattjoyce/jobflow/internal/ledger"
	"github.com/mattjoyce/jobflow/internal/lock"
	"github.com/mattjoyce/jobflow/internal/log"
	"github.com/mattjoyce/jobflow/internal/pool"
	"github.com/mattjoyce/jobflow/internal/storage"
	"github.com/mattjoyce/jobflow/internal/workspace"
)

const (
	eventBuffer     = 256
	staleScratchAge = 24 * time.Hour
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// execute performs one run of cfg. Worker exit statuses never change the
// result; only fatal controller errors do.
func execute(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout, stderr *os.File) error {
	log.Setup(cfg.Log.Level, cfg.Log.Format)

	runID := uuid.NewString()
	logger := log.WithRun(runID)
	mode := cfg.Mode()

	if cfg.StateFile != "" {
		runLock, err := lock.AcquireRunLock(cfg.StateFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := runLock.Release(); err != nil {
				logger.Warn("failed to release run lock", "path", runLock.Path(), "error", err)
			}
		}()
	}

	opts := []dispatch.Option{dispatch.WithRunID(runID)}
	if cfg.StateFile != "" {
		opts = append(opts, dispatch.WithLedger(ledger.New(cfg.StateFile)))
	}

	var hub *events.Hub
	if cfg.Status.Listen != "" {
		hub = events.NewHub(eventBuffer)
		opts = append(opts, dispatch.WithHub(hub))
	}

	var jr *journal.Journal
	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() { _ = db.Close() }()

		jr = journal.New(db)
		_, err = jr.BeginRun(ctx, journal.Run{
			ID:          runID,
			Fingerprint: cfg.Fingerprint(),
			Mode:        mode.String(),
			Command:     cfg.Command,
			Workers:     cfg.Workers,
			Skip:        cfg.Skip,
			StateFile:   cfg.StateFile,
		})
		if err != nil {
			return err
		}
		opts = append(opts, dispatch.WithJournal(jr, runID))
	}

	var workers dispatch.WorkerPool
	if mode != config.ModeCat {
		poolOpts := pool.Options{
			Size:       cfg.Workers,
			Forward:    mode == config.ModeForward,
			Buffered:   cfg.Buffered,
			JoinOutput: cfg.JoinOutput,
			Limits:     cfg.Limits,
			Stdout:     stdout,
			Stderr:     stderr,
		}
		if cfg.Buffered {
			mgr, err := workspace.NewFSManager(workspace.DefaultBaseDir(cfg.TempDir))
			if err != nil {
				return err
			}
			// Killed runs leave their scratch directories behind.
			if report, err := mgr.Cleanup(ctx, staleScratchAge); err != nil {
				logger.Warn("failed to clean stale scratch directories", "dir", mgr.BaseDir(), "error", err)
			} else if report.DeletedDirs > 0 {
				logger.Info("removed stale scratch directories", "dir", mgr.BaseDir(), "count", report.DeletedDirs)
			}
			ws, err := mgr.Create(ctx, runID)
			if err != nil {
				return fmt.Errorf("create scratch directory: %w", err)
			}
			defer func() {
				if err := mgr.Remove(context.Background(), runID); err != nil {
					logger.Warn("failed to remove scratch directory", "dir", ws.Dir, "error", err)
				}
			}()
			poolOpts.Workspace = ws
		}

		p, err := pool.New(poolOpts)
		if err != nil {
			return err
		}
		workers = p
	}

	d, err := dispatch.New(cfg, stdin, stdout, workers, opts...)
	if err != nil {
		return err
	}

	if hub != nil {
		srvCtx, stopServer := context.WithCancel(context.Background())
		srv := api.New(api.Config{Listen: cfg.Status.Listen}, d, hub, log.WithComponent("api"))
		srvErr := make(chan error, 1)
		go func() { srvErr <- srv.Start(srvCtx) }()
		defer func() {
			stopServer()
			if err := <-srvErr; err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("status server stopped", "error", err)
			}
		}()
	}

	runErr := d.Run(ctx)

	if jr != nil {
		st := d.Status()
		stats := journal.Stats{
			Consumed:      st.Consumed,
			Dispatched:    st.Dispatched,
			SpawnFailures: st.SpawnFailures,
		}
		if err := jr.FinishRun(context.WithoutCancel(ctx), runID, stats, runErr); err != nil {
			logger.Warn("failed to finish journal run", "error", err)
		}
	}
	return runErr
}

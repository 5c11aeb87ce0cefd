package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mattjoyce/jobflow/internal/chunker"
	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/events"
	"github.com/mattjoyce/jobflow/internal/journal"
	"github.com/mattjoyce/jobflow/internal/ledger"
	"github.com/mattjoyce/jobflow/internal/log"
	"github.com/mattjoyce/jobflow/internal/pool"
	"github.com/mattjoyce/jobflow/internal/subst"
)

// Dispatcher is the controller of one run. All fields except stats are
// owned by the goroutine calling Run.
type Dispatcher struct {
	cfg    *config.Config
	mode   config.Mode
	in     io.Reader
	out    io.Writer
	pool   WorkerPool
	tmpl   *subst.Template
	ledger *ledger.Ledger
	hub    *events.Hub

	journal ExitRecorder
	runID   string

	sleep  func(time.Duration)
	logger *slog.Logger

	startedAt time.Time
	consumed  uint64
	throttled int
	stats     counters
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLedger records progress in l.
func WithLedger(l *ledger.Ledger) Option {
	return func(d *Dispatcher) { d.ledger = l }
}

// WithHub publishes lifecycle events to h.
func WithHub(h *events.Hub) Option {
	return func(d *Dispatcher) { d.hub = h }
}

// WithJournal records worker exits under runID.
func WithJournal(rec ExitRecorder, runID string) Option {
	return func(d *Dispatcher) {
		d.journal = rec
		d.runID = runID
	}
}

// WithRunID tags logs and status with runID.
func WithRunID(runID string) Option {
	return func(d *Dispatcher) { d.runID = runID }
}

// WithSleep replaces time.Sleep for the spin-up throttle.
func WithSleep(fn func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// New creates a Dispatcher reading records from in. Cat-mode output goes to
// out. p may be nil in cat mode.
func New(cfg *config.Config, in io.Reader, out io.Writer, p WorkerPool, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:       cfg,
		mode:      cfg.Mode(),
		in:        in,
		out:       out,
		pool:      p,
		sleep:     time.Sleep,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.mode != config.ModeCat {
		if p == nil {
			return nil, fmt.Errorf("%s mode needs a worker pool", d.mode)
		}
		tmpl, err := subst.Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse command template: %w", err)
		}
		d.tmpl = tmpl
	}

	d.logger = log.WithComponent("dispatch")
	if d.runID != "" {
		d.logger = d.logger.With(slog.String("run_id", d.runID))
	}
	return d, nil
}

// Run dispatches every record of the input and waits for all workers. It
// returns the first fatal error. Cancelling ctx stops reading input; workers
// already started are still waited for.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch started", "mode", d.mode.String(), "workers", d.cfg.Workers, "skip", d.cfg.Skip)
	d.hub.Publish(events.TypeRunStarted, d.Status())

	runErr := d.loop(ctx)
	finishErr := d.finish(context.WithoutCancel(ctx))
	if runErr == nil {
		runErr = finishErr
	}

	d.stats.finished.Store(true)
	done := events.RunFinished{
		RunID:      d.runID,
		Consumed:   d.consumed,
		Dispatched: d.stats.dispatched.Load(),
	}
	if runErr != nil {
		done.Error = runErr.Error()
	}
	d.hub.Publish(events.TypeRunFinished, done)
	d.logger.Info("dispatch finished", "consumed", d.consumed, "dispatched", done.Dispatched, "error", runErr)
	return runErr
}

func (d *Dispatcher) loop(ctx context.Context) error {
	bulk := d.cfg.Bulk > 0
	ch := chunker.New(d.in, chunker.Options{
		Size:     d.cfg.ChunkSize(),
		Bulk:     bulk,
		Sentinel: d.cfg.EOFSentinel,
	})

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch interrupted: %w", err)
		}
		if d.budgetExhausted() {
			d.logger.Debug("record budget exhausted", "count", d.cfg.Count)
			return nil
		}

		chunk, err := ch.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		n := uint64(1)
		if bulk {
			n = uint64(chunker.CountRecords(chunk))
		}

		if d.consumed < d.cfg.Skip {
			remaining := d.cfg.Skip - d.consumed
			if n <= remaining {
				d.advance(n)
				continue
			}
			_, chunk = chunker.SplitRecords(chunk, int(remaining))
			d.advance(remaining)
			n -= remaining
		}

		if d.cfg.Count > 0 {
			if left := d.cfg.Skip + d.cfg.Count - d.consumed; n > left {
				chunk, _ = chunker.SplitRecords(chunk, int(left))
				n = left
			}
		}

		if err := d.dispatch(ctx, chunk, n); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) budgetExhausted() bool {
	return d.cfg.Count > 0 && d.consumed >= d.cfg.Skip+d.cfg.Count
}

func (d *Dispatcher) advance(n uint64) {
	d.consumed += n
	d.stats.consumed.Store(d.consumed)
}

// dispatch handles one record, or n records in bulk mode.
func (d *Dispatcher) dispatch(ctx context.Context, chunk []byte, n uint64) error {
	index := d.consumed + 1

	if d.mode == config.ModeCat {
		if _, err := d.out.Write(chunk); err != nil {
			d.logger.Error("failed to write record", "record", index, "error", err)
		}
		d.advance(n)
		d.stats.dispatched.Add(n)
		return nil
	}

	d.throttle()

	slot, ok := d.pool.Idle()
	if !ok && d.mode == config.ModeSubstitute {
		exit, err := d.pool.ReapOne(ctx)
		if err != nil {
			return fmt.Errorf("wait for worker: %w", err)
		}
		d.recordExit(ctx, exit)
		slot, ok = exit.Slot, true
	}

	launched := true
	if ok {
		argv, err := d.tmpl.Build(chunk, index)
		if err != nil {
			return fmt.Errorf("record %d: %w", index, err)
		}
		launched = d.launch(slot, argv, index)
	}
	d.advance(n)

	if d.ledger != nil && (!d.cfg.DelayedFlush || d.pool.Free() == 0) {
		d.writeLedger()
	}

	if d.mode == config.ModeForward {
		if _, err := d.pool.Forward(chunk); err != nil {
			d.stats.droppedRecords.Add(n)
			if errors.Is(err, pool.ErrNoPipe) {
				d.logger.Warn("no worker accepts input, dropping record", "record", index, "records", n)
			}
			return nil
		}
		d.stats.dispatched.Add(n)
		return nil
	}

	if launched {
		d.stats.dispatched.Add(n)
	} else {
		d.stats.droppedRecords.Add(n)
	}
	return nil
}

// throttle sleeps a random time in [0, delayed spinup] for the first
// 2*workers records.
func (d *Dispatcher) throttle() {
	if d.cfg.DelayedSpinup <= 0 || d.throttled >= 2*d.cfg.Workers {
		return
	}
	d.throttled++
	limit := int64(d.cfg.DelayedSpinup) * int64(time.Millisecond)
	d.sleep(time.Duration(rand.Int64N(limit + 1)))
}

func (d *Dispatcher) launch(slot int, argv []string, index uint64) bool {
	pid, err := d.pool.Launch(slot, argv, index)
	if err != nil {
		d.stats.spawnFailures.Add(1)
		d.logger.Error("failed to launch worker", "slot", slot, "record", index, "error", err)
		d.hub.Publish(events.TypeWorkerSpawnFailed, events.SpawnFailed{Slot: slot, Record: index, Error: err.Error()})
		return false
	}
	d.stats.running.Store(int64(d.pool.Running()))
	d.hub.Publish(events.TypeWorkerStarted, events.WorkerStarted{Slot: slot, PID: pid, Record: index})
	return true
}

func (d *Dispatcher) recordExit(ctx context.Context, exit pool.Exit) {
	d.stats.running.Store(int64(d.pool.Running()))
	if !exit.Success() {
		d.stats.workerFailures.Add(1)
	}

	d.hub.Publish(events.TypeWorkerExited, events.WorkerExited{
		Slot:     exit.Slot,
		PID:      exit.PID,
		Record:   exit.Record,
		ExitCode: exit.ExitCode,
		Signal:   exit.Signal,
		Seconds:  exit.Finished.Sub(exit.Started).Seconds(),
	})

	if d.journal == nil {
		return
	}
	err := d.journal.RecordExit(ctx, journal.WorkerExit{
		RunID:      d.runID,
		Slot:       exit.Slot,
		PID:        exit.PID,
		Record:     exit.Record,
		ExitCode:   exit.ExitCode,
		Signal:     exit.Signal,
		StartedAt:  exit.Started,
		FinishedAt: exit.Finished,
	})
	if err != nil {
		d.logger.Warn("failed to journal worker exit", "pid", exit.PID, "error", err)
	}
}

func (d *Dispatcher) writeLedger() {
	if err := d.ledger.Write(d.consumed); err != nil {
		d.logger.Error("failed to write ledger", "statefile", d.ledger.Path(), "value", d.consumed, "error", err)
		return
	}
	d.stats.ledger.Store(d.consumed)
	d.hub.Publish(events.TypeLedgerWritten, events.LedgerWritten{Value: d.consumed})
}

// finish closes worker input, reaps every remaining worker and writes the
// delayed ledger entry.
func (d *Dispatcher) finish(ctx context.Context) error {
	var err error
	if d.pool != nil {
		if d.mode == config.ModeForward {
			d.pool.CloseInputs()
		}
		for d.pool.Running() > 0 {
			exit, rerr := d.pool.ReapOne(ctx)
			if rerr != nil {
				err = fmt.Errorf("drain workers: %w", rerr)
				break
			}
			d.recordExit(ctx, exit)
		}
	}

	if d.ledger != nil && d.cfg.DelayedFlush {
		d.writeLedger()
	}
	return err
}

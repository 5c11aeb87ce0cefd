// Package pool runs worker processes in a fixed number of slots.
//
// A Pool is owned by a single controller goroutine. Each started worker gets a
// goroutine that waits on the process and reports its exit on a shared
// channel; ReapOne blocks on that channel, so capacity waits never poll.
//
// Stdin of a worker is the null device, or in forwarding mode the read end of
// a pipe whose write end the pool keeps. Stdout and stderr are either the
// controller's own streams (switched to O_APPEND so concurrent workers never
// overwrite each other) or per-slot capture files that are replayed when the
// worker is reaped.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/log"
	"github.com/mattjoyce/jobflow/internal/workspace"
)

var (
	// ErrSpawn wraps process creation failures. The slot stays idle.
	ErrSpawn = errors.New("spawn worker")

	// ErrSlotBusy is returned when launching into an occupied slot.
	ErrSlotBusy = errors.New("slot is busy")

	// ErrNoWorkers is returned by ReapOne when nothing is running.
	ErrNoWorkers = errors.New("no running workers")

	// ErrNoPipe is returned by Forward when no worker accepts input.
	ErrNoPipe = errors.New("no worker pipe available")
)

// Options configures a Pool.
type Options struct {
	Size       int
	Forward    bool
	Buffered   bool
	JoinOutput bool
	Limits     []config.Limit

	// Workspace holds capture files in buffered mode.
	Workspace workspace.Workspace

	// Stdout and Stderr default to the controller's own streams.
	Stdout *os.File
	Stderr *os.File
}

// Exit describes a reaped worker.
type Exit struct {
	Slot     int
	PID      int
	Record   uint64
	ExitCode int
	Signal   string
	Started  time.Time
	Finished time.Time
	Err      error
}

// Success reports a zero exit status.
func (e Exit) Success() bool {
	return e.Err == nil && e.Signal == "" && e.ExitCode == 0
}

type slot struct {
	pid     int
	cmd     *exec.Cmd
	pipe    *os.File
	record  uint64
	started time.Time
	outPath string
	errPath string
}

type waitResult struct {
	pid   int
	state *os.ProcessState
	err   error
	at    time.Time
}

// Pool is a fixed-capacity table of worker slots.
type Pool struct {
	opts    Options
	slots   []slot
	running int
	next    int
	exits   chan waitResult
	limits  *limiter
	logger  *slog.Logger
}

// New creates a pool. Limit baselines are queried here; a failure is fatal.
func New(opts Options) (*Pool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1 (got %d)", opts.Size)
	}
	if opts.Buffered && opts.Workspace.Dir == "" {
		return nil, fmt.Errorf("buffered output needs a workspace")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	lim, err := newLimiter(opts.Limits)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		opts:   opts,
		slots:  make([]slot, opts.Size),
		exits:  make(chan waitResult, opts.Size),
		limits: lim,
		logger: log.WithComponent("pool"),
	}

	if !opts.Buffered {
		for _, f := range []*os.File{opts.Stdout, opts.Stderr} {
			if err := setAppend(f); err != nil {
				p.logger.Warn("could not switch output to append mode", "file", f.Name(), "error", err)
			}
		}
	}
	return p, nil
}

// setAppend sets O_APPEND on an inherited descriptor.
func setAppend(f *os.File) error {
	fd := int(f.Fd())
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if flags&unix.O_APPEND != 0 {
		return nil
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_APPEND)
	return err
}

// Size returns the number of worker slots.
func (p *Pool) Size() int { return len(p.slots) }

// Running returns the number of occupied slots.
func (p *Pool) Running() int { return p.running }

// Free returns the number of idle slots.
func (p *Pool) Free() int { return len(p.slots) - p.running }

// Idle returns the lowest idle slot.
func (p *Pool) Idle() (int, bool) {
	for i := range p.slots {
		if p.slots[i].pid == 0 {
			return i, true
		}
	}
	return 0, false
}

// Launch starts argv in an idle slot. record is the input index that triggered
// the launch. Launch never waits for the worker.
func (p *Pool) Launch(idx int, argv []string, record uint64) (int, error) {
	if idx < 0 || idx >= len(p.slots) {
		return 0, fmt.Errorf("slot %d out of range [0, %d)", idx, len(p.slots))
	}
	if len(argv) == 0 {
		return 0, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	s := &p.slots[idx]
	if s.pid != 0 {
		return 0, fmt.Errorf("slot %d: %w", idx, ErrSlotBusy)
	}
	logger := log.WithSlot(p.logger, idx)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = p.opts.Stdout
	cmd.Stderr = p.opts.Stderr

	var closeAfterStart []*os.File
	var pipeW *os.File
	cleanup := func() {
		for _, f := range closeAfterStart {
			_ = f.Close()
		}
		if pipeW != nil {
			_ = pipeW.Close()
		}
	}

	if p.opts.Forward {
		r, w, err := os.Pipe()
		if err != nil {
			return 0, fmt.Errorf("%w: create pipe: %v", ErrSpawn, err)
		}
		cmd.Stdin = r
		pipeW = w
		closeAfterStart = append(closeAfterStart, r)
	}

	var outPath, errPath string
	if p.opts.Buffered {
		outPath = p.opts.Workspace.LogPath(idx, workspace.Stdout)
		out, err := createLog(outPath)
		if err != nil {
			cleanup()
			return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		closeAfterStart = append(closeAfterStart, out)
		cmd.Stdout = out
		cmd.Stderr = out

		if !p.opts.JoinOutput {
			errPath = p.opts.Workspace.LogPath(idx, workspace.Stderr)
			errf, err := createLog(errPath)
			if err != nil {
				cleanup()
				removeLogs(outPath, "")
				return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
			}
			closeAfterStart = append(closeAfterStart, errf)
			cmd.Stderr = errf
		}
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		removeLogs(outPath, errPath)
		logger.Error("failed to spawn worker", "command", argv[0], "error", err)
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawn, argv[0], err)
	}
	for _, f := range closeAfterStart {
		if err := f.Close(); err != nil {
			logger.Warn("failed to close parent copy of worker descriptor", "file", f.Name(), "error", err)
		}
	}

	pid := cmd.Process.Pid
	*s = slot{
		pid:     pid,
		cmd:     cmd,
		pipe:    pipeW,
		record:  record,
		started: time.Now(),
		outPath: outPath,
		errPath: errPath,
	}
	p.running++

	p.limits.apply(pid, logger)

	go func() {
		err := cmd.Wait()
		p.exits <- waitResult{pid: pid, state: cmd.ProcessState, err: err, at: time.Now()}
	}()

	logger.Debug("worker started", "pid", pid, "record", record)
	return pid, nil
}

func createLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create output log: %w", err)
	}
	return f, nil
}

func removeLogs(paths ...string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

// ReapOne blocks until any worker exits, releases its slot and, in buffered
// mode, replays its captured output.
func (p *Pool) ReapOne(ctx context.Context) (Exit, error) {
	if p.running == 0 {
		return Exit{}, ErrNoWorkers
	}

	var res waitResult
	select {
	case res = <-p.exits:
	case <-ctx.Done():
		return Exit{}, ctx.Err()
	}

	idx := -1
	for i := range p.slots {
		if p.slots[i].pid == res.pid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Exit{}, fmt.Errorf("reaped pid %d does not belong to any slot", res.pid)
	}

	s := p.slots[idx]
	p.slots[idx] = slot{}
	p.running--
	logger := log.WithSlot(p.logger, idx)

	if s.pipe != nil {
		if err := s.pipe.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Warn("failed to close worker pipe", "error", err)
		}
	}

	exit := Exit{
		Slot:     idx,
		PID:      res.pid,
		Record:   s.record,
		ExitCode: -1,
		Started:  s.started,
		Finished: res.at,
	}
	if res.state != nil {
		exit.ExitCode = res.state.ExitCode()
		if ws, ok := res.state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if res.err != nil && !errors.As(res.err, &exitErr) {
		exit.Err = res.err
	}

	if p.opts.Buffered {
		p.replay(s.outPath, p.opts.Stdout, logger)
		p.replay(s.errPath, p.opts.Stderr, logger)
	}

	switch {
	case exit.Err != nil:
		logger.Warn("worker wait failed", "pid", exit.PID, "record", exit.Record, "error", exit.Err)
	case exit.Signal != "":
		logger.Warn("worker killed by signal", "pid", exit.PID, "record", exit.Record, "signal", exit.Signal)
	case exit.ExitCode != 0:
		logger.Warn("worker exited with non-zero status", "pid", exit.PID, "record", exit.Record, "exit_code", exit.ExitCode)
	default:
		logger.Debug("worker exited", "pid", exit.PID, "record", exit.Record, "duration", exit.Finished.Sub(exit.Started))
	}
	return exit, nil
}

// replay copies a capture file to w and deletes it.
func (p *Pool) replay(path string, w io.Writer, logger *slog.Logger) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open worker output", "path", path, "error", err)
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		logger.Error("failed to replay worker output", "path", path, "error", err)
	}
	if err := f.Close(); err != nil {
		logger.Warn("failed to close worker output", "path", path, "error", err)
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to remove worker output", "path", path, "error", err)
	}
}

// Forward writes data to the next worker pipe in round-robin order. Slots
// without a live pipe are passed over. The returned slot is the one written.
func (p *Pool) Forward(data []byte) (int, error) {
	n := len(p.slots)
	for tries := 0; tries < n; tries++ {
		idx := p.next
		p.next = (p.next + 1) % n
		s := &p.slots[idx]
		if s.pipe == nil {
			continue
		}
		// os.File.Write retries short writes and EINTR until done or failed.
		if _, err := s.pipe.Write(data); err != nil {
			log.WithSlot(p.logger, idx).Error("failed to forward record", "pid", s.pid, "bytes", len(data), "error", err)
			_ = s.pipe.Close()
			s.pipe = nil
			return idx, fmt.Errorf("forward to slot %d: %w", idx, err)
		}
		return idx, nil
	}
	return 0, ErrNoPipe
}

// CloseInputs closes every worker pipe, signalling end of input.
func (p *Pool) CloseInputs() {
	for i := range p.slots {
		s := &p.slots[i]
		if s.pipe == nil {
			continue
		}
		if err := s.pipe.Close(); err != nil {
			log.WithSlot(p.logger, i).Warn("failed to close worker pipe", "error", err)
		}
		s.pipe = nil
	}
}

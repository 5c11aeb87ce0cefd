package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/jobflow/internal/config"
	"github.com/mattjoyce/jobflow/internal/log"
	"github.com/mattjoyce/jobflow/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("error", "text")
	os.Exit(m.Run())
}

type streams struct {
	out, err *os.File
}

func (s streams) read(t *testing.T) (string, string) {
	t.Helper()
	out, err := os.ReadFile(s.out.Name())
	require.NoError(t, err)
	errb, err := os.ReadFile(s.err.Name())
	require.NoError(t, err)
	return string(out), string(errb)
}

func newStreams(t *testing.T) streams {
	t.Helper()
	dir := t.TempDir()
	out, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	errf, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = out.Close()
		_ = errf.Close()
	})
	return streams{out: out, err: errf}
}

func newTestPool(t *testing.T, opts Options) (*Pool, streams) {
	t.Helper()
	s := newStreams(t)
	opts.Stdout = s.out
	opts.Stderr = s.err
	if opts.Buffered && opts.Workspace.Dir == "" {
		opts.Workspace = workspace.Workspace{RunID: "test", Dir: t.TempDir()}
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p, s
}

func drain(t *testing.T, p *Pool) []Exit {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var exits []Exit
	for p.Running() > 0 {
		e, err := p.ReapOne(ctx)
		require.NoError(t, err)
		exits = append(exits, e)
	}
	return exits
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Size: 0})
	assert.Error(t, err)

	_, err = New(Options{Size: 1, Buffered: true})
	assert.Error(t, err)

	p, err := New(Options{Size: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
}

func TestLaunchAndReap(t *testing.T) {
	p, s := newTestPool(t, Options{Size: 2})

	slot, ok := p.Idle()
	require.True(t, ok)
	assert.Equal(t, 0, slot)

	pid, err := p.Launch(slot, []string{"echo", "hi"}, 7)
	require.NoError(t, err)
	assert.NotZero(t, pid)
	assert.Equal(t, 1, p.Running())
	assert.Equal(t, 1, p.Free())

	next, ok := p.Idle()
	require.True(t, ok)
	assert.Equal(t, 1, next)

	exits := drain(t, p)
	require.Len(t, exits, 1)
	assert.Equal(t, 0, exits[0].Slot)
	assert.Equal(t, pid, exits[0].PID)
	assert.Equal(t, uint64(7), exits[0].Record)
	assert.True(t, exits[0].Success())
	assert.False(t, exits[0].Finished.Before(exits[0].Started))
	assert.Equal(t, 0, p.Running())
	assert.Equal(t, 2, p.Free())

	out, _ := s.read(t)
	assert.Equal(t, "hi\n", out)
}

func TestLaunchBusySlot(t *testing.T) {
	p, _ := newTestPool(t, Options{Size: 1, Forward: true})

	_, err := p.Launch(0, []string{"cat"}, 1)
	require.NoError(t, err)

	_, err = p.Launch(0, []string{"cat"}, 2)
	assert.ErrorIs(t, err, ErrSlotBusy)

	_, ok := p.Idle()
	assert.False(t, ok)

	_, err = p.Launch(5, []string{"cat"}, 2)
	assert.Error(t, err)

	p.CloseInputs()
	drain(t, p)
}

func TestLaunchSpawnFailure(t *testing.T) {
	p, _ := newTestPool(t, Options{Size: 1, Buffered: true})

	_, err := p.Launch(0, []string{"/nonexistent/jobflow-worker"}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.Equal(t, 0, p.Running())

	slot, ok := p.Idle()
	assert.True(t, ok)
	assert.Equal(t, 0, slot)

	entries, err := os.ReadDir(p.opts.Workspace.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "capture files are removed after a failed spawn")

	_, err = p.Launch(0, nil, 1)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestExitStatus(t *testing.T) {
	p, _ := newTestPool(t, Options{Size: 2})

	_, err := p.Launch(0, sh("exit 3"), 1)
	require.NoError(t, err)
	_, err = p.Launch(1, sh("kill -TERM $$"), 2)
	require.NoError(t, err)

	bySlot := map[int]Exit{}
	for _, e := range drain(t, p) {
		bySlot[e.Slot] = e
	}

	assert.Equal(t, 3, bySlot[0].ExitCode)
	assert.Empty(t, bySlot[0].Signal)
	assert.False(t, bySlot[0].Success())

	assert.Equal(t, -1, bySlot[1].ExitCode)
	assert.Equal(t, "terminated", bySlot[1].Signal)
	assert.False(t, bySlot[1].Success())
}

func TestReapOneNoWorkers(t *testing.T) {
	p, _ := newTestPool(t, Options{Size: 1})
	_, err := p.ReapOne(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestReapOneHonoursContext(t *testing.T) {
	p, _ := newTestPool(t, Options{Size: 1, Forward: true})
	_, err := p.Launch(0, []string{"cat"}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.ReapOne(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Running())

	p.CloseInputs()
	drain(t, p)
}

func TestStdinIsNullDevice(t *testing.T) {
	p, s := newTestPool(t, Options{Size: 1})
	_, err := p.Launch(0, sh("cat; echo done"), 1)
	require.NoError(t, err)
	drain(t, p)

	out, _ := s.read(t)
	assert.Equal(t, "done\n", out)
}

func TestBufferedReplay(t *testing.T) {
	p, s := newTestPool(t, Options{Size: 1, Buffered: true})

	_, err := p.Launch(0, sh("echo out; echo err >&2"), 1)
	require.NoError(t, err)

	_, statErr := os.Stat(p.opts.Workspace.LogPath(0, workspace.Stdout))
	assert.NoError(t, statErr, "stdout is captured while the worker runs")

	drain(t, p)

	out, errOut := s.read(t)
	assert.Equal(t, "out\n", out)
	assert.Equal(t, "err\n", errOut)

	entries, err := os.ReadDir(p.opts.Workspace.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "capture files are deleted after replay")
}

func TestBufferedJoinOutput(t *testing.T) {
	p, s := newTestPool(t, Options{Size: 1, Buffered: true, JoinOutput: true})

	_, err := p.Launch(0, sh("echo out; echo err >&2; echo again"), 1)
	require.NoError(t, err)
	drain(t, p)

	out, errOut := s.read(t)
	assert.Equal(t, "out\nerr\nagain\n", out)
	assert.Empty(t, errOut)
}

func TestBufferedOutputIsNotInterleaved(t *testing.T) {
	const workers = 4
	p, s := newTestPool(t, Options{Size: workers, Buffered: true})

	for i := 0; i < workers; i++ {
		script := fmt.Sprintf("for n in 1 2 3 4 5; do echo w%d-$n; sleep 0.01; done", i)
		_, err := p.Launch(i, sh(script), uint64(i+1))
		require.NoError(t, err)
	}
	drain(t, p)

	out, _ := s.read(t)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, workers*5)
	for block := 0; block < workers; block++ {
		prefix := strings.SplitN(lines[block*5], "-", 2)[0]
		for n := 0; n < 5; n++ {
			assert.Equal(t, fmt.Sprintf("%s-%d", prefix, n+1), lines[block*5+n])
		}
	}
}

func TestForwardRoundRobin(t *testing.T) {
	p, s := newTestPool(t, Options{Size: 2, Forward: true, Buffered: true})

	for i := 0; i < 2; i++ {
		_, err := p.Launch(i, []string{"cat"}, uint64(i+1))
		require.NoError(t, err)
	}

	var slots []int
	for i := 1; i <= 4; i++ {
		slot, err := p.Forward([]byte(fmt.Sprintf("r%d\n", i)))
		require.NoError(t, err)
		slots = append(slots, slot)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, slots)

	p.CloseInputs()
	drain(t, p)

	out, _ := s.read(t)
	assert.Contains(t, []string{"r1\nr3\nr2\nr4\n", "r2\nr4\nr1\nr3\n"}, out)
}

func TestForwardSkipsSlotsWithoutPipe(t *testing.T) {
	p, s := newTestPool(t, Options{Size: 3, Forward: true})

	_, err := p.Forward([]byte("lost\n"))
	assert.ErrorIs(t, err, ErrNoPipe)

	_, err = p.Launch(1, []string{"cat"}, 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		slot, err := p.Forward([]byte("x\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, slot)
	}

	p.CloseInputs()
	drain(t, p)
	out, _ := s.read(t)
	assert.Equal(t, "x\nx\nx\n", out)
}

func TestForwardToExitedWorker(t *testing.T) {
	p, _ := newTestPool(t, Options{Size: 1, Forward: true})

	_, err := p.Launch(0, []string{"true"}, 1)
	require.NoError(t, err)

	// Wait for the exit without reaping so the pipe is still held.
	deadline := time.Now().Add(5 * time.Second)
	for len(p.exits) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, err = p.Forward([]byte("data\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EPIPE)

	_, err = p.Forward([]byte("data\n"))
	assert.ErrorIs(t, err, ErrNoPipe)

	drain(t, p)
}

func TestSetAppend(t *testing.T) {
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "out"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, setAppend(f))
	flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_APPEND)

	require.NoError(t, setAppend(f), "already in append mode")
}

func TestLimitsApplied(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("prlimit is linux only")
	}
	hard, err := HardLimit(config.LimitOpenFiles)
	require.NoError(t, err)
	if hard < 64 {
		t.Skipf("hard nofile limit %d below test value", hard)
	}

	p, _ := newTestPool(t, Options{
		Size:    1,
		Forward: true,
		Limits:  []config.Limit{{Kind: config.LimitOpenFiles, Value: 64}},
	})

	pid, err := p.Launch(0, []string{"cat"}, 1)
	require.NoError(t, err)

	f, err := os.Open(fmt.Sprintf("/proc/%d/limits", pid))
	require.NoError(t, err)
	defer f.Close()

	var found bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Max open files") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Max open files"))
		require.NotEmpty(t, fields)
		assert.Equal(t, "64", fields[0])
		found = true
	}
	assert.True(t, found, "Max open files line in /proc limits")

	p.CloseInputs()
	drain(t, p)
}

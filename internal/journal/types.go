package journal

import (
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one controller invocation.
type Run struct {
	ID            string
	Fingerprint   string
	Mode          string
	Command       []string
	Workers       int
	Skip          uint64
	StateFile     string
	Status        Status
	StartedAt     time.Time
	FinishedAt    *time.Time
	Consumed      uint64
	Dispatched    uint64
	SpawnFailures uint64
	LastError     *string
}

// Stats are the counters recorded when a run finishes.
type Stats struct {
	Consumed      uint64
	Dispatched    uint64
	SpawnFailures uint64
}

// WorkerExit is one reaped worker.
type WorkerExit struct {
	RunID      string
	Slot       int
	PID        int
	Record     uint64
	ExitCode   int
	Signal     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports a non-zero or signalled exit.
func (e WorkerExit) Failed() bool {
	return e.ExitCode != 0 || e.Signal != ""
}

// Summary aggregates worker exits of a run.
type Summary struct {
	Workers   int
	Succeeded int
	Failed    int
	Signaled  int
}

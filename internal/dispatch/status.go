package dispatch

import (
	"sync/atomic"
	"time"
)

// Status is a point-in-time view of a run, safe to take from any goroutine.
type Status struct {
	RunID          string    `json:"run_id,omitempty"`
	Mode           string    `json:"mode"`
	Workers        int       `json:"workers"`
	Running        int       `json:"running"`
	Consumed       uint64    `json:"consumed"`
	Dispatched     uint64    `json:"dispatched"`
	SpawnFailures  uint64    `json:"spawn_failures"`
	DroppedRecords uint64    `json:"dropped_records"`
	WorkerFailures uint64    `json:"worker_failures"`
	Ledger         uint64    `json:"ledger"`
	StartedAt      time.Time `json:"started_at"`
	Finished       bool      `json:"finished"`
}

// counters are written by the controller and read by status clients.
type counters struct {
	running        atomic.Int64
	consumed       atomic.Uint64
	dispatched     atomic.Uint64
	spawnFailures  atomic.Uint64
	droppedRecords atomic.Uint64
	workerFailures atomic.Uint64
	ledger         atomic.Uint64
	finished       atomic.Bool
}

// Status returns current counters.
func (d *Dispatcher) Status() Status {
	return Status{
		RunID:          d.runID,
		Mode:           d.mode.String(),
		Workers:        d.cfg.Workers,
		Running:        int(d.stats.running.Load()),
		Consumed:       d.stats.consumed.Load(),
		Dispatched:     d.stats.dispatched.Load(),
		SpawnFailures:  d.stats.spawnFailures.Load(),
		DroppedRecords: d.stats.droppedRecords.Load(),
		WorkerFailures: d.stats.workerFailures.Load(),
		Ledger:         d.stats.ledger.Load(),
		StartedAt:      d.startedAt,
		Finished:       d.stats.finished.Load(),
	}
}

package dispatch

import (
	"context"

	"github.com/mattjoyce/jobflow/internal/journal"
	"github.com/mattjoyce/jobflow/internal/pool"
)

//go:generate mockgen -destination=mocks/mock_pool.go -package=mocks github.com/mattjoyce/jobflow/internal/dispatch WorkerPool,ExitRecorder

// WorkerPool is the slot table the dispatcher launches into. *pool.Pool
// implements it.
type WorkerPool interface {
	Size() int
	Running() int
	Free() int
	Idle() (int, bool)
	Launch(slot int, argv []string, record uint64) (int, error)
	ReapOne(ctx context.Context) (pool.Exit, error)
	Forward(data []byte) (int, error)
	CloseInputs()
}

// ExitRecorder persists reaped workers. *journal.Journal implements it.
type ExitRecorder interface {
	RecordExit(ctx context.Context, e journal.WorkerExit) error
}

var (
	_ WorkerPool   = (*pool.Pool)(nil)
	_ ExitRecorder = (*journal.Journal)(nil)
)

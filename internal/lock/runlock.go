package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another controller holds the lock.
var ErrLocked = errors.New("statefile is in use by another jobflow run")

// RunLock guards a statefile so only one controller advances its ledger.
// The lock lives in "<statefile>.lock" and holds the owner's PID.
type RunLock struct {
	path string
	fl   *flock.Flock
}

// LockPath returns the lock file used for a statefile.
func LockPath(statefile string) string {
	return statefile + ".lock"
}

// AcquireRunLock takes the run lock for statefile without blocking.
func AcquireRunLock(statefile string) (*RunLock, error) {
	return AcquireRunLockContext(context.Background(), statefile, 0)
}

// AcquireRunLockContext retries every retry interval until ctx is done.
// A zero retry makes a single attempt.
func AcquireRunLockContext(ctx context.Context, statefile string, retry time.Duration) (*RunLock, error) {
	if statefile == "" {
		return nil, fmt.Errorf("statefile path is empty")
	}
	lockPath := LockPath(statefile)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(lockPath)
	var locked bool
	var err error
	if retry > 0 {
		locked, err = fl.TryLockContext(ctx, retry)
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrLocked, holderHint(lockPath))
		}
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, holderHint(lockPath))
	}

	if err := os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write pid: %w", err)
	}

	return &RunLock{path: lockPath, fl: fl}, nil
}

func holderHint(lockPath string) string {
	b, err := os.ReadFile(lockPath)
	if err != nil || len(b) == 0 {
		return lockPath
	}
	return fmt.Sprintf("%s (pid %s)", lockPath, string(trimNewline(b)))
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func (l *RunLock) Path() string { return l.path }

// Release unlocks. The lock file is left in place.
func (l *RunLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	return err
}

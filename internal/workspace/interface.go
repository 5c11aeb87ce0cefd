package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Stream names a captured worker output stream.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Workspace is the scratch directory of one run. Buffered worker output is
// captured here until the worker is reaped.
type Workspace struct {
	RunID string
	Dir   string
}

// LogPath returns the capture file for a slot's stream, e.g.
// "jd_proc_00003_stdout.log".
func (w Workspace) LogPath(slot int, stream Stream) string {
	return filepath.Join(w.Dir, fmt.Sprintf("jd_proc_%05d_%s.log", slot, stream))
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs scratch directory lifecycle.
type Manager interface {
	// Create initializes a new scratch directory for runID.
	Create(ctx context.Context, runID string) (Workspace, error)

	// Remove deletes the scratch directory for runID and everything in it.
	Remove(ctx context.Context, runID string) error

	// Cleanup removes scratch directories left by runs older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}

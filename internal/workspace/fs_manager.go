package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mattjoyce/jobflow/internal/storage"
)

const (
	// ShmDir is the preferred scratch base when it is memory backed.
	ShmDir = "/dev/shm"

	// ownerLockName is held by the run that owns a scratch directory for as
	// long as the directory is in use.
	ownerLockName = ".owner.lock"
)

// fsWorkspaceManager manages per-run scratch directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time

	mu     sync.Mutex
	owners map[string]*flock.Flock
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
		owners:  make(map[string]*flock.Flock),
	}, nil
}

// DefaultBaseDir picks the scratch base: override when set, else a jobflow
// directory on /dev/shm if that is tmpfs, else under os.TempDir().
func DefaultBaseDir(override string) string {
	if strings.TrimSpace(override) != "" {
		return filepath.Join(override, "jobflow")
	}
	if storage.IsMemoryFilesystem(ShmDir) {
		return filepath.Join(ShmDir, "jobflow")
	}
	return filepath.Join(os.TempDir(), "jobflow")
}

func (m *fsWorkspaceManager) BaseDir() string { return m.baseDir }

// Create initializes a scratch directory for runID.
func (m *fsWorkspaceManager) Create(ctx context.Context, runID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}

	if err := os.Mkdir(path, 0o700); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for run %q: %w", runID, err)
	}

	owner := flock.New(filepath.Join(path, ownerLockName))
	locked, err := owner.TryLock()
	if err == nil && !locked {
		err = fmt.Errorf("already locked")
	}
	if err != nil {
		_ = os.RemoveAll(path)
		return Workspace{}, fmt.Errorf("lock workspace for run %q: %w", runID, err)
	}

	m.mu.Lock()
	m.owners[runID] = owner
	m.mu.Unlock()

	return Workspace{RunID: runID, Dir: path}, nil
}

// Remove deletes the scratch directory for runID. A missing directory is not an error.
func (m *fsWorkspaceManager) Remove(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.workspacePath(runID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	owner := m.owners[runID]
	delete(m.owners, runID)
	m.mu.Unlock()
	if owner != nil {
		defer func() { _ = owner.Unlock() }()
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for run %q: %w", runID, err)
	}
	return nil
}

// Cleanup removes scratch directories older than olderThan based on directory
// modification time. Directories whose owner lock is still held belong to a
// live run and are kept regardless of age.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		removed, err := removeAbandoned(path)
		if err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		if removed {
			report.DeletedDirs++
		}
	}

	return report, nil
}

// removeAbandoned deletes path unless its owner lock is held by another run.
func removeAbandoned(path string) (bool, error) {
	lockPath := filepath.Join(path, ownerLockName)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return true, os.RemoveAll(path)
	}

	owner := flock.New(lockPath)
	locked, err := owner.TryLock()
	if err != nil {
		return false, fmt.Errorf("check owner lock: %w", err)
	}
	if !locked {
		return false, nil
	}
	defer func() { _ = owner.Unlock() }()

	return true, os.RemoveAll(path)
}

func (m *fsWorkspaceManager) workspacePath(runID string) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, runID), nil
}

func validateRunID(runID string) error {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return fmt.Errorf("runID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("runID %q must not contain path separators", runID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	return nil
}

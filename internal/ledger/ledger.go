// Package ledger persists dispatch progress so an interrupted run can resume.
//
// The statefile holds one decimal integer and a newline: the one-based index of
// the last dispatched record. A resumed run uses it as its skip count.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Ledger writes progress for one statefile.
type Ledger struct {
	path string
	tmp  string
	last uint64
	seen bool
}

// New returns a ledger for path. Writes go through "<path>.<pid>".
func New(path string) *Ledger {
	return &Ledger{
		path: path,
		tmp:  fmt.Sprintf("%s.%d", path, os.Getpid()),
	}
}

func (l *Ledger) Path() string { return l.path }

// Last returns the most recently written value.
func (l *Ledger) Last() (uint64, bool) { return l.last, l.seen }

// Write records value. The temp file is renamed over the statefile so a
// concurrent reader sees either the old or the new value, never a partial one.
func (l *Ledger) Write(value uint64) error {
	if l.seen && l.last == value {
		return nil
	}
	f, err := os.OpenFile(l.tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger temp file: %w", err)
	}
	if _, err := f.WriteString(strconv.FormatUint(value, 10) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(l.tmp, l.path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", l.tmp, l.path, err)
	}
	l.last = value
	l.seen = true
	return nil
}

// Read returns the value stored at path. ok is false when no statefile exists.
func Read(path string) (value uint64, ok bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read statefile: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, false, nil
	}
	value, err = strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("statefile %s: invalid value %q: %w", path, s, err)
	}
	return value, true, nil
}

//go:build linux

package pool

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/jobflow/internal/config"
)

var resources = map[config.LimitKind]int{
	config.LimitAddressSpace: unix.RLIMIT_AS,
	config.LimitCPUTime:      unix.RLIMIT_CPU,
	config.LimitStack:        unix.RLIMIT_STACK,
	config.LimitFileSize:     unix.RLIMIT_FSIZE,
	config.LimitOpenFiles:    unix.RLIMIT_NOFILE,
}

type rlimit struct {
	kind     config.LimitKind
	resource int
	value    unix.Rlimit
}

// limiter applies soft limits to started workers with prlimit(2).
type limiter struct {
	limits []rlimit
}

// newLimiter reads the controller's current limits as the baseline and
// overwrites the soft value of each configured resource.
func newLimiter(limits []config.Limit) (*limiter, error) {
	l := &limiter{}
	for _, lim := range limits {
		res, ok := resources[lim.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown resource limit %q", lim.Kind)
		}
		var base unix.Rlimit
		if err := unix.Getrlimit(res, &base); err != nil {
			return nil, fmt.Errorf("query %s limit: %w", lim.Kind, err)
		}
		base.Cur = lim.Value
		l.limits = append(l.limits, rlimit{kind: lim.Kind, resource: res, value: base})
	}
	return l, nil
}

// HardLimit returns the controller's hard limit for kind.
func HardLimit(kind config.LimitKind) (uint64, error) {
	res, ok := resources[kind]
	if !ok {
		return 0, fmt.Errorf("unknown resource limit %q", kind)
	}
	var rl unix.Rlimit
	if err := unix.Getrlimit(res, &rl); err != nil {
		return 0, fmt.Errorf("query %s limit: %w", kind, err)
	}
	return rl.Max, nil
}

func (l *limiter) apply(pid int, logger *slog.Logger) {
	for _, lim := range l.limits {
		rl := lim.value
		if err := unix.Prlimit(pid, lim.resource, &rl, nil); err != nil {
			logger.Warn("failed to apply resource limit", "pid", pid, "limit", string(lim.kind), "value", rl.Cur, "error", err)
		}
	}
}

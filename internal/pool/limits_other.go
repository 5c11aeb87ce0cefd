//go:build !linux

package pool

import (
	"fmt"
	"log/slog"

	"github.com/mattjoyce/jobflow/internal/config"
)

type limiter struct{}

func newLimiter(limits []config.Limit) (*limiter, error) {
	if len(limits) > 0 {
		return nil, fmt.Errorf("resource limits are only supported on linux")
	}
	return &limiter{}, nil
}

// HardLimit is unsupported off linux.
func HardLimit(kind config.LimitKind) (uint64, error) {
	return 0, fmt.Errorf("resource limits are only supported on linux")
}

func (l *limiter) apply(int, *slog.Logger) {}

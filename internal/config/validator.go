package config

import (
	"fmt"
	"strings"
)

// MaxWorkers bounds the worker count to keep slot scans and temp-file names sane.
const MaxWorkers = 99999

// pageSize is the granularity bulk sizes must be a multiple of.
const pageSize = 4096

// Validate checks a fully merged configuration.
func Validate(cfg *Config) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 (got %d)", cfg.Workers)
	}
	if cfg.Workers > MaxWorkers {
		return fmt.Errorf("workers must be at most %d (got %d)", MaxWorkers, cfg.Workers)
	}

	if cfg.Bulk != 0 {
		if cfg.Bulk%pageSize != 0 {
			return fmt.Errorf("bulk size must be a multiple of %d (got %d)", pageSize, uint64(cfg.Bulk))
		}
		if cfg.Mode() == ModeSubstitute {
			return fmt.Errorf("bulk mode cannot be combined with {} or {.} substitution")
		}
	}

	if cfg.Resume && cfg.StateFile == "" {
		return fmt.Errorf("resume needs a statefile")
	}
	if cfg.DelayedFlush && cfg.StateFile == "" {
		return fmt.Errorf("delayed flush needs a statefile")
	}
	if cfg.DelayedSpinup < 0 {
		return fmt.Errorf("delayed spinup must not be negative (got %d)", cfg.DelayedSpinup)
	}

	if cfg.JoinOutput && !cfg.Buffered {
		return fmt.Errorf("join output requires buffered output")
	}

	if len(cfg.Limits) > 0 && cfg.Mode() == ModeCat {
		return fmt.Errorf("resource limits need a command to apply to")
	}
	for _, l := range cfg.Limits {
		if _, ok := limitAliases[string(l.Kind)]; !ok {
			return fmt.Errorf("unknown resource limit %q", l.Kind)
		}
	}

	if strings.ContainsAny(cfg.EOFSentinel, "\n") {
		return fmt.Errorf("eof sentinel must be a single line")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("log.format must be one of: text, json (got %q)", cfg.Log.Format)
	}

	if envVarPattern.MatchString(cfg.StateFile) {
		matches := envVarPattern.FindStringSubmatch(cfg.StateFile)
		return fmt.Errorf("statefile: environment variable ${%s} is not set", matches[1])
	}
	if envVarPattern.MatchString(cfg.Journal.Path) {
		matches := envVarPattern.FindStringSubmatch(cfg.Journal.Path)
		return fmt.Errorf("journal.path: environment variable ${%s} is not set", matches[1])
	}

	return nil
}

// ChunkSize returns the input buffer size for the run.
func (c *Config) ChunkSize() int {
	if c.Bulk > 0 {
		return int(c.Bulk)
	}
	return 16 * 1024
}
